// Package cli implements the convoy command-line interface.
package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/buildinfo"
	"github.com/matzehuels/convoy/pkg/config"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for display.
	appName = "convoy"

	// defaultTimeout is the default per-attempt timeout (seconds).
	defaultTimeout = 300
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config *config.Config

	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Config: config.Default(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Convoy converts design artifacts with external tools and bundles the results",
		Long:          `Convoy drives drawings, scenes and spreadsheets through chains of external converters (Inkscape, librsvg, ezdxf, Blender, LibreOffice), falling back between invocation strategies, and collects the outputs into review bundles.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/convoy/config.toml)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", cmd.CommandPath())
	})

	// Register all subcommands
	root.AddCommand(c.convertCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.collectCommand())
	root.AddCommand(c.archiveCommand())
	root.AddCommand(c.verifyCommand())
	root.AddCommand(c.mergeCommand())
	root.AddCommand(c.planCommand())
	root.AddCommand(c.toolsCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	invalidArgs(root)
	return root
}

// invalidArgs tags positional-argument errors of every subcommand as
// INVALID_INPUT so they exit with the invalid-arguments status.
func invalidArgs(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		if validate := sub.Args; validate != nil {
			sub.Args = func(cmd *cobra.Command, args []string) error {
				if err := validate(cmd, args); err != nil {
					return errors.Wrap(errors.ErrCodeInvalidInput, err, "%s", cmd.CommandPath())
				}
				return nil
			}
		}
		invalidArgs(sub)
	}
}

// loadConfig reads the configuration file named by --config, or the default
// location when present.
func (c *CLI) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.Config = cfg
	if cfg.Path != "" {
		c.Logger.Debug("loaded config", "path", cfg.Path)
	}
	return nil
}

// =============================================================================
// Resolver Factory
// =============================================================================

// newResolver creates a tool resolver with the configured hints and
// directories. Command-line hints are passed per lookup.
func (c *CLI) newResolver() *tools.Resolver {
	return tools.NewResolver(c.Config.ResolverOptions()...)
}

// parseToolPaths parses --tool-path values. Each value is either "role=path"
// or a bare path, which is accepted only when roles has a single entry.
func parseToolPaths(values []string, roles []tools.Role) (map[tools.Role]string, error) {
	hints := make(map[tools.Role]string)
	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		if !ok {
			if len(roles) != 1 {
				return nil, errors.New(errors.ErrCodeInvalidInput,
					"--tool-path %q needs a role (role=path); roles in use: %s", v, roleNames(roles))
			}
			hints[roles[0]] = v
			continue
		}
		role, err := tools.ParseRole(name)
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "--tool-path %q has an empty path", v)
		}
		hints[role] = path
	}
	return hints, nil
}

// =============================================================================
// Options Helpers
// =============================================================================

// splitList parses a comma-separated flag value into a slice.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
