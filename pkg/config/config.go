// Package config loads the convoy TOML configuration file.
//
// Every setting is optional; command-line flags override the file. Example:
//
//	timeout = "10m"
//	concurrency = 2
//
//	[environment]
//	variable = "CONVOY_ENV"
//	refuse = ["production", "prod"]
//
//	[tools.3d-render]
//	path = "/opt/blender-4.2/blender"
//	dirs = ["/opt/blender/bin"]
//
//	[render]
//	script = "scripts/render.py"
//	resolution_x = 1920
//	resolution_y = 1080
//
//	[collect]
//	patterns = ["*.pdf", "previews/**/*.png"]
//	since_minutes = 120
//
//	[[export.mapping]]
//	pattern = "*budget*"
//	output = "Cost_Estimate.pdf"
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/matzehuels/convoy/pkg/driver"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

const appName = "convoy"

// Config is the parsed configuration file.
type Config struct {
	Timeout       Duration        `toml:"timeout"`
	Concurrency   int             `toml:"concurrency"`
	PreferBackend string          `toml:"prefer_backend"`
	Environment   Environment     `toml:"environment"`
	Tools         map[string]Tool `toml:"tools"`
	Render        Render          `toml:"render"`
	Collect       Collect         `toml:"collect"`
	Export        Export          `toml:"export"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Environment configures the environment guard.
type Environment struct {
	Variable string   `toml:"variable"`
	Refuse   []string `toml:"refuse"`
}

// Tool overrides discovery for one role.
type Tool struct {
	Path string   `toml:"path"`
	Dirs []string `toml:"dirs"`
}

// Render configures the Blender render chain.
type Render struct {
	Script      string `toml:"script"`
	ResolutionX int    `toml:"resolution_x"`
	ResolutionY int    `toml:"resolution_y"`
}

// Collect holds defaults for the collect command.
type Collect struct {
	Patterns     []string `toml:"patterns"`
	SinceMinutes int      `toml:"since_minutes"`
}

// Export maps spreadsheet names to output document names.
type Export struct {
	Mapping []Mapping `toml:"mapping"`
}

// Mapping sends sources whose base name matches Pattern to Output.
type Mapping struct {
	Pattern string `toml:"pattern"`
	Output  string `toml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{Tools: map[string]Tool{}}
}

// DefaultPath returns $XDG_CONFIG_HOME/convoy/config.toml, falling back to
// ~/.config/convoy/config.toml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName, "config.toml")
}

// Load reads the configuration at path. An empty path loads the default
// location if it exists and the built-in defaults otherwise; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return Default(), nil
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return Default(), nil
		}
	}

	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "config file %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks roles, patterns and output names.
func (c *Config) Validate() error {
	if c.Timeout.Duration < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "timeout must not be negative")
	}
	if c.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "concurrency must not be negative")
	}
	for name := range c.Tools {
		if _, err := tools.ParseRole(name); err != nil {
			return err
		}
	}
	for _, p := range c.Collect.Patterns {
		if !doublestar.ValidatePattern(p) {
			return errors.New(errors.ErrCodeInvalidInput, "invalid collect pattern %q", p)
		}
	}
	for _, m := range c.Export.Mapping {
		if m.Pattern == "" || !doublestar.ValidatePattern(m.Pattern) {
			return errors.New(errors.ErrCodeInvalidInput, "invalid export pattern %q", m.Pattern)
		}
		if err := errors.ValidateDocumentName(m.Output); err != nil {
			return err
		}
	}
	return nil
}

// ResolverOptions turns the [tools] tables into resolver options.
func (c *Config) ResolverOptions() []tools.Option {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var opts []tools.Option
	for _, name := range names {
		t := c.Tools[name]
		role := tools.Role(name)
		if t.Path != "" {
			opts = append(opts, tools.WithHint(role, t.Path))
		}
		if len(t.Dirs) > 0 {
			opts = append(opts, tools.WithExtraDirs(role, t.Dirs...))
		}
	}
	return opts
}

// Precondition returns the environment guard, or nil when none is configured.
func (c *Config) Precondition() driver.Precondition {
	if c.Environment.Variable == "" || len(c.Environment.Refuse) == 0 {
		return nil
	}
	return driver.RefuseEnvironments(c.Environment.Variable, c.Environment.Refuse...)
}

// OutputName returns the document name for an exported source: the output of
// the first mapping whose pattern matches the source's base name
// (case-insensitively), else the source stem with ".pdf".
func (e Export) OutputName(source string) string {
	base := filepath.Base(source)
	lower := strings.ToLower(base)
	for _, m := range e.Mapping {
		if ok, _ := doublestar.Match(strings.ToLower(m.Pattern), lower); ok {
			return m.Output
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
}
