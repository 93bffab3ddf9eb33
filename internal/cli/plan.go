package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/plan"
)

// planCommand creates the plan command.
func (c *CLI) planCommand() *cobra.Command {
	var (
		chainNames string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Draw conversion chains with their resolved backends",
		Long: `Draw each conversion chain as a Graphviz diagram: its stages, the backend
resolved for each stage's tool role on this machine, and the strategies in the
order they are tried. Writes DOT to stdout, or DOT/SVG to --output by extension.`,
		Example: `  convoy plan
  convoy plan --chain drawing,sheet-pdf --output plan.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := splitList(chainNames)
			if len(names) == 0 {
				names = chains.Names()
			}
			opts := chains.Options{
				BlenderScript: c.Config.Render.Script,
				ResolutionX:   c.Config.Render.ResolutionX,
				ResolutionY:   c.Config.Render.ResolutionY,
			}
			var selected []chains.Chain
			for _, name := range names {
				ch, err := chains.Lookup(name, opts)
				if err != nil {
					return err
				}
				selected = append(selected, ch.Prefer(c.Config.PreferBackend))
			}

			resolver := c.newResolver()
			backends := plan.Backends{}
			for _, ch := range selected {
				for _, role := range ch.Roles() {
					backends[role] = resolver.Lookup(role, "")
				}
			}
			dot := plan.ToDOT(selected, backends)

			switch strings.ToLower(filepath.Ext(output)) {
			case "":
				if output != "" {
					return errors.New(errors.ErrCodeInvalidInput, "--output needs a .dot or .svg extension")
				}
				fmt.Print(dot)
				return nil
			case ".dot", ".gv":
				return writePlan(output, []byte(dot))
			case ".svg":
				spinner := newSpinner(cmd.Context(), "Rendering plan...")
				spinner.Start()
				svg, err := plan.RenderSVG(cmd.Context(), dot)
				spinner.Stop()
				if err != nil {
					return errors.Wrap(errors.ErrCodeInternal, err, "render plan")
				}
				return writePlan(output, svg)
			}
			return errors.New(errors.ErrCodeInvalidInput, "unsupported plan format %q (use .dot or .svg)", filepath.Ext(output))
		},
	}

	cmd.Flags().StringVarP(&chainNames, "chain", "c", "", "comma-separated chains to draw (default: all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a .dot or .svg file instead of stdout")

	return cmd
}

func writePlan(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "write %s", path)
	}
	printSuccess("Plan written")
	printFile(path)
	return nil
}
