package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/buildinfo"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

// toolsCommand creates the tools command.
func (c *CLI) toolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show which backend executable each tool role resolves to",
		Long: `Resolve every tool role the way a conversion would (config hint, then PATH,
then well-known install directories) and show the result. Roles that cannot be
resolved fail conversions with exit status 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolutions := c.newResolver().Describe()
			rows := make([][]string, len(resolutions))
			missing := 0
			for i, res := range resolutions {
				rows[i] = toolRow(res)
				if res.Err != nil {
					missing++
				}
			}
			fmt.Println(renderTable([]string{"Role", "Executable", "Found via", "Status"}, rows, 3))
			if missing > 0 {
				printWarning("%d of %d roles unresolved; set [tools.<role>] path in the config or pass --tool-path", missing, len(resolutions))
			}
			return nil
		},
	}
}

func toolRow(res tools.Resolution) []string {
	if res.Err != nil {
		return []string{string(res.Role), errors.UserMessage(res.Err), "-", "not found"}
	}
	return []string{string(res.Role), res.Path, string(res.Method), "ok"}
}

// versionCommand creates the version command.
func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			return nil
		},
	}
}
