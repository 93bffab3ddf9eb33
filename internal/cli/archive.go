package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/archive"
	"github.com/matzehuels/convoy/pkg/errors"
)

// archiveCommand creates the archive command with create and list subcommands.
func (c *CLI) archiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Create and inspect zip bundles",
	}
	cmd.AddCommand(c.archiveCreateCommand())
	cmd.AddCommand(c.archiveListCommand())
	return cmd
}

// archiveCreateOpts holds options for archive create.
type archiveCreateOpts struct {
	root   string
	output string
	force  bool
}

func (c *CLI) archiveCreateCommand() *cobra.Command {
	opts := archiveCreateOpts{}

	cmd := &cobra.Command{
		Use:   "create [files...]",
		Short: "Write files under a root directory into a zip archive",
		Long: `Write the given files, or every file under --root when none are given, into
the archive at --output. Member names are paths relative to --root. An existing
archive is left untouched unless --force is given.`,
		Example: `  convoy archive create --root submission/ --output submission.zip
  convoy archive create --root out/ --output review.zip out/plan.pdf out/previews/plan.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output == "" {
				return errors.New(errors.ErrCodeInvalidInput, "--output is required")
			}
			if !isDir(opts.root) {
				return errors.New(errors.ErrCodeInvalidPath, "root %s is not a directory", opts.root)
			}

			var entries []archive.Entry
			var err error
			if len(args) > 0 {
				entries, err = archive.Entries(opts.root, args)
			} else {
				entries, err = archive.FromDir(opts.root, opts.output)
			}
			if err != nil {
				return err
			}

			m, err := archive.Create(cmd.Context(), archive.Options{
				Files:       entries,
				Destination: opts.output,
				Overwrite:   opts.force,
				Logger:      c.Logger,
			})
			if err != nil {
				return err
			}
			printSuccess("Archived %s members (%s)", StyleNumber.Render(fmt.Sprint(len(m.Members))), formatSize(m.Size))
			printFile(filepath.Clean(m.Destination))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.root, "root", "r", ".", "directory member names are relative to")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "archive to write")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "replace an existing archive")

	return cmd
}

func (c *CLI) archiveListCommand() *cobra.Command {
	var expect string

	cmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "List archive members and check for expected ones",
		Long: `List the members of a zip archive. With --expect, report each expected member
as found or missing; any missing member makes the command fail.`,
		Example: `  convoy archive list review.zip
  convoy archive list submission.zip --expect "Cost_Estimate.pdf,previews/plan.png"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := archive.List(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(members))
			for i, m := range members {
				rows[i] = []string{m.Name, formatSize(int64(m.Size)), m.Modified.Format(time.DateTime)}
			}
			fmt.Println(renderTable([]string{"Member", "Size", "Modified"}, rows, -1))
			printDetail("%d members", len(members))

			expected := splitList(expect)
			if len(expected) == 0 {
				return nil
			}
			checks := archive.Check(members, expected)
			rows = make([][]string, len(checks))
			missing := 0
			for i, ch := range checks {
				status := "found"
				if !ch.Found {
					status = "missing"
					missing++
				}
				rows[i] = []string{ch.Name, status}
			}
			printNewline()
			fmt.Println(renderTable([]string{"Expected", "Status"}, rows, 1))
			if missing > 0 {
				return errors.New(errors.ErrCodeValidationFailed, "%d of %d expected members missing from %s",
					missing, len(checks), args[0])
			}
			printSuccess("All %d expected members present", len(checks))
			return nil
		},
	}

	cmd.Flags().StringVarP(&expect, "expect", "e", "", "comma-separated member names that must be present")

	return cmd
}
