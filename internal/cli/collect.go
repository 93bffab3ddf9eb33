package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/collect"
	"github.com/matzehuels/convoy/pkg/driver"
	"github.com/matzehuels/convoy/pkg/errors"
)

// collectOpts holds options for the collect command.
type collectOpts struct {
	source       string
	target       string
	sinceMinutes int
	patterns     string
	force        bool
	zipName      string
}

// collectCommand creates the collect command.
func (c *CLI) collectCommand() *cobra.Command {
	opts := collectOpts{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Copy recently modified outputs into a bundle directory",
		Long: `Collect every file under --source whose path or name matches one of the
--patterns and that was modified within the last --since-minutes, copying it
into --target with its relative path. Files already present in the target are
skipped with a warning unless --force is given.

With --zip-name the files copied by this run are also written to a zip archive
inside --target. An existing archive is an error unless --force is given.`,
		Example: `  convoy collect --source out/ --target review/ --since-minutes 60 --patterns "*.pdf,previews/**/*.png"
  convoy collect --source out/ --target review/ --patterns "*.png" --zip-name review.zip --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("since-minutes") {
				opts.sinceMinutes = c.Config.Collect.SinceMinutes
			}
			if opts.patterns == "" {
				opts.patterns = strings.Join(c.Config.Collect.Patterns, ",")
			}
			return c.runCollect(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "directory to scan")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "bundle directory")
	cmd.Flags().IntVar(&opts.sinceMinutes, "since-minutes", 0, "only files modified within this many minutes (0 for no limit)")
	cmd.Flags().StringVarP(&opts.patterns, "patterns", "p", "", "comma-separated glob patterns, ** allowed")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite files in the target and an existing archive")
	cmd.Flags().StringVar(&opts.zipName, "zip-name", "", "also write the collected files to this zip inside the target")

	return cmd
}

func (c *CLI) runCollect(ctx context.Context, opts collectOpts) error {
	if opts.source == "" || opts.target == "" {
		return errors.New(errors.ErrCodeInvalidInput, "--source and --target are required")
	}
	if opts.sinceMinutes < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "--since-minutes must not be negative")
	}
	patterns, err := collect.ParsePatterns(opts.patterns)
	if err != nil {
		return err
	}
	if opts.zipName != "" {
		if err := errors.ValidateDocumentName(opts.zipName); err != nil {
			return err
		}
	}
	if pre := c.Config.Precondition(); pre != nil {
		if err := pre(); err != nil {
			return err
		}
	}

	since := collect.Cutoff(time.Now(), opts.sinceMinutes)
	c.Logger.Debug("collecting", "source", opts.source, "patterns", patterns, "since", since)

	res, err := driver.Bundle(ctx, driver.BundleOptions{
		Collect: collect.Options{
			Source:    opts.source,
			Target:    opts.target,
			Patterns:  patterns,
			Since:     since,
			Overwrite: opts.force,
			Logger:    c.Logger,
		},
		ArchiveName:      opts.zipName,
		OverwriteArchive: opts.force,
	})
	if res != nil {
		printBundle(res)
	}
	if err != nil {
		if errors.Is(err, errors.ErrCodeArchiveCollision) {
			printNextStep("Replace it", "convoy collect ... --force")
		}
		return err
	}
	if res.Archive != nil {
		printNextStep("Check the archive", "convoy archive list "+res.Archive.Destination)
	}
	return nil
}

// printBundle prints what a collect step copied, skipped and archived.
func printBundle(res *driver.BundleResult) {
	col := res.Collected
	if len(col.Copied) == 0 && len(col.Skipped) == 0 {
		printInfo("No matching files")
		return
	}
	printSuccess("Collected %s files", StyleNumber.Render(fmt.Sprint(len(col.Copied))))
	for _, rec := range col.Copied {
		printFile(rec.Rel)
	}
	if len(col.Skipped) > 0 {
		printWarning("Skipped %d files already in the target", len(col.Skipped))
		for _, rec := range col.Skipped {
			printDetail("%s", rec.Rel)
		}
	}
	if m := res.Archive; m != nil {
		printSuccess("Archived %d members (%s)", len(m.Members), formatSize(m.Size))
		printFile(filepath.Clean(m.Destination))
	}
	if res.Existing != "" {
		printWarning("Nothing new to archive; %s left unchanged", filepath.Clean(res.Existing))
		printNextStep("Rebuild it", "convoy collect ... --force")
	}
}

// formatSize renders a byte count with a binary unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
