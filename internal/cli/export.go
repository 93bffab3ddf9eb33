package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/config"
	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/errors"
)

// exportOpts holds options for the export command.
type exportOpts struct {
	batchOpts
	source string
	target string
}

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	opts := exportOpts{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export spreadsheets and documents to PDF with LibreOffice",
		Long: `Export every spreadsheet or document under --source to a PDF in --target.

Output names come from the [[export.mapping]] tables of the config file: the
first pattern matching a source's file name gives the document name, otherwise
the source name with a .pdf extension is used. The calc-pdf strategy is tried
first; --prefer-backend pdf tries the generic writer filter first.`,
		Example: `  convoy export --source sheets/ --target submission/
  convoy export --source sheets/ --target submission/ --force --config export.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "directory with spreadsheets")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "directory for the PDFs")
	opts.register(cmd)

	return cmd
}

func (c *CLI) runExport(ctx context.Context, opts exportOpts) error {
	plan, err := planExport(opts.source, opts.target, c.Config.Export, c.prefer(opts.prefer))
	if err != nil {
		return err
	}
	return c.runBatch(ctx, plan, opts.batchOpts)
}

// planExport creates one sheet-pdf job per accepted file under source. All
// outputs land directly in target, so two sources mapping to the same
// document name are rejected.
func planExport(source, target string, mapping config.Export, prefer string) (jobPlan, error) {
	if source == "" || target == "" {
		return jobPlan{}, errors.New(errors.ErrCodeInvalidInput, "--source and --target are required")
	}
	if !isDir(source) {
		return jobPlan{}, errors.New(errors.ErrCodeInvalidPath, "source %s is not a directory", source)
	}
	chain, err := chains.Lookup(chains.SheetPDF, chains.Options{})
	if err != nil {
		return jobPlan{}, err
	}
	chain = chain.Prefer(prefer)

	files, err := sourceFiles(source, target)
	if err != nil {
		return jobPlan{}, err
	}
	plan := jobPlan{Chains: []chains.Chain{chain}, Root: target}
	seen := make(map[string]string)
	for _, src := range files {
		if !chain.Accepts(src) || isLockFile(src) {
			continue
		}
		name := mapping.OutputName(src)
		if prev, dup := seen[name]; dup {
			return jobPlan{}, errors.New(errors.ErrCodeInvalidInput,
				"%s and %s both export to %s", prev, src, name)
		}
		seen[name] = src
		job, err := convert.NewJob(src, filepath.Join(target, name), chain.Stages)
		if err != nil {
			return jobPlan{}, err
		}
		plan.Jobs = append(plan.Jobs, job)
	}
	return plan, nil
}

// isLockFile reports LibreOffice lock files (".~lock.name.ods#") and Excel
// owner files ("~$name.xlsx") left next to open documents.
func isLockFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".~lock.")
}
