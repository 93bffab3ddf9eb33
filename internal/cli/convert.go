package cli

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/collect"
	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/driver"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

// batchOpts holds the flags shared by convert and export.
type batchOpts struct {
	toolPaths   []string
	timeout     int
	force       bool
	concurrency int
	report      string
	prefer      string
	bundle      string
	zipName     string
}

func (o *batchOpts) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&o.toolPaths, "tool-path", nil, "executable for a tool role, as role=path (repeatable; a bare path applies to a single-role chain)")
	cmd.Flags().IntVar(&o.timeout, "timeout", 0, "per-attempt timeout in seconds (default 300, or the config timeout)")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "overwrite existing outputs")
	cmd.Flags().IntVarP(&o.concurrency, "concurrency", "j", 0, "jobs to run in parallel (default 1)")
	cmd.Flags().StringVar(&o.report, "report", "", "write a JSON batch report to this file")
	cmd.Flags().StringVar(&o.prefer, "prefer-backend", "", "strategy to try first in every stage (e.g. legacy, calc-pdf)")
	cmd.Flags().StringVar(&o.bundle, "bundle", "", "after the batch, copy outputs into this directory")
	cmd.Flags().StringVar(&o.zipName, "zip-name", "", "with --bundle, also archive the copied outputs under this name")
}

// convertOpts holds options for the convert command.
type convertOpts struct {
	batchOpts
	input         string
	output        string
	chain         string
	blenderScript string
}

// convertCommand creates the convert command.
func (c *CLI) convertCommand() *cobra.Command {
	opts := convertOpts{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert artifacts through a chain of external tools",
		Long: `Convert a file, or every matching file in a directory, through a conversion
chain. Each stage tries its strategies in order until one produces a non-empty
output. Existing outputs are skipped unless --force is given.

Chains: ` + strings.Join(chains.Names(), ", ") + `. Without --chain the chain is
picked from the file extension (.dxf drawing, .svg svg-png, spreadsheets sheet-pdf).

Exit status: 0 success, 2 tool not found, 3 all strategies exhausted,
4 invalid arguments, 5 environment refused, 1 other failures.`,
		Example: `  convoy convert --input plan.svg --output previews/
  convoy convert --input drawings/ --output out/ --chain drawing -j 4
  convoy convert --input drawings/ --output out/ --bundle review/ --zip-name review.zip
  convoy convert --input scene.svg --output scene.png --chain render --tool-path 3d-render=/opt/blender/blender`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runConvert(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "source file or directory")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file or directory")
	cmd.Flags().StringVarP(&opts.chain, "chain", "c", "", "conversion chain: "+strings.Join(chains.Names(), ", "))
	cmd.Flags().StringVar(&opts.blenderScript, "blender-script", "", "render script for the render chain (default: bundled script)")
	opts.register(cmd)
	_ = cmd.RegisterFlagCompletionFunc("chain", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return chains.Names(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func (c *CLI) runConvert(ctx context.Context, opts convertOpts) error {
	chainOpts := chains.Options{
		BlenderScript: opts.blenderScript,
		ResolutionX:   c.Config.Render.ResolutionX,
		ResolutionY:   c.Config.Render.ResolutionY,
	}
	if chainOpts.BlenderScript == "" {
		chainOpts.BlenderScript = c.Config.Render.Script
	}
	if opts.chain == chains.Render && chainOpts.BlenderScript == "" {
		dir, err := os.MkdirTemp("", "convoy-render-")
		if err != nil {
			return errors.Wrap(errors.ErrCodeFilesystem, err, "create script directory")
		}
		defer os.RemoveAll(dir)
		if chainOpts.BlenderScript, err = chains.WriteRenderScript(dir); err != nil {
			return err
		}
	}

	plan, err := planJobs(jobRequest{
		Input:   opts.input,
		Output:  opts.output,
		Chain:   opts.chain,
		Prefer:  c.prefer(opts.prefer),
		Options: chainOpts,
	})
	if err != nil {
		return err
	}
	return c.runBatch(ctx, plan, opts.batchOpts)
}

// runBatch resolves tools, runs the planned jobs through the driver and
// prints the summary.
func (c *CLI) runBatch(ctx context.Context, plan jobPlan, opts batchOpts) error {
	if len(plan.Jobs) == 0 {
		printWarning("No convertible files found")
		return nil
	}
	hints, err := parseToolPaths(opts.toolPaths, plan.Roles())
	if err != nil {
		return err
	}
	timeout, err := c.timeout(opts.timeout)
	if err != nil {
		return err
	}

	pipeline := convert.NewPipeline(c.newResolver(), c.Logger)
	pipeline.Hints = hints
	pipeline.Timeout = timeout
	pipeline.Overwrite = opts.force

	var mu sync.Mutex
	d := &driver.Driver{
		Pipeline:     pipeline,
		Concurrency:  c.concurrency(opts.concurrency),
		Precondition: c.Config.Precondition(),
		Logger:       c.Logger,
		OnResult: func(res *convert.Result) {
			mu.Lock()
			defer mu.Unlock()
			printResult(res)
		},
	}

	if opts.zipName != "" && opts.bundle == "" {
		return errors.New(errors.ErrCodeInvalidInput, "--zip-name needs --bundle")
	}
	if opts.bundle != "" {
		d.After = append(d.After, driver.BundleStep(driver.BundleOptions{
			Collect: collect.Options{
				Source:    plan.Root,
				Target:    opts.bundle,
				Patterns:  plan.Patterns(),
				Overwrite: opts.force,
				Logger:    c.Logger,
			},
			ArchiveName:      opts.zipName,
			OverwriteArchive: opts.force,
		}))
	}

	prog := newProgress(c.Logger)
	report, err := d.Run(ctx, plan.Jobs)
	if len(report.Results) > 0 {
		prog.done("Batch finished", "run", report.RunID, "jobs", len(report.Results))
		printNewline()
		printReport(report)
	}
	if report.Bundle != nil {
		printNewline()
		printBundle(report.Bundle)
	}
	if opts.report != "" {
		if werr := writeReport(opts.report, report); werr != nil {
			return werr
		}
		printFile(opts.report)
	}
	if err != nil {
		return err
	}
	return reportError(report)
}

// prefer returns the flag value, else the configured preference.
func (c *CLI) prefer(flag string) string {
	if flag != "" {
		return flag
	}
	return c.Config.PreferBackend
}

// timeout returns the per-attempt timeout: the flag in seconds, else the
// configured duration, else the default.
func (c *CLI) timeout(seconds int) (time.Duration, error) {
	switch {
	case seconds < 0:
		return 0, errors.New(errors.ErrCodeInvalidInput, "--timeout must be positive")
	case seconds > 0:
		return time.Duration(seconds) * time.Second, nil
	case c.Config.Timeout.Duration > 0:
		return c.Config.Timeout.Duration, nil
	}
	return defaultTimeout * time.Second, nil
}

func (c *CLI) concurrency(flag int) int {
	switch {
	case flag > 0:
		return flag
	case c.Config.Concurrency > 0:
		return c.Config.Concurrency
	}
	return 1
}

// roleNames formats roles for messages.
func roleNames(roles []tools.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
