package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/pdf"
)

// mergeCommand creates the merge command.
func (c *CLI) mergeCommand() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "merge <pdf|dir>...",
		Short: "Merge PDFs into one portfolio document",
		Long: `Merge PDFs, in the order given, into a single portfolio document. A directory
argument contributes its .pdf files in name order. Every input is validated
before merging; the portfolio is replaced only with --force.`,
		Example: `  convoy merge --output portfolio.pdf cover.pdf submission/
  convoy merge -o portfolio.pdf --force a.pdf b.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New(errors.ErrCodeInvalidInput, "--output is required")
			}
			inputs, err := mergeInputs(args, output)
			if err != nil {
				return err
			}

			spinner := newSpinner(cmd.Context(), fmt.Sprintf("Merging %d documents...", len(inputs)))
			spinner.Start()
			if err := pdf.Merge(cmd.Context(), inputs, output, force); err != nil {
				spinner.StopWithError("Merge failed")
				return err
			}
			spinner.StopWithSuccess(fmt.Sprintf("Merged %d documents", len(inputs)))
			printFile(output)
			if n, err := pdf.PageCount(output); err == nil {
				printDetail("%d pages", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "portfolio PDF to write")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing portfolio")

	return cmd
}

// mergeInputs expands directory arguments to their PDFs and leaves out the
// output itself.
func mergeInputs(args []string, output string) ([]string, error) {
	outAbs, _ := filepath.Abs(output)
	var inputs []string
	add := func(p string) {
		if abs, _ := filepath.Abs(p); abs != outAbs {
			inputs = append(inputs, p)
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "%s", arg)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "read %s", arg)
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			add(filepath.Join(arg, name))
		}
	}
	if len(inputs) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no PDF inputs")
	}
	return inputs, nil
}
