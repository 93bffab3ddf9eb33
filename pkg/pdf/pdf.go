// Package pdf validates produced PDF documents and merges them into a
// portfolio using pdfcpu.
package pdf

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/matzehuels/convoy/pkg/errors"
)

// config returns a relaxed pdfcpu configuration. Office exporters and librsvg
// produce files that fail strict validation on cosmetic issues.
func config() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Validate checks that path is a readable PDF with at least one page.
func Validate(path string) error {
	if err := api.ValidateFile(path, config()); err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, err, "invalid pdf %s", filepath.Base(path))
	}
	n, err := PageCount(path)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New(errors.ErrCodeValidationFailed, "pdf %s has no pages", filepath.Base(path))
	}
	return nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeValidationFailed, err, "count pages of %s", filepath.Base(path))
	}
	return n, nil
}

// Info summarizes one inspected document.
type Info struct {
	Path  string
	Pages int
	Size  int64
	Err   error
}

// Inspect validates every path and reports page counts. A failing document
// is reported on its Info and does not stop inspection of the others.
func Inspect(ctx context.Context, paths ...string) []Info {
	out := make([]Info, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		info := Info{Path: p}
		st, err := os.Stat(p)
		if err != nil {
			info.Err = errors.Wrap(errors.ErrCodeFilesystem, err, "stat %s", p)
			out = append(out, info)
			continue
		}
		info.Size = st.Size()
		if info.Err = Validate(p); info.Err == nil {
			info.Pages, info.Err = PageCount(p)
		}
		out = append(out, info)
	}
	return out
}

// Merge concatenates inputs, in order, into dest.
//
// An existing dest is an OUTPUT_ALREADY_EXISTS error unless overwrite is set.
// The merged file is written next to dest and renamed into place, so a failed
// merge never leaves a truncated portfolio.
func Merge(ctx context.Context, inputs []string, dest string, overwrite bool) error {
	if len(inputs) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "nothing to merge")
	}
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return errors.New(errors.ErrCodeOutputExists, "%s already exists", dest)
	}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := Validate(in); err != nil {
			return err
		}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".merge-*.pdf")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "create temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := api.MergeCreateFile(inputs, tmpPath, false, config()); err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, err, "merge %d documents", len(inputs))
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "move portfolio to %s", dest)
	}
	return nil
}
