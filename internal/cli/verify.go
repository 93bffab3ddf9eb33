package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/pdf"
	"github.com/matzehuels/convoy/pkg/raster"
)

// imageExts are the raster formats verify can read.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// verifyCommand creates the verify command.
func (c *CLI) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>...",
		Short: "Check produced PDFs and images",
		Long: `Check that produced documents are usable: PDFs must validate and have at least
one page, images must decode with non-zero dimensions. Directories are searched
recursively for .pdf and image files. Any invalid file makes the command fail.`,
		Example: `  convoy verify out/
  convoy verify submission/Cost_Estimate.pdf previews/plan.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := verifiable(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				printWarning("No PDF or image files found")
				return nil
			}
			rows, invalid := verifyFiles(cmd, files)
			fmt.Println(renderTable([]string{"File", "Kind", "Detail", "Size", "Status"}, rows, 4))
			if invalid > 0 {
				return errors.New(errors.ErrCodeValidationFailed, "%d of %d files invalid", invalid, len(files))
			}
			printSuccess("%d files verified", len(files))
			return nil
		},
	}
}

// verifyFiles inspects files and returns one table row per file plus the
// number of invalid files.
func verifyFiles(cmd *cobra.Command, files []string) ([][]string, int) {
	var pdfs, images []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".pdf") {
			pdfs = append(pdfs, f)
		} else {
			images = append(images, f)
		}
	}

	rows := make([][]string, 0, len(files))
	invalid := 0
	for _, info := range pdf.Inspect(cmd.Context(), pdfs...) {
		row := []string{info.Path, "pdf", fmt.Sprintf("%d pages", info.Pages), formatSize(info.Size), "ok"}
		if info.Err != nil {
			row[2], row[4] = errors.UserMessage(info.Err), "invalid"
			invalid++
		}
		rows = append(rows, row)
	}
	for _, path := range images {
		var size int64
		if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}
		row := []string{path, "image", "", formatSize(size), "ok"}
		if err := raster.Check(path); err != nil {
			row[2], row[4] = errors.UserMessage(err), "invalid"
			invalid++
		} else if info, err := raster.Inspect(path); err == nil {
			row[1] = info.Format
			row[2] = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
		rows = append(rows, row)
	}
	return rows, invalid
}

// verifiable expands args into the PDF and image files to check.
func verifiable(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "%s", arg)
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(path))
			if d.Type().IsRegular() && (ext == ".pdf" || imageExts[ext]) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "scan %s", arg)
		}
	}
	sort.Strings(out)
	return out, nil
}
