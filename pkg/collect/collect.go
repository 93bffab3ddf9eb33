// Package collect gathers recently modified files from a source tree into a
// target tree, preserving relative paths.
//
// Matching uses doublestar globs against both the slash-separated relative
// path and the base name, so "*.pdf" matches at any depth and
// "drawings/**/*.png" matches a sub-tree. A file qualifies when its
// modification time is strictly after the cutoff.
//
// An existing destination is skipped, not overwritten, unless Overwrite is
// set. Skips are reported on the Result and are not errors.
package collect

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/observability"
)

// Record describes one file selected by the collector.
type Record struct {
	Path    string // absolute source path
	Rel     string // slash-separated path relative to the source root
	ModTime time.Time
	Size    int64
}

// Options configure a collection run.
type Options struct {
	Source    string
	Target    string
	Patterns  []string
	Since     time.Time // zero means no time filter
	Overwrite bool
	Logger    *log.Logger
}

// Result lists what a collection run did. Copied holds the files written to
// the target tree, in relative-path order; it is the exact input set for an
// archive of the run.
type Result struct {
	Copied  []Record
	Skipped []Record
}

// Cutoff returns the instant minutes before now. A non-positive minutes
// value disables the time filter.
func Cutoff(now time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(minutes) * time.Minute)
}

// ParsePatterns splits a comma-separated pattern list and validates each glob.
func ParsePatterns(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New(errors.ErrCodeInvalidInput, "invalid pattern %q", p)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no patterns given")
	}
	return out, nil
}

// Scan returns the files under opts.Source that match the patterns and time
// window, sorted by relative path. Nothing is copied.
func Scan(ctx context.Context, opts Options) ([]Record, error) {
	root, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", opts.Source)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "source %s", opts.Source)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath, "source %s is not a directory", opts.Source)
	}

	// The target may live inside the source; never rescan what we write.
	var target string
	if opts.Target != "" {
		if target, err = filepath.Abs(opts.Target); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", opts.Target)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	var records []Record
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if target != "" && path == target && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		link := d.Type()&fs.ModeSymlink != 0
		if !link && !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matches(opts.Patterns, rel) {
			return nil
		}
		var fi fs.FileInfo
		if link {
			// Links to files are collected as the file; links to
			// directories are not walked.
			fi, err = os.Stat(path)
			if err != nil || !fi.Mode().IsRegular() {
				logger.Debug("skipping link", "path", rel, "err", err)
				return nil
			}
		} else if fi, err = d.Info(); err != nil {
			return err
		}
		if !opts.Since.IsZero() && !fi.ModTime().After(opts.Since) {
			return nil
		}
		records = append(records, Record{Path: path, Rel: rel, ModTime: fi.ModTime(), Size: fi.Size()})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "scan %s", opts.Source)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Rel < records[j].Rel })
	return records, nil
}

func matches(patterns []string, rel string) bool {
	base := rel[strings.LastIndexByte(rel, '/')+1:]
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Collect scans opts.Source and copies every match into opts.Target.
// Zero matches is an empty result, not an error.
func Collect(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Target == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no target directory")
	}

	records, err := Scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Target, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "create target %s", opts.Target)
	}
	target, err := filepath.Abs(opts.Target)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", opts.Target)
	}

	res := &Result{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dst := filepath.Join(target, filepath.FromSlash(rec.Rel))
		if !opts.Overwrite {
			if _, err := os.Stat(dst); err == nil {
				logger.Warn("destination exists, skipping", "file", rec.Rel)
				res.Skipped = append(res.Skipped, rec)
				continue
			}
		}
		if err := copyFile(rec, dst); err != nil {
			return res, errors.Wrap(errors.ErrCodeFilesystem, err, "copy %s", rec.Rel)
		}
		logger.Debug("collected", "file", rec.Rel, "size", rec.Size)
		res.Copied = append(res.Copied, Record{Path: dst, Rel: rec.Rel, ModTime: rec.ModTime, Size: rec.Size})
	}

	observability.Bundle().OnCollect(ctx, len(res.Copied), len(res.Skipped))
	return res, nil
}

// copyFile copies rec to dst through a temporary file in dst's directory and
// preserves the source modification time.
func copyFile(rec Record, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(rec.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".collect-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Chtimes(tmpPath, rec.ModTime, rec.ModTime); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
