// Package archive bundles a file set into a zip archive.
//
// The member set of a created archive is exactly the entry set passed to
// [Create]: no stale members survive from a previous archive at the same
// path. Archives are written to a temporary file beside the destination,
// synced and renamed into place, so a failure never leaves a truncated
// archive at the destination.
package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/observability"
)

// Entry is one file to archive.
type Entry struct {
	Path string // file on disk
	Name string // slash-separated member name
}

// Options configure Create.
type Options struct {
	Files       []Entry
	Destination string
	Overwrite   bool
	Logger      *log.Logger
}

// Manifest records what Create wrote.
type Manifest struct {
	Destination string
	Members     []string // sorted member names
	Size        int64    // archive size in bytes
}

// Entries builds entries for paths relative to root.
func Entries(root string, paths []string) ([]Entry, error) {
	out := make([]Entry, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "%s is not under %s", p, root)
		}
		out = append(out, Entry{Path: p, Name: filepath.ToSlash(rel)})
	}
	return out, nil
}

// FromDir returns an entry for every regular file under root, skipping any
// path in exclude (typically the archive being written).
func FromDir(root string, exclude ...string) ([]Entry, error) {
	skip := make([]string, 0, len(exclude))
	for _, e := range exclude {
		if abs, err := filepath.Abs(e); err == nil {
			skip = append(skip, abs)
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", root)
	}

	var out []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if slices.Contains(skip, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, Entry{Path: path, Name: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "scan %s", root)
	}
	return out, nil
}

// Create writes opts.Files into a zip archive at opts.Destination.
//
// An existing destination without Overwrite is an ARCHIVE_COLLISION error and
// the destination is left untouched. Write failures are FILESYSTEM_ERROR.
func Create(ctx context.Context, opts Options) (*Manifest, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Destination == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no archive destination")
	}

	files := slices.Clone(opts.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	for i, f := range files {
		if err := errors.ValidatePath(f.Name); err != nil {
			return nil, err
		}
		if i > 0 && files[i-1].Name == f.Name {
			return nil, errors.New(errors.ErrCodeInvalidInput, "duplicate archive member %s", f.Name)
		}
	}

	if _, err := os.Stat(opts.Destination); err == nil {
		if !opts.Overwrite {
			return nil, errors.New(errors.ErrCodeArchiveCollision, "%s already exists", opts.Destination)
		}
		logger.Info("replacing existing archive", "path", opts.Destination)
	}

	dir := filepath.Dir(opts.Destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.zip")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "create temp archive in %s", dir)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(zw, f); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "add %s", f.Name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "finish archive")
	}
	if err := tmp.Sync(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "sync archive")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "close archive")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "chmod archive")
	}
	if err := os.Rename(tmpPath, opts.Destination); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "move archive to %s", opts.Destination)
	}
	committed = true

	m := &Manifest{Destination: opts.Destination, Members: make([]string, len(files))}
	for i, f := range files {
		m.Members[i] = f.Name
	}
	if info, err := os.Stat(opts.Destination); err == nil {
		m.Size = info.Size()
	}
	logger.Debug("archive written", "path", opts.Destination, "members", len(m.Members), "bytes", m.Size)
	observability.Bundle().OnArchive(ctx, opts.Destination, len(m.Members), m.Size)
	return m, nil
}

func addFile(zw *zip.Writer, e Entry) error {
	in, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New(errors.ErrCodeInvalidInput, "%s is not a regular file", e.Path)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = e.Name
	hdr.Method = zip.Deflate
	hdr.Modified = info.ModTime()
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Member is one entry of an existing archive.
type Member struct {
	Name     string
	Size     uint64
	Modified time.Time
}

// List returns the members of the archive at path, in archive order.
func List(path string) ([]Member, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "open %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidArchive, err, "read %s", path)
	}
	defer zr.Close()

	out := make([]Member, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, Member{Name: f.Name, Size: f.UncompressedSize64, Modified: f.Modified})
	}
	return out, nil
}

// CheckResult reports whether an expected member is present.
type CheckResult struct {
	Name  string
	Found bool
}

// Check looks up each expected name among members.
func Check(members []Member, expected []string) []CheckResult {
	have := make(map[string]bool, len(members))
	for _, m := range members {
		have[m.Name] = true
	}
	out := make([]CheckResult, len(expected))
	for i, name := range expected {
		out[i] = CheckResult{Name: name, Found: have[name]}
	}
	return out
}
