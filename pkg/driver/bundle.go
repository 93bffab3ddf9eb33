package driver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/convoy/pkg/archive"
	"github.com/matzehuels/convoy/pkg/collect"
)

// BundleOptions configure a collect-then-archive step.
type BundleOptions struct {
	Collect collect.Options

	// ArchiveName, if set, names a zip written into the collect target from
	// exactly the files copied by this run.
	ArchiveName string

	// OverwriteArchive replaces an existing archive. Without it an existing
	// archive is an ARCHIVE_COLLISION error.
	OverwriteArchive bool
}

// Bundle collects files and optionally archives what was copied.
//
// When nothing was copied no archive is written: an empty archive would
// replace or shadow a previous bundle without adding anything.
func Bundle(ctx context.Context, opts BundleOptions) (*BundleResult, error) {
	logger := opts.Collect.Logger
	if logger == nil {
		logger = log.Default()
	}

	collected, err := collect.Collect(ctx, opts.Collect)
	if err != nil {
		return nil, err
	}
	res := &BundleResult{Collected: collected}
	if opts.ArchiveName == "" {
		return res, nil
	}
	dest := filepath.Join(opts.Collect.Target, opts.ArchiveName)
	if len(collected.Copied) == 0 {
		if _, err := os.Stat(dest); err == nil {
			res.Existing = dest
			logger.Warn("nothing new collected, existing archive left unchanged", "archive", dest)
			return res, nil
		}
		logger.Warn("nothing collected, archive not written", "archive", opts.ArchiveName)
		return res, nil
	}

	entries := make([]archive.Entry, len(collected.Copied))
	for i, rec := range collected.Copied {
		entries[i] = archive.Entry{Path: rec.Path, Name: rec.Rel}
	}
	m, err := archive.Create(ctx, archive.Options{
		Files:       entries,
		Destination: dest,
		Overwrite:   opts.OverwriteArchive,
		Logger:      logger,
	})
	if err != nil {
		return res, err
	}
	res.Archive = m
	return res, nil
}

// BundleStep returns a Step that runs Bundle after the conversion jobs and
// attaches the result to the report.
func BundleStep(opts BundleOptions) Step {
	return func(ctx context.Context, report *Report) error {
		res, err := Bundle(ctx, opts)
		report.Bundle = res
		return err
	}
}
