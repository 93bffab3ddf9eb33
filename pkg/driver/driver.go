// Package driver runs batches of conversion jobs and aggregates their
// outcomes into a report and a process exit status.
//
// Jobs are independent: a job failure is recorded on that job's result and
// the batch continues. Only environment-level failures (a refused
// environment, an output directory that cannot be created) abort the batch.
// Post-conversion steps such as collecting and archiving run after every job
// has finished.
package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/errors"
)

// Precondition is evaluated once before any job runs. A non-nil error
// refuses the whole batch.
type Precondition func() error

// RefuseEnvironments returns a precondition that fails with
// ENVIRONMENT_REFUSED when the environment variable named by variable equals
// one of values (case-insensitively).
func RefuseEnvironments(variable string, values ...string) Precondition {
	return refuseEnv(os.Getenv, variable, values...)
}

func refuseEnv(getenv func(string) string, variable string, values ...string) Precondition {
	return func() error {
		if variable == "" {
			return nil
		}
		got := strings.TrimSpace(getenv(variable))
		for _, v := range values {
			if got != "" && strings.EqualFold(got, v) {
				return errors.New(errors.ErrCodeEnvironmentRefused, "refusing to run with %s=%s", variable, got)
			}
		}
		return nil
	}
}

type killKey struct{}

// WithKill returns a copy of ctx carrying kill. Cancelling ctx stops the
// driver from starting further jobs while running jobs finish; cancelling
// kill also interrupts the running jobs and their child processes.
func WithKill(ctx, kill context.Context) context.Context {
	return context.WithValue(ctx, killKey{}, kill)
}

// jobContext returns the context running jobs execute under. It ignores the
// cancellation of ctx and ends only when the kill context attached with
// WithKill is done.
func jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	kill, ok := ctx.Value(killKey{}).(context.Context)
	if !ok {
		return jctx, cancel
	}
	stop := context.AfterFunc(kill, cancel)
	return jctx, func() {
		stop()
		cancel()
	}
}

// Step runs after all jobs have finished.
type Step func(ctx context.Context, report *Report) error

// Driver executes jobs through a pipeline.
type Driver struct {
	Pipeline     *convert.Pipeline
	Concurrency  int // <= 1 runs jobs one after another
	Precondition Precondition
	After        []Step
	Logger       *log.Logger

	// OnResult, if set, is called as each job finishes. Calls may be concurrent.
	OnResult func(*convert.Result)
}

// Run executes jobs and returns the batch report.
//
// The returned error is batch-level: a refused environment, an unusable
// output directory, or a failing post step. Per-job failures are only on the
// report. Cancellation is cooperative: when ctx is cancelled, jobs that have
// not started are recorded as cancelled and running jobs are allowed to
// finish. Running jobs are interrupted only through a kill context attached
// with WithKill.
func (d *Driver) Run(ctx context.Context, jobs []convert.Job) (*Report, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	defer func() { report.Duration = time.Since(report.Started) }()

	if d.Precondition != nil {
		if err := d.Precondition(); err != nil {
			report.Err = err
			return report, err
		}
	}
	if err := ensureOutputDirs(jobs); err != nil {
		report.Err = err
		return report, err
	}

	logger.Debug("batch started", "run", report.RunID, "jobs", len(jobs), "concurrency", d.concurrency())
	results := d.runJobs(ctx, jobs)
	report.add(results)

	if report.Err != nil {
		return report, report.Err
	}
	if ctx.Err() != nil {
		return report, nil
	}
	for _, step := range d.After {
		if err := step(ctx, report); err != nil {
			report.Err = err
			return report, err
		}
	}
	return report, nil
}

func (d *Driver) concurrency() int {
	if d.Concurrency < 1 {
		return 1
	}
	return d.Concurrency
}

func (d *Driver) runJobs(ctx context.Context, jobs []convert.Job) []*convert.Result {
	results := make([]*convert.Result, len(jobs))
	jctx, cancelJobs := jobContext(ctx)
	defer cancelJobs()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = cancelled(job, err)
				return nil
			}
			res := d.Pipeline.Run(jctx, job)
			results[i] = res
			if d.OnResult != nil {
				d.OnResult(res)
			}
			if errors.IsBatchFatal(res.Err) {
				return res.Err
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res == nil {
			err := gctx.Err()
			if err == nil {
				err = context.Canceled
			}
			results[i] = cancelled(jobs[i], err)
		}
	}
	return results
}

func cancelled(job convert.Job, cause error) *convert.Result {
	return &convert.Result{
		Source: job.Source(),
		Target: job.Target(),
		Status: convert.StatusCancelled,
		Err:    errors.Wrap(errors.ErrCodeCancelled, cause, "not started"),
	}
}

func ensureOutputDirs(jobs []convert.Job) error {
	seen := make(map[string]bool)
	for _, job := range jobs {
		dir := filepath.Dir(job.Target())
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeFilesystem, err, "create output directory %s", dir)
		}
	}
	return nil
}
