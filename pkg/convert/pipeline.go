// Package convert drives design artifacts through chains of external
// conversion tools.
//
// A [Job] pairs one source file with an ordered list of [Stage] values. Each
// stage names the tool role it needs and an ordered list of [Strategy]
// alternatives, which are different command lines for the same backend
// (modern and legacy flags, a fallback render engine). The [Pipeline] runs the
// stages strictly in sequence and, within a stage, tries strategies in order
// until one succeeds.
//
// # Success
//
// An attempt succeeds when the backend exits with status 0 and the expected
// output file exists and is non-empty (and passes the stage's optional Check).
// Tools write into a private temporary directory inside the output directory;
// only a successful output is renamed onto the stage target, so a failed,
// timed-out or cancelled attempt never leaves a partial file behind.
//
// # Idempotence
//
// A stage whose target already exists is skipped unless Overwrite is set.
// Re-running a finished batch therefore reports every job as skipped and
// leaves every output byte-identical.
package convert

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/observability"
	"github.com/matzehuels/convoy/pkg/proc"
	"github.com/matzehuels/convoy/pkg/tools"
)

// Pipeline executes conversion jobs. A Pipeline is safe for concurrent use by
// multiple goroutines as long as its fields are not modified.
type Pipeline struct {
	Resolver  *tools.Resolver
	Hints     map[tools.Role]string // per-role executable hints (--tool-path)
	Timeout   time.Duration         // per attempt; zero means proc.DefaultTimeout
	Overwrite bool
	Logger    *log.Logger

	// run is replaced in tests.
	run func(context.Context, proc.Command) (*proc.Result, error)
}

// NewPipeline creates a pipeline resolving backends with r.
func NewPipeline(r *tools.Resolver, logger *log.Logger) *Pipeline {
	if r == nil {
		r = tools.NewResolver()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{Resolver: r, Logger: logger}
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

func (p *Pipeline) exec(ctx context.Context, cmd proc.Command) (*proc.Result, error) {
	if p.run != nil {
		return p.run(ctx, cmd)
	}
	return proc.Run(ctx, cmd)
}

// Run executes job and returns its result. Run never returns nil; failures are
// recorded on the result and classified by error code.
func (p *Pipeline) Run(ctx context.Context, job Job) *Result {
	hooks := observability.Pipeline()
	hooks.OnJobStart(ctx, job.source)

	start := time.Now()
	res := &Result{Source: job.source, Target: job.target}
	res.Status, res.Err = p.runStages(ctx, job, res)
	res.Duration = time.Since(start)

	hooks.OnJobComplete(ctx, job.source, string(res.Status), res.Duration, res.Err)
	return res
}

func (p *Pipeline) runStages(ctx context.Context, job Job, res *Result) (Status, error) {
	logger := p.logger().With("job", filepath.Base(job.source))

	if _, err := os.Stat(job.source); err != nil {
		return StatusFailed, errors.Wrap(errors.ErrCodeInvalidPath, err, "source %s", job.source)
	}
	if err := os.MkdirAll(filepath.Dir(job.target), 0o755); err != nil {
		return StatusFailed, errors.Wrap(errors.ErrCodeFilesystem, err, "create output directory")
	}

	input := job.source
	ran := false
	for i, st := range job.stages {
		target := job.outputs[i]
		sr := StageResult{Name: st.Name, Output: target}

		if err := ctx.Err(); err != nil {
			return StatusCancelled, errors.Wrap(errors.ErrCodeCancelled, err, "cancelled before stage %s", st.Name)
		}

		if !p.Overwrite && fileExists(target) {
			logger.Debug("stage skipped, output exists", "stage", st.Name, "output", target)
			sr.Status = StatusSkipped
			res.Stages = append(res.Stages, sr)
			input = target
			continue
		}

		backend, err := p.Resolver.Resolve(st.Role, p.Hints[st.Role])
		if err != nil {
			sr.Status = StatusFailed
			res.Stages = append(res.Stages, sr)
			return StatusFailed, err
		}
		sr.Backend = backend
		ran = true

		attempts, won := firstSuccess(ctx, st.Strategies, func(idx int, s Strategy) Attempt {
			return p.attempt(ctx, st, idx, s, backend, input, target)
		})
		sr.Attempts = attempts

		if won < 0 {
			sr.Status = StatusFailed
			res.Stages = append(res.Stages, sr)
			if err := ctx.Err(); err != nil {
				return StatusCancelled, errors.Wrap(errors.ErrCodeCancelled, err, "cancelled during stage %s", st.Name)
			}
			var last error
			if n := len(attempts); n > 0 {
				last = attempts[n-1].Err
			}
			if errors.IsBatchFatal(last) {
				return StatusFailed, last
			}
			return StatusFailed, errors.Wrap(errors.ErrCodeStageExhausted, last,
				"stage %s: all %d strategies failed", st.Name, len(attempts))
		}

		logger.Info("stage complete", "stage", st.Name, "strategy", st.Strategies[won].Name)
		sr.Status = StatusSucceeded
		res.Stages = append(res.Stages, sr)
		input = target
	}

	if !ran {
		return StatusSkipped, nil
	}
	return StatusSucceeded, nil
}

// firstSuccess calls try for each item in order and stops at the first result
// that reports OK. It returns every result produced and the index of the
// winner, or -1. No further items are tried once ctx is done.
func firstSuccess[T any, R interface{ OK() bool }](ctx context.Context, items []T, try func(int, T) R) ([]R, int) {
	var out []R
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		r := try(i, item)
		out = append(out, r)
		if r.OK() {
			return out, i
		}
	}
	return out, -1
}

func (p *Pipeline) attempt(ctx context.Context, st Stage, idx int, s Strategy, backend, input, target string) (a Attempt) {
	a = Attempt{Stage: st.Name, Index: idx, Strategy: s.Name, Backend: backend, ExitCode: -1}
	start := time.Now()
	defer func() {
		a.Duration = time.Since(start)
		observability.Pipeline().OnAttempt(ctx, input, st.Name, s.Name, a.OK(), a.Duration)
		p.logAttempt(a)
	}()

	dir := filepath.Dir(target)
	tmp, err := os.MkdirTemp(dir, ".convoy-")
	if err != nil {
		a.Err = errors.Wrap(errors.ErrCodeFilesystem, err, "create work directory in %s", dir)
		return a
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, filepath.Base(target))
	args, emits := s.expand(vars{input: input, output: out, script: st.Script})
	a.Args = args

	cmd := proc.Command{Path: backend, Args: args, Dir: tmp, Env: s.Env, Timeout: p.Timeout}
	var sink *os.File
	if s.Stdout {
		if sink, err = os.Create(out); err != nil {
			a.Err = errors.Wrap(errors.ErrCodeFilesystem, err, "create %s", out)
			return a
		}
		cmd.Stdout = sink
	}

	pr, err := p.exec(ctx, cmd)
	if sink != nil {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if pr != nil {
		a.ExitCode = pr.ExitCode
		a.Stderr = pr.Stderr
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			a.Err = errors.Wrap(errors.ErrCodeCancelled, err, "strategy %s interrupted", s.Name)
		case stderrors.Is(err, proc.ErrTimeout):
			a.Err = errors.Wrap(errors.ErrCodeTimeout, err, "strategy %s", s.Name)
		default:
			a.Err = err
		}
		return a
	}
	if a.ExitCode != 0 {
		return a
	}

	produced := out
	if emits != "" {
		produced = emits
	}
	info, err := os.Stat(produced)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return a
	}
	a.Produced = true

	if st.Check != nil {
		if err := st.Check(produced); err != nil {
			a.Err = errors.Wrap(errors.ErrCodeValidationFailed, err, "check %s output", st.Name)
			return a
		}
	}
	if err := os.Rename(produced, target); err != nil {
		a.Err = errors.Wrap(errors.ErrCodeFilesystem, err, "move output to %s", target)
	}
	return a
}

func (p *Pipeline) logAttempt(a Attempt) {
	logger := p.logger()
	if a.OK() {
		logger.Debug("attempt succeeded", "stage", a.Stage, "strategy", a.Strategy, "took", a.Duration.Round(time.Millisecond))
		return
	}
	kv := []any{"stage", a.Stage, "strategy", a.Strategy, "exit", a.ExitCode}
	if a.Err != nil {
		kv = append(kv, "err", a.Err)
	} else if a.ExitCode == 0 {
		kv = append(kv, "err", "no output produced")
	}
	logger.Warn("attempt failed", kv...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
