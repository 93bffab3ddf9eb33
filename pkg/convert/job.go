package convert

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/convoy/pkg/errors"
)

// Status is the outcome of a job or stage.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped" // output already present, nothing run
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job drives one artifact through a chain of stages. A Job is immutable once
// created with NewJob: the stage list is copied and output paths are fixed.
type Job struct {
	source  string
	target  string
	stages  []Stage
	outputs []string
}

// NewJob creates a job converting source into target through stages.
//
// The last stage writes target. Intermediate stages write next to target,
// named after target's stem with the stage's extension, so the source tree is
// never written to.
func NewJob(source, target string, stages []Stage) (Job, error) {
	if source == "" || target == "" {
		return Job{}, errors.New(errors.ErrCodeInvalidInput, "job needs a source and a target")
	}
	if len(stages) == 0 {
		return Job{}, errors.New(errors.ErrCodeInvalidInput, "job %s has no stages", source)
	}
	src, err := filepath.Abs(source)
	if err != nil {
		return Job{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", source)
	}
	dst, err := filepath.Abs(target)
	if err != nil {
		return Job{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", target)
	}
	if src == dst {
		return Job{}, errors.New(errors.ErrCodeInvalidPath, "output %s would overwrite its source", target)
	}

	dir := filepath.Dir(dst)
	stem := strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))
	outputs := make([]string, len(stages))
	for i, st := range stages {
		if len(st.Strategies) == 0 {
			return Job{}, errors.New(errors.ErrCodeInvalidInput, "stage %s has no strategies", st.Name)
		}
		if i == len(stages)-1 {
			outputs[i] = dst
			continue
		}
		outputs[i] = filepath.Join(dir, stem+st.Ext)
		if outputs[i] == src {
			return Job{}, errors.New(errors.ErrCodeInvalidPath, "stage %s would overwrite source %s", st.Name, source)
		}
	}

	return Job{
		source:  src,
		target:  dst,
		stages:  slices.Clone(stages),
		outputs: outputs,
	}, nil
}

// Source returns the absolute source path.
func (j Job) Source() string { return j.source }

// Target returns the absolute path of the final output.
func (j Job) Target() string { return j.target }

// Stages returns a copy of the job's stages.
func (j Job) Stages() []Stage { return slices.Clone(j.stages) }

// Outputs returns the output path of every stage, in stage order.
func (j Job) Outputs() []string { return slices.Clone(j.outputs) }

// Attempt records one strategy invocation.
type Attempt struct {
	Stage    string
	Index    int // strategy index within the stage
	Strategy string
	Backend  string // resolved executable
	Args     []string
	ExitCode int
	Stderr   string
	Produced bool // expected output existed and was non-empty
	Duration time.Duration
	Err      error
}

// OK reports whether the attempt satisfied the success predicate.
func (a Attempt) OK() bool {
	return a.Err == nil && a.ExitCode == 0 && a.Produced
}

// StageResult records the outcome of one stage.
type StageResult struct {
	Name     string
	Output   string
	Status   Status
	Backend  string
	Attempts []Attempt
}

// Result is the outcome of one job. It owns its attempt history.
type Result struct {
	Source   string
	Target   string
	Status   Status
	Stages   []StageResult
	Err      error
	Duration time.Duration
}

// Attempts returns every attempt across all stages, in order.
func (r *Result) Attempts() []Attempt {
	var out []Attempt
	for _, s := range r.Stages {
		out = append(out, s.Attempts...)
	}
	return out
}

// Diagnostic returns the captured stderr of the last attempted strategy,
// or the error message when nothing was attempted.
func (r *Result) Diagnostic() string {
	attempts := r.Attempts()
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		if a.OK() {
			break
		}
		if s := strings.TrimSpace(a.Stderr); s != "" {
			return s
		}
		if a.Err != nil {
			return a.Err.Error()
		}
		if a.ExitCode != 0 {
			return "exit status " + strconv.Itoa(a.ExitCode)
		}
		return "no output produced"
	}
	if r.Err != nil {
		return errors.UserMessage(r.Err)
	}
	return ""
}
