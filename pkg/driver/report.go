package driver

import (
	"encoding/json"
	"io"
	"time"

	"github.com/matzehuels/convoy/pkg/archive"
	"github.com/matzehuels/convoy/pkg/collect"
	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/errors"
)

// Report aggregates the outcome of one batch run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []*convert.Result

	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int

	// Bundle is set when a collect/archive step ran.
	Bundle *BundleResult

	// Err is the batch-level error, if any.
	Err error
}

func (r *Report) add(results []*convert.Result) {
	r.Results = append(r.Results, results...)
	for _, res := range results {
		switch res.Status {
		case convert.StatusSucceeded:
			r.Succeeded++
		case convert.StatusSkipped:
			r.Skipped++
		case convert.StatusCancelled:
			r.Cancelled++
		default:
			r.Failed++
		}
		if r.Err == nil && errors.IsBatchFatal(res.Err) {
			r.Err = res.Err
		}
	}
}

// Failures returns the results of failed jobs, in job order.
func (r *Report) Failures() []*convert.Result {
	var out []*convert.Result
	for _, res := range r.Results {
		if res.Status == convert.StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode maps the report to a process exit status: the batch error's code
// if there is one, 130 when interrupted, 2 when any backend was missing, 3
// when any stage ran out of strategies, 1 for any other failure, else 0.
func (r *Report) ExitCode() int {
	if r.Err != nil {
		return errors.ExitCode(r.Err)
	}
	if r.Cancelled > 0 {
		return errors.ExitInterrupted
	}
	code := errors.ExitOK
	for _, res := range r.Failures() {
		switch errors.GetCode(res.Err) {
		case errors.ErrCodeToolNotFound:
			return errors.ExitToolNotFound
		case errors.ErrCodeStageExhausted:
			code = errors.ExitStageExhausted
		default:
			if code == errors.ExitOK {
				code = errors.ExitFailure
			}
		}
	}
	return code
}

// BundleResult records a collect and optional archive step.
type BundleResult struct {
	Collected *collect.Result
	Archive   *archive.Manifest // nil when no archive was written

	// Existing names an archive left untouched because nothing new was
	// collected.
	Existing string
}

type jsonReport struct {
	RunID      string       `json:"run_id"`
	Started    time.Time    `json:"started"`
	DurationMS int64        `json:"duration_ms"`
	ExitCode   int          `json:"exit_code"`
	Summary    jsonSummary  `json:"summary"`
	Jobs       []jsonJob    `json:"jobs"`
	Bundle     *jsonBundle  `json:"bundle,omitempty"`
	Error      *jsonProblem `json:"error,omitempty"`
}

type jsonSummary struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type jsonProblem struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type jsonJob struct {
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Status     string       `json:"status"`
	DurationMS int64        `json:"duration_ms"`
	Error      *jsonProblem `json:"error,omitempty"`
	Diagnostic string       `json:"diagnostic,omitempty"`
	Stages     []jsonStage  `json:"stages,omitempty"`
}

type jsonStage struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Output   string        `json:"output"`
	Backend  string        `json:"backend,omitempty"`
	Attempts []jsonAttempt `json:"attempts,omitempty"`
}

type jsonAttempt struct {
	Strategy   string       `json:"strategy"`
	ExitCode   int          `json:"exit_code"`
	Produced   bool         `json:"produced"`
	DurationMS int64        `json:"duration_ms"`
	Error      *jsonProblem `json:"error,omitempty"`
}

type jsonBundle struct {
	Copied  []string `json:"copied"`
	Skipped []string `json:"skipped"`
	Archive string   `json:"archive,omitempty"`
	Members []string `json:"members,omitempty"`
	Kept    string   `json:"archive_unchanged,omitempty"`
}

func problem(err error) *jsonProblem {
	if err == nil {
		return nil
	}
	return &jsonProblem{Code: string(errors.GetCode(err)), Message: err.Error()}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out := jsonReport{
		RunID:      r.RunID,
		Started:    r.Started,
		DurationMS: r.Duration.Milliseconds(),
		ExitCode:   r.ExitCode(),
		Summary:    jsonSummary{r.Succeeded, r.Skipped, r.Failed, r.Cancelled},
		Jobs:       make([]jsonJob, 0, len(r.Results)),
		Error:      problem(r.Err),
	}
	for _, res := range r.Results {
		job := jsonJob{
			Source:     res.Source,
			Target:     res.Target,
			Status:     string(res.Status),
			DurationMS: res.Duration.Milliseconds(),
			Error:      problem(res.Err),
		}
		if res.Status == convert.StatusFailed {
			job.Diagnostic = res.Diagnostic()
		}
		for _, st := range res.Stages {
			js := jsonStage{Name: st.Name, Status: string(st.Status), Output: st.Output, Backend: st.Backend}
			for _, a := range st.Attempts {
				js.Attempts = append(js.Attempts, jsonAttempt{
					Strategy:   a.Strategy,
					ExitCode:   a.ExitCode,
					Produced:   a.Produced,
					DurationMS: a.Duration.Milliseconds(),
					Error:      problem(a.Err),
				})
			}
			job.Stages = append(job.Stages, js)
		}
		out.Jobs = append(out.Jobs, job)
	}
	if b := r.Bundle; b != nil && b.Collected != nil {
		jb := &jsonBundle{Copied: []string{}, Skipped: []string{}}
		for _, rec := range b.Collected.Copied {
			jb.Copied = append(jb.Copied, rec.Rel)
		}
		for _, rec := range b.Collected.Skipped {
			jb.Skipped = append(jb.Skipped, rec.Rel)
		}
		if b.Archive != nil {
			jb.Archive = b.Archive.Destination
			jb.Members = b.Archive.Members
		}
		jb.Kept = b.Existing
		out.Bundle = jb
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
