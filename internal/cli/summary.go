package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/driver"
	"github.com/matzehuels/convoy/pkg/errors"
)

// maxDiagnosticLines bounds the stderr tail printed per failed job.
const maxDiagnosticLines = 8

// printResult prints one status line as a job finishes.
func printResult(res *convert.Result) {
	name := filepath.Base(res.Source)
	switch res.Status {
	case convert.StatusSucceeded:
		printSuccess("%s %s %s", name, StyleDim.Render(iconArrow), res.Target)
	case convert.StatusSkipped:
		printInfo("%s %s", name, StyleDim.Render("skipped, output exists"))
	case convert.StatusCancelled:
		printWarning("%s cancelled", name)
	default:
		printError("%s: %s", name, errors.UserMessage(res.Err))
	}
}

// printReport prints the batch summary table followed by the diagnostic of
// every failed job.
func printReport(r *driver.Report) {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		rows = append(rows, []string{
			filepath.Base(res.Source),
			string(res.Status),
			lastStrategy(res),
			fmt.Sprint(len(res.Attempts())),
			res.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Println(renderTable([]string{"Source", "Status", "Strategy", "Attempts", "Time"}, rows, 1))

	fmt.Printf("%s succeeded  %s skipped  %s failed",
		StyleSuccess.Render(fmt.Sprint(r.Succeeded)),
		StyleWarning.Render(fmt.Sprint(r.Skipped)),
		StyleError.Render(fmt.Sprint(r.Failed)))
	if r.Cancelled > 0 {
		fmt.Printf("  %s cancelled", StyleError.Render(fmt.Sprint(r.Cancelled)))
	}
	fmt.Println()

	for _, res := range r.Failures() {
		printNewline()
		printError("%s", res.Source)
		if s := lastStrategy(res); s != "-" {
			printKeyValue("strategy", s)
		}
		printKeyValue("error", string(errors.GetCode(res.Err)))
		for _, line := range tail(res.Diagnostic(), maxDiagnosticLines) {
			printDetail("%s", line)
		}
	}
}

// lastStrategy names the stage and strategy of the job's final attempt.
func lastStrategy(res *convert.Result) string {
	attempts := res.Attempts()
	if len(attempts) == 0 {
		return "-"
	}
	a := attempts[len(attempts)-1]
	return a.Stage + "/" + a.Strategy
}

func tail(s string, n int) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// writeReport writes the JSON batch report to path.
func writeReport(path string, r *driver.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "create report %s", path)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return errors.Wrap(errors.ErrCodeFilesystem, err, "write report %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeFilesystem, err, "write report %s", path)
	}
	return nil
}

// batchFailure is returned when a batch finished but some jobs did not
// succeed. Its exit status follows the report.
type batchFailure struct {
	report *driver.Report
}

func (e *batchFailure) Error() string {
	return fmt.Sprintf("%d of %d jobs failed", e.report.Failed+e.report.Cancelled, len(e.report.Results))
}

// ExitCode implements errors.ExitCoder.
func (e *batchFailure) ExitCode() int {
	return e.report.ExitCode()
}

// reportError returns nil when every job succeeded or was skipped.
func reportError(r *driver.Report) error {
	if r.ExitCode() == errors.ExitOK {
		return nil
	}
	return &batchFailure{report: r}
}
