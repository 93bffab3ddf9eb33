package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// newLogger returns the logger every command and pipeline writes through.
// Timestamps are "HH:MM:SS.ms" so attempts of one batch can be told apart,
// and the stage/strategy keys are colored to stand out in a failing batch.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
	l.SetStyles(logStyles())
	return l
}

func logStyles() *log.Styles {
	s := log.DefaultStyles()
	for _, key := range []string{"stage", "strategy", "run"} {
		s.Keys[key] = lipgloss.NewStyle().Foreground(colorCyan)
	}
	s.Keys["err"] = lipgloss.NewStyle().Foreground(colorRed)
	s.Values["err"] = lipgloss.NewStyle().Foreground(colorRed)
	s.Keys["exit"] = lipgloss.NewStyle().Foreground(colorYellow)
	return s
}

// progress times a batch.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg with the elapsed time and any extra key/value pairs, e.g.
// "Batch finished jobs=4 run=… took=1.234s".
func (p *progress) done(msg string, keyvals ...any) {
	keyvals = append(keyvals, "took", time.Since(p.start).Round(time.Millisecond))
	p.logger.Info(msg, keyvals...)
}
