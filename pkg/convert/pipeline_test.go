package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/proc"
	"github.com/matzehuels/convoy/pkg/tools"
)

// fakeBackend interprets the first argument of a command as a behavior.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) run(ctx context.Context, cmd proc.Command) (*proc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd.Args[0])
	f.mu.Unlock()

	ok := &proc.Result{}
	switch cmd.Args[0] {
	case "copy": // copy {input} {output} [suffix]
		data, err := os.ReadFile(cmd.Args[1])
		if err != nil {
			return &proc.Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
		if len(cmd.Args) > 3 {
			data = append(data, cmd.Args[3]...)
		}
		return ok, os.WriteFile(cmd.Args[2], data, 0o644)
	case "fail": // writes a partial file, then exits 1
		_ = os.WriteFile(cmd.Args[1], []byte("partial"), 0o644)
		return &proc.Result{ExitCode: 1, Stderr: "boom"}, nil
	case "empty":
		return ok, os.WriteFile(cmd.Args[1], nil, 0o644)
	case "timeout":
		_ = os.WriteFile(cmd.Args[1], []byte("partial"), 0o644)
		return &proc.Result{ExitCode: -1, TimedOut: true}, fmt.Errorf("fake: %w", proc.ErrTimeout)
	case "stdout":
		_, err := cmd.Stdout.Write([]byte("streamed"))
		return ok, err
	case "emit": // emit <path>
		return ok, os.WriteFile(cmd.Args[1], []byte("emitted"), 0o644)
	case "block":
		<-ctx.Done()
		return &proc.Result{ExitCode: -1}, fmt.Errorf("fake: %w", ctx.Err())
	}
	return nil, fmt.Errorf("unknown fake behavior %q", cmd.Args[0])
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPipeline(fb *fakeBackend) *Pipeline {
	r := tools.NewResolver(tools.WithLookPath(func(name string) (string, error) {
		return "/fake/bin/" + name, nil
	}))
	p := NewPipeline(r, log.New(io.Discard))
	p.run = fb.run
	return p
}

func strat(name string, args ...string) Strategy {
	return Strategy{Name: name, Args: args}
}

var copyStrategy = strat("copy", "copy", "{input}", "{output}")

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertNoWorkDirs(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".convoy-") {
			t.Errorf("work directory %s left behind", e.Name())
		}
	}
}

func mustJob(t *testing.T, src, dst string, stages ...Stage) Job {
	t.Helper()
	job, err := NewJob(src, dst, stages)
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	return job
}

func TestFallbackOrder(t *testing.T) {
	src := writeSource(t, t.TempDir(), "icon.svg", "svg")
	out := t.TempDir()
	dst := filepath.Join(out, "icon.png")

	stage := Stage{
		Name: "rasterize", Role: tools.RoleVectorRender, Ext: ".png",
		Strategies: []Strategy{strat("modern", "fail", "{output}"), copyStrategy},
	}
	res := newTestPipeline(&fakeBackend{}).Run(context.Background(), mustJob(t, src, dst, stage))

	if res.Status != StatusSucceeded {
		t.Fatalf("Status = %s, err = %v", res.Status, res.Err)
	}
	attempts := res.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].OK() || attempts[0].ExitCode != 1 || attempts[0].Stderr != "boom" {
		t.Errorf("first attempt = %+v, want failed with exit 1", attempts[0])
	}
	if !attempts[1].OK() || attempts[1].Strategy != "copy" {
		t.Errorf("second attempt = %+v, want successful copy", attempts[1])
	}
	if got, _ := os.ReadFile(dst); string(got) != "svg" {
		t.Errorf("output = %q, want %q", got, "svg")
	}
	assertNoWorkDirs(t, out)
}

func TestIdempotentRerun(t *testing.T) {
	src := writeSource(t, t.TempDir(), "plan.dxf", "dxf")
	out := t.TempDir()
	dst := filepath.Join(out, "plan.png")
	stages := []Stage{
		{Name: "dxf-svg", Role: tools.RoleDXFExport, Ext: ".svg", Strategies: []Strategy{strat("copy", "copy", "{input}", "{output}", "+svg")}},
		{Name: "svg-png", Role: tools.RoleSVGRaster, Ext: ".png", Strategies: []Strategy{strat("copy", "copy", "{input}", "{output}", "+png")}},
	}
	job := mustJob(t, src, dst, stages...)

	fb := &fakeBackend{}
	p := newTestPipeline(fb)
	first := p.Run(context.Background(), job)
	if first.Status != StatusSucceeded {
		t.Fatalf("first run Status = %s, err = %v", first.Status, first.Err)
	}
	before, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != "dxf+svg+png" {
		t.Errorf("output = %q, want %q", before, "dxf+svg+png")
	}
	calls := fb.count()

	second := p.Run(context.Background(), job)
	if second.Status != StatusSkipped {
		t.Fatalf("second run Status = %s, want skipped", second.Status)
	}
	for _, s := range second.Stages {
		if s.Status != StatusSkipped {
			t.Errorf("stage %s Status = %s, want skipped", s.Name, s.Status)
		}
	}
	if fb.count() != calls {
		t.Errorf("second run invoked the backend %d times", fb.count()-calls)
	}
	after, _ := os.ReadFile(dst)
	if !bytes.Equal(before, after) {
		t.Errorf("output changed on re-run: %q -> %q", before, after)
	}
}

func TestOverwriteReruns(t *testing.T) {
	src := writeSource(t, t.TempDir(), "a.svg", "new")
	out := t.TempDir()
	dst := writeSource(t, out, "a.png", "old")

	stage := Stage{Name: "rasterize", Role: tools.RoleSVGRaster, Ext: ".png", Strategies: []Strategy{copyStrategy}}
	p := newTestPipeline(&fakeBackend{})
	p.Overwrite = true
	res := p.Run(context.Background(), mustJob(t, src, dst, stage))
	if res.Status != StatusSucceeded {
		t.Fatalf("Status = %s, err = %v", res.Status, res.Err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "new" {
		t.Errorf("output = %q, want %q", got, "new")
	}
}

func TestTimeoutMovesToNextStrategy(t *testing.T) {
	src := writeSource(t, t.TempDir(), "scene.svg", "scene")
	out := t.TempDir()
	dst := filepath.Join(out, "scene.png")

	stage := Stage{
		Name: "render", Role: tools.Role3DRender, Ext: ".png",
		Strategies: []Strategy{strat("eevee-next", "timeout", "{output}"), copyStrategy},
	}
	res := newTestPipeline(&fakeBackend{}).Run(context.Background(), mustJob(t, src, dst, stage))
	if res.Status != StatusSucceeded {
		t.Fatalf("Status = %s, err = %v", res.Status, res.Err)
	}
	if a := res.Attempts()[0]; !errors.Is(a.Err, errors.ErrCodeTimeout) {
		t.Errorf("first attempt error = %v, want TIMEOUT", a.Err)
	}
	assertNoWorkDirs(t, out)
}

func TestExhaustedLeavesNoPartialOutput(t *testing.T) {
	src := writeSource(t, t.TempDir(), "plan.dxf", "dxf")
	out := t.TempDir()
	dst := filepath.Join(out, "plan.png")
	stages := []Stage{
		{Name: "dxf-svg", Role: tools.RoleDXFExport, Ext: ".svg", Strategies: []Strategy{
			strat("default", "fail", "{output}"),
			strat("all-visible", "empty", "{output}"),
		}},
		{Name: "svg-png", Role: tools.RoleSVGRaster, Ext: ".png", Strategies: []Strategy{copyStrategy}},
	}
	fb := &fakeBackend{}
	res := newTestPipeline(fb).Run(context.Background(), mustJob(t, src, dst, stages...))

	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, errors.ErrCodeStageExhausted) {
		t.Errorf("Err = %v, want STAGE_EXHAUSTED", res.Err)
	}
	if errors.ExitCode(res.Err) != errors.ExitStageExhausted {
		t.Errorf("ExitCode = %d, want %d", errors.ExitCode(res.Err), errors.ExitStageExhausted)
	}
	if len(res.Stages) != 1 {
		t.Errorf("got %d stage results, want downstream stage not run", len(res.Stages))
	}
	if fb.count() != 2 {
		t.Errorf("backend called %d times, want 2", fb.count())
	}
	if got := res.Diagnostic(); got != "no output produced" {
		t.Errorf("Diagnostic() = %q", got)
	}
	for _, p := range []string{dst, filepath.Join(out, "plan.svg")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s exists after failure", p)
		}
	}
	assertNoWorkDirs(t, out)
}

func TestToolNotFoundMakesNoAttempts(t *testing.T) {
	src := writeSource(t, t.TempDir(), "a.ods", "sheet")
	dst := filepath.Join(t.TempDir(), "a.pdf")

	fb := &fakeBackend{}
	p := newTestPipeline(fb)
	p.Resolver = tools.NewResolver(
		tools.WithCandidates(map[tools.Role]tools.Candidate{tools.RoleDocExport: {Commands: []string{"soffice"}}}),
		tools.WithLookPath(func(string) (string, error) { return "", os.ErrNotExist }),
	)
	stage := Stage{Name: "export", Role: tools.RoleDocExport, Ext: ".pdf", Strategies: []Strategy{copyStrategy}}
	res := p.Run(context.Background(), mustJob(t, src, dst, stage))

	if !errors.Is(res.Err, errors.ErrCodeToolNotFound) {
		t.Fatalf("Err = %v, want TOOL_NOT_FOUND", res.Err)
	}
	if n := len(res.Attempts()); n != 0 {
		t.Errorf("got %d attempts, want 0", n)
	}
	if fb.count() != 0 {
		t.Errorf("backend invoked %d times", fb.count())
	}
}

func TestStdoutAndEmittedOutputs(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "budget.ods", "sheet")
	out := t.TempDir()

	tests := []struct {
		name     string
		strategy Strategy
		want     string
	}{
		{"stdout", Strategy{Name: "stdout", Args: []string{"stdout"}, Stdout: true}, "streamed"},
		{"emits", Strategy{Name: "emit", Args: []string{"emit", "{outdir}/{stem}.pdf"}, Emits: "{outdir}/{stem}.pdf"}, "emitted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := filepath.Join(out, tt.name+".pdf")
			stage := Stage{Name: "export", Role: tools.RoleDocExport, Ext: ".pdf", Strategies: []Strategy{tt.strategy}}
			res := newTestPipeline(&fakeBackend{}).Run(context.Background(), mustJob(t, src, dst, stage))
			if res.Status != StatusSucceeded {
				t.Fatalf("Status = %s, err = %v", res.Status, res.Err)
			}
			if got, _ := os.ReadFile(dst); string(got) != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
	assertNoWorkDirs(t, out)
}

func TestCheckFailureFallsThrough(t *testing.T) {
	src := writeSource(t, t.TempDir(), "a.svg", "svg")
	dst := filepath.Join(t.TempDir(), "a.pdf")

	stage := Stage{
		Name: "pdf", Role: tools.RoleSVGRaster, Ext: ".pdf",
		Strategies: []Strategy{
			strat("bad", "copy", "{input}", "{output}", "!corrupt"),
			copyStrategy,
		},
		Check: func(path string) error {
			data, _ := os.ReadFile(path)
			if strings.HasSuffix(string(data), "!corrupt") {
				return fmt.Errorf("corrupt output")
			}
			return nil
		},
	}
	res := newTestPipeline(&fakeBackend{}).Run(context.Background(), mustJob(t, src, dst, stage))
	if res.Status != StatusSucceeded {
		t.Fatalf("Status = %s, err = %v", res.Status, res.Err)
	}
	first := res.Attempts()[0]
	if !errors.Is(first.Err, errors.ErrCodeValidationFailed) {
		t.Errorf("first attempt error = %v, want VALIDATION_FAILED", first.Err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "svg" {
		t.Errorf("output = %q", got)
	}
}

func TestCancellation(t *testing.T) {
	src := writeSource(t, t.TempDir(), "a.svg", "svg")
	out := t.TempDir()
	dst := filepath.Join(out, "a.png")

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		stage := Stage{Name: "rasterize", Role: tools.RoleSVGRaster, Ext: ".png", Strategies: []Strategy{copyStrategy}}
		res := newTestPipeline(&fakeBackend{}).Run(ctx, mustJob(t, src, dst, stage))
		if res.Status != StatusCancelled {
			t.Errorf("Status = %s, want cancelled", res.Status)
		}
		if errors.ExitCode(res.Err) != errors.ExitInterrupted {
			t.Errorf("ExitCode = %d, want %d", errors.ExitCode(res.Err), errors.ExitInterrupted)
		}
	})

	t.Run("during attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fb := &fakeBackend{}
		stage := Stage{Name: "rasterize", Role: tools.RoleSVGRaster, Ext: ".png", Strategies: []Strategy{
			strat("block", "block"),
			copyStrategy,
		}}
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		res := newTestPipeline(fb).Run(ctx, mustJob(t, src, dst, stage))
		if res.Status != StatusCancelled {
			t.Errorf("Status = %s, want cancelled", res.Status)
		}
		if fb.count() != 1 {
			t.Errorf("backend called %d times, want no strategy after cancellation", fb.count())
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Errorf("output exists after cancellation")
		}
		assertNoWorkDirs(t, out)
	})
}

func TestNewJob(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plan.dxf")
	stages := []Stage{
		{Name: "a", Ext: ".svg", Strategies: []Strategy{copyStrategy}},
		{Name: "b", Ext: ".png", Strategies: []Strategy{copyStrategy}},
	}

	job, err := NewJob(src, filepath.Join(dir, "out", "plan.png"), stages)
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	want := []string{filepath.Join(dir, "out", "plan.svg"), filepath.Join(dir, "out", "plan.png")}
	got := job.Outputs()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Outputs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	stages[0].Name = "mutated"
	if job.Stages()[0].Name != "a" {
		t.Error("job shares its stage slice with the caller")
	}

	tests := []struct {
		name   string
		src    string
		dst    string
		stages []Stage
	}{
		{"no stages", src, filepath.Join(dir, "x.png"), nil},
		{"same path", src, src, stages},
		{"intermediate overwrites source", filepath.Join(dir, "plan.svg"), filepath.Join(dir, "plan.png"), stages},
		{"stage without strategies", src, filepath.Join(dir, "x.png"), []Stage{{Name: "empty"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewJob(tt.src, tt.dst, tt.stages); err == nil {
				t.Error("NewJob() error = nil")
			}
		})
	}
}

func TestPrefer(t *testing.T) {
	st := Stage{Strategies: []Strategy{{Name: "modern"}, {Name: "legacy"}, {Name: "other"}}}

	got := st.Prefer("legacy").StrategyNames()
	want := []string{"legacy", "modern", "other"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Prefer(legacy) = %v, want %v", got, want)
	}
	if strings.Join(st.StrategyNames(), ",") != "modern,legacy,other" {
		t.Error("Prefer modified the receiver")
	}
	if strings.Join(st.Prefer("nope").StrategyNames(), ",") != "modern,legacy,other" {
		t.Error("Prefer(unknown) changed the order")
	}
}

func TestExpandPlaceholders(t *testing.T) {
	s := Strategy{
		Args:  []string{"--python", "{script}", "--", "{input}", "{output}", "{outdir}", "{stem}", "-env:P={outdir_url}/profile"},
		Emits: "{outdir}/{stem}.pdf",
	}
	args, emits := s.expand(vars{input: "/src/scene.blend", output: "/out/tmp/scene.png", script: "/s/render.py"})
	want := []string{"--python", "/s/render.py", "--", "/src/scene.blend", "/out/tmp/scene.png", "/out/tmp", "scene", "-env:P=file:///out/tmp/profile"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", args, want)
	}
	if emits != "/out/tmp/scene.pdf" {
		t.Errorf("emits = %q", emits)
	}
}

func TestFileURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/out/tmp", "file:///out/tmp"},
		{"/out/my drawings", "file:///out/my%20drawings"},
		{"C:/Users/ana/out", "file:///C:/Users/ana/out"},
	}
	for _, tt := range tests {
		if got := fileURL(tt.path); got != tt.want {
			t.Errorf("fileURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
