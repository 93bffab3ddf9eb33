package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/config"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func targets(t *testing.T, plan jobPlan) []string {
	t.Helper()
	out := make([]string, len(plan.Jobs))
	for i, j := range plan.Jobs {
		out[i] = j.Target()
	}
	return out
}

func TestPlanJobsFile(t *testing.T) {
	dir := t.TempDir()
	src := touch(t, filepath.Join(dir, "plan.svg"))
	out := filepath.Join(dir, "out")
	outAbs, _ := filepath.Abs(out)

	tests := []struct {
		name   string
		req    jobRequest
		target string
	}{
		{"directory output", jobRequest{Input: src, Output: out}, filepath.Join(outAbs, "plan.png")},
		{"file output", jobRequest{Input: src, Output: filepath.Join(out, "cover.png")}, filepath.Join(outAbs, "cover.png")},
		{"named chain", jobRequest{Input: src, Output: out, Chain: chains.SVGPDF}, filepath.Join(outAbs, "plan.pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := planJobs(tt.req)
			if err != nil {
				t.Fatalf("planJobs() error = %v", err)
			}
			if got := targets(t, plan); len(got) != 1 || got[0] != tt.target {
				t.Errorf("targets = %v, want [%s]", got, tt.target)
			}
		})
	}
}

func TestPlanJobsRejects(t *testing.T) {
	dir := t.TempDir()
	svg := touch(t, filepath.Join(dir, "plan.svg"))
	txt := touch(t, filepath.Join(dir, "notes.txt"))

	tests := []struct {
		name string
		req  jobRequest
	}{
		{"missing flags", jobRequest{Input: svg}},
		{"missing input", jobRequest{Input: filepath.Join(dir, "nope.svg"), Output: dir}},
		{"no chain for extension", jobRequest{Input: txt, Output: dir}},
		{"chain does not accept", jobRequest{Input: svg, Output: dir, Chain: chains.SheetPDF}},
		{"unknown chain", jobRequest{Input: svg, Output: dir, Chain: "teleport"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planJobs(tt.req)
			if errors.ExitCode(err) != errors.ExitInvalidArguments {
				t.Errorf("planJobs() error = %v, want exit status %d", err, errors.ExitInvalidArguments)
			}
		})
	}
}

func TestPlanJobsDirectory(t *testing.T) {
	in := t.TempDir()
	touch(t, filepath.Join(in, "site.dxf"))
	touch(t, filepath.Join(in, "sub", "elevation.svg"))
	touch(t, filepath.Join(in, "budget.ods"))
	touch(t, filepath.Join(in, "readme.txt"))
	// Outputs of an earlier run inside the input tree are not sources.
	out := filepath.Join(in, "out")
	touch(t, filepath.Join(out, "old.svg"))

	plan, err := planJobs(jobRequest{Input: in, Output: out})
	if err != nil {
		t.Fatalf("planJobs() error = %v", err)
	}
	outAbs, _ := filepath.Abs(out)
	want := []string{
		filepath.Join(outAbs, "budget.pdf"),
		filepath.Join(outAbs, "site.png"),
		filepath.Join(outAbs, "sub", "elevation.png"),
	}
	got := targets(t, plan)
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("target[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if plan.Root != out {
		t.Errorf("Root = %s, want %s", plan.Root, out)
	}
	if got := strings.Join(plan.Patterns(), ","); got != "*.pdf,*.png" {
		t.Errorf("Patterns() = %s, want *.pdf,*.png", got)
	}
	if len(plan.Chains) != 3 {
		t.Errorf("chains = %d, want 3", len(plan.Chains))
	}
	roles := plan.Roles()
	for _, r := range []tools.Role{tools.RoleDXFExport, tools.RoleSVGRaster, tools.RoleVectorRender, tools.RoleDocExport} {
		found := false
		for _, have := range roles {
			found = found || have == r
		}
		if !found {
			t.Errorf("Roles() = %v, missing %s", roles, r)
		}
	}
}

func TestPlanJobsDuplicateTargets(t *testing.T) {
	in := t.TempDir()
	touch(t, filepath.Join(in, "plan.svg"))
	touch(t, filepath.Join(in, "plan.dxf"))

	_, err := planJobs(jobRequest{Input: in, Output: t.TempDir()})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("planJobs() error = %v, want INVALID_INPUT", err)
	}
}

func TestPlanJobsPrefer(t *testing.T) {
	dir := t.TempDir()
	src := touch(t, filepath.Join(dir, "plan.svg"))
	plan, err := planJobs(jobRequest{Input: src, Output: dir, Prefer: "legacy"})
	if err != nil {
		t.Fatal(err)
	}
	names := plan.Jobs[0].Stages()[0].StrategyNames()
	if names[0] != "legacy" {
		t.Errorf("strategies = %v, want legacy first", names)
	}
}

func TestPlanExport(t *testing.T) {
	src := t.TempDir()
	touch(t, filepath.Join(src, "Facility_Budget.xlsx"))
	touch(t, filepath.Join(src, "equipment.ods"))
	touch(t, filepath.Join(src, "~$equipment.xlsx"))
	touch(t, filepath.Join(src, "drawing.svg"))
	target := t.TempDir()

	mapping := config.Export{Mapping: []config.Mapping{{Pattern: "*budget*", Output: "Cost_Estimate.pdf"}}}
	plan, err := planExport(src, target, mapping, "")
	if err != nil {
		t.Fatalf("planExport() error = %v", err)
	}
	targetAbs, _ := filepath.Abs(target)
	got := targets(t, plan)
	want := []string{filepath.Join(targetAbs, "Cost_Estimate.pdf"), filepath.Join(targetAbs, "equipment.pdf")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("targets = %v, want %v", got, want)
	}

	// Two sources mapped to one document name.
	touch(t, filepath.Join(src, "budget_old.ods"))
	if _, err := planExport(src, target, mapping, ""); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("planExport() error = %v, want INVALID_INPUT", err)
	}

	if _, err := planExport(filepath.Join(src, "missing"), target, mapping, ""); err == nil {
		t.Error("planExport(missing source) error = nil")
	}
}

func TestParseToolPaths(t *testing.T) {
	single := []tools.Role{tools.RoleVectorRender}
	multi := []tools.Role{tools.RoleDXFExport, tools.RoleSVGRaster}

	tests := []struct {
		name    string
		values  []string
		roles   []tools.Role
		want    map[tools.Role]string
		wantErr bool
	}{
		{"bare path, single role", []string{"/opt/inkscape"}, single, map[tools.Role]string{tools.RoleVectorRender: "/opt/inkscape"}, false},
		{"bare path, many roles", []string{"/opt/tool"}, multi, nil, true},
		{"role=path", []string{"dxf-export=/usr/bin/ezdxf", "svg-raster=/usr/bin/rsvg-convert"}, multi,
			map[tools.Role]string{tools.RoleDXFExport: "/usr/bin/ezdxf", tools.RoleSVGRaster: "/usr/bin/rsvg-convert"}, false},
		{"unknown role", []string{"photoshop=/x"}, multi, nil, true},
		{"empty path", []string{"svg-raster="}, multi, nil, true},
		{"none", nil, multi, map[tools.Role]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseToolPaths(tt.values, tt.roles)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseToolPaths() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseToolPaths() = %v, want %v", got, tt.want)
			}
			for role, path := range tt.want {
				if got[role] != path {
					t.Errorf("hint[%s] = %q, want %q", role, got[role], path)
				}
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.pdf, ,b/*.png,")
	if len(got) != 2 || got[0] != "a.pdf" || got[1] != "b/*.png" {
		t.Errorf("splitList() = %q", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}
