package convert

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/matzehuels/convoy/pkg/tools"
)

// Strategy is one concrete way to execute a stage: a single backend invocation
// template. Strategies within a stage are alternatives tried in order.
//
// Args may contain placeholders that are expanded per attempt:
//
//	{input}   the stage input file
//	{output}  the file the tool must write
//	{outdir}  the directory holding {output}
//	{outdir_url}  {outdir} as a file:// URL
//	{stem}    base name of {input} without extension
//	{script}  the helper script configured on the stage (Blender)
type Strategy struct {
	Name string
	Args []string

	// Stdout means the tool writes the artifact to standard output instead of
	// to {output}; the pipeline streams stdout into the output file.
	Stdout bool

	// Emits names the file the tool writes when it picks its own output name
	// (soffice --convert-to writes {outdir}/{stem}.pdf). It is expanded like
	// Args and moved onto the stage target after a successful run.
	Emits string

	// Env is appended to the parent environment of the child process.
	Env []string
}

// Stage is one step of a conversion chain. Each stage references exactly one
// tool role and writes one output file whose extension is Ext.
type Stage struct {
	Name       string
	Role       tools.Role
	Ext        string // output extension including the dot, e.g. ".png"
	Script     string // optional helper script passed as {script}
	Strategies []Strategy

	// Check optionally validates the produced file beyond the non-empty test
	// (for example that a PDF parses). A failing check fails the attempt.
	Check func(path string) error
}

// Prefer returns a copy of the stage with the named strategy moved to the
// front. Unknown names leave the order unchanged.
func (s Stage) Prefer(name string) Stage {
	idx := slices.IndexFunc(s.Strategies, func(st Strategy) bool { return st.Name == name })
	if idx <= 0 {
		return s
	}
	out := s
	out.Strategies = make([]Strategy, 0, len(s.Strategies))
	out.Strategies = append(out.Strategies, s.Strategies[idx])
	out.Strategies = append(out.Strategies, s.Strategies[:idx]...)
	out.Strategies = append(out.Strategies, s.Strategies[idx+1:]...)
	return out
}

// StrategyNames returns the strategy names in attempt order.
func (s Stage) StrategyNames() []string {
	names := make([]string, len(s.Strategies))
	for i, st := range s.Strategies {
		names[i] = st.Name
	}
	return names
}

// vars holds placeholder values for one attempt.
type vars struct {
	input  string
	output string
	script string
}

func (v vars) replacer() *strings.Replacer {
	stem := strings.TrimSuffix(filepath.Base(v.input), filepath.Ext(v.input))
	return strings.NewReplacer(
		"{input}", v.input,
		"{output}", v.output,
		"{outdir}", filepath.Dir(v.output),
		"{outdir_url}", fileURL(filepath.Dir(v.output)),
		"{stem}", stem,
		"{script}", v.script,
	)
}

// fileURL turns an absolute path into a file URL. Windows drive paths get
// the leading slash a URL path needs (file:///C:/...).
func fileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// expand returns the argument list and emitted path for an attempt.
func (st Strategy) expand(v vars) (args []string, emits string) {
	r := v.replacer()
	args = make([]string, len(st.Args))
	for i, a := range st.Args {
		args[i] = r.Replace(a)
	}
	if st.Emits != "" {
		emits = r.Replace(st.Emits)
	}
	return args, emits
}
