// Package chains defines the built-in conversion chains: which tool role each
// stage needs and which command lines are tried, in order, for that role.
package chains

import (
	_ "embed"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/pdf"
	"github.com/matzehuels/convoy/pkg/raster"
	"github.com/matzehuels/convoy/pkg/tools"
)

// Built-in chain names.
const (
	Drawing  = "drawing"   // DXF -> SVG -> PNG
	SVGPNG   = "svg-png"   // SVG -> PNG with Inkscape
	SVGPDF   = "svg-pdf"   // SVG -> PDF with librsvg
	Render   = "render"    // SVG -> PNG rendered by Blender
	SheetPDF = "sheet-pdf" // spreadsheet/document -> PDF with LibreOffice
)

// Default render settings.
const (
	DefaultResolutionX = 3840
	DefaultResolutionY = 2160
)

// Render engines tried in order. BLENDER_EEVEE_NEXT exists from Blender 4.2.
var renderEngines = []string{"BLENDER_EEVEE_NEXT", "BLENDER_EEVEE", "CYCLES"}

//go:embed scripts/render_svg.py
var renderScript []byte

// Chain is a named stage sequence with the source extensions it accepts.
type Chain struct {
	Name        string
	Description string
	Sources     []string // lower-case extensions including the dot
	Stages      []convert.Stage
}

// Ext returns the extension of the chain's final output.
func (c Chain) Ext() string {
	return c.Stages[len(c.Stages)-1].Ext
}

// Accepts reports whether path has one of the chain's source extensions.
func (c Chain) Accepts(path string) bool {
	return slices.Contains(c.Sources, strings.ToLower(filepath.Ext(path)))
}

// Prefer moves the named strategy to the front of every stage that has it.
func (c Chain) Prefer(strategy string) Chain {
	if strategy == "" {
		return c
	}
	out := c
	out.Stages = make([]convert.Stage, len(c.Stages))
	for i, st := range c.Stages {
		out.Stages[i] = st.Prefer(strategy)
	}
	return out
}

// Roles returns the distinct tool roles the chain needs, in stage order.
func (c Chain) Roles() []tools.Role {
	var roles []tools.Role
	for _, st := range c.Stages {
		if !slices.Contains(roles, st.Role) {
			roles = append(roles, st.Role)
		}
	}
	return roles
}

// Options tune the built-in chains.
type Options struct {
	// BlenderScript is the render script passed to Blender. Empty uses the
	// bundled script, which must first be written out with WriteRenderScript.
	BlenderScript string
	ResolutionX   int
	ResolutionY   int
}

func (o Options) withDefaults() Options {
	if o.ResolutionX <= 0 {
		o.ResolutionX = DefaultResolutionX
	}
	if o.ResolutionY <= 0 {
		o.ResolutionY = DefaultResolutionY
	}
	return o
}

// Builtin returns every built-in chain keyed by name.
func Builtin(opts Options) map[string]Chain {
	opts = opts.withDefaults()
	return map[string]Chain{
		Drawing: {
			Name:        Drawing,
			Description: "DXF drawing to SVG with ezdxf, then PNG with librsvg",
			Sources:     []string{".dxf"},
			Stages:      []convert.Stage{dxfToSVG(), rsvg("svg-png", "png", ".png", raster.Check)},
		},
		SVGPNG: {
			Name:        SVGPNG,
			Description: "SVG to PNG with Inkscape",
			Sources:     []string{".svg"},
			Stages:      []convert.Stage{inkscapePNG()},
		},
		SVGPDF: {
			Name:        SVGPDF,
			Description: "SVG to PDF with librsvg",
			Sources:     []string{".svg"},
			Stages:      []convert.Stage{rsvg("svg-pdf", "pdf", ".pdf", pdf.Validate)},
		},
		Render: {
			Name:        Render,
			Description: "SVG drawing rendered top-down to PNG with Blender",
			Sources:     []string{".svg"},
			Stages:      []convert.Stage{blenderRender(opts)},
		},
		SheetPDF: {
			Name:        SheetPDF,
			Description: "Spreadsheet or document to PDF with LibreOffice",
			Sources:     []string{".ods", ".xlsx", ".xls", ".csv", ".odt", ".docx", ".doc"},
			Stages:      []convert.Stage{officePDF()},
		},
	}
}

// Names returns the built-in chain names, sorted.
func Names() []string {
	names := make([]string, 0, 5)
	for name := range Builtin(Options{}) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named built-in chain.
func Lookup(name string, opts Options) (Chain, error) {
	c, ok := Builtin(opts)[name]
	if !ok {
		return Chain{}, errors.New(errors.ErrCodeInvalidInput, "unknown chain %q (available: %s)",
			name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// ForSource picks the default chain for a source file by extension:
// .dxf uses drawing, .svg uses svg-png, office formats use sheet-pdf.
func ForSource(path string, opts Options) (Chain, bool) {
	all := Builtin(opts)
	for _, name := range []string{Drawing, SVGPNG, SheetPDF} {
		if c := all[name]; c.Accepts(path) {
			return c, true
		}
	}
	return Chain{}, false
}

// WriteRenderScript writes the bundled Blender script into dir and returns
// its path.
func WriteRenderScript(dir string) (string, error) {
	path := filepath.Join(dir, "render_svg.py")
	if err := os.WriteFile(path, renderScript, 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeFilesystem, err, "write render script")
	}
	return path, nil
}

func dxfToSVG() convert.Stage {
	return convert.Stage{
		Name: "dxf-svg",
		Role: tools.RoleDXFExport,
		Ext:  ".svg",
		Strategies: []convert.Strategy{
			{Name: "draw", Args: []string{"draw", "-o", "{output}", "{input}"}},
			{Name: "all-visible", Args: []string{"draw", "--all-layers-visible", "--all-entities-visible", "-o", "{output}", "{input}"}},
		},
	}
}

func inkscapePNG() convert.Stage {
	return convert.Stage{
		Name: "svg-png",
		Role: tools.RoleVectorRender,
		Ext:  ".png",
		Strategies: []convert.Strategy{
			{Name: "modern", Args: []string{"--export-type=png", "--export-filename={output}", "{input}"}},
			{Name: "legacy", Args: []string{"-z", "-e", "{output}", "{input}"}},
		},
		Check: raster.Check,
	}
}

func rsvg(name, format, ext string, check func(string) error) convert.Stage {
	return convert.Stage{
		Name: name,
		Role: tools.RoleSVGRaster,
		Ext:  ext,
		Strategies: []convert.Strategy{
			{Name: "file", Args: []string{"-f", format, "-o", "{output}", "{input}"}},
			{Name: "stdout", Args: []string{"-f", format, "{input}"}, Stdout: true},
		},
		Check: check,
	}
}

func blenderRender(opts Options) convert.Stage {
	rx, ry := strconv.Itoa(opts.ResolutionX), strconv.Itoa(opts.ResolutionY)
	st := convert.Stage{
		Name:   "render",
		Role:   tools.Role3DRender,
		Ext:    ".png",
		Script: opts.BlenderScript,
		Check:  raster.Check,
	}
	for _, engine := range renderEngines {
		st.Strategies = append(st.Strategies, convert.Strategy{
			Name: strings.ToLower(engine),
			Args: []string{"-b", "-E", engine, "--python", "{script}", "--", "{input}", "{output}", rx, ry},
		})
	}
	return st
}

func officePDF() convert.Stage {
	// A per-attempt user profile lets several soffice processes run at once.
	profile := "-env:UserInstallation={outdir_url}/profile"
	return convert.Stage{
		Name: "doc-pdf",
		Role: tools.RoleDocExport,
		Ext:  ".pdf",
		Strategies: []convert.Strategy{
			{
				Name:  "calc-pdf",
				Args:  []string{profile, "--headless", "--convert-to", "pdf:calc_pdf_Export", "--outdir", "{outdir}", "{input}"},
				Emits: "{outdir}/{stem}.pdf",
			},
			{
				Name:  "generic",
				Args:  []string{profile, "--headless", "--convert-to", "pdf", "--outdir", "{outdir}", "{input}"},
				Emits: "{outdir}/{stem}.pdf",
			},
		},
		Check: pdf.Validate,
	}
}
