// Package tools resolves which external backend executable is usable on the
// running machine for a given tool role.
//
// A [Role] names a capability ("vector-render", "3d-render", "doc-export").
// Every role has a [Candidate]: the canonical command names looked up on the
// process search path, followed by well-known installation directories checked
// in listed order. Resolution is a pure lookup: the first match wins, there is
// no scoring, and a miss is reported as a TOOL_NOT_FOUND error for that role.
//
// A [Resolver] caches results (hits and misses) for its lifetime, so one batch
// run resolves each role once. A new process resolves again.
package tools

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matzehuels/convoy/pkg/errors"
)

// Role identifies a capability a conversion stage needs.
type Role string

// Built-in roles.
const (
	RoleVectorRender Role = "vector-render" // SVG -> PNG/PDF via Inkscape
	RoleSVGRaster    Role = "svg-raster"    // SVG -> PNG/PDF via librsvg
	RoleDXFExport    Role = "dxf-export"    // DXF -> SVG via the ezdxf CLI
	Role3DRender     Role = "3d-render"     // scene/SVG -> PNG via Blender
	RoleDocExport    Role = "doc-export"    // spreadsheet/document -> PDF via LibreOffice
)

// Candidate lists where a role's executable may be found.
type Candidate struct {
	// Commands are canonical command names, tried in order on the search path
	// and inside each of Dirs.
	Commands []string
	// Dirs are well-known installation directories checked after the search path.
	Dirs []string
}

// DefaultCandidates returns the built-in candidate table.
// The returned map is a fresh copy and may be modified by the caller.
func DefaultCandidates() map[Role]Candidate {
	return map[Role]Candidate{
		RoleVectorRender: {
			Commands: []string{"inkscape"},
			Dirs: []string{
				"/usr/bin",
				"/usr/local/bin",
				"/opt/homebrew/bin",
				"/snap/bin",
				"/Applications/Inkscape.app/Contents/MacOS",
				`C:\Program Files\Inkscape\bin`,
			},
		},
		RoleSVGRaster: {
			Commands: []string{"rsvg-convert"},
			Dirs: []string{
				"/usr/bin",
				"/usr/local/bin",
				"/opt/homebrew/bin",
			},
		},
		RoleDXFExport: {
			Commands: []string{"ezdxf"},
			Dirs: []string{
				"/usr/local/bin",
				"/opt/homebrew/bin",
				filepath.Join(homeDir(), ".local", "bin"),
			},
		},
		Role3DRender: {
			Commands: []string{"blender"},
			Dirs: []string{
				"/usr/bin",
				"/usr/local/bin",
				"/snap/bin",
				"/Applications/Blender.app/Contents/MacOS",
				`C:\Program Files\Blender Foundation\Blender 4.2`,
				`C:\Program Files\Blender Foundation\Blender 3.6`,
			},
		},
		RoleDocExport: {
			Commands: []string{"soffice", "libreoffice"},
			Dirs: []string{
				"/usr/bin",
				"/usr/local/bin",
				"/opt/libreoffice/program",
				"/Applications/LibreOffice.app/Contents/MacOS",
				`C:\Program Files\LibreOffice\program`,
			},
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// Method records how an executable was found.
type Method string

const (
	MethodHint   Method = "hint"
	MethodPath   Method = "path"
	MethodKnown  Method = "known-dir"
	MethodNotSet Method = ""
)

// Resolution is the result of resolving one role.
type Resolution struct {
	Role   Role
	Path   string
	Method Method
	Err    error
}

// Resolver resolves roles to executables and caches the results.
// It is safe for concurrent use.
type Resolver struct {
	candidates map[Role]Candidate
	hints      map[Role]string

	// LookPath and Stat are the resolver's only contact with the system.
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)

	mu    sync.Mutex
	cache map[cacheKey]Resolution
}

type cacheKey struct {
	role Role
	hint string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCandidates replaces the candidate table.
func WithCandidates(c map[Role]Candidate) Option {
	return func(r *Resolver) { r.candidates = c }
}

// WithHint sets an explicit executable path for a role, tried before anything else.
func WithHint(role Role, path string) Option {
	return func(r *Resolver) {
		if path != "" {
			r.hints[role] = path
		}
	}
}

// WithExtraDirs appends installation directories to a role's candidate.
func WithExtraDirs(role Role, dirs ...string) Option {
	return func(r *Resolver) {
		c := r.candidates[role]
		c.Dirs = append(slices.Clone(c.Dirs), dirs...)
		r.candidates[role] = c
	}
}

// WithLookPath overrides the search-path lookup (exec.LookPath by default).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Resolver) { r.lookPath = fn }
}

// WithStat overrides the file probe (os.Stat by default).
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(r *Resolver) { r.stat = fn }
}

// NewResolver creates a resolver over DefaultCandidates, modified by opts.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		candidates: DefaultCandidates(),
		hints:      make(map[Role]string),
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		cache:      make(map[cacheKey]Resolution),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first usable executable for role.
// The explicit hint, if non-empty, takes precedence over a hint configured with
// WithHint. Returns a TOOL_NOT_FOUND error when no candidate exists.
func (r *Resolver) Resolve(role Role, hint string) (string, error) {
	res := r.resolve(role, hint)
	return res.Path, res.Err
}

// Lookup is like Resolve but returns the full Resolution.
func (r *Resolver) Lookup(role Role, hint string) Resolution {
	return r.resolve(role, hint)
}

func (r *Resolver) resolve(role Role, hint string) Resolution {
	if hint == "" {
		hint = r.hints[role]
	}
	key := cacheKey{role: role, hint: hint}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.cache[key]; ok {
		return res
	}
	res := r.find(role, hint)
	r.cache[key] = res
	return res
}

func (r *Resolver) find(role Role, hint string) Resolution {
	if hint != "" && r.isExecutable(hint) {
		return Resolution{Role: role, Path: hint, Method: MethodHint}
	}

	cand, ok := r.candidates[role]
	if !ok {
		return Resolution{Role: role, Err: errors.New(errors.ErrCodeToolNotFound, "unknown tool role %q", role)}
	}

	for _, name := range cand.Commands {
		if p, err := r.lookPath(name); err == nil && p != "" {
			return Resolution{Role: role, Path: p, Method: MethodPath}
		}
	}

	for _, dir := range cand.Dirs {
		if dir == "" {
			continue
		}
		for _, name := range cand.Commands {
			for _, file := range executableNames(name) {
				p := filepath.Join(dir, file)
				if r.isExecutable(p) {
					return Resolution{Role: role, Path: p, Method: MethodKnown}
				}
			}
		}
	}

	msg := "no executable for role %s (tried %s)"
	if hint != "" {
		return Resolution{Role: role, Err: errors.New(errors.ErrCodeToolNotFound, msg+"; hint %s is not executable",
			role, strings.Join(cand.Commands, ", "), hint)}
	}
	return Resolution{Role: role, Err: errors.New(errors.ErrCodeToolNotFound, msg, role, strings.Join(cand.Commands, ", "))}
}

func (r *Resolver) isExecutable(path string) bool {
	info, err := r.stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func executableNames(name string) []string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return []string{name + ".exe", name + ".com", name}
	}
	return []string{name}
}

// Roles returns every role in the candidate table, sorted by name.
func (r *Resolver) Roles() []Role {
	roles := make([]Role, 0, len(r.candidates))
	for role := range r.candidates {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Describe resolves every known role and returns the results sorted by role.
func (r *Resolver) Describe() []Resolution {
	roles := r.Roles()
	out := make([]Resolution, 0, len(roles))
	for _, role := range roles {
		out = append(out, r.resolve(role, ""))
	}
	return out
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	role := Role(strings.TrimSpace(s))
	if _, ok := DefaultCandidates()[role]; !ok {
		return "", errors.New(errors.ErrCodeInvalidInput, "unknown tool role %q", s)
	}
	return role, nil
}
