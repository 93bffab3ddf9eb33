package cli

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/convert"
	"github.com/matzehuels/convoy/pkg/errors"
	"github.com/matzehuels/convoy/pkg/tools"
)

// jobRequest describes the conversion the user asked for.
type jobRequest struct {
	Input   string
	Output  string
	Chain   string // empty picks a chain per file by extension
	Prefer  string // strategy moved to the front of every stage
	Options chains.Options
}

// jobPlan is the expanded request: one job per source file plus the chains
// those jobs use.
type jobPlan struct {
	Jobs   []convert.Job
	Chains []chains.Chain
	Root   string // directory every target lies under
}

// Patterns returns base-name globs matching the final outputs of the plan.
func (p jobPlan) Patterns() []string {
	var out []string
	for _, c := range p.Chains {
		if pat := "*" + c.Ext(); !slices.Contains(out, pat) {
			out = append(out, pat)
		}
	}
	return out
}

// Roles returns every tool role the planned jobs need.
func (p jobPlan) Roles() []tools.Role {
	var roles []tools.Role
	for _, c := range p.Chains {
		for _, r := range c.Roles() {
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	return roles
}

// planJobs expands a request into jobs.
//
// A file input yields one job. Its target is Output itself when Output ends
// in the chain's output extension and is not a directory, else a file named
// after the source stem inside Output. A directory input yields one job per
// file a chain accepts, mirroring the relative directory layout under Output.
func planJobs(req jobRequest) (jobPlan, error) {
	if req.Input == "" || req.Output == "" {
		return jobPlan{}, errors.New(errors.ErrCodeInvalidInput, "--input and --output are required")
	}
	info, err := os.Stat(req.Input)
	if err != nil {
		return jobPlan{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "input %s", req.Input)
	}

	var fixed *chains.Chain
	if req.Chain != "" {
		c, err := chains.Lookup(req.Chain, req.Options)
		if err != nil {
			return jobPlan{}, err
		}
		c = c.Prefer(req.Prefer)
		fixed = &c
	}
	pick := func(path string) (chains.Chain, bool) {
		if fixed != nil {
			return *fixed, fixed.Accepts(path)
		}
		c, ok := chains.ForSource(path, req.Options)
		return c.Prefer(req.Prefer), ok
	}

	var plan jobPlan
	add := func(source, target string, c chains.Chain) error {
		job, err := convert.NewJob(source, target, c.Stages)
		if err != nil {
			return err
		}
		plan.Jobs = append(plan.Jobs, job)
		if !slices.ContainsFunc(plan.Chains, func(x chains.Chain) bool { return x.Name == c.Name }) {
			plan.Chains = append(plan.Chains, c)
		}
		return nil
	}

	if !info.IsDir() {
		c, ok := pick(req.Input)
		if !ok {
			return jobPlan{}, noChainError(req.Input, fixed)
		}
		target := req.Output
		if !strings.EqualFold(filepath.Ext(target), c.Ext()) || isDir(target) {
			target = filepath.Join(req.Output, stem(req.Input)+c.Ext())
		}
		plan.Root = filepath.Dir(target)
		return plan, add(req.Input, target, c)
	}

	sources, err := sourceFiles(req.Input, req.Output)
	if err != nil {
		return jobPlan{}, err
	}
	plan.Root = req.Output
	seen := make(map[string]string)
	for _, src := range sources {
		c, ok := pick(src)
		if !ok {
			continue
		}
		rel, err := filepath.Rel(req.Input, src)
		if err != nil {
			return jobPlan{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "relative path of %s", src)
		}
		target := filepath.Join(req.Output, filepath.Dir(rel), stem(src)+c.Ext())
		if prev, dup := seen[target]; dup {
			return jobPlan{}, errors.New(errors.ErrCodeInvalidInput,
				"%s and %s would both be written to %s", prev, src, target)
		}
		seen[target] = src
		if err := add(src, target, c); err != nil {
			return jobPlan{}, err
		}
	}
	return plan, nil
}

// sourceFiles lists regular files under root in lexical order, leaving out
// the output tree when it lies inside root.
func sourceFiles(root, output string) ([]string, error) {
	outAbs, _ := filepath.Abs(output)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); abs == outAbs && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFilesystem, err, "scan %s", root)
	}
	sort.Strings(files)
	return files, nil
}

func noChainError(path string, fixed *chains.Chain) error {
	if fixed != nil {
		return errors.New(errors.ErrCodeInvalidInput, "chain %s does not accept %s (sources: %s)",
			fixed.Name, filepath.Base(path), strings.Join(fixed.Sources, " "))
	}
	return errors.New(errors.ErrCodeInvalidInput, "no chain converts %s files; pick one with --chain",
		filepath.Ext(path))
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
