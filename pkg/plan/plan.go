// Package plan draws conversion chains as Graphviz diagrams: one box per
// stage labelled with its tool role and resolved backend, and the stage's
// strategies listed in the order they are attempted.
package plan

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/convoy/pkg/chains"
	"github.com/matzehuels/convoy/pkg/tools"
)

// Backends maps a role to its resolution. Missing roles are drawn as unresolved.
type Backends map[tools.Role]tools.Resolution

// ToDOT converts chains to Graphviz DOT. Each chain becomes a cluster.
func ToDOT(cs []chains.Chain, backends Backends) string {
	var buf bytes.Buffer
	buf.WriteString("digraph convoy {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontname=\"Helvetica\", fontsize=12];\n")
	buf.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n")

	for ci, c := range cs {
		fmt.Fprintf(&buf, "\n  subgraph cluster_%d {\n", ci)
		fmt.Fprintf(&buf, "    label=%q;\n", c.Name)
		buf.WriteString("    style=\"rounded,dashed\";\n")

		src := fmt.Sprintf("c%d_src", ci)
		fmt.Fprintf(&buf, "    %s [label=%q, shape=note, fillcolor=\"#eeeeee\"];\n", src, strings.Join(c.Sources, " "))

		prev := src
		for si, st := range c.Stages {
			id := fmt.Sprintf("c%d_s%d", ci, si)
			label, color := stageLabel(st.Name, st.Role, backends)
			fmt.Fprintf(&buf, "    %s [label=%q, fillcolor=%q];\n", id, label, color)
			fmt.Fprintf(&buf, "    %s -> %s;\n", prev, id)

			for k, name := range st.StrategyNames() {
				sid := fmt.Sprintf("%s_t%d", id, k)
				fmt.Fprintf(&buf, "    %s [label=%q, shape=plaintext, style=\"\", fontsize=10];\n", sid, fmt.Sprintf("%d. %s", k+1, name))
				fmt.Fprintf(&buf, "    %s -> %s [style=dotted, arrowhead=none];\n", id, sid)
			}

			out := fmt.Sprintf("%s_out", id)
			fmt.Fprintf(&buf, "    %s [label=%q, shape=note, fillcolor=\"#eeeeee\"];\n", out, st.Ext)
			fmt.Fprintf(&buf, "    %s -> %s;\n", id, out)
			prev = out
		}
		buf.WriteString("  }\n")
	}

	buf.WriteString("}\n")
	return buf.String()
}

func stageLabel(name string, role tools.Role, backends Backends) (string, string) {
	res, ok := backends[role]
	switch {
	case !ok:
		return fmt.Sprintf("%s\n[%s]", name, role), "white"
	case res.Err != nil:
		return fmt.Sprintf("%s\n[%s]\nnot found", name, role), "#f8d7da"
	default:
		return fmt.Sprintf("%s\n[%s]\n%s", name, role, res.Path), "#d4edda"
	}
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
