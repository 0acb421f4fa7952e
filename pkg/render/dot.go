package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/sim"
)

// DefaultScale maps board units to Graphviz points.
const DefaultScale = 0.25

// Options configures a snapshot.
type Options struct {
	Geometry region.Geometry // zero value selects region.Default()
	Scale    float64         // board units to points, default DefaultScale
	Bands    bool            // draw region bands behind entities
	Links    bool            // draw durable links
	Virtual  bool            // include virtual buttons and synthetic links
}

func (o Options) withDefaults() Options {
	if o.Geometry == (region.Geometry{}) {
		o.Geometry = region.Default()
	}
	if o.Scale <= 0 {
		o.Scale = DefaultScale
	}
	return o
}

var kindColors = map[graph.Kind]string{
	graph.KindMemo:        "#fff3b0",
	graph.KindTag:         "#e0e0e0",
	graph.KindProposal:    "#cde7ff",
	graph.KindResearch:    "#d9f2d0",
	graph.KindTask:        "#ffe0c2",
	graph.KindMVP:         "#ffc9c9",
	graph.KindDashboard:   "#e5d4ff",
	graph.KindImprovement: "#c9f0ec",
	graph.KindButton:      "#ffffff",
}

var bandColors = map[graph.Region]string{
	graph.RegionKnowledgeBase: "#f7f7f7",
	graph.RegionIdeaStock:     "#f2f7fc",
	graph.RegionBuild:         "#fcf7f0",
	graph.RegionMeasure:       "#f5f2fc",
	graph.RegionLearn:         "#f0faf8",
}

// ToDOT converts a board to DOT. Entities without a finite position are
// skipped, as are links touching them.
func ToDOT(g graph.Graph, opts Options) string {
	opts = opts.withDefaults()
	hint := region.BuildHint(g.Entities)

	var buf bytes.Buffer
	buf.WriteString("digraph board {\n")
	buf.WriteString("  bgcolor=\"white\";\n")
	buf.WriteString("  overlap=true;\n")
	buf.WriteString("  splines=true;\n")
	buf.WriteString("  outputorder=nodesfirst;\n")
	buf.WriteString("  node [style=filled, fontsize=10, fixedsize=true, fontname=\"Helvetica\"];\n")
	buf.WriteString("  edge [arrowsize=0.5, color=\"#888888\"];\n")

	if opts.Bands {
		buf.WriteString("\n")
		for _, r := range graph.Regions {
			writeBand(&buf, r, opts.Geometry.Bounds(r, hint), opts.Scale)
		}
	}

	placed := make(map[string]bool, len(g.Entities))
	buf.WriteString("\n")
	for _, e := range g.Entities {
		if !e.Position.Finite() || (e.Virtual && !opts.Virtual) {
			continue
		}
		placed[e.ID] = true
		fmt.Fprintf(&buf, "  %q [%s];\n", e.ID, strings.Join(entityAttrs(e, opts.Scale), ", "))
	}

	if opts.Links {
		buf.WriteString("\n")
		for _, l := range g.Links {
			if !placed[l.Source] || !placed[l.Target] || (l.Synthetic && !opts.Virtual) {
				continue
			}
			fmt.Fprintf(&buf, "  %q -> %q [%s];\n", l.Source, l.Target, strings.Join(linkAttrs(l), ", "))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func writeBand(buf *bytes.Buffer, r graph.Region, b region.Rect, scale float64) {
	c := b.Center()
	fmt.Fprintf(buf, "  %q [shape=box, style=\"filled\", color=\"#dddddd\", fillcolor=%q, label=%q, labelloc=t, fontsize=14, width=%s, height=%s, pos=%q];\n",
		"region:"+string(r), bandColors[r], string(r),
		inches(b.Width(), scale), inches(b.Height(), scale), pos(c, scale))
}

func entityAttrs(e graph.Entity, scale float64) []string {
	diameter := inches(2*sim.Radius(e), scale)
	shape := "circle"
	if e.Kind == graph.KindMemo {
		shape = "square"
	}
	label := e.Title
	if label == "" {
		label = string(e.Kind)
	}
	attrs := []string{
		fmt.Sprintf("label=%q", truncate(label, 18)),
		"shape=" + shape,
		"width=" + diameter,
		"height=" + diameter,
		fmt.Sprintf("pos=%q", pos(e.Position, scale)),
	}
	if color, ok := kindColors[e.Kind]; ok {
		attrs = append(attrs, fmt.Sprintf("fillcolor=%q", color))
	}
	if e.Virtual {
		attrs = append(attrs, "style=\"filled,dashed\"")
	}
	return attrs
}

func linkAttrs(l graph.Link) []string {
	attrs := []string{fmt.Sprintf("tooltip=%q", string(l.Kind))}
	switch {
	case l.Synthetic:
		attrs = append(attrs, "style=dotted")
	case l.Kind == graph.LinkFlow || l.Kind == graph.LinkDependency:
		attrs = append(attrs, "penwidth=1.5", "color=\"#444444\"")
	}
	return attrs
}

func pos(p graph.Position, scale float64) string {
	return fmt.Sprintf("%.2f,%.2f!", p.X*scale, -p.Y*scale)
}

func inches(units, scale float64) string {
	return fmt.Sprintf("%.3f", units*scale/72)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
