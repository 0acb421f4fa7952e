// Package region maps board regions to rectangular bounds.
//
// The five regions are stacked vertically in a fixed order, each taking a
// fixed share of the canvas height. Only the build region can grow: when its
// content reaches below the default lower bound, the bound follows the
// content plus a margin and the regions below shift down by the same amount.
//
// Every function here is pure and deterministic.
package region

import (
	"hash/fnv"
	"math"

	"github.com/leanspace/flowboard/pkg/graph"
)

// Canvas defaults.
const (
	DefaultWidth       = 2400.0
	DefaultHeight      = 4000.0
	DefaultPadding     = 40.0
	DefaultBuildMargin = 100.0
)

// ratios are the share of canvas height owned by each region. They sum to 1.
var ratios = map[graph.Region]float64{
	graph.RegionKnowledgeBase: 0.10,
	graph.RegionIdeaStock:     0.125,
	graph.RegionBuild:         0.375,
	graph.RegionMeasure:       0.20,
	graph.RegionLearn:         0.20,
}

// Ratio returns the fixed height share of r, or 0 for an unknown region.
func Ratio(r graph.Region) float64 { return ratios[r] }

// Rect is an axis-aligned rectangle in board coordinates.
type Rect struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() graph.Position {
	return graph.Position{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p graph.Position) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Clamp clips each axis of p into r.
func (r Rect) Clamp(p graph.Position) graph.Position {
	return graph.Position{X: clamp(p.X, r.MinX, r.MaxX), Y: clamp(p.Y, r.MinY, r.MaxY)}
}

// Geometry describes the canvas the regions are laid out on.
// The zero value is not usable; start from [Default].
type Geometry struct {
	Width       float64
	Height      float64
	Padding     float64
	BuildMargin float64
}

// Default returns the standard canvas geometry.
func Default() Geometry {
	return Geometry{
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		Padding:     DefaultPadding,
		BuildMargin: DefaultBuildMargin,
	}
}

// band returns the unextended top edge and height of r.
func (g Geometry) band(r graph.Region) (top, height float64) {
	for _, cur := range graph.Regions {
		h := g.Height * ratios[cur]
		if cur == r {
			return top, h
		}
		top += h
	}
	return 0, g.Height
}

// defaultBuildMaxY is the build region's lower bound without any extension.
func (g Geometry) defaultBuildMaxY() float64 {
	top, h := g.band(graph.RegionBuild)
	return top + h - g.Padding
}

// BuildExtension returns how far the build region's lower bound moves down
// for the given content hint. It is zero unless hint passes the default bound.
// A hint <= 0 means no hint.
func (g Geometry) BuildExtension(hint float64) float64 {
	if hint <= 0 || math.IsNaN(hint) || math.IsInf(hint, 0) {
		return 0
	}
	base := g.defaultBuildMaxY()
	if hint <= base {
		return 0
	}
	return hint + g.BuildMargin - base
}

// Bounds returns the rectangle entities of region r must stay within.
// Unknown regions get the whole canvas.
func (g Geometry) Bounds(r graph.Region, buildHint float64) Rect {
	if !r.Valid() {
		return g.Canvas(buildHint)
	}
	top, h := g.band(r)
	ext := g.BuildExtension(buildHint)
	rect := Rect{
		MinX: g.Padding,
		MaxX: g.Width - g.Padding,
		MinY: top + g.Padding,
		MaxY: top + h - g.Padding,
	}
	switch {
	case r == graph.RegionBuild:
		rect.MaxY += ext
	case r.Index() > graph.RegionBuild.Index():
		rect.MinY += ext
		rect.MaxY += ext
	}
	return rect
}

// Canvas returns the full board rectangle including any build extension.
func (g Geometry) Canvas(buildHint float64) Rect {
	return Rect{MinX: 0, MaxX: g.Width, MinY: 0, MaxY: g.Height + g.BuildExtension(buildHint)}
}

// Clamp clips p into the bounds of region r.
func (g Geometry) Clamp(r graph.Region, p graph.Position, buildHint float64) graph.Position {
	return g.Bounds(r, buildHint).Clamp(p)
}

// Locate returns the region whose band contains y. Points above the canvas
// belong to the first region, points below it to the last.
func (g Geometry) Locate(y, buildHint float64) graph.Region {
	ext := g.BuildExtension(buildHint)
	var top float64
	for _, r := range graph.Regions {
		h := g.Height * ratios[r]
		if r == graph.RegionBuild {
			h += ext
		}
		if y < top+h {
			return r
		}
		top += h
	}
	return graph.Regions[len(graph.Regions)-1]
}

// Fallback returns a deterministic in-bounds point for an entity whose stored
// position is missing or malformed. The same id always lands on the same spot.
func (g Geometry) Fallback(id string, r graph.Region, buildHint float64) graph.Position {
	b := g.Bounds(r, buildHint)
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum64()
	fx := float64(sum&0xffffffff) / float64(1<<32)
	fy := float64(sum>>32) / float64(1<<32)
	return graph.Position{
		X: b.MinX + fx*b.Width(),
		Y: b.MinY + fy*b.Height(),
	}
}

// NextBuildHint decides the build hint to use after content moved.
//
// Content that lands past the current lower bound (placed there by an outside
// writer) extends the region. Content sitting in the margin band above the
// current bound keeps the current hint, so that a region already extended
// does not creep further each time the simulation settles against its edge.
// Anything higher lets the region shrink back.
func (g Geometry) NextBuildHint(current, contentMax float64) float64 {
	bound := g.Bounds(graph.RegionBuild, current).MaxY
	switch {
	case contentMax > bound:
		return contentMax
	case contentMax+g.BuildMargin >= bound:
		return current
	default:
		return contentMax
	}
}

// BuildHint returns the largest Y used by build-region entities, or 0 when
// the region is empty.
func BuildHint(entities []graph.Entity) float64 {
	var hint float64
	for _, e := range entities {
		if e.Region == graph.RegionBuild && e.Position.Y > hint && e.Position.Finite() {
			hint = e.Position.Y
		}
	}
	return hint
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
