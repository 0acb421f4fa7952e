package sim

import "github.com/leanspace/flowboard/pkg/graph"

// radii holds the collision radius of each entity kind.
var radii = map[graph.Kind]float64{
	graph.KindMemo:        30,
	graph.KindTag:         20,
	graph.KindProposal:    40,
	graph.KindResearch:    35,
	graph.KindTask:        35,
	graph.KindMVP:         45,
	graph.KindDashboard:   45,
	graph.KindImprovement: 35,
	graph.KindButton:      16,
}

const defaultRadius = 30

// Radius returns the collision radius for an entity. Memos may carry an
// explicit size override; every other kind uses the table.
func Radius(e graph.Entity) float64 {
	if e.Kind == graph.KindMemo && e.Size > 0 {
		return e.Size / 2
	}
	if r, ok := radii[e.Kind]; ok {
		return r
	}
	return defaultRadius
}

// Particle is the runtime projection of an entity inside a simulation.
type Particle struct {
	ID      string
	Region  graph.Region
	Kind    graph.Kind
	Virtual bool

	X, Y   float64
	VX, VY float64

	// FX and FY pin the particle when non-nil. Integration never moves a
	// pinned particle; only Pin does.
	FX, FY *float64

	Radius float64
	Square bool

	index   int
	parents []*Particle // sources of incoming flow/dependency links
}

// Pinned reports whether the particle is held at fixed coordinates.
func (p *Particle) Pinned() bool { return p.FX != nil && p.FY != nil }

// Position returns the particle's current coordinates.
func (p *Particle) Position() graph.Position { return graph.Position{X: p.X, Y: p.Y} }

// pin fixes the particle at (x, y).
func (p *Particle) pin(x, y float64) {
	p.FX, p.FY = &x, &y
	p.X, p.Y = x, y
	p.VX, p.VY = 0, 0
}

// unpin releases the particle back to the integrator.
func (p *Particle) unpin() {
	p.FX, p.FY = nil, nil
}

// DeepestParent returns the parent with the largest Y, or nil when the
// particle has no incoming flow or dependency link.
func (p *Particle) DeepestParent() *Particle {
	var best *Particle
	for _, parent := range p.parents {
		if best == nil || parent.Y > best.Y {
			best = parent
		}
	}
	return best
}
