package sim

import "github.com/leanspace/flowboard/pkg/graph"

// Strategy adds region-specific behaviour on top of collision and link
// forces. One strategy is registered per region.
type Strategy interface {
	// Apply adds region forces to a particle's velocity.
	Apply(p *Particle, alpha float64)

	// Override optionally replaces the link spring for a same-region link.
	Override(kind graph.LinkKind, src, tgt *Particle) (Params, bool)
}

// Free leaves placement to collision and link forces alone.
type Free struct{}

// Apply does nothing.
func (Free) Apply(*Particle, float64) {}

// Override never replaces a spring.
func (Free) Override(graph.LinkKind, *Particle, *Particle) (Params, bool) { return Params{}, false }

// Build stacks tasks top-down: every task drifts downward and follows its
// parent task at a fixed vertical offset.
type Build struct {
	Gravity      float64 // downward velocity bias per tick, scaled by alpha
	ParentOffset float64 // target distance below the parent
	ParentGain   float64 // pull strength toward parent.y + ParentOffset
	Stack        Params  // spring for task-to-task flow/dependency links
}

// DefaultBuild returns the build-region strategy used by the board.
func DefaultBuild() Build {
	return Build{
		Gravity:      1.0,
		ParentOffset: 150,
		ParentGain:   0.1,
		Stack:        Params{Distance: 150, Strength: 0.8},
	}
}

// Apply pulls build tasks down and under their parent.
func (b Build) Apply(p *Particle, alpha float64) {
	if p.Kind != graph.KindTask || p.Virtual || p.Pinned() {
		return
	}
	p.VY += b.Gravity * alpha
	if parent := p.DeepestParent(); parent != nil {
		p.VY += (parent.Y + b.ParentOffset - p.Y) * b.ParentGain * alpha
	}
}

// Override makes chained tasks keep the same spacing the parent pull aims
// for, so the two forces agree instead of fighting.
func (b Build) Override(kind graph.LinkKind, src, tgt *Particle) (Params, bool) {
	if src.Kind != graph.KindTask || tgt.Kind != graph.KindTask {
		return Params{}, false
	}
	if kind != graph.LinkFlow && kind != graph.LinkDependency {
		return Params{}, false
	}
	return b.Stack, true
}

// DefaultStrategies returns the per-region strategy table: free placement
// everywhere except the build region.
func DefaultStrategies() map[graph.Region]Strategy {
	return map[graph.Region]Strategy{
		graph.RegionKnowledgeBase: Free{},
		graph.RegionIdeaStock:     Free{},
		graph.RegionBuild:         DefaultBuild(),
		graph.RegionMeasure:       Free{},
		graph.RegionLearn:         Free{},
	}
}

// isParentLink reports whether a link makes its source the parent of its target.
func isParentLink(kind graph.LinkKind) bool {
	return kind == graph.LinkFlow || kind == graph.LinkDependency
}
