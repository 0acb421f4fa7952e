package layout

import (
	"math"

	"github.com/leanspace/flowboard/pkg/graph"
)

// Coaster produces the cosmetic follow-through shown after a drag ends.
//
// Coast positions are display-only. They are delivered to frame listeners as
// an overlay and never reach the simulation or the store.
type Coaster interface {
	// Coast returns the positions to show on the frames after release,
	// starting from the release point with the given per-frame velocity.
	Coast(from, velocity graph.Position) []graph.Position
}

// DecayCoaster glides along the release velocity, slowing by Decay each
// frame until the speed drops below MinSpeed.
type DecayCoaster struct {
	Decay    float64 // fraction of velocity kept per frame
	MinSpeed float64
	MaxSteps int
}

// DefaultCoaster returns the board's post-drag glide.
func DefaultCoaster() DecayCoaster {
	return DecayCoaster{Decay: 0.85, MinSpeed: 0.5, MaxSteps: 60}
}

// Coast implements Coaster.
func (c DecayCoaster) Coast(from, velocity graph.Position) []graph.Position {
	var out []graph.Position
	x, y := from.X, from.Y
	vx, vy := velocity.X, velocity.Y
	for i := 0; i < c.MaxSteps; i++ {
		vx *= c.Decay
		vy *= c.Decay
		if math.Hypot(vx, vy) < c.MinSpeed {
			break
		}
		x += vx
		y += vy
		out = append(out, graph.Position{X: x, Y: y})
	}
	return out
}
