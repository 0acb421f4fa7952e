package sim

import (
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/region"
)

// Config tunes integration and cooling.
type Config struct {
	Alpha               float64 // starting temperature
	AlphaMin            float64 // below this the simulation is settled
	AlphaDecay          float64 // fraction of the gap to AlphaTarget closed per tick
	AlphaTarget         float64 // temperature the simulation cools toward
	VelocityDecay       float64 // fraction of velocity lost per tick
	CollisionIterations int
	CollisionStrength   float64
	CollisionPadding    float64
	GridThreshold       int // particle count above which collisions use a spatial grid
	Strategies          map[graph.Region]Strategy
}

// DefaultConfig returns the board's tuned simulation parameters. Alpha decay
// is chosen so that a cold start settles in about 300 ticks.
func DefaultConfig() Config {
	return Config{
		Alpha:               1,
		AlphaMin:            0.001,
		AlphaDecay:          1 - math.Pow(0.001, 1.0/300),
		AlphaTarget:         0,
		VelocityDecay:       0.6,
		CollisionIterations: 3,
		CollisionStrength:   0.7,
		CollisionPadding:    10,
		GridThreshold:       128,
		Strategies:          DefaultStrategies(),
	}
}

// Options configures a new simulation.
type Options struct {
	Config    Config
	Geometry  region.Geometry
	BuildHint float64
	Seed      int64 // seeds the tie-breaking jitter for coincident particles
}

// Simulation is one run of the force layout over a fixed set of particles.
// Structural changes to the board require a new Simulation.
type Simulation struct {
	cfg  Config
	geom region.Geometry
	hint float64

	particles []*Particle
	byID      map[string]*Particle
	links     []*Link
	dropped   int
	maxRadius float64

	alpha       float64
	alphaTarget float64
	ticks       int

	rng  *rand.Rand
	grid grid
}

// New builds a simulation from board entities and links.
//
// Entities with non-finite positions are placed at their region fallback and
// every particle starts clamped into its region. Links whose endpoints do not
// resolve to a particle are skipped and counted by [Simulation.Dropped].
func New(entities []graph.Entity, links []graph.Link, opts Options) *Simulation {
	cfg := opts.Config
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultStrategies()
	}
	s := &Simulation{
		cfg:         cfg,
		geom:        opts.Geometry,
		hint:        opts.BuildHint,
		byID:        make(map[string]*Particle, len(entities)),
		alpha:       cfg.Alpha,
		alphaTarget: cfg.AlphaTarget,
		rng:         rand.New(rand.NewSource(opts.Seed)),
	}

	for _, e := range entities {
		if e.ID == "" || s.byID[e.ID] != nil {
			continue
		}
		pos := e.Position
		if !pos.Finite() {
			pos = s.geom.Fallback(e.ID, e.Region, s.hint)
		}
		pos = s.geom.Clamp(e.Region, pos, s.hint)
		p := &Particle{
			ID:      e.ID,
			Region:  e.Region,
			Kind:    e.Kind,
			Virtual: e.Virtual,
			X:       pos.X,
			Y:       pos.Y,
			Radius:  Radius(e),
			Square:  e.Kind == graph.KindMemo,
			index:   len(s.particles),
		}
		s.maxRadius = math.Max(s.maxRadius, p.Radius)
		s.particles = append(s.particles, p)
		s.byID[p.ID] = p
	}

	counts := make(map[*Particle]int)
	for _, l := range links {
		src, tgt := s.byID[l.Source], s.byID[l.Target]
		if src == nil || tgt == nil || src == tgt {
			s.dropped++
			continue
		}
		sl := &Link{
			ID:        l.ID,
			Kind:      l.Kind,
			Source:    src,
			Target:    tgt,
			Synthetic: l.Synthetic,
			Params:    LinkParams(l.Kind, l.Synthetic, src, tgt, cfg.Strategies[src.Region]),
		}
		s.links = append(s.links, sl)
		counts[src]++
		counts[tgt]++
		if isParentLink(l.Kind) && !l.Synthetic && !src.Virtual {
			tgt.parents = append(tgt.parents, src)
		}
	}
	for _, l := range s.links {
		l.bias = float64(counts[l.Source]) / float64(counts[l.Source]+counts[l.Target])
	}
	return s
}

// Tick advances the simulation by one step.
func (s *Simulation) Tick() {
	s.alpha += (s.alphaTarget - s.alpha) * s.cfg.AlphaDecay

	s.applyLinks(s.alpha)
	s.applyCollisions()
	s.applyStrategies(s.alpha)
	s.integrate()
	s.contain()
	s.ticks++
}

// Run ticks until the simulation settles or maxTicks is reached, and returns
// the number of ticks run.
func (s *Simulation) Run(maxTicks int) int {
	n := 0
	for n < maxTicks && !s.Settled() {
		s.Tick()
		n++
	}
	return n
}

func (s *Simulation) applyStrategies(alpha float64) {
	for _, p := range s.particles {
		if st := s.cfg.Strategies[p.Region]; st != nil {
			st.Apply(p, alpha)
		}
	}
}

// integrate moves every particle by its decayed velocity. Pinned particles
// are held exactly at their pin.
func (s *Simulation) integrate() {
	keep := 1 - s.cfg.VelocityDecay
	for _, p := range s.particles {
		if p.FX != nil {
			p.X, p.VX = *p.FX, 0
		} else {
			p.VX *= keep
			p.X += p.VX
		}
		if p.FY != nil {
			p.Y, p.VY = *p.FY, 0
		} else {
			p.VY *= keep
			p.Y += p.VY
		}
	}
}

// contain clamps every free particle into its region, dropping the velocity
// component that pushed it against the wall.
func (s *Simulation) contain() {
	for _, p := range s.particles {
		if p.Pinned() {
			continue
		}
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			pos := s.geom.Fallback(p.ID, p.Region, s.hint)
			p.X, p.Y, p.VX, p.VY = pos.X, pos.Y, 0, 0
		}
		b := s.geom.Bounds(p.Region, s.hint)
		if p.X < b.MinX {
			p.X, p.VX = b.MinX, 0
		} else if p.X > b.MaxX {
			p.X, p.VX = b.MaxX, 0
		}
		if p.Y < b.MinY {
			p.Y, p.VY = b.MinY, 0
		} else if p.Y > b.MaxY {
			p.Y, p.VY = b.MaxY, 0
		}
	}
}

func (s *Simulation) jiggle() float64 {
	return (s.rng.Float64() - 0.5) * 1e-6
}

// =============================================================================
// Pins
// =============================================================================

// Pin holds particle id at (x, y), clamped into its region, until [Simulation.Unpin].
// It reports false when no such particle exists.
func (s *Simulation) Pin(id string, x, y float64) bool {
	p := s.byID[id]
	if p == nil {
		return false
	}
	pos := s.geom.Clamp(p.Region, graph.Position{X: x, Y: y}, s.hint)
	p.pin(pos.X, pos.Y)
	return true
}

// Unpin releases particle id.
func (s *Simulation) Unpin(id string) {
	if p := s.byID[id]; p != nil {
		p.unpin()
	}
}

// Move places a free particle at pos, clamped into its region, and zeroes its
// velocity. Pinned particles are left alone.
func (s *Simulation) Move(id string, pos graph.Position) bool {
	p := s.byID[id]
	if p == nil || p.Pinned() || !pos.Finite() {
		return false
	}
	pos = s.geom.Clamp(p.Region, pos, s.hint)
	p.X, p.Y, p.VX, p.VY = pos.X, pos.Y, 0, 0
	return true
}

// =============================================================================
// Temperature
// =============================================================================

// Alpha returns the current temperature.
func (s *Simulation) Alpha() float64 { return s.alpha }

// SetAlpha sets the current temperature.
func (s *Simulation) SetAlpha(a float64) { s.alpha = a }

// AlphaTarget returns the temperature the simulation cools toward.
func (s *Simulation) AlphaTarget() float64 { return s.alphaTarget }

// SetAlphaTarget sets the temperature the simulation cools toward.
func (s *Simulation) SetAlphaTarget(a float64) { s.alphaTarget = a }

// Reheat raises the temperature to at least a.
func (s *Simulation) Reheat(a float64) {
	if s.alpha < a {
		s.alpha = a
	}
}

// Settled reports whether the temperature has dropped below its floor.
func (s *Simulation) Settled() bool { return s.alpha < s.cfg.AlphaMin }

// Ticks returns the number of ticks run so far.
func (s *Simulation) Ticks() int { return s.ticks }

// =============================================================================
// Geometry
// =============================================================================

// BuildHint returns the build-region hint used for containment.
func (s *Simulation) BuildHint() float64 { return s.hint }

// SetBuildHint changes the build-region hint. Particles are clamped into the
// new bounds on the next tick.
func (s *Simulation) SetBuildHint(h float64) { s.hint = h }

// Bounds returns the current bounds of region r.
func (s *Simulation) Bounds(r graph.Region) region.Rect { return s.geom.Bounds(r, s.hint) }

// =============================================================================
// Accessors
// =============================================================================

// Particle returns the particle for id, or nil.
func (s *Simulation) Particle(id string) *Particle { return s.byID[id] }

// Particles returns the particles in construction order.
func (s *Simulation) Particles() []*Particle { return s.particles }

// Links returns the resolved links.
func (s *Simulation) Links() []*Link { return s.links }

// Dropped returns how many links were skipped for unresolved endpoints.
func (s *Simulation) Dropped() int { return s.dropped }

// Positions returns a snapshot of every particle's coordinates.
func (s *Simulation) Positions() map[string]graph.Position {
	out := make(map[string]graph.Position, len(s.particles))
	for _, p := range s.particles {
		out[p.ID] = p.Position()
	}
	return out
}

// ContentMax returns the largest Y among non-virtual build particles.
func (s *Simulation) ContentMax() float64 {
	var m float64
	for _, p := range s.particles {
		if p.Region == graph.RegionBuild && !p.Virtual && p.Y > m {
			m = p.Y
		}
	}
	return m
}

// Signature returns a stable description of the simulation's structure:
// particle identities and link identities, independent of positions.
func Signature(entities []graph.Entity, links []graph.Link) string {
	parts := make([]string, 0, len(entities)+len(links))
	for _, e := range entities {
		parts = append(parts, "e:"+e.ID+"|"+string(e.Region)+"|"+string(e.Kind))
	}
	for _, l := range links {
		parts = append(parts, "l:"+l.ID+"|"+l.Source+"|"+l.Target+"|"+string(l.Kind))
	}
	slices.Sort(parts)
	return strings.Join(parts, "\n")
}
