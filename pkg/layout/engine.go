// Package layout drives the board's force simulation.
//
// An [Engine] owns at most one running simulation at a time. It rebuilds the
// simulation when the store's structure changes, ticks it on a [Scheduler],
// writes settled positions back to the store, and hands durable entities to a
// [Persister]. The drag protocol, virtual button selection and viewport wake
// all go through the engine, so there is no ambient simulation state.
package layout

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/observability"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/sim"
	"github.com/leanspace/flowboard/pkg/store"
)

// Origin tags store changes written by the engine.
const Origin = "layout"

// Engine errors.
var (
	ErrClosed        = errors.New("layout: engine closed")
	ErrNotFound      = errors.New("layout: entity not in simulation")
	ErrNotDragging   = errors.New("layout: entity is not being dragged")
	ErrNotSelectable = errors.New("layout: virtual entities cannot be selected")
)

// Persister accepts positions for durable storage. [persist.Batcher]
// implements it.
type Persister interface {
	Enqueue(updates ...graph.PositionUpdate)
}

// Options configures an [Engine]. Zero values select the defaults.
type Options struct {
	Geometry  region.Geometry
	Sim       sim.Config
	Scheduler Scheduler
	Persister Persister
	Coaster   Coaster // nil disables post-drag coasting
	Logger    *log.Logger
	Seed      int64

	// Epsilon is the movement, on either axis, below which a particle's
	// position is not written back to the store.
	Epsilon float64

	// DragAlpha is the temperature the simulation is held at while an entity
	// is dragged.
	DragAlpha float64

	// RestartAlpha is the temperature a rebuilt simulation starts at. The
	// very first simulation starts at Sim.Alpha.
	RestartAlpha float64

	// Now replaces time.Now, for wake windows in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Geometry == (region.Geometry{}) {
		o.Geometry = region.Default()
	}
	if o.Sim.AlphaDecay == 0 {
		o.Sim = sim.DefaultConfig()
	}
	if o.Scheduler == nil {
		o.Scheduler = TickerScheduler{}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Epsilon <= 0 {
		o.Epsilon = 1
	}
	if o.DragAlpha <= 0 {
		o.DragAlpha = 0.3
	}
	if o.RestartAlpha <= 0 {
		o.RestartAlpha = 0.3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Frame is what listeners see after every tick.
type Frame struct {
	Positions map[string]graph.Position // authoritative simulated positions
	Overlay   map[string]graph.Position // cosmetic coast positions, display-only
	Alpha     float64
	Settled   bool
}

// instance is one simulation run. It is replaced wholesale on rebuild.
type instance struct {
	sim      *sim.Simulation
	stop     func()
	running  bool
	disposed bool
	started  time.Time
}

type dragState struct {
	last     graph.Position
	velocity graph.Position
}

// Engine is safe for concurrent use. One mutex serializes ticks, drag calls,
// rebuilds and selection.
type Engine struct {
	opts  Options
	store *store.Store

	mu          sync.Mutex
	inst        *instance
	sig         string
	hint        float64
	known       map[string]graph.Position // last position seen in or written to the store
	dragging    map[string]*dragState
	coasting    map[string][]graph.Position
	selected    string
	wakeUntil   time.Time
	onFrame     func(Frame)
	unsubscribe func()
	built       bool
	closed      bool
}

// New returns an engine over st. It reacts to store changes immediately but
// runs no simulation until the first [Engine.Rebuild].
func New(st *store.Store, opts Options) *Engine {
	e := &Engine{
		opts:     opts.withDefaults(),
		store:    st,
		known:    make(map[string]graph.Position),
		dragging: make(map[string]*dragState),
		coasting: make(map[string][]graph.Position),
	}
	e.unsubscribe = st.Subscribe(e.onChange)
	return e
}

// OnFrame registers fn to receive every frame, replacing any previous
// listener. It is called outside the engine lock.
func (e *Engine) OnFrame(fn func(Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = fn
}

// =============================================================================
// Lifecycle
// =============================================================================

// Rebuild replaces the simulation if the store's entities or links changed
// since the last build and reports whether it did. An unchanged structure
// leaves the running simulation alone.
func (e *Engine) Rebuild() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked()
}

func (e *Engine) rebuildLocked() bool {
	if e.closed {
		return false
	}
	g := e.store.Snapshot()
	if e.selected != "" && !selectionAlive(g, e.selected) {
		e.selected = ""
		e.store.ReplaceVirtual(nil, nil, Origin)
		g = e.store.Snapshot()
	}
	sig := sim.Signature(g.Entities, g.Links)
	if e.inst != nil && sig == e.sig {
		return false
	}

	var prev map[string]graph.Position
	pins := make(map[string]graph.Position)
	if e.inst != nil {
		prev = e.inst.sim.Positions()
		for id := range e.dragging {
			if p := e.inst.sim.Particle(id); p != nil && p.Pinned() {
				pins[id] = graph.Position{X: *p.FX, Y: *p.FY}
			}
		}
	}
	e.disposeLocked()

	clear(e.known)
	for i, ent := range g.Entities {
		e.known[ent.ID] = ent.Position
		if pos, ok := prev[ent.ID]; ok {
			g.Entities[i].Position = pos
		}
	}
	e.hint = e.opts.Geometry.NextBuildHint(e.hint, region.BuildHint(g.Durable().Entities))

	s := sim.New(g.Entities, g.Links, sim.Options{
		Config:    e.opts.Sim,
		Geometry:  e.opts.Geometry,
		BuildHint: e.hint,
		Seed:      e.opts.Seed,
	})
	if e.built {
		s.SetAlpha(e.opts.RestartAlpha)
	}
	for id := range e.dragging {
		pos, ok := pins[id]
		if !ok || !s.Pin(id, pos.X, pos.Y) {
			delete(e.dragging, id)
		}
	}
	if len(e.dragging) > 0 {
		s.SetAlphaTarget(e.opts.DragAlpha)
	}
	clear(e.coasting)

	e.inst = &instance{sim: s}
	e.sig = sig
	e.built = true
	observability.Layout().OnRebuild(context.Background(), len(s.Particles()), len(s.Links()), s.Dropped())
	e.opts.Logger.Debug("simulation rebuilt",
		"particles", len(s.Particles()), "links", len(s.Links()), "dropped", s.Dropped(), "build_hint", e.hint)
	e.startLocked()
	return true
}

func selectionAlive(g graph.Graph, id string) bool {
	for _, ent := range g.Entities {
		if ent.ID == id {
			return true
		}
	}
	return false
}

// startLocked makes sure the current instance is producing frames.
func (e *Engine) startLocked() {
	inst := e.inst
	if inst == nil || inst.running || e.closed {
		return
	}
	inst.running = true
	inst.started = e.opts.Now()
	inst.stop = e.opts.Scheduler.Start(func() bool { return e.frame(inst) })
}

// disposeLocked stops and forgets the current instance.
func (e *Engine) disposeLocked() {
	inst := e.inst
	if inst == nil {
		return
	}
	inst.disposed = true
	inst.running = false
	if inst.stop != nil {
		inst.stop()
		inst.stop = nil
	}
	e.inst = nil
}

// Close stops the simulation and detaches the engine from the store. Later
// calls do nothing.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.disposeLocked()
	e.onFrame = nil
	clear(e.dragging)
	clear(e.coasting)
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// =============================================================================
// Frames
// =============================================================================

// frame ticks inst once and reports whether frames should continue.
func (e *Engine) frame(inst *instance) bool {
	e.mu.Lock()
	if e.inst != inst || inst.disposed {
		e.mu.Unlock()
		return false
	}
	s := inst.sim
	s.Tick()
	e.reconcileLocked(s)

	overlay := e.nextOverlayLocked(s)
	keep := !s.Settled() || len(e.dragging) > 0 || len(overlay) > 0 || e.opts.Now().Before(e.wakeUntil)
	if !keep {
		inst.running = false
		inst.stop = nil
		observability.Layout().OnSettled(context.Background(), s.Ticks(), e.opts.Now().Sub(inst.started))
		e.opts.Logger.Debug("simulation settled", "ticks", s.Ticks())
	}
	fn := e.onFrame
	var f Frame
	if fn != nil {
		f = Frame{Positions: s.Positions(), Overlay: overlay, Alpha: s.Alpha(), Settled: s.Settled()}
	}
	e.mu.Unlock()

	if fn != nil {
		fn(f)
	}
	return keep
}

// reconcileLocked writes particles that moved more than Epsilon back to the
// store and queues the durable ones for persistence. Pinned and dragged
// particles are skipped.
func (e *Engine) reconcileLocked(s *sim.Simulation) {
	var updates, durable []graph.PositionUpdate
	for _, p := range s.Particles() {
		if p.Pinned() || e.dragging[p.ID] != nil {
			continue
		}
		pos := p.Position()
		last, ok := e.known[p.ID]
		if ok && math.Abs(pos.X-last.X) <= e.opts.Epsilon && math.Abs(pos.Y-last.Y) <= e.opts.Epsilon {
			continue
		}
		e.known[p.ID] = pos
		u := graph.PositionUpdate{ID: p.ID, Position: pos}
		updates = append(updates, u)
		if !p.Virtual {
			durable = append(durable, u)
		}
	}
	if len(updates) == 0 {
		return
	}
	e.store.SetPositions(updates, Origin)
	if e.opts.Persister != nil && len(durable) > 0 {
		e.opts.Persister.Enqueue(durable...)
	}
	observability.Layout().OnReconcile(context.Background(), len(updates))
}

// nextOverlayLocked pops one cosmetic coast position per coasting entity.
func (e *Engine) nextOverlayLocked(s *sim.Simulation) map[string]graph.Position {
	if len(e.coasting) == 0 {
		return nil
	}
	out := make(map[string]graph.Position, len(e.coasting))
	for id, seq := range e.coasting {
		p := s.Particle(id)
		if p == nil || len(seq) == 0 {
			delete(e.coasting, id)
			continue
		}
		out[id] = s.Bounds(p.Region).Clamp(seq[0])
		if len(seq) == 1 {
			delete(e.coasting, id)
		} else {
			e.coasting[id] = seq[1:]
		}
	}
	return out
}

// Wake keeps frames running for at least d, even once the simulation has
// settled, so a viewport change can settle visually.
func (e *Engine) Wake(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if until := e.opts.Now().Add(d); until.After(e.wakeUntil) {
		e.wakeUntil = until
	}
	e.startLocked()
}

// =============================================================================
// Store changes
// =============================================================================

func (e *Engine) onChange(c store.Change) {
	if c.Origin == Origin {
		return
	}
	if c.Structural {
		e.Rebuild()
		return
	}
	switch c.Op {
	case store.OpPositions:
		e.moveExternal(c.Positions)
	case store.OpUpsertEntity:
		e.moveExternal([]graph.PositionUpdate{{ID: c.Entity.ID, Position: c.Entity.Position}})
	}
}

// moveExternal applies positions written by someone else, such as another
// client dragging the same board. Dragged particles keep their pin.
func (e *Engine) moveExternal(updates []graph.PositionUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst == nil {
		return
	}
	s := e.inst.sim
	var moved bool
	for _, u := range updates {
		if e.dragging[u.ID] != nil {
			continue
		}
		last, ok := e.known[u.ID]
		if ok && math.Abs(u.Position.X-last.X) <= e.opts.Epsilon && math.Abs(u.Position.Y-last.Y) <= e.opts.Epsilon {
			continue
		}
		if s.Move(u.ID, u.Position) {
			e.known[u.ID] = u.Position
			moved = true
		}
	}
	if moved {
		s.Reheat(e.opts.RestartAlpha)
		e.startLocked()
	}
}

// =============================================================================
// Reads
// =============================================================================

// Positions returns the current simulated position of every live entity,
// virtual ones included.
func (e *Engine) Positions() map[string]graph.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst == nil {
		return map[string]graph.Position{}
	}
	return e.inst.sim.Positions()
}

// Board returns the store contents with simulated positions applied.
func (e *Engine) Board() graph.Graph {
	g := e.store.Snapshot()
	pos := e.Positions()
	for i, ent := range g.Entities {
		if p, ok := pos[ent.ID]; ok {
			g.Entities[i].Position = p
		}
	}
	return g
}

// Settled reports whether no simulation is producing frames.
func (e *Engine) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst == nil || !e.inst.running
}

// Alpha returns the current simulation temperature.
func (e *Engine) Alpha() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst == nil {
		return 0
	}
	return e.inst.sim.Alpha()
}

// BuildHint returns the build-region hint the simulation is contained by.
func (e *Engine) BuildHint() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hint
}

// Selected returns the id of the entity whose buttons are shown.
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}
