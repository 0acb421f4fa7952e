package layout

import (
	"context"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/observability"
)

// DragStart pins id where it is and holds the simulation warm so the rest of
// the board reacts while the entity moves.
func (e *Engine) DragStart(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.inst == nil {
		return ErrNotFound
	}
	s := e.inst.sim
	p := s.Particle(id)
	if p == nil {
		return ErrNotFound
	}
	s.Pin(id, p.X, p.Y)
	e.dragging[id] = &dragState{last: p.Position()}
	delete(e.coasting, id)
	s.SetAlphaTarget(e.opts.DragAlpha)
	s.Reheat(e.opts.DragAlpha)
	e.startLocked()
	observability.Layout().OnDrag(context.Background(), "start")
	return nil
}

// DragMove moves the pin of a dragged entity. The pin is clamped into the
// entity's region.
func (e *Engine) DragMove(id string, x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	d := e.dragging[id]
	if d == nil || e.inst == nil {
		return ErrNotDragging
	}
	s := e.inst.sim
	s.Pin(id, x, y)
	pos := s.Particle(id).Position()
	d.velocity = graph.Position{X: pos.X - d.last.X, Y: pos.Y - d.last.Y}
	d.last = pos
	observability.Layout().OnDrag(context.Background(), "move")
	return nil
}

// DragEnd releases a dragged entity where it was dropped. The drop point is
// written to the store and queued for persistence; the simulation then cools
// back down. If a Coaster is configured, frames carry a cosmetic glide for
// the released entity.
func (e *Engine) DragEnd(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	d := e.dragging[id]
	if d == nil || e.inst == nil {
		return ErrNotDragging
	}
	s := e.inst.sim
	p := s.Particle(id)
	pos := p.Position()
	s.Unpin(id)
	delete(e.dragging, id)
	if len(e.dragging) == 0 {
		s.SetAlphaTarget(e.opts.Sim.AlphaTarget)
	}

	u := graph.PositionUpdate{ID: id, Position: pos}
	e.known[id] = pos
	e.store.SetPositions([]graph.PositionUpdate{u}, Origin)
	if e.opts.Persister != nil && !p.Virtual {
		e.opts.Persister.Enqueue(u)
	}

	if hint := e.opts.Geometry.NextBuildHint(e.hint, s.ContentMax()); hint != e.hint {
		e.hint = hint
		s.SetBuildHint(hint)
	}
	if e.opts.Coaster != nil {
		if seq := e.opts.Coaster.Coast(pos, d.velocity); len(seq) > 0 {
			e.coasting[id] = seq
		}
	}
	e.startLocked()
	observability.Layout().OnDrag(context.Background(), "end")
	return nil
}

// Dragging reports whether id is currently being dragged.
func (e *Engine) Dragging(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dragging[id] != nil
}
