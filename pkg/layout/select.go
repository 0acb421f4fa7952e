package layout

import (
	"github.com/leanspace/flowboard/pkg/buttons"
	"github.com/leanspace/flowboard/pkg/graph"
)

// Select shows the action buttons of id. Buttons of any previous selection
// are discarded first. The buttons start around id's simulated position and
// join the simulation through synthetic links. The selected entity's
// position is queued for persistence.
func (e *Engine) Select(id string) ([]graph.Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	ent, ok := e.store.Entity(id)
	if !ok {
		return nil, ErrNotFound
	}
	if ent.Virtual {
		return nil, ErrNotSelectable
	}
	at := ent.Position
	if e.inst != nil {
		if p := e.inst.sim.Particle(id); p != nil {
			at = p.Position()
		}
	}
	all := e.store.Snapshot().Entities
	btns := buttons.Build(ent, at, all)

	e.selected = id
	if e.opts.Persister != nil && at.Finite() {
		e.opts.Persister.Enqueue(graph.PositionUpdate{ID: id, Position: at})
	}
	e.store.ReplaceVirtual(btns, buttons.Links(btns), Origin)
	e.rebuildLocked()
	return btns, nil
}

// Deselect removes every virtual button from the store and the simulation.
func (e *Engine) Deselect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.selected = ""
	e.store.ReplaceVirtual(nil, nil, Origin)
	e.rebuildLocked()
}
