package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/store"
)

// Load reads the board from b into st, replacing its contents. Entities whose
// stored position is unusable are placed at their region fallback.
func Load(ctx context.Context, b Backend, st *store.Store, geom region.Geometry) (graph.Graph, error) {
	g, err := b.Load(ctx)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("load board: %w", err)
	}
	g = g.Durable()
	hint := region.BuildHint(g.Entities)
	for i, e := range g.Entities {
		if !e.Position.Finite() {
			g.Entities[i].Position = geom.Fallback(e.ID, e.Region, hint)
		}
	}
	st.Load(g, OriginRemote)
	return g, nil
}

// Sync keeps st and b in step until ctx is done.
//
// Entity and link edits made to the store by local writers are written to the
// backend. Positions are left to a [Batcher]. When b is also a [Notifier],
// changes made by other writers are applied to the store. Write failures are
// logged; the store is never rolled back.
func Sync(ctx context.Context, b Backend, st *store.Store, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	out := newOutbox()
	cancel := st.Subscribe(func(c store.Change) {
		if c.Origin == OriginRemote || !mirrored(c) {
			return
		}
		out.push(c)
	})
	defer cancel()

	var remote <-chan store.Change
	if n, ok := b.(Notifier); ok {
		ch, err := n.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		remote = ch
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-out.ready:
			for _, c := range out.take() {
				if ctx.Err() != nil {
					return nil
				}
				if err := RetryWithBackoff(ctx, DefaultBackoff, func() error { return mirror(ctx, b, c) }); err != nil {
					logger.Error("store change not persisted", "op", c.Op, "id", changeID(c), "err", err)
				}
			}
		case c, ok := <-remote:
			if !ok {
				logger.Warn("backend subscription closed")
				remote = nil
				continue
			}
			c.Origin = OriginRemote
			if c.Op == store.OpUpsertEntity && c.Entity.Virtual {
				continue
			}
			st.Apply(c)
		}
	}
}

// outbox queues store changes for the backend. Pushing never blocks, so a
// slow backend cannot stall store writers.
type outbox struct {
	mu      sync.Mutex
	pending []store.Change
	ready   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(c store.Change) {
	o.mu.Lock()
	o.pending = append(o.pending, c)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// take returns and clears the queued changes in push order.
func (o *outbox) take() []store.Change {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.pending
	o.pending = nil
	return out
}

// mirrored reports whether a store change has a durable counterpart.
func mirrored(c store.Change) bool {
	switch c.Op {
	case store.OpUpsertEntity:
		return !c.Entity.Virtual
	case store.OpUpsertLink:
		return !c.Link.Synthetic
	case store.OpDeleteEntity, store.OpDeleteLink:
		return true
	}
	return false
}

func mirror(ctx context.Context, b Backend, c store.Change) error {
	switch c.Op {
	case store.OpUpsertEntity:
		return b.SaveEntity(ctx, c.Entity)
	case store.OpDeleteEntity:
		return b.DeleteEntity(ctx, c.ID)
	case store.OpUpsertLink:
		return b.SaveLink(ctx, c.Link)
	case store.OpDeleteLink:
		return b.DeleteLink(ctx, c.ID)
	}
	return nil
}

func changeID(c store.Change) string {
	switch c.Op {
	case store.OpUpsertEntity:
		return c.Entity.ID
	case store.OpUpsertLink:
		return c.Link.ID
	}
	return c.ID
}
