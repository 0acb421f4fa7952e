// Package store holds the board's shared in-memory entities and links.
//
// The store is the single mutable collection the layout engine, the
// persistence bridge and the HTTP surface all read from. Every mutation is
// announced to subscribers as a [Change] once the store lock is released, so
// a subscriber may read the store (or write to it) from its callback.
//
// Changes carry an origin tag. Writers that also subscribe (the layout engine
// writing reconciled positions, the sync bridge applying backend notifications)
// use it to ignore their own echoes.
package store

import (
	"slices"
	"sync"

	"github.com/leanspace/flowboard/pkg/graph"
)

// Op identifies what a [Change] did.
type Op string

const (
	OpReset        Op = "reset"
	OpUpsertEntity Op = "upsert_entity"
	OpDeleteEntity Op = "delete_entity"
	OpUpsertLink   Op = "upsert_link"
	OpDeleteLink   Op = "delete_link"
	OpPositions    Op = "positions"
	OpVirtual      Op = "virtual"
)

// Change describes one mutation of the store.
type Change struct {
	Op        Op
	Origin    string
	Entity    graph.Entity           // OpUpsertEntity
	Link      graph.Link             // OpUpsertLink
	ID        string                 // OpDeleteEntity, OpDeleteLink
	Positions []graph.PositionUpdate // OpPositions

	// Structural is set when the change altered the set of entities or
	// links, or an entity's region or kind. Position and title edits are not
	// structural.
	Structural bool
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	entities map[string]graph.Entity
	links    map[string]graph.Link
	subs     map[int]func(Change)
	nextSub  int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[string]graph.Entity),
		links:    make(map[string]graph.Link),
		subs:     make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every later change and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// unlockAndNotify releases the write lock and then delivers c.
func (s *Store) unlockAndNotify(c Change) {
	subs := make([]func(Change), 0, len(s.subs))
	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		subs = append(subs, s.subs[k])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// =============================================================================
// Reads
// =============================================================================

// Snapshot returns a sorted copy of every entity and link, virtual ones
// included.
func (s *Store) Snapshot() graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := graph.Graph{
		Entities: make([]graph.Entity, 0, len(s.entities)),
		Links:    make([]graph.Link, 0, len(s.links)),
	}
	for _, e := range s.entities {
		g.Entities = append(g.Entities, e.Clone())
	}
	for _, l := range s.links {
		g.Links = append(g.Links, l)
	}
	g.Sort()
	return g
}

// Entity returns the entity with the given id.
func (s *Store) Entity(id string) (graph.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e.Clone(), ok
}

// IsVirtual reports whether id names a virtual entity.
func (s *Store) IsVirtual(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[id].Virtual
}

// Link returns the link with the given id.
func (s *Store) Link(id string) (graph.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

// Len returns the number of entities and links.
func (s *Store) Len() (entities, links int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.links)
}

// =============================================================================
// Writes
// =============================================================================

// Load replaces the store contents with g.
func (s *Store) Load(g graph.Graph, origin string) {
	s.mu.Lock()
	s.entities = make(map[string]graph.Entity, len(g.Entities))
	s.links = make(map[string]graph.Link, len(g.Links))
	for _, e := range g.Entities {
		if e.ID != "" {
			s.entities[e.ID] = e.Clone()
		}
	}
	for _, l := range g.Links {
		if l.ID != "" {
			s.links[l.ID] = l
		}
	}
	s.unlockAndNotify(Change{Op: OpReset, Origin: origin, Structural: true})
}

// UpsertEntity inserts or replaces an entity.
func (s *Store) UpsertEntity(e graph.Entity, origin string) {
	s.mu.Lock()
	old, existed := s.entities[e.ID]
	if existed && !e.Position.Finite() {
		e.Position = old.Position
	}
	s.entities[e.ID] = e.Clone()
	structural := !existed || old.Region != e.Region || old.Kind != e.Kind || old.Virtual != e.Virtual
	s.unlockAndNotify(Change{Op: OpUpsertEntity, Origin: origin, Entity: e.Clone(), Structural: structural})
}

// DeleteEntity removes an entity and reports whether it existed. Links that
// reference it stay until they are deleted themselves.
func (s *Store) DeleteEntity(id, origin string) bool {
	s.mu.Lock()
	if _, ok := s.entities[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entities, id)
	s.unlockAndNotify(Change{Op: OpDeleteEntity, Origin: origin, ID: id, Structural: true})
	return true
}

// UpsertLink inserts or replaces a link.
func (s *Store) UpsertLink(l graph.Link, origin string) {
	s.mu.Lock()
	old, existed := s.links[l.ID]
	s.links[l.ID] = l
	structural := !existed || old.Source != l.Source || old.Target != l.Target || old.Kind != l.Kind
	s.unlockAndNotify(Change{Op: OpUpsertLink, Origin: origin, Link: l, Structural: structural})
}

// DeleteLink removes a link and reports whether it existed.
func (s *Store) DeleteLink(id, origin string) bool {
	s.mu.Lock()
	if _, ok := s.links[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.links, id)
	s.unlockAndNotify(Change{Op: OpDeleteLink, Origin: origin, ID: id, Structural: true})
	return true
}

// SetPositions writes positions for existing entities in one batch and
// returns how many were applied. Unknown ids and non-finite positions are
// skipped. No change is announced when nothing applied.
func (s *Store) SetPositions(updates []graph.PositionUpdate, origin string) int {
	s.mu.Lock()
	applied := make([]graph.PositionUpdate, 0, len(updates))
	for _, u := range updates {
		e, ok := s.entities[u.ID]
		if !ok || !u.Position.Finite() {
			continue
		}
		e.Position = u.Position
		s.entities[u.ID] = e
		applied = append(applied, u)
	}
	if len(applied) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.unlockAndNotify(Change{Op: OpPositions, Origin: origin, Positions: applied})
	return len(applied)
}

// ReplaceVirtual drops every virtual entity and synthetic link, then inserts
// the given ones, announcing a single change.
func (s *Store) ReplaceVirtual(entities []graph.Entity, links []graph.Link, origin string) {
	s.mu.Lock()
	changed := len(entities) > 0 || len(links) > 0
	for id, e := range s.entities {
		if e.Virtual {
			delete(s.entities, id)
			changed = true
		}
	}
	for id, l := range s.links {
		if l.Synthetic {
			delete(s.links, id)
			changed = true
		}
	}
	for _, e := range entities {
		e.Virtual = true
		s.entities[e.ID] = e.Clone()
	}
	for _, l := range links {
		l.Synthetic = true
		s.links[l.ID] = l
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.unlockAndNotify(Change{Op: OpVirtual, Origin: origin, Structural: true})
}

// Apply replays a change produced elsewhere, typically a backend
// notification, and re-announces it with this store's structural verdict.
func (s *Store) Apply(c Change) {
	switch c.Op {
	case OpUpsertEntity:
		s.UpsertEntity(c.Entity, c.Origin)
	case OpDeleteEntity:
		s.DeleteEntity(c.ID, c.Origin)
	case OpUpsertLink:
		s.UpsertLink(c.Link, c.Origin)
	case OpDeleteLink:
		s.DeleteLink(c.ID, c.Origin)
	case OpPositions:
		s.SetPositions(c.Positions, c.Origin)
	}
}

// VirtualIDs returns the ids of every virtual entity, sorted.
func (s *Store) VirtualIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, e := range s.entities {
		if e.Virtual {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
