package persist

import (
	"context"
	"sync"

	"github.com/leanspace/flowboard/pkg/graph"
)

// Memory is a [Backend] held in process memory. It records every position
// batch it receives, which makes it the backend of choice for tests.
type Memory struct {
	mu       sync.Mutex
	entities map[string]graph.Entity
	links    map[string]graph.Link
	writes   [][]graph.PositionUpdate
	closed   bool
}

// NewMemory returns a memory backend seeded with g.
func NewMemory(g graph.Graph) *Memory {
	m := &Memory{
		entities: make(map[string]graph.Entity),
		links:    make(map[string]graph.Link),
	}
	g = g.Durable()
	for _, e := range g.Entities {
		m.entities[e.ID] = e.Clone()
	}
	for _, l := range g.Links {
		m.links[l.ID] = l
	}
	return m
}

func (m *Memory) Load(context.Context) (graph.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return graph.Graph{}, ErrClosed
	}
	var g graph.Graph
	for _, e := range m.entities {
		g.Entities = append(g.Entities, e.Clone())
	}
	for _, l := range m.links {
		g.Links = append(g.Links, l)
	}
	g.Sort()
	return g, nil
}

func (m *Memory) SaveEntity(_ context.Context, e graph.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entities[e.ID] = e.Clone()
	return nil
}

func (m *Memory) DeleteEntity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entities, id)
	return nil
}

func (m *Memory) SaveLink(_ context.Context, l graph.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.links[l.ID] = l
	return nil
}

func (m *Memory) DeleteLink(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.links, id)
	return nil
}

// WritePositions updates stored entities. Ids that are not stored are
// ignored, matching an UPDATE that touches no row.
func (m *Memory) WritePositions(_ context.Context, updates []graph.PositionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.writes = append(m.writes, append([]graph.PositionUpdate(nil), updates...))
	for _, u := range updates {
		if e, ok := m.entities[u.ID]; ok {
			e.Position = u.Position
			m.entities[u.ID] = e
		}
	}
	return nil
}

// Writes returns every position batch received so far.
func (m *Memory) Writes() [][]graph.PositionUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]graph.PositionUpdate(nil), m.writes...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
