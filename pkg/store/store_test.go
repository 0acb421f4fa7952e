package store

import (
	"testing"

	"github.com/leanspace/flowboard/pkg/graph"
)

func testGraph() graph.Graph {
	return graph.Graph{
		Entities: []graph.Entity{
			{ID: "a", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 100, Y: 1000}},
			{ID: "b", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 100, Y: 1150}},
		},
		Links: []graph.Link{{ID: "ab", Source: "a", Target: "b", Kind: graph.LinkFlow}},
	}
}

func record(s *Store) *[]Change {
	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })
	return &got
}

func TestStructuralDetection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Store)
		want   bool
	}{
		{"new entity", func(s *Store) {
			s.UpsertEntity(graph.Entity{ID: "c", Region: graph.RegionBuild, Kind: graph.KindTask}, "test")
		}, true},
		{"title edit", func(s *Store) {
			s.UpsertEntity(graph.Entity{ID: "a", Region: graph.RegionBuild, Kind: graph.KindTask, Title: "x"}, "test")
		}, false},
		{"region change", func(s *Store) {
			s.UpsertEntity(graph.Entity{ID: "a", Region: graph.RegionMeasure, Kind: graph.KindTask}, "test")
		}, true},
		{"delete entity", func(s *Store) { s.DeleteEntity("a", "test") }, true},
		{"new link", func(s *Store) {
			s.UpsertLink(graph.Link{ID: "ba", Source: "b", Target: "a", Kind: graph.LinkFlow}, "test")
		}, true},
		{"same link", func(s *Store) {
			s.UpsertLink(graph.Link{ID: "ab", Source: "a", Target: "b", Kind: graph.LinkFlow}, "test")
		}, false},
		{"delete link", func(s *Store) { s.DeleteLink("ab", "test") }, true},
		{"positions", func(s *Store) {
			s.SetPositions([]graph.PositionUpdate{{ID: "a", Position: graph.Position{X: 1, Y: 2}}}, "test")
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Load(testGraph(), "load")
			got := record(s)
			tt.mutate(s)
			if len(*got) != 1 {
				t.Fatalf("got %d changes, want 1", len(*got))
			}
			if c := (*got)[0]; c.Structural != tt.want || c.Origin != "test" {
				t.Errorf("change = %+v, want structural %v from test", c, tt.want)
			}
		})
	}
}

func TestSetPositionsSkipsUnknownAndNonFinite(t *testing.T) {
	s := New()
	s.Load(testGraph(), "load")
	got := record(s)

	n := s.SetPositions([]graph.PositionUpdate{
		{ID: "a", Position: graph.Position{X: 5, Y: 6}},
		{ID: "missing", Position: graph.Position{X: 1, Y: 1}},
	}, "engine")
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if e, _ := s.Entity("a"); e.Position != (graph.Position{X: 5, Y: 6}) {
		t.Errorf("a at %+v", e.Position)
	}
	if n := s.SetPositions([]graph.PositionUpdate{{ID: "missing"}}, "engine"); n != 0 {
		t.Errorf("applied = %d, want 0", n)
	}
	if len(*got) != 1 {
		t.Errorf("got %d changes, want 1 (empty batch is silent)", len(*got))
	}
}

func TestReplaceVirtual(t *testing.T) {
	s := New()
	s.Load(testGraph(), "load")

	s.ReplaceVirtual(
		[]graph.Entity{{ID: "btn", Region: graph.RegionBuild, Kind: graph.KindButton}},
		[]graph.Link{{ID: "a-btn", Source: "a", Target: "btn"}},
		"select",
	)
	e, ok := s.Entity("btn")
	if !ok || !e.Virtual {
		t.Fatalf("button = %+v, %v; want virtual entity", e, ok)
	}
	if l, _ := s.Link("a-btn"); !l.Synthetic {
		t.Error("button link not marked synthetic")
	}
	if ids := s.VirtualIDs(); len(ids) != 1 || ids[0] != "btn" {
		t.Errorf("VirtualIDs = %v", ids)
	}

	got := record(s)
	s.ReplaceVirtual(nil, nil, "deselect")
	if entities, links := s.Len(); entities != 2 || links != 1 {
		t.Errorf("after clear: %d entities, %d links; want 2, 1", entities, links)
	}
	s.ReplaceVirtual(nil, nil, "deselect")
	if len(*got) != 1 {
		t.Errorf("got %d changes, want 1 (second clear is a no-op)", len(*got))
	}
}

func TestSubscriberMayReadStore(t *testing.T) {
	s := New()
	var seen int
	s.Subscribe(func(Change) {
		seen, _ = s.Len()
	})
	s.Load(testGraph(), "load")
	if seen != 2 {
		t.Errorf("subscriber saw %d entities, want 2", seen)
	}
}

func TestCancelSubscription(t *testing.T) {
	s := New()
	var n int
	cancel := s.Subscribe(func(Change) { n++ })
	s.Load(testGraph(), "load")
	cancel()
	cancel()
	s.DeleteEntity("a", "test")
	if n != 1 {
		t.Errorf("subscriber called %d times, want 1", n)
	}
}

func TestApplyReplaysChange(t *testing.T) {
	s := New()
	s.Load(testGraph(), "load")
	got := record(s)
	s.Apply(Change{Op: OpDeleteLink, ID: "ab", Origin: "remote"})
	if _, ok := s.Link("ab"); ok {
		t.Error("link survived Apply")
	}
	if len(*got) != 1 || (*got)[0].Origin != "remote" || !(*got)[0].Structural {
		t.Errorf("changes = %+v", *got)
	}
}

func TestUpsertEntityWithoutPosition(t *testing.T) {
	s := New()
	s.Load(testGraph(), "load")

	s.UpsertEntity(graph.Entity{ID: "a", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Unplaced()}, "remote")
	if e, _ := s.Entity("a"); e.Position != (graph.Position{X: 100, Y: 1000}) {
		t.Errorf("known entity position = %v, want it kept", e.Position)
	}

	s.UpsertEntity(graph.Entity{ID: "c", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Unplaced()}, "remote")
	e, ok := s.Entity("c")
	if !ok {
		t.Fatal("new entity without a position was not stored")
	}
	if e.Position.Finite() {
		t.Errorf("new entity position = %v, want unplaced", e.Position)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New()
	g := testGraph()
	g.Entities[0].Metadata = map[string]any{"k": "v"}
	s.Load(g, "load")
	snap := s.Snapshot()
	snap.Entities[0].Metadata["k"] = "changed"
	if e, _ := s.Entity("a"); e.Metadata["k"] != "v" {
		t.Error("snapshot shares metadata with the store")
	}
}
