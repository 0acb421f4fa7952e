package mongostore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/store"
)

func rawField(t *testing.T, doc any) bson.RawValue {
	t.Helper()
	data, err := bson.Marshal(bson.D{{Key: "v", Value: doc}})
	if err != nil {
		t.Fatal(err)
	}
	return bson.Raw(data).Lookup("v")
}

func TestPositionFromRaw(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   graph.Position
		wantOK bool
	}{
		{"doubles", bson.D{{Key: "x", Value: 1.5}, {Key: "y", Value: -2.0}}, graph.Position{X: 1.5, Y: -2}, true},
		{"integers", bson.D{{Key: "x", Value: int32(3)}, {Key: "y", Value: int64(4)}}, graph.Position{X: 3, Y: 4}, true},
		{"numeric strings", bson.D{{Key: "x", Value: "5"}, {Key: "y", Value: "6.5"}}, graph.Position{X: 5, Y: 6.5}, true},
		{"missing axis", bson.D{{Key: "x", Value: 1.0}}, graph.Position{}, false},
		{"nan", bson.D{{Key: "x", Value: math.NaN()}, {Key: "y", Value: 1.0}}, graph.Position{}, false},
		{"not a document", "10,20", graph.Position{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := positionFromRaw(rawField(t, tt.value))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("position = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEntityDocumentRoundTrip(t *testing.T) {
	e := graph.Entity{
		ID:       "t1",
		Region:   graph.RegionBuild,
		Kind:     graph.KindTask,
		Position: graph.Position{X: 100, Y: 250},
		Title:    "ship it",
	}
	data, err := bson.Marshal(entityDocument(e, "me"))
	if err != nil {
		t.Fatal(err)
	}
	var r entityRecord
	if err := bson.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.Writer != "me" {
		t.Errorf("writer = %q", r.Writer)
	}
	got := r.entity()
	if got.ID != e.ID || got.Region != e.Region || got.Kind != e.Kind || got.Title != e.Title || got.Position != e.Position {
		t.Errorf("entity = %+v, want %+v", got, e)
	}
}

func TestMissingPositionIsUnplaced(t *testing.T) {
	data, err := bson.Marshal(bson.D{{Key: "_id", Value: "m1"}, {Key: "region", Value: "idea_stock"}})
	if err != nil {
		t.Fatal(err)
	}
	var r entityRecord
	if err := bson.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.entity().Position.Finite() {
		t.Errorf("position = %+v, want unplaced", r.entity().Position)
	}
}

func TestChange(t *testing.T) {
	s := &Store{instance: "me", logger: log.Default()}
	doc := func(writer string) bson.Raw {
		data, err := bson.Marshal(entityDocument(graph.Entity{
			ID: "m1", Region: graph.RegionIdeaStock, Kind: graph.KindProposal, Position: graph.Position{X: 1, Y: 2},
		}, writer))
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	raw := func(d bson.D) bson.Raw {
		data, err := bson.Marshal(d)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	unplaced := raw(bson.D{{Key: "_id", Value: "n1"}, {Key: "region", Value: "build"}, {Key: "kind", Value: "task"}, {Key: "writer", Value: "peer"}})
	malformed := raw(bson.D{{Key: "_id", Value: "n2"}, {Key: "region", Value: "build"}, {Key: "kind", Value: "task"}, {Key: "position", Value: "garbage"}, {Key: "writer", Value: "peer"}})
	ev := func(op, coll, id string, full bson.Raw) changeEvent {
		var e changeEvent
		e.OperationType = op
		e.Namespace.Coll = coll
		e.DocumentKey.ID = id
		e.FullDocument = full
		return e
	}

	tests := []struct {
		name   string
		ev     changeEvent
		wantOK bool
		wantOp store.Op
	}{
		{"peer update", ev("update", entitiesCollection, "m1", doc("peer")), true, store.OpUpsertEntity},
		{"peer insert without position", ev("insert", entitiesCollection, "n1", unplaced), true, store.OpUpsertEntity},
		{"peer insert with malformed position", ev("insert", entitiesCollection, "n2", malformed), true, store.OpUpsertEntity},
		{"own update", ev("update", entitiesCollection, "m1", doc("me")), false, ""},
		{"update without lookup", ev("update", entitiesCollection, "m1", nil), false, ""},
		{"entity delete", ev("delete", entitiesCollection, "m1", nil), true, store.OpDeleteEntity},
		{"link delete", ev("delete", linksCollection, "l1", nil), true, store.OpDeleteLink},
		{"other collection", ev("delete", "audit", "x", nil), false, ""},
		{"drop", ev("drop", entitiesCollection, "", nil), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := s.change(tt.ev)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if c.Op != tt.wantOp || c.Origin != persist.OriginRemote {
				t.Errorf("change = %+v", c)
			}
		})
	}
}

func TestLinkChange(t *testing.T) {
	s := &Store{instance: "me", logger: log.Default()}
	data, err := bson.Marshal(linkRecord{
		Link:   graph.Link{ID: "l1", Source: "a", Target: "b", Kind: graph.LinkFlow},
		Writer: "peer",
	})
	if err != nil {
		t.Fatal(err)
	}
	var ev changeEvent
	ev.OperationType = "insert"
	ev.Namespace.Coll = linksCollection
	ev.FullDocument = data
	c, ok := s.change(ev)
	if !ok || c.Op != store.OpUpsertLink || c.Link.Source != "a" || c.Link.Kind != graph.LinkFlow {
		t.Errorf("change = %+v, %v", c, ok)
	}
}

func TestPositionModelsSkipNonFinite(t *testing.T) {
	models := positionModels([]graph.PositionUpdate{
		{ID: "a", Position: graph.Position{X: 1, Y: 2}},
		{ID: "b", Position: graph.Position{X: math.NaN(), Y: 2}},
		{ID: "c", Position: graph.Position{X: 3, Y: math.Inf(-1)}},
	}, "me")
	if len(models) != 1 {
		t.Errorf("models = %d, want 1", len(models))
	}
	if got := positionModels(nil, "me"); len(got) != 0 {
		t.Errorf("empty input produced %d models", len(got))
	}
}

func TestClassify(t *testing.T) {
	if !persist.IsRetryable(classify(context.DeadlineExceeded)) {
		t.Error("deadline not retryable")
	}
	if persist.IsRetryable(classify(errors.New("duplicate key"))) {
		t.Error("plain error retryable")
	}
}
