package graph

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   Position
		wantOK bool
	}{
		{"numbers", `{"x": 10, "y": 20.5}`, Position{10, 20.5}, true},
		{"numeric strings", `{"x": "10", "y": "-4.25"}`, Position{10, -4.25}, true},
		{"extra fields", `{"x": 1, "y": 2, "z": 3}`, Position{1, 2}, true},
		{"missing y", `{"x": 1}`, Position{}, false},
		{"null axis", `{"x": null, "y": 2}`, Position{}, false},
		{"garbage string", `{"x": "left", "y": 2}`, Position{}, false},
		{"array", `[1, 2]`, Position{}, false},
		{"empty", ``, Position{}, false},
		{"null", `null`, Position{}, false},
		{"infinite string", `{"x": "Inf", "y": 2}`, Position{}, false},
		{"nan string", `{"x": "NaN", "y": 2}`, Position{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePosition([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ParsePosition(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParsePosition(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGraphDurable(t *testing.T) {
	g := Graph{
		Entities: []Entity{
			{ID: "m1", Region: RegionKnowledgeBase, Kind: KindMemo},
			{ID: "b1", Region: RegionKnowledgeBase, Kind: KindButton, Virtual: true},
		},
		Links: []Link{
			{ID: "l1", Source: "m1", Target: "t1", Kind: LinkTag},
			{ID: "s1", Source: "m1", Target: "b1", Kind: LinkLink, Synthetic: true},
		},
	}

	d := g.Durable()
	if len(d.Entities) != 1 || d.Entities[0].ID != "m1" {
		t.Errorf("Durable entities = %+v, want only m1", d.Entities)
	}
	if len(d.Links) != 1 || d.Links[0].ID != "l1" {
		t.Errorf("Durable links = %+v, want only l1", d.Links)
	}
	if len(g.Entities) != 2 {
		t.Error("Durable should not mutate the receiver")
	}
}

func TestMarshalGraphSortsAndRoundTrips(t *testing.T) {
	g := Graph{
		Entities: []Entity{
			{ID: "t1", Region: RegionBuild, Kind: KindTask, Position: Position{X: 300, Y: 1200}, Status: StatusPending},
			{ID: "m1", Region: RegionKnowledgeBase, Kind: KindMemo, Position: Position{X: 100, Y: 120}, Size: 80},
		},
		Links: []Link{{ID: "l1", Source: "m1", Target: "t1", Kind: LinkReference}},
	}

	data, err := MarshalGraph(g)
	if err != nil {
		t.Fatalf("MarshalGraph: %v", err)
	}
	if strings.Index(string(data), `"m1"`) > strings.Index(string(data), `"t1"`) {
		t.Error("entities should be sorted by ID")
	}

	back, err := UnmarshalGraph(data)
	if err != nil {
		t.Fatalf("UnmarshalGraph: %v", err)
	}
	if len(back.Entities) != 2 || back.Entities[0].ID != "m1" {
		t.Fatalf("round trip entities = %+v", back.Entities)
	}
	if back.Entities[0].Size != 80 {
		t.Errorf("memo size = %v, want 80", back.Entities[0].Size)
	}
	if back.Entities[1].Position != (Position{X: 300, Y: 1200}) {
		t.Errorf("task position = %+v", back.Entities[1].Position)
	}
}

func TestReadGraphCheckedReportsMalformedPositions(t *testing.T) {
	input := `{
	  "entities": [
	    {"id": "ok", "region": "build", "kind": "task", "position": {"x": 1, "y": 2}},
	    {"id": "bad", "region": "build", "kind": "task", "position": "somewhere"},
	    {"id": "none", "region": "learn", "kind": "improvement"}
	  ],
	  "links": []
	}`

	g, missing, err := ReadGraphChecked(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadGraphChecked: %v", err)
	}
	if len(g.Entities) != 3 {
		t.Fatalf("entities = %d, want 3", len(g.Entities))
	}
	if missing["ok"] {
		t.Error("valid position reported missing")
	}
	if !missing["bad"] || !missing["none"] {
		t.Errorf("missing = %v, want bad and none", missing)
	}
}

func TestWriteAndReadGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	g := Graph{Entities: []Entity{{ID: "a", Region: RegionLearn, Kind: KindImprovement}}}

	if err := WriteGraphFile(g, path); err != nil {
		t.Fatalf("WriteGraphFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"links": []`)) {
		t.Error("empty links should serialize as an empty array")
	}

	back, err := ReadGraphFile(path)
	if err != nil {
		t.Fatalf("ReadGraphFile: %v", err)
	}
	if len(back.Entities) != 1 || back.Entities[0].Region != RegionLearn {
		t.Errorf("read back %+v", back.Entities)
	}
}

func TestRegionOrder(t *testing.T) {
	for i, r := range Regions {
		if r.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", r, r.Index(), i)
		}
	}
	if Region("attic").Valid() {
		t.Error("unknown region should be invalid")
	}
}

func TestUnmarshalEntity(t *testing.T) {
	e, err := UnmarshalEntity([]byte(`{"id":"a","region":"build","kind":"task","position":{"x":"12.5","y":40}}`))
	if err != nil {
		t.Fatalf("UnmarshalEntity: %v", err)
	}
	if e.Position != (Position{X: 12.5, Y: 40}) || e.Kind != KindTask {
		t.Errorf("decoded %+v", e)
	}

	e, err = UnmarshalEntity([]byte(`{"id":"b","region":"build","kind":"task","position":"garbage"}`))
	if err != nil {
		t.Fatalf("UnmarshalEntity: %v", err)
	}
	if e.Position.Finite() {
		t.Errorf("malformed position decoded as %+v, want unplaced", e.Position)
	}

	if _, err := UnmarshalEntity([]byte(`{`)); err == nil {
		t.Error("truncated entity decoded without error")
	}
}

func TestMarshalUnplacedPosition(t *testing.T) {
	g := Graph{Entities: []Entity{{ID: "a", Region: RegionLearn, Kind: KindImprovement, Position: Unplaced()}}}
	data, err := MarshalGraph(g)
	if err != nil {
		t.Fatalf("MarshalGraph() error = %v", err)
	}
	if !strings.Contains(string(data), `"position": null`) {
		t.Errorf("unplaced position not encoded as null:\n%s", data)
	}
	_, missing, err := ReadGraphChecked(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if !missing["a"] {
		t.Error("unplaced entity should read back as missing")
	}
}
