package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/leanspace/flowboard/pkg/cache"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/region"
)

func testBoard() graph.Graph {
	return graph.Graph{
		Entities: []graph.Entity{
			{ID: "m1", Region: graph.RegionKnowledgeBase, Kind: graph.KindMemo, Position: graph.Position{X: 300, Y: 100}},
			{ID: "m2", Region: graph.RegionKnowledgeBase, Kind: graph.KindMemo, Position: graph.Position{X: 300, Y: 100}},
			{ID: "p1", Region: graph.RegionIdeaStock, Kind: graph.KindProposal, Position: graph.Position{X: 800, Y: 600}},
			{ID: "t1", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 1200, Y: 1200}},
			{ID: "t2", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Unplaced()},
			{ID: "b1", Region: graph.RegionBuild, Kind: graph.KindButton, Virtual: true, Position: graph.Position{X: 1200, Y: 1100}},
		},
		Links: []graph.Link{
			{ID: "l1", Source: "t1", Target: "t2", Kind: graph.LinkFlow},
			{ID: "l2", Source: "p1", Target: "t1", Kind: graph.LinkReference},
			{ID: "button:b1", Source: "t1", Target: "b1", Kind: graph.LinkLink, Synthetic: true},
		},
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"svg", false},
		{"dot", false},
		{"json", false},
		{"png", true},
		{"SVG", true}, // case-sensitive
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateFormat(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFormat(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
	}
}

func TestValidateFormats(t *testing.T) {
	if err := ValidateFormats([]string{"svg", "dot"}); err != nil {
		t.Errorf("Valid formats should pass: %v", err)
	}
	if err := ValidateFormats([]string{"svg", "invalid"}); err == nil {
		t.Error("Invalid format should fail")
	}
	if err := ValidateFormats(nil); err != nil {
		t.Errorf("Empty formats should pass: %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	if err := opts.ValidateForRender(); err != nil {
		t.Fatalf("zero options should validate: %v", err)
	}
	if opts.Width != region.DefaultWidth || opts.Height != region.DefaultHeight {
		t.Errorf("canvas = %gx%g", opts.Width, opts.Height)
	}
	if opts.Seed != DefaultSeed || opts.MaxTicks != DefaultMaxTicks {
		t.Errorf("seed = %d, max ticks = %d", opts.Seed, opts.MaxTicks)
	}
	if len(opts.Formats) != 1 || opts.Formats[0] != FormatSVG {
		t.Errorf("formats = %v", opts.Formats)
	}
	if opts.Logger == nil {
		t.Error("logger not defaulted")
	}

	bad := Options{MaxTicks: -1}
	if err := bad.ValidateForSettle(); err == nil {
		t.Error("negative max ticks should fail")
	}
}

func TestGeometry(t *testing.T) {
	opts := Options{Width: 1000}
	g := opts.Geometry()
	if g.Width != 1000 || g.Height != region.DefaultHeight {
		t.Errorf("geometry = %+v", g)
	}
}

func TestSettle(t *testing.T) {
	res, err := Settle(context.Background(), testBoard(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Settled {
		t.Fatalf("board did not settle in %d ticks", res.Ticks)
	}
	if res.Ticks == 0 {
		t.Error("no ticks ran")
	}
	if len(res.Board.Entities) != 5 {
		t.Errorf("entities = %d, want 5 (virtual dropped)", len(res.Board.Entities))
	}
	geom := region.Default()
	hint := region.BuildHint(res.Board.Entities)
	for _, e := range res.Board.Entities {
		if !e.Position.Finite() {
			t.Errorf("%s unplaced after settle", e.ID)
			continue
		}
		b := geom.Bounds(e.Region, hint)
		if !b.Contains(e.Position) {
			t.Errorf("%s at %+v outside %s bounds %+v", e.ID, e.Position, e.Region, b)
		}
	}
}

func TestSettleDeterministic(t *testing.T) {
	a, err := Settle(context.Background(), testBoard(), Options{Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Settle(context.Background(), testBoard(), Options{Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	if BoardHash(a.Board) != BoardHash(b.Board) {
		t.Error("same seed produced different layouts")
	}
}

func TestSettleBudget(t *testing.T) {
	res, err := Settle(context.Background(), testBoard(), Options{MaxTicks: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Settled || res.Ticks != 10 {
		t.Errorf("ticks = %d settled = %v, want 10 unsettled", res.Ticks, res.Settled)
	}
}

func TestSettleProgress(t *testing.T) {
	var ticks []int
	var alphas []float64
	opts := Options{MaxTicks: 120, Progress: func(n int, alpha float64) {
		ticks = append(ticks, n)
		alphas = append(alphas, alpha)
	}}
	if _, err := Settle(context.Background(), testBoard(), opts); err != nil {
		t.Fatal(err)
	}
	want := []int{50, 100, 120}
	if len(ticks) != len(want) {
		t.Fatalf("progress calls = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("call %d reported %d ticks, want %d", i, ticks[i], want[i])
		}
		if i > 0 && alphas[i] >= alphas[i-1] {
			t.Errorf("alpha did not cool between calls: %v", alphas)
		}
	}
}

func TestSettleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Settle(ctx, testBoard(), Options{}); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRenderFormats(t *testing.T) {
	res, err := Settle(context.Background(), testBoard(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	artifacts, err := Render(context.Background(), res.Board, Options{Formats: []string{FormatDOT, FormatJSON}, Links: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(artifacts[FormatDOT]), "digraph board") {
		t.Errorf("dot = %.40q", artifacts[FormatDOT])
	}
	if _, err := graph.UnmarshalGraph(artifacts[FormatJSON]); err != nil {
		t.Errorf("json artifact does not decode: %v", err)
	}
	if _, err := Render(context.Background(), res.Board, Options{Formats: []string{"png"}}); err == nil {
		t.Error("unsupported format should fail")
	}
}

func TestRunnerCaches(t *testing.T) {
	ctx := context.Background()
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(fc, nil, nil)
	defer r.Close()
	opts := Options{Formats: []string{FormatDOT}}

	first, err := r.Execute(ctx, testBoard(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheInfo.SettleHit || first.CacheInfo.RenderHit {
		t.Errorf("first run hit the cache: %+v", first.CacheInfo)
	}

	second, err := r.Execute(ctx, testBoard(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheInfo.SettleHit || !second.CacheInfo.RenderHit {
		t.Errorf("second run missed the cache: %+v", second.CacheInfo)
	}
	if BoardHash(first.Board) != BoardHash(second.Board) {
		t.Error("cached board differs from computed board")
	}
	if string(first.Artifacts[FormatDOT]) != string(second.Artifacts[FormatDOT]) {
		t.Error("cached artifact differs")
	}

	refreshed, _, err := r.SettleWithCacheInfo(ctx, testBoard(), Options{Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Ticks == 0 {
		t.Error("refresh should recompute")
	}
}

func TestBoardHashIgnoresOrder(t *testing.T) {
	g := testBoard().Durable()
	rev := graph.Graph{}
	for i := len(g.Entities) - 1; i >= 0; i-- {
		rev.Entities = append(rev.Entities, g.Entities[i])
	}
	rev.Links = append(rev.Links, g.Links[1], g.Links[0])
	if BoardHash(g) != BoardHash(rev) {
		t.Error("hash depends on slice order")
	}
}
