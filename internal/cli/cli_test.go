package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanspace/flowboard/pkg/config"
	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/region"
)

// isolate points config and cache lookups at empty temp directories.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()
	for _, name := range []string{"serve", "layout", "render", "import", "watch", "cache", "config", "completion"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil || cmd.Name() != name {
				t.Errorf("subcommand %q not registered", name)
			}
		})
	}
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	root := New(io.Discard, LogInfo).RootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show"})

	if err := root.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"[canvas]", "[persist]", `backend = "memory"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("config show output missing %q:\n%s", want, out.String())
		}
	}
}

func TestExplicitMissingConfigFails(t *testing.T) {
	isolate(t)
	root := New(io.Discard, LogInfo).RootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.toml"), "config", "show"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLayoutCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "board.json")
	board := graph.Graph{
		Entities: []graph.Entity{
			{ID: "m1", Region: graph.RegionKnowledgeBase, Kind: graph.KindMemo, Position: graph.Position{X: 200, Y: 60}},
			{ID: "p1", Region: graph.RegionIdeaStock, Kind: graph.KindProposal, Position: graph.Unplaced()},
		},
		Links: []graph.Link{{ID: "l1", Source: "m1", Target: "p1", Kind: graph.LinkReference}},
	}
	if err := graph.WriteGraphFile(board, input); err != nil {
		t.Fatal(err)
	}

	root := New(io.Discard, LogInfo).RootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"layout", input, "--no-cache", "--max-ticks", "50"})
	if err := root.Execute(); err != nil {
		t.Fatalf("layout: %v", err)
	}

	got, err := graph.ReadGraphFile(filepath.Join(dir, "board.layout.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got.Entities) != 2 || len(got.Links) != 1 {
		t.Fatalf("output has %d entities and %d links, want 2 and 1", len(got.Entities), len(got.Links))
	}
	for _, e := range got.Entities {
		if !e.Position.Finite() {
			t.Errorf("entity %s left unplaced", e.ID)
		}
	}
}

func TestPrepareImport(t *testing.T) {
	geom := region.Default()
	tests := []struct {
		name        string
		in          graph.Graph
		wantIDs     int
		wantLinks   int
		wantSkipped int
		wantPlaced  int
		check       func(t *testing.T, g graph.Graph)
	}{
		{
			name: "generates missing ids",
			in: graph.Graph{
				Entities: []graph.Entity{{Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 300, Y: 400}}},
				Links:    []graph.Link{{Source: "a", Target: "b", Kind: graph.LinkFlow}},
			},
			wantIDs:   1,
			wantLinks: 1,
			check: func(t *testing.T, g graph.Graph) {
				if g.Entities[0].ID == "" || g.Links[0].ID == "" {
					t.Error("ids not generated")
				}
			},
		},
		{
			name: "infers region from position",
			in: graph.Graph{
				Entities: []graph.Entity{{ID: "m1", Kind: graph.KindMemo, Position: graph.Position{X: 100, Y: 10}}},
			},
			wantIDs: 1,
			check: func(t *testing.T, g graph.Graph) {
				if g.Entities[0].Region != graph.RegionKnowledgeBase {
					t.Errorf("region = %q, want %q", g.Entities[0].Region, graph.RegionKnowledgeBase)
				}
			},
		},
		{
			name: "places unplaced entities inside their region",
			in: graph.Graph{
				Entities: []graph.Entity{{ID: "l1", Region: graph.RegionLearn, Kind: graph.KindImprovement, Position: graph.Unplaced()}},
			},
			wantIDs:    1,
			wantPlaced: 1,
			check: func(t *testing.T, g graph.Graph) {
				e := g.Entities[0]
				bounds := geom.Bounds(graph.RegionLearn, region.BuildHint(g.Entities))
				if !bounds.Contains(e.Position) {
					t.Errorf("position %v outside %+v", e.Position, bounds)
				}
			},
		},
		{
			name: "skips invalid entries",
			in: graph.Graph{
				Entities: []graph.Entity{
					{ID: "x1", Region: "attic", Kind: graph.KindMemo, Position: graph.Position{X: 1, Y: 1}},
					{ID: "x2", Region: graph.RegionBuild, Kind: graph.KindButton, Position: graph.Position{X: 1, Y: 400}},
					{ID: "t1", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 300, Y: 400}},
				},
				Links: []graph.Link{
					{ID: "self", Source: "t1", Target: "t1", Kind: graph.LinkFlow},
					{ID: "bad", Source: "t1", Target: "x1", Kind: "sideways"},
				},
			},
			wantIDs:     1,
			wantSkipped: 4,
		},
		{
			name: "drops virtual entities silently",
			in: graph.Graph{
				Entities: []graph.Entity{{ID: "b1", Region: graph.RegionBuild, Kind: graph.KindButton, Virtual: true}},
				Links:    []graph.Link{{ID: "s1", Source: "b1", Target: "t1", Kind: graph.LinkLink, Synthetic: true}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rep := prepareImport(tt.in, geom)
			if len(got.Entities) != tt.wantIDs {
				t.Errorf("entities = %d, want %d", len(got.Entities), tt.wantIDs)
			}
			if len(got.Links) != tt.wantLinks {
				t.Errorf("links = %d, want %d", len(got.Links), tt.wantLinks)
			}
			if len(rep.skipped) != tt.wantSkipped {
				t.Errorf("skipped = %v, want %d", rep.skipped, tt.wantSkipped)
			}
			if rep.placed != tt.wantPlaced {
				t.Errorf("placed = %d, want %d", rep.placed, tt.wantPlaced)
			}
			if tt.check != nil && len(got.Entities) > 0 {
				tt.check(t, got)
			}
		})
	}
}

func TestOpenBackend(t *testing.T) {
	logger := newLogger(io.Discard, LogInfo)

	b, err := openBackend(context.Background(), config.PersistConfig{Backend: config.BackendMemory}, logger)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := b.(*persist.Memory); !ok {
		t.Errorf("memory backend is %T", b)
	}
	closeBackend(b, logger)

	_, err = openBackend(context.Background(), config.PersistConfig{Backend: "etcd"}, logger)
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("unknown backend error = %v, want %s", err, errors.ErrCodeInvalidConfig)
	}
}

func TestWriteBoard(t *testing.T) {
	mem := persist.NewMemory(graph.Graph{})
	board := graph.Graph{
		Entities: []graph.Entity{{ID: "t1", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 300, Y: 400}}},
		Links:    []graph.Link{{ID: "l1", Source: "t1", Target: "m1", Kind: graph.LinkReference}},
	}
	if err := writeBoard(context.Background(), mem, board); err != nil {
		t.Fatalf("writeBoard: %v", err)
	}
	got, err := mem.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entities) != 1 || len(got.Links) != 1 {
		t.Errorf("stored %d entities and %d links, want 1 and 1", len(got.Entities), len(got.Links))
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/ada")
	tests := []struct{ in, want string }{
		{"~/boards/q3.db", "/home/ada/boards/q3.db"},
		{"/srv/board.db", "/srv/board.db"},
		{"board.db", "board.db"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
