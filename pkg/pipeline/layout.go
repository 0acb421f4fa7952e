package pipeline

import (
	"context"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/store"
)

// Origin tags store writes made by a headless settle.
const Origin = "pipeline"

// settleChunk is how many frames run between context checks.
const settleChunk = 50

// SettleResult is the outcome of a headless settle.
type SettleResult struct {
	Board   graph.Graph
	Ticks   int
	Settled bool
}

// Settle runs the board's simulation headlessly. It drives the same
// [layout.Engine] the server uses, stepped by a [layout.ManualScheduler], so
// offline and live layouts agree. Virtual entities and synthetic links in g
// are dropped first.
func Settle(ctx context.Context, g graph.Graph, opts Options) (SettleResult, error) {
	if err := opts.ValidateForSettle(); err != nil {
		return SettleResult{}, err
	}

	st := store.New()
	st.Load(g.Durable(), Origin)

	sched := layout.NewManualScheduler()
	eng := layout.New(st, layout.Options{
		Geometry:  opts.Geometry(),
		Scheduler: sched,
		Seed:      opts.Seed,
		Logger:    opts.Logger,
	})
	defer eng.Close()
	eng.Rebuild()

	var ticks int
	for ticks < opts.MaxTicks && !eng.Settled() {
		if err := ctx.Err(); err != nil {
			return SettleResult{}, err
		}
		ran := sched.Step(min(settleChunk, opts.MaxTicks-ticks))
		if ran == 0 {
			break
		}
		ticks += ran
		if opts.Progress != nil {
			opts.Progress(ticks, eng.Alpha())
		}
	}

	board := eng.Board()
	opts.Logger.Debug("settled board",
		"entities", len(board.Entities),
		"ticks", ticks,
		"alpha", eng.Alpha())
	return SettleResult{Board: board, Ticks: ticks, Settled: eng.Settled()}, nil
}
