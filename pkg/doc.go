// Package pkg provides the core libraries for Flowboard board layout.
//
// # Overview
//
// Flowboard lays out a lean-startup board (memos, tags, proposals, research,
// tasks, MVPs, dashboards and improvements) across five regions stacked
// vertically: Knowledge Base, Idea Stock, Build, Measure and Learn. A
// constrained force simulation keeps every entity inside its region while
// links pull related entities together. The pkg directory is organized into
// these areas:
//
//  1. [graph] - Board types and the JSON board format
//  2. [region], [sim], [layout], [buttons] - Geometry, physics and the driver
//  3. [store], [persist] - Live board state and durable backends
//  4. [pipeline], [cache], [render] - Offline settling and rendering
//  5. [server] - HTTP API over a live engine
//
// # Architecture
//
// The live data flow:
//
//	persist.Backend (SQLite, Postgres, Redis, MongoDB)
//	         ↓  persist.Load, persist.Sync
//	    [store] (entities, links, change notifications)
//	         ↓  Rebuild on structural change
//	    [layout] Engine (one [sim] Simulation at a time)
//	         ↓  reconcile after every tick
//	    [store] positions + persist.Batcher (debounced writes)
//
// # Quick Start
//
// Settle a board and read the positions:
//
//	st := store.New()
//	st.Load(board, "file")
//
//	sched := layout.NewManualScheduler()
//	eng := layout.New(st, layout.Options{Scheduler: sched, Seed: 1})
//	defer eng.Close()
//
//	eng.Rebuild()
//	for sched.Active() > 0 {
//	    sched.Step(100)
//	}
//	positions := eng.Positions()
//
// The same loop runs headlessly in [pipeline.Settle]; [server] drives it with
// a ticker instead.
//
// # Main Packages
//
// [region] - Region order, height ratios, bounds and clamping. Build is the
// only region that grows: when its content runs past the bottom edge, Measure
// and Learn shift down.
//
// [sim] - Particles, links and the force composer: link springs, collision
// (circles and squares, with a spatial grid on large boards), per-region
// strategies and containment.
//
// [layout] - The simulation driver: rebuilds, the drag protocol, wake
// windows, cosmetic coasting and selection of virtual buttons.
//
// [buttons] - Action buttons shown around a selected entity.
//
// [persist] - Backend interfaces, the debounced position batcher, retry and
// the store bridge. Backends live in [persist/sqlstore],
// [persist/redisstore] and [persist/mongostore].
//
// [observability] - Hook interfaces for layout, persistence and HTTP
// events; [observability/prom] implements them with Prometheus.
//
// [config], [errors], [buildinfo] - Configuration, coded errors and version
// info shared by the CLI and server.
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...                 # All tests
//	go test ./pkg/sim/...             # Specific package
//	go test -run Example ./pkg/...    # Examples only
//
// Backends that need an external service are tested through their pure
// helpers; the SQLite backend runs against a temporary database file.
//
// [graph]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/graph
// [region]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/region
// [sim]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/sim
// [layout]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/layout
// [buttons]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/buttons
// [store]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/store
// [persist]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/persist
// [persist/sqlstore]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/persist/sqlstore
// [persist/redisstore]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/persist/redisstore
// [persist/mongostore]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/persist/mongostore
// [pipeline]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/pipeline
// [pipeline.Settle]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/pipeline#Settle
// [cache]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/cache
// [render]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/render
// [server]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/server
// [observability]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/observability
// [observability/prom]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/observability/prom
// [config]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/config
// [errors]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/errors
// [buildinfo]: https://pkg.go.dev/github.com/leanspace/flowboard/pkg/buildinfo
package pkg
