package cli

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/observability"
	"github.com/leanspace/flowboard/pkg/observability/prom"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/server"
	"github.com/leanspace/flowboard/pkg/store"
)

// serveCommand creates the serve command that runs the live board API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr      string
		noMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live board over HTTP",
		Long: `Serve the live board over HTTP.

The board is loaded from the configured backend and simulated continuously.
Positions settled by the simulation or dropped by a drag are written back in
debounced batches. Changes made by other writers are picked up from backends
that publish them (Redis pub/sub, MongoDB change streams).

Frames and store changes are streamed on /api/events; Prometheus metrics are
served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), addr, noMetrics)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable the /metrics endpoint")

	return cmd
}

// runServe wires backend, store, engine, batcher and HTTP server, and runs
// until ctx is cancelled or a component fails.
func (c *CLI) runServe(ctx context.Context, addr string, noMetrics bool) error {
	cfg := c.settings()
	if addr == "" {
		addr = cfg.Server.Addr
	}

	var metrics http.Handler
	if !noMetrics {
		m := prom.New(prometheus.NewRegistry())
		m.Install()
		defer observability.Reset()
		metrics = m.Handler()
	}

	backend, err := openBackend(ctx, cfg.Persist, c.component("backend"))
	if err != nil {
		return fmt.Errorf("open backend %s: %w", describeBackend(cfg.Persist), err)
	}
	defer closeBackend(backend, c.Logger)

	st := store.New()
	prog := newProgress(c.Logger)
	g, err := persist.Load(ctx, backend, st, cfg.Geometry())
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Loaded %d entities and %d links from %s", len(g.Entities), len(g.Links), describeBackend(cfg.Persist)))

	// The server is built after the batcher it flushes; failures before
	// that are only logged.
	var reporter atomic.Pointer[server.Server]
	bopts := cfg.Batcher(c.component("batcher"))
	bopts.Virtual = st.IsVirtual
	bopts.OnError = func(err error, batch []graph.PositionUpdate) {
		if srv := reporter.Load(); srv != nil {
			srv.ReportPersistError(err, batch)
		}
	}
	batcher := persist.NewBatcher(backend, bopts)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Persist.WriteTimeout.Std())
		defer cancel()
		if err := batcher.Close(flushCtx); err != nil {
			c.Logger.Error("final position flush failed", "pending", batcher.Pending(), "err", err)
		}
	}()

	opts := cfg.Engine(c.component("engine"))
	opts.Persister = batcher
	eng := layout.New(st, opts)
	defer eng.Close()
	eng.Rebuild()

	srv := server.New(server.Options{
		Engine:   eng,
		Store:    st,
		Flusher:  batcher,
		Metrics:  metrics,
		Geometry: cfg.Geometry(),
		MaxWake:  cfg.Server.MaxWake.Std(),
		Logger:   c.component("http"),
	})
	reporter.Store(srv)
	defer srv.Close()

	printSuccess("Serving board on %s", StyleHighlight.Render("http://"+addr))
	printKeyValue("backend", describeBackend(cfg.Persist))
	if metrics != nil {
		printKeyValue("metrics", "http://"+addr+"/metrics")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return persist.Sync(ctx, backend, st, c.component("sync")) })
	group.Go(func() error { return srv.Run(ctx, addr, cfg.Server.ShutdownTimeout.Std()) })
	return group.Wait()
}
