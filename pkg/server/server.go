// Package server exposes a live board over HTTP.
//
// The API is what a canvas UI talks to: it reads the board and simulated
// positions, edits entities and links, drives the drag protocol and the
// button selection, and streams frames and store changes as server-sent
// events.
//
//	GET    /api/board                 entities, links and region bounds
//	GET    /api/positions             simulated positions
//	POST   /api/entities              create or replace an entity
//	DELETE /api/entities/{id}
//	POST   /api/links                 create or replace a link
//	DELETE /api/links/{id}
//	POST   /api/drag/{id}/start
//	POST   /api/drag/{id}/move        {"x": 10, "y": 20}
//	POST   /api/drag/{id}/end
//	POST   /api/selection/{id}        show the entity's action buttons
//	DELETE /api/selection
//	POST   /api/viewport              {"wake_ms": 1000}
//	POST   /api/flush                 write pending positions now
//	GET    /api/events                text/event-stream of frames, changes and write failures
//	GET    /metrics
//	GET    /healthz
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/observability"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/store"
)

// Origin tags store changes made through the API.
const Origin = "api"

const (
	// DefaultWake is the wake window of a viewport call without a duration.
	DefaultWake = time.Second

	// DefaultMaxWake caps the wake window a client may ask for.
	DefaultMaxWake = 5 * time.Second

	maxBodyBytes = 1 << 20
)

// Flusher writes pending positions immediately. [persist.Batcher]
// implements it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Options configures a [Server].
type Options struct {
	Engine   *layout.Engine
	Store    *store.Store
	Flusher  Flusher      // nil disables /api/flush
	Metrics  http.Handler // nil disables /metrics
	Geometry region.Geometry
	MaxWake  time.Duration
	Logger   *log.Logger
}

// Server is the HTTP API over one engine and store.
type Server struct {
	opts    Options
	router  chi.Router
	hub     *hub
	release func()
}

// New returns a server and starts relaying engine frames and store changes
// to event stream subscribers. Call [Server.Close] to detach it.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxWake <= 0 {
		opts.MaxWake = DefaultMaxWake
	}
	if opts.Geometry == (region.Geometry{}) {
		opts.Geometry = region.Default()
	}
	s := &Server{opts: opts, hub: newHub(opts.Logger)}
	opts.Engine.OnFrame(s.hub.frame)
	unsubscribe := opts.Store.Subscribe(s.hub.change)
	s.release = func() {
		opts.Engine.OnFrame(nil)
		unsubscribe()
		s.hub.close()
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ReportPersistError tells event stream clients that a batch of positions
// could not be written. It matches [persist.BatcherOptions.OnError].
func (s *Server) ReportPersistError(err error, batch []graph.PositionUpdate) {
	s.hub.persistError(err, batch)
}

// Close stops relaying events and ends open event streams.
func (s *Server) Close() {
	s.release()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/board", s.handleBoard)
		r.Get("/positions", s.handlePositions)
		r.Get("/events", s.handleEvents)

		r.Post("/entities", s.handleUpsertEntity)
		r.Delete("/entities/{id}", s.handleDeleteEntity)
		r.Post("/links", s.handleUpsertLink)
		r.Delete("/links/{id}", s.handleDeleteLink)

		r.Route("/drag/{id}", func(r chi.Router) {
			r.Post("/start", s.handleDragStart)
			r.Post("/move", s.handleDragMove)
			r.Post("/end", s.handleDragEnd)
		})

		r.Post("/selection/{id}", s.handleSelect)
		r.Delete("/selection", s.handleDeselect)
		r.Post("/viewport", s.handleViewport)
		r.Post("/flush", s.handleFlush)
	})
	return r
}

// instrument logs each request and reports it to the HTTP hooks under its
// route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().OnResponse(r.Context(), r.Method, route, status, elapsed)
		s.opts.Logger.Debug("request",
			"method", r.Method, "route", route, "status", status,
			"duration", elapsed, "request_id", middleware.GetReqID(r.Context()))
	})
}

// Run serves on addr until ctx is done, then shuts down, giving in-flight
// requests up to grace to finish. Event streams end when ctx is done.
func (s *Server) Run(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.opts.Logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
