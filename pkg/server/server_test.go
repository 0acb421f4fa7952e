package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/observability"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/store"
)

type recordingFlusher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *recordingFlusher) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fixture struct {
	st      *store.Store
	engine  *layout.Engine
	flusher *recordingFlusher
	server  *Server
}

func testBoard() graph.Graph {
	return graph.Graph{
		Entities: []graph.Entity{
			{ID: "m1", Region: graph.RegionIdeaStock, Kind: graph.KindMemo, Position: graph.Position{X: 600, Y: 650}},
			{ID: "t1", Region: graph.RegionBuild, Kind: graph.KindTask, Position: graph.Position{X: 1000, Y: 1000}},
		},
		Links: []graph.Link{
			{ID: "m1-t1", Source: "m1", Target: "t1", Kind: graph.LinkFlow},
		},
	}
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{st: store.New(), flusher: &recordingFlusher{}}
	f.st.Load(testBoard(), "test")
	logger := log.New(io.Discard)
	f.engine = layout.New(f.st, layout.Options{
		Scheduler: layout.NewManualScheduler(),
		Logger:    logger,
		Seed:      1,
	})
	f.engine.Rebuild()
	opts := Options{
		Engine:  f.engine,
		Store:   f.st,
		Flusher: f.flusher,
		Logger:  logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.server = New(opts)
	t.Cleanup(func() {
		f.server.Close()
		f.engine.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	resp := httptest.NewRecorder()
	f.server.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", resp.Body.String())
	}
}

func TestBoard(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/board", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body boardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entities) != 2 || len(body.Links) != 1 {
		t.Errorf("board has %d entities and %d links", len(body.Entities), len(body.Links))
	}
	if len(body.Regions) != len(graph.Regions) {
		t.Fatalf("got %d regions", len(body.Regions))
	}
	if body.Regions[0].Region != graph.RegionKnowledgeBase || body.Regions[0].MinY != region.DefaultPadding {
		t.Errorf("first region = %+v", body.Regions[0])
	}
}

func TestPositions(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/positions", "")
	var body positionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Positions["m1"]; !ok {
		t.Errorf("positions = %v, want m1", body.Positions)
	}
}

func TestUpsertEntity(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   errors.Code
	}{
		{"create", `{"id":"m9","region":"idea_stock","kind":"memo","position":{"x":700,"y":700}}`, http.StatusCreated, ""},
		{"replace", `{"id":"m1","region":"idea_stock","kind":"memo","title":"renamed","position":{"x":600,"y":650}}`, http.StatusOK, ""},
		{"generated id", `{"region":"build","kind":"task"}`, http.StatusCreated, ""},
		{"unknown region", `{"id":"x","region":"lobby","kind":"memo"}`, http.StatusBadRequest, errors.ErrCodeInvalidEntity},
		{"virtual", `{"id":"b","region":"build","kind":"button","virtual":true}`, http.StatusBadRequest, errors.ErrCodeInvalidEntity},
		{"not json", `{`, http.StatusBadRequest, errors.ErrCodeInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			resp := f.do(t, http.MethodPost, "/api/entities", tt.body)
			if resp.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.Code, tt.status, resp.Body.String())
			}
			if tt.code != "" {
				if got := decodeError(t, resp).Code; got != tt.code {
					t.Errorf("code = %s, want %s", got, tt.code)
				}
				return
			}
			e, err := graph.UnmarshalEntity(resp.Body.Bytes())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if e.ID == "" {
				t.Fatal("entity has no id")
			}
			stored, ok := f.st.Entity(e.ID)
			if !ok {
				t.Fatalf("entity %s not stored", e.ID)
			}
			if !region.Default().Bounds(stored.Region, 0).Contains(stored.Position) {
				t.Errorf("stored position %+v outside %s", stored.Position, stored.Region)
			}
		})
	}
}

func TestUpsertEntityRebuildsSimulation(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/entities", `{"id":"m9","region":"idea_stock","kind":"memo"}`)
	if _, ok := f.engine.Positions()["m9"]; !ok {
		t.Error("new entity not simulated")
	}
}

func TestDeleteEntity(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodDelete, "/api/entities/m1", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("first delete = %d", resp.Code)
	}
	resp := f.do(t, http.MethodDelete, "/api/entities/m1", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", resp.Code)
	}
	if got := decodeError(t, resp).Code; got != errors.ErrCodeEntityNotFound {
		t.Errorf("code = %s", got)
	}
}

func TestLinks(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/api/links", `{"id":"t1-m1","source":"t1","target":"m1","kind":"learning"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", resp.Code, resp.Body.String())
	}
	if _, ok := f.st.Link("t1-m1"); !ok {
		t.Fatal("link not stored")
	}
	if resp := f.do(t, http.MethodPost, "/api/links", `{"id":"bad","source":"t1","target":"m1","kind":"hug"}`); resp.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d", resp.Code)
	}
	if resp := f.do(t, http.MethodDelete, "/api/links/t1-m1", ""); resp.Code != http.StatusNoContent {
		t.Errorf("delete = %d", resp.Code)
	}
	if resp := f.do(t, http.MethodDelete, "/api/links/t1-m1", ""); resp.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", resp.Code)
	}
}

func TestDragProtocol(t *testing.T) {
	f := newFixture(t, nil)
	steps := []struct {
		path   string
		body   string
		status int
	}{
		{"/api/drag/m1/start", "", http.StatusNoContent},
		{"/api/drag/m1/move", `{"x":700,"y":"720"}`, http.StatusNoContent},
		{"/api/drag/m1/move", `{"x":"NaN","y":1}`, http.StatusBadRequest},
		{"/api/drag/m1/end", "", http.StatusNoContent},
		{"/api/drag/m1/end", "", http.StatusConflict},
		{"/api/drag/nope/start", "", http.StatusNotFound},
	}
	for _, s := range steps {
		resp := f.do(t, http.MethodPost, s.path, s.body)
		if resp.Code != s.status {
			t.Fatalf("POST %s %s = %d, want %d: %s", s.path, s.body, resp.Code, s.status, resp.Body.String())
		}
	}
	e, _ := f.st.Entity("m1")
	if e.Position != (graph.Position{X: 700, Y: 720}) {
		t.Errorf("drop position = %+v, want (700, 720)", e.Position)
	}
}

func TestSelection(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/api/selection/m1", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("select = %d", resp.Code)
	}
	var body selectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Buttons) != 3 {
		t.Errorf("memo has %d buttons, want 3", len(body.Buttons))
	}
	if resp := f.do(t, http.MethodDelete, "/api/entities/"+body.Buttons[0].ID, ""); resp.Code != http.StatusBadRequest {
		t.Errorf("deleting a button = %d", resp.Code)
	}
	if resp := f.do(t, http.MethodDelete, "/api/selection", ""); resp.Code != http.StatusNoContent {
		t.Errorf("deselect = %d", resp.Code)
	}
	if n := len(f.st.VirtualIDs()); n != 0 {
		t.Errorf("%d buttons remain", n)
	}
	if resp := f.do(t, http.MethodPost, "/api/selection/nope", ""); resp.Code != http.StatusNotFound {
		t.Errorf("select unknown = %d", resp.Code)
	}
}

func TestViewport(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		wakeMS int64
	}{
		{"default", "", http.StatusOK, 1000},
		{"explicit", `{"wake_ms":250}`, http.StatusOK, 250},
		{"capped", `{"wake_ms":60000}`, http.StatusOK, 2000},
		{"negative", `{"wake_ms":-1}`, http.StatusBadRequest, 0},
		{"garbage", `wake`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.MaxWake = 2 * time.Second })
			resp := f.do(t, http.MethodPost, "/api/viewport", tt.body)
			if resp.Code != tt.status {
				t.Fatalf("status = %d, want %d", resp.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var body map[string]int64
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["wake_ms"] != tt.wakeMS {
				t.Errorf("wake_ms = %d, want %d", body["wake_ms"], tt.wakeMS)
			}
		})
	}
}

func TestFlush(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t, nil)
		if resp := f.do(t, http.MethodPost, "/api/flush", ""); resp.Code != http.StatusNoContent {
			t.Fatalf("status = %d", resp.Code)
		}
		if f.flusher.calls != 1 {
			t.Errorf("Flush called %d times", f.flusher.calls)
		}
	})
	t.Run("closed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.flusher.err = persist.ErrClosed
		if resp := f.do(t, http.MethodPost, "/api/flush", ""); resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", resp.Code)
		}
	})
	t.Run("no backend", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Flusher = nil })
		if resp := f.do(t, http.MethodPost, "/api/flush", ""); resp.Code != http.StatusNotImplemented {
			t.Fatalf("status = %d", resp.Code)
		}
	})
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/metrics", ""); resp.Code != http.StatusNotFound {
		t.Errorf("without handler = %d", resp.Code)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "up 1\n") })
	f = newFixture(t, func(o *Options) { o.Metrics = metrics })
	resp := f.do(t, http.MethodGet, "/metrics", "")
	if resp.Code != http.StatusOK || resp.Body.String() != "up 1\n" {
		t.Errorf("with handler = %d %q", resp.Code, resp.Body.String())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err    error
		code   errors.Code
		status int
	}{
		{layout.ErrNotFound, errors.ErrCodeEntityNotFound, http.StatusNotFound},
		{layout.ErrNotDragging, errors.ErrCodeConflict, http.StatusConflict},
		{layout.ErrNotSelectable, errors.ErrCodeInvalidEntity, http.StatusBadRequest},
		{layout.ErrClosed, errors.ErrCodeClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("flush: %w", context.DeadlineExceeded), errors.ErrCodeTimeout, http.StatusGatewayTimeout},
		{errors.New(errors.ErrCodeStorage, "write"), errors.ErrCodeStorage, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, errors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			code := codeOf(tt.err)
			if code != tt.code {
				t.Errorf("codeOf(%v) = %s, want %s", tt.err, code, tt.code)
			}
			if got := code.HTTPStatus(); got != tt.status {
				t.Errorf("%s.HTTPStatus() = %d, want %d", code, got, tt.status)
			}
		})
	}
}

type recordingHTTPHooks struct {
	observability.NoopHTTPHooks
	mu     sync.Mutex
	routes []string
}

func (h *recordingHTTPHooks) OnResponse(_ context.Context, method, route string, status int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

func TestInstrumentReportsRoutePattern(t *testing.T) {
	hooks := &recordingHTTPHooks{}
	observability.SetHTTPHooks(hooks)
	t.Cleanup(observability.Reset)

	f := newFixture(t, nil)
	f.do(t, http.MethodDelete, "/api/entities/m1", "")
	f.do(t, http.MethodPost, "/api/drag/t1/start", "")

	want := []string{"DELETE /api/entities/{id} 204", "POST /api/drag/{id}/start 204"}
	if strings.Join(hooks.routes, "|") != strings.Join(want, "|") {
		t.Errorf("routes = %v, want %v", hooks.routes, want)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("first line = %q", lines.Text())
	}

	f.st.DeleteLink("m1-t1", "test")

	var name, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if name == EventChange && data != "" {
			break
		}
		if line == "" {
			name, data = "", ""
		}
	}
	var ev changeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if ev.Op != store.OpDeleteLink || ev.ID != "m1-t1" || !ev.Structural {
		t.Errorf("change = %+v", ev)
	}
}

func TestCloseEndsEventStreams(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.server.hub.subscribe()
	defer cancel()
	f.server.Close()
	if _, ok := <-events; ok {
		t.Error("event channel still open after Close")
	}
}

// nextEvent returns the data of the next event called name.
func nextEvent(t *testing.T, lines *bufio.Scanner, name string) string {
	t.Helper()
	var got, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			got = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if got == name && data != "" {
				return data
			}
			got, data = "", ""
		}
	}
	t.Fatalf("stream ended before a %s event: %v", name, lines.Err())
	return ""
}

func TestPersistErrorsReachEventStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("first line = %q", lines.Text())
	}

	cause := errors.Wrap(errors.ErrCodeStorageUnavailable, fmt.Errorf("connection refused"), "write positions")
	f.server.ReportPersistError(cause, []graph.PositionUpdate{
		{ID: "m1", Position: graph.Position{X: 1, Y: 2}},
		{ID: "t1", Position: graph.Position{X: 3, Y: 4}},
	})

	var ev persistErrorEvent
	data := nextEvent(t, lines, EventPersistError)
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if ev.Code != errors.ErrCodeStorageUnavailable || ev.Message != "write positions" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.IDs) != 2 || ev.IDs[0] != "m1" || ev.IDs[1] != "t1" {
		t.Errorf("ids = %v", ev.IDs)
	}
}

func TestPersistErrorDefaultsToStorageCode(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.server.hub.subscribe()
	defer cancel()

	f.server.ReportPersistError(fmt.Errorf("disk full"), []graph.PositionUpdate{{ID: "m1"}})

	var got persistErrorEvent
	if err := json.Unmarshal(waitFor(t, events, EventPersistError).data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Code != errors.ErrCodeStorage || got.Message != "disk full" {
		t.Errorf("event = %+v", got)
	}
}

func TestBatcherFailuresReachEventStream(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.server.hub.subscribe()
	defer cancel()

	b := persist.NewBatcher(failingWriter{}, persist.BatcherOptions{
		Debounce: time.Hour,
		Backoff:  persist.Backoff{Attempts: 1},
		Logger:   log.New(io.Discard),
		OnError:  f.server.ReportPersistError,
	})
	b.Enqueue(graph.PositionUpdate{ID: "t1", Position: graph.Position{X: 5, Y: 5}})
	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("Flush succeeded against a failing writer")
	}

	waitFor(t, events, EventPersistError)
}

func waitFor(t *testing.T, events <-chan event, name string) event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before a %s event", name)
			}
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
		}
	}
}

type failingWriter struct{}

func (failingWriter) WritePositions(context.Context, []graph.PositionUpdate) error {
	return fmt.Errorf("backend down")
}
