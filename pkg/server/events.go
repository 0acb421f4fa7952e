package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/store"
)

// Event names on /api/events.
const (
	EventFrame        = "frame"
	EventChange       = "change"
	EventPersistError = "persist_error"
)

// clientBuffer is how many events a slow subscriber may lag behind before
// events are dropped for it.
const clientBuffer = 64

type event struct {
	name string
	data []byte
}

type frameEvent struct {
	Positions map[string]graph.Position `json:"positions"`
	Overlay   map[string]graph.Position `json:"overlay,omitempty"`
	Alpha     float64                   `json:"alpha"`
	Settled   bool                      `json:"settled"`
}

// changeEvent tells clients what changed. Structural changes mean the board
// should be fetched again.
type changeEvent struct {
	Op         store.Op `json:"op"`
	ID         string   `json:"id,omitempty"`
	Origin     string   `json:"origin"`
	Structural bool     `json:"structural"`
}

// persistErrorEvent reports a position batch that could not be written. The
// positions stay on the board; they are written again on their next move.
type persistErrorEvent struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	IDs     []string    `json:"ids"`
}

// hub fans events out to event stream clients. Publishing never blocks.
type hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[chan event]struct{}
	closed  bool
}

func newHub(logger *log.Logger) *hub {
	return &hub{logger: logger, clients: make(map[chan event]struct{})}
}

func (h *hub) subscribe() (<-chan event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan event, clientBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.clients[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *hub) publish(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("event not encoded", "event", name, "err", err)
		return
	}
	ev := event{name: name, data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) frame(f layout.Frame) {
	if h.empty() {
		return
	}
	h.publish(EventFrame, frameEvent{Positions: f.Positions, Overlay: f.Overlay, Alpha: f.Alpha, Settled: f.Settled})
}

func (h *hub) change(c store.Change) {
	if h.empty() {
		return
	}
	ev := changeEvent{Op: c.Op, Origin: c.Origin, Structural: c.Structural}
	switch c.Op {
	case store.OpUpsertEntity:
		ev.ID = c.Entity.ID
	case store.OpUpsertLink:
		ev.ID = c.Link.ID
	case store.OpDeleteEntity, store.OpDeleteLink:
		ev.ID = c.ID
	}
	h.publish(EventChange, ev)
}

func (h *hub) persistError(err error, batch []graph.PositionUpdate) {
	if h.empty() {
		return
	}
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeStorage
	}
	ids := make([]string, len(batch))
	for i, u := range batch {
		ids[i] = u.ID
	}
	h.publish(EventPersistError, persistErrorEvent{Code: code, Message: errors.UserMessage(err), IDs: ids})
}

func (h *hub) empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) == 0
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// handleEvents streams frames and store changes until the client goes away
// or the server closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	events, cancel := s.hub.subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		}
	}
}
