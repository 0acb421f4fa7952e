package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leanspace/flowboard/pkg/buildinfo"
	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
)

type regionBounds struct {
	Region graph.Region `json:"region"`
	MinX   float64      `json:"min_x"`
	MinY   float64      `json:"min_y"`
	MaxX   float64      `json:"max_x"`
	MaxY   float64      `json:"max_y"`
}

type boardResponse struct {
	graph.Graph
	Regions  []regionBounds `json:"regions"`
	Selected string         `json:"selected,omitempty"`
	Settled  bool           `json:"settled"`
}

type positionsResponse struct {
	Positions map[string]graph.Position `json:"positions"`
	Alpha     float64                   `json:"alpha"`
	Settled   bool                      `json:"settled"`
}

type selectionResponse struct {
	Selected string         `json:"selected"`
	Buttons  []graph.Entity `json:"buttons"`
}

type viewportRequest struct {
	WakeMS int64 `json:"wake_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Get()})
}

func (s *Server) handleBoard(w http.ResponseWriter, _ *http.Request) {
	g := s.opts.Engine.Board()
	g.Sort()
	hint := s.opts.Engine.BuildHint()
	resp := boardResponse{
		Graph:    g,
		Regions:  make([]regionBounds, 0, len(graph.Regions)),
		Selected: s.opts.Engine.Selected(),
		Settled:  s.opts.Engine.Settled(),
	}
	for _, r := range graph.Regions {
		b := s.opts.Geometry.Bounds(r, hint)
		resp.Regions = append(resp.Regions, regionBounds{Region: r, MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, positionsResponse{
		Positions: s.opts.Engine.Positions(),
		Alpha:     s.opts.Engine.Alpha(),
		Settled:   s.opts.Engine.Settled(),
	})
}

// handleUpsertEntity stores an entity. A missing id is generated; a missing
// or invalid position is replaced by the region fallback.
func (s *Server) handleUpsertEntity(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := graph.UnmarshalEntity(body)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidEntity, err, "decode entity"))
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := errors.ValidateEntity(e); err != nil {
		writeError(w, err)
		return
	}
	_, exists := s.opts.Store.Entity(e.ID)
	if !e.Position.Finite() {
		hint := s.opts.Engine.BuildHint()
		e.Position = s.opts.Geometry.Fallback(e.ID, e.Region, hint)
	}
	e.Position = s.opts.Geometry.Clamp(e.Region, e.Position, s.opts.Engine.BuildHint())
	s.opts.Store.UpsertEntity(e, Origin)

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, e)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if e, ok := s.opts.Store.Entity(id); ok && e.Virtual {
		writeError(w, errors.New(errors.ErrCodeInvalidEntity, "entity %s is virtual", id))
		return
	}
	if !s.opts.Store.DeleteEntity(id, Origin) {
		writeError(w, errors.New(errors.ErrCodeEntityNotFound, "entity %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertLink(w http.ResponseWriter, r *http.Request) {
	var l graph.Link
	if err := decodeJSON(w, r, &l); err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidLink, err, "decode link"))
		return
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := errors.ValidateLink(l); err != nil {
		writeError(w, err)
		return
	}
	_, exists := s.opts.Store.Link(l.ID)
	s.opts.Store.UpsertLink(l, Origin)

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, l)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if l, ok := s.opts.Store.Link(id); ok && l.Synthetic {
		writeError(w, errors.New(errors.ErrCodeInvalidLink, "link %s is synthetic", id))
		return
	}
	if !s.opts.Store.DeleteLink(id, Origin) {
		writeError(w, errors.New(errors.ErrCodeLinkNotFound, "link %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDragStart(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Engine.DragStart(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDragMove moves the pin. The body is a position object; it goes
// through the same validated parse as stored positions.
func (s *Server) handleDragMove(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, ok := graph.ParsePosition(body)
	if !ok {
		writeError(w, errors.New(errors.ErrCodeInvalidPosition, "drag position must have finite x and y"))
		return
	}
	if err := s.opts.Engine.DragMove(chi.URLParam(r, "id"), p.X, p.Y); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Engine.DragEnd(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	btns, err := s.opts.Engine.Select(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Selected: id, Buttons: btns})
}

func (s *Server) handleDeselect(w http.ResponseWriter, _ *http.Request) {
	s.opts.Engine.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

// handleViewport keeps frames running briefly after a pan or zoom. An empty
// body asks for the default window.
func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := decodeJSON(w, r, &req); err != nil && err != io.EOF {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode viewport"))
		return
	}
	if req.WakeMS < 0 {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "wake_ms must not be negative"))
		return
	}
	d := DefaultWake
	if req.WakeMS > 0 {
		d = time.Duration(req.WakeMS) * time.Millisecond
	}
	d = min(d, s.opts.MaxWake)
	s.opts.Engine.Wake(d)
	writeJSON(w, http.StatusOK, map[string]int64{"wake_ms": d.Milliseconds()})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if s.opts.Flusher == nil {
		writeError(w, errors.New(errors.ErrCodeUnsupported, "no persistence backend configured"))
		return
	}
	if err := s.opts.Flusher.Flush(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read body")
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
