package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/pkg/checklist"
	"github.com/dlovans/taxflow/pkg/dataview"
	"github.com/dlovans/taxflow/pkg/factgraph"
	"github.com/dlovans/taxflow/pkg/navigate"
	"github.com/dlovans/taxflow/pkg/store"
)

var errNoStore = errors.New("no return store configured")

// Request is the body of every evaluation endpoint. Exactly one of State
// and ReturnID names the return.
type Request struct {
	ReturnID string           `json:"returnId,omitempty"`
	State    *factgraph.State `json:"state,omitempty"`
	Route    string           `json:"route,omitempty"`
	ItemID   string           `json:"itemId,omitempty"`
	// ExcludedCategories applies to the checklist; absent means the
	// knockout category only.
	ExcludedCategories []string `json:"excludedCategories,omitempty"`
}

// NextResponse answers /v1/next and /v1/first.
type NextResponse struct {
	navigate.Destination
	Terminal bool `json:"terminal"`
}

// IncompleteResponse answers /v1/incomplete.
type IncompleteResponse struct {
	Found       bool                  `json:"found"`
	Destination *navigate.Destination `json:"destination,omitempty"`
}

// DataViewResponse answers /v1/dataview.
type DataViewResponse struct {
	Sections []dataview.Section `json:"sections"`
}

// ChecklistResponse answers /v1/checklist.
type ChecklistResponse struct {
	Categories []checklist.Category `json:"categories"`
}

// VerifyResponse answers /v1/verify.
type VerifyResponse struct {
	Valid      bool                 `json:"valid"`
	Mismatches []factgraph.Mismatch `json:"mismatches,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// ReturnResponse carries a stored return.
type ReturnResponse struct {
	ReturnID string           `json:"returnId"`
	State    *factgraph.State `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	e := s.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"files":   len(e.Files),
		"screens": len(e.Graph.Screens()),
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	req, snap, e, ok := s.prepare(w, r, true)
	if !ok {
		return
	}
	d, err := e.Navigator.NextScreen(req.Route, req.ItemID, snap)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextResponse{Destination: d, Terminal: d.Terminal()})
}

func (s *Server) handleFirst(w http.ResponseWriter, r *http.Request) {
	req, snap, e, ok := s.prepare(w, r, true)
	if !ok {
		return
	}
	d, err := e.Navigator.FirstAvailable(req.Route, req.ItemID, snap)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextResponse{Destination: d, Terminal: d.Terminal()})
}

func (s *Server) handleIncomplete(w http.ResponseWriter, r *http.Request) {
	req, snap, e, ok := s.prepare(w, r, true)
	if !ok {
		return
	}
	d, found, err := e.Navigator.FirstIncompleteScreen(req.Route, req.ItemID, snap)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := IncompleteResponse{Found: found}
	if found {
		resp.Destination = &d
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDataView(w http.ResponseWriter, r *http.Request) {
	req, snap, e, ok := s.prepare(w, r, true)
	if !ok {
		return
	}
	sections, err := e.Projector.ProjectSubcategory(req.Route, snap, req.ItemID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataViewResponse{Sections: sections})
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	req, snap, e, ok := s.prepare(w, r, false)
	if !ok {
		return
	}
	cats, err := e.Checklist(snap, checklist.Options{ExcludedCategories: req.ExcludedCategories})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChecklistResponse{Categories: cats})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var doc factgraph.Document
	if !decode(w, r, &doc) {
		return
	}
	valid, err := factgraph.Verify(s.Engine().Dictionary, &doc)
	resp := VerifyResponse{Valid: valid}
	var ve *factgraph.VerifyError
	switch {
	case errors.As(err, &ve):
		resp.Mismatches = ve.Mismatches
		resp.Error = err.Error()
	case err != nil:
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReturns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.fail(w, errNoStore)
		return
	}
	ids, err := s.store.Returns(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"returns": ids})
}

func (s *Server) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	s.putReturn(w, r, s.newID(), http.StatusCreated)
}

func (s *Server) handlePutReturn(w http.ResponseWriter, r *http.Request) {
	s.putReturn(w, r, r.PathValue("id"), http.StatusOK)
}

// putReturn validates the posted state against the dictionary before
// storing it.
func (s *Server) putReturn(w http.ResponseWriter, r *http.Request, id string, status int) {
	if s.store == nil {
		s.fail(w, errNoStore)
		return
	}
	var body struct {
		State *factgraph.State `json:"state"`
	}
	if !decode(w, r, &body) {
		return
	}
	g, err := s.Engine().Restore(body.State)
	if err != nil {
		s.fail(w, err)
		return
	}
	state := g.Snapshot().State()
	if err := s.store.Save(r.Context(), id, state); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, ReturnResponse{ReturnID: id, State: state})
}

func (s *Server) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.fail(w, errNoStore)
		return
	}
	id := r.PathValue("id")
	state, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReturnResponse{ReturnID: id, State: state})
}

func (s *Server) handleDeleteReturn(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.fail(w, errNoStore)
		return
	}
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// prepare decodes the request and rebuilds the return it names. The engine
// is pinned so the whole request sees one flow.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request, needRoute bool) (Request, *factgraph.Snapshot, *engine.Engine, bool) {
	var req Request
	if !decode(w, r, &req) {
		return req, nil, nil, false
	}
	if needRoute && req.Route == "" {
		writeError(w, http.StatusBadRequest, "route is required")
		return req, nil, nil, false
	}

	state := req.State
	if req.ReturnID != "" {
		if state != nil {
			writeError(w, http.StatusBadRequest, "send either state or returnId, not both")
			return req, nil, nil, false
		}
		if s.store == nil {
			s.fail(w, errNoStore)
			return req, nil, nil, false
		}
		loaded, err := s.store.Load(r.Context(), req.ReturnID)
		if err != nil {
			s.fail(w, err)
			return req, nil, nil, false
		}
		state = loaded
	}

	e := s.Engine()
	g, err := e.Restore(state)
	if err != nil {
		s.fail(w, err)
		return req, nil, nil, false
	}
	return req, g.Snapshot(), e, true
}

// fail maps an error onto a status code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, navigate.ErrUnknownRoute),
		errors.Is(err, dataview.ErrUnknownSubcategory),
		errors.Is(err, dataview.ErrUnknownLoop),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, factgraph.ErrInvalidValue),
		errors.Is(err, factgraph.ErrUnknownFact),
		errors.Is(err, factgraph.ErrNotWritable),
		errors.Is(err, factgraph.ErrUnknownItem),
		errors.Is(err, factgraph.ErrInvalidPath),
		errors.Is(err, factgraph.ErrUnboundWildcard),
		errors.Is(err, factgraph.ErrNotCollection):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errNoStore):
		status = http.StatusNotImplemented
	}
	// strict mode surfaces flow configuration errors here
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func newReturnID() string { return uuid.NewString() }
