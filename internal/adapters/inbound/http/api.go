package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
)

const maxBodyBytes = 4 << 10

type settingsRequest struct {
	Input string `json:"input"`
}

type settingsResponse struct {
	Kind    entity.SettingKind `json:"kind"`
	Message string             `json:"message"`
	Status  entity.Summary     `json:"status"`
}

type historyResponse struct {
	Attempts []attemptView `json:"attempts"`
}

type attemptView struct {
	entity.OrderAttempt
	OrderID   string `json:"order_id"`
	Succeeded bool   `json:"succeeded"`
}

func viewOf(a entity.OrderAttempt) attemptView {
	return attemptView{OrderAttempt: a, OrderID: a.OrderID(), Succeeded: a.Succeeded()}
}

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/archive", s.handleArchive)
	mux.HandleFunc("GET /api/ads/{id}", s.handleAd)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/autostart/toggle", s.handleToggleAutoStart)
	mux.HandleFunc("POST /api/settings", s.handleSettings)
	mux.HandleFunc("POST /api/orders/{id}/paid", s.handleMarkPaid)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.controller.Status(r.Context()))
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.historyLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func historyOf(attempts []entity.OrderAttempt) historyResponse {
	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, viewOf(a))
	}
	return historyResponse{Attempts: views}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, historyOf(s.controller.History(r.Context(), limit)))
}

// handleArchive lists attempts from the long-term archive, which outlives
// the in-state retention window.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, http.StatusNotFound, "attempt archive not configured")
		return
	}
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = s.historyLimit
	}
	attempts, err := s.archive.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing archived attempts failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, historyOf(attempts))
}

func (s *Server) handleAd(w http.ResponseWriter, r *http.Request) {
	a, err := s.controller.FindAttempt(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StartWatching(r.Context()); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.controller.Status(r.Context()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StopWatching(r.Context()); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.controller.Status(r.Context()))
}

func (s *Server) handleToggleAutoStart(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.controller.ToggleAutoStart(r.Context())
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"auto_start": enabled})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		s.respondError(w, http.StatusBadRequest, "input is required")
		return
	}

	change, err := s.controller.ApplySettingInput(r.Context(), req.Input)
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settingsResponse{
		Kind:    change.Kind,
		Message: change.Describe(),
		Status:  s.controller.Status(r.Context()),
	})
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if err := s.controller.MarkPaid(r.Context(), orderID); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "paid", "order_id": orderID})
}

// respondControlError maps controller errors to status codes. Anything not
// caused by the caller is logged and reported as a 500.
func (s *Server) respondControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inbound.ErrAttemptNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inbound.ErrNoOrder), entity.IsInputError(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inbound.ErrGatewayUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("control request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
