package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/session"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
	sessionTimeout      = 3 * time.Second
)

type sessionDTO struct {
	ID              string     `json:"id"`
	Source          string     `json:"source,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Webcams         int        `json:"webcams"`
	Workers         int        `json:"workers"`
	PeriodSeconds   float64    `json:"period_seconds"`
	DurationSeconds float64    `json:"duration_seconds"`
	Cycles          int        `json:"cycles"`
	Enqueued        int        `json:"enqueued"`
	Attempts        int        `json:"attempts"`
	Succeeded       int        `json:"succeeded"`
	FallingBehind   int        `json:"falling_behind"`
}

// listSessions handles GET /v1/sessions?limit=&offset=. It returns
// {"sessions": [...]} newest first, 400 for bad paging, 503 without a
// session reader, or 500 if the reader fails.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), sessionTimeout)
	defer cancel()

	records, err := s.sessions.ListSessions(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": toSessionDTOs(records)})
}

// getSession handles GET /v1/sessions/{session_id}. Session IDs are UUIDs;
// malformed IDs are 400 and unknown ones 404.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session history unavailable")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), sessionTimeout)
	defer cancel()

	rec, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(rec)})
}

func parseSessionID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return "", errors.New("session_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.New("invalid session_id")
	}
	return id.String(), nil
}

func parseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := defLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func toSessionDTOs(records []session.Record) []sessionDTO {
	out := make([]sessionDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toSessionDTO(rec))
	}
	return out
}

func toSessionDTO(rec session.Record) sessionDTO {
	return sessionDTO{
		ID:              rec.ID,
		Source:          rec.Source,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
		Webcams:         rec.Webcams,
		Workers:         rec.Workers,
		PeriodSeconds:   rec.Period.Seconds(),
		DurationSeconds: rec.Duration.Seconds(),
		Cycles:          rec.Cycles,
		Enqueued:        rec.Enqueued,
		Attempts:        rec.Attempts,
		Succeeded:       rec.Succeeded,
		FallingBehind:   rec.FallingBehind,
	}
}
