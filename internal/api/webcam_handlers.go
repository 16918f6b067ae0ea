package api

import (
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/webcam"
)

// listWebcams handles GET /v1/webcams?live=. It returns
// {"webcams": [...], "count": n} ordered by source then numeric identifier.
func (s *Server) listWebcams(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store unavailable")
		return
	}
	liveOnly, err := parseBoolParam(r, "live")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var records []metadata.Metadata
	if liveOnly {
		records = s.meta.Live()
	} else {
		records = s.meta.All()
	}
	if records == nil {
		records = []metadata.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"webcams": records,
		"count":   len(records),
	})
}

// getWebcam handles GET /v1/webcams/{source}/{identifier}. Unknown webcams
// are 404; the handler never scrapes.
func (s *Server) getWebcam(w http.ResponseWriter, r *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store unavailable")
		return
	}
	source, identifier, err := parseWebcamKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, ok := s.meta.Lookup(source, identifier)
	if !ok {
		writeError(w, http.StatusNotFound, "webcam not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webcam": m})
}

type frameDTO struct {
	Name       string     `json:"name"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// listFrames handles GET /v1/webcams/{source}/{identifier}/frames?sorted=.
// Frame names are relative to the frames root.
func (s *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	source, identifier, err := parseWebcamKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sorted, err := parseBoolParam(r, "sorted")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	frames, err := webcam.ListFrames(webcam.Dir(s.cfg.FramesDir, source, identifier))
	if err != nil {
		s.logger.Error("list frames failed",
			zap.String("source", source),
			zap.String("identifier", identifier),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list frames")
		return
	}
	if sorted {
		sort.Strings(frames)
	}

	dir := webcam.DirName(source, identifier)
	out := make([]frameDTO, 0, len(frames))
	for _, f := range frames {
		dto := frameDTO{Name: path.Join(dir, filepath.Base(f))}
		if ts, err := webcam.FrameTime(f); err == nil {
			dto.CapturedAt = &ts
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frames": out,
		"count":  len(out),
	})
}

func parseWebcamKey(r *http.Request) (string, string, error) {
	source := chi.URLParam(r, "source")
	identifier := chi.URLParam(r, "identifier")
	if !safeSegment(source) {
		return "", "", errors.New("invalid source")
	}
	if !safeSegment(identifier) {
		return "", "", errors.New("invalid identifier")
	}
	return source, identifier, nil
}

// safeSegment rejects values that could escape the frames root.
func safeSegment(v string) bool {
	return v != "" && v != "." && v != ".." && !strings.ContainsAny(v, `/\`)
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return v, nil
}
