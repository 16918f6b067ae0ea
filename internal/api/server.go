package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/metrics"
	"github.com/JakeFAU/webcam-harvester/internal/middleware"
	"github.com/JakeFAU/webcam-harvester/internal/session"
)

const (
	defaultRequestTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// MetadataReader is the read side of the metadata store. Reads never
// trigger a scrape.
type MetadataReader interface {
	All() []metadata.Metadata
	Live() []metadata.Metadata
	Lookup(source, identifier string) (metadata.Metadata, bool)
}

// SessionReader lists recorded harvest sessions.
type SessionReader interface {
	ListSessions(ctx context.Context, limit, offset int) ([]session.Record, error)
	GetSession(ctx context.Context, id string) (session.Record, error)
}

// Config controls the status server.
type Config struct {
	// FramesDir is the root that holds one directory per webcam.
	FramesDir      string
	RequestTimeout time.Duration
}

// Server wires the status handlers to a chi router.
type Server struct {
	router   chi.Router
	meta     MetadataReader
	sessions SessionReader
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. sessions may
// be nil, in which case the session routes answer 503.
func NewServer(meta MetadataReader, sessions SessionReader, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		meta:     meta,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/webcams", func(r chi.Router) {
			r.Get("/", s.listWebcams)
			r.Route("/{source}/{identifier}", func(r chi.Router) {
				r.Get("/", s.getWebcam)
				r.Get("/frames", s.listFrames)
			})
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{session_id}", s.getSession)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
