// Package worker implements the frame fetch loop run by each member of the
// session's worker pool.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/metrics"
)

const defaultFetchTimeout = 10 * time.Second

// Camera is the unit of work: one webcam whose current frame is fetched.
type Camera interface {
	Source() string
	Identifier() string
	FetchCurrentFrame(ctx context.Context, timeout time.Duration) bool
}

// Queue is the consuming side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) (Camera, error)
}

// Config controls Worker behavior.
type Config struct {
	FetchTimeout time.Duration
}

// Stats counts the fetches one worker attempted.
type Stats struct {
	Attempts  int
	Succeeded int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Attempts += other.Attempts
	s.Succeeded += other.Succeeded
}

// Worker consumes cameras from the queue and fetches one frame per item.
type Worker struct {
	id     int
	queue  Queue
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, cfg Config, logger *zap.Logger) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run consumes the queue until until passes or ctx ends. Waiting on an
// empty queue is abandoned at until; a fetch already in progress is allowed
// to finish within its own timeout.
func (w *Worker) Run(ctx context.Context, until time.Time) Stats {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	var stats Stats
	for ctx.Err() == nil && time.Now().Before(until) {
		cam, ok := w.next(ctx, until)
		if !ok {
			break
		}
		stats.Attempts++
		// Failures are logged by the camera; the next cycle retries.
		if cam.FetchCurrentFrame(ctx, w.cfg.FetchTimeout) {
			stats.Succeeded++
		}
	}
	w.logger.Debug("worker stopped",
		zap.Int("attempts", stats.Attempts),
		zap.Int("succeeded", stats.Succeeded))
	return stats
}

func (w *Worker) next(ctx context.Context, until time.Time) (Camera, bool) {
	waitCtx, cancel := context.WithDeadline(ctx, until)
	defer cancel()

	cam, err := w.queue.Dequeue(waitCtx)
	if err != nil {
		if waitCtx.Err() == nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("queue dequeue failed", zap.Error(err))
		}
		return nil, false
	}
	w.logger.Debug("dequeued webcam",
		zap.String("source", cam.Source()),
		zap.String("identifier", cam.Identifier()))
	return cam, true
}
