// Package session runs one bounded frame-harvesting session: a dispatcher
// and a fixed worker pool sharing an unbounded work queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/dispatcher"
	"github.com/JakeFAU/webcam-harvester/internal/queue/memory"
	"github.com/JakeFAU/webcam-harvester/internal/webcam"
	"github.com/JakeFAU/webcam-harvester/internal/worker"
)

// ErrNotFound is returned by history readers for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// IDGenerator produces session identifiers for logs.
type IDGenerator interface {
	NewID() (string, error)
}

// Record is the persisted summary of one session.
type Record struct {
	ID            string
	Source        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Webcams       int
	Workers       int
	Period        time.Duration
	Duration      time.Duration
	Cycles        int
	Enqueued      int
	Attempts      int
	Succeeded     int
	FallingBehind int
}

// Recorder persists session history.
type Recorder interface {
	StartSession(ctx context.Context, rec Record) error
	FinishSession(ctx context.Context, rec Record) error
}

// Config is the immutable input of one session.
type Config struct {
	// Source labels the session in its history record.
	Source string
	// Webcams is the fixed webcam set. Only live webcams are scheduled.
	Webcams      []*webcam.Webcam
	Period       time.Duration
	Duration     time.Duration
	Workers      int
	FetchTimeout time.Duration
}

// Validate checks the timing and pool settings.
func (c Config) Validate() error {
	var errs []error
	if c.Period <= 0 {
		errs = append(errs, errors.New("period must be positive"))
	}
	if c.Duration <= 0 {
		errs = append(errs, errors.New("duration must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Runner starts sessions.
type Runner struct {
	ids      IDGenerator
	recorder Recorder
	logger   *zap.Logger
}

// NewRunner constructs a Runner. ids and recorder may be nil.
func NewRunner(ids IDGenerator, recorder Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{ids: ids, recorder: recorder, logger: logger}
}

// Run executes a session and blocks until the dispatcher and every worker
// have stopped, which happens once cfg.Duration elapses or ctx ends.
func (r *Runner) Run(ctx context.Context, cfg Config) (dispatcher.Result, error) {
	if err := cfg.Validate(); err != nil {
		return dispatcher.Result{}, fmt.Errorf("invalid session config: %w", err)
	}
	logger := r.logger
	var id string
	if r.ids != nil {
		var err error
		if id, err = r.ids.NewID(); err != nil {
			return dispatcher.Result{}, fmt.Errorf("session id: %w", err)
		}
		logger = logger.With(zap.String("session_id", id))
	}

	live := make([]worker.Camera, 0, len(cfg.Webcams))
	for _, cam := range cfg.Webcams {
		if !cam.IsLive() {
			logger.Debug("skipping webcam that is not live", zap.Stringer("webcam", cam))
			continue
		}
		live = append(live, cam)
	}
	logger.Info("session starting",
		zap.Int("webcams", len(live)),
		zap.Int("skipped", len(cfg.Webcams)-len(live)),
		zap.Duration("period", cfg.Period),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers))

	queue := memory.NewQueue[worker.Camera]()
	defer queue.Close()

	workers := make([]*worker.Worker, 0, cfg.Workers)
	for i := range cfg.Workers {
		workers = append(workers, worker.New(i+1, queue, worker.Config{
			FetchTimeout: cfg.FetchTimeout,
		}, logger.Named("worker")))
	}

	d := dispatcher.New(queue, workers, dispatcher.Config{
		Webcams:  live,
		Period:   cfg.Period,
		Duration: cfg.Duration,
	}, logger.Named("dispatcher"))

	rec := Record{
		ID:        id,
		Source:    cfg.Source,
		StartedAt: time.Now().UTC(),
		Webcams:   len(live),
		Workers:   cfg.Workers,
		Period:    cfg.Period,
		Duration:  cfg.Duration,
	}
	r.record(ctx, logger, rec, Recorder.StartSession)

	result := d.Run(ctx)

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	rec.Cycles = result.Cycles
	rec.Enqueued = result.Enqueued
	rec.Attempts = result.Attempts
	rec.Succeeded = result.Succeeded
	rec.FallingBehind = result.FallingBehind
	r.record(context.WithoutCancel(ctx), logger, rec, Recorder.FinishSession)

	logger.Info("session finished",
		zap.Int("cycles", result.Cycles),
		zap.Int("attempts", result.Attempts),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("unprocessed", queue.Len()))
	return result, nil
}

// record writes session history. History is best effort and never stops a
// session.
func (r *Runner) record(
	ctx context.Context,
	logger *zap.Logger,
	rec Record,
	write func(Recorder, context.Context, Record) error,
) {
	if r.recorder == nil || rec.ID == "" {
		return
	}
	if err := write(r.recorder, ctx, rec); err != nil {
		logger.Warn("session history write failed", zap.Error(err))
	}
}

// Run executes a session with a default Runner.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (dispatcher.Result, error) {
	return NewRunner(nil, nil, logger).Run(ctx, cfg)
}
