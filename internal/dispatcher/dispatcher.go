// Package dispatcher enqueues the session's webcams every period and fans
// the queue out to the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/metrics"
	"github.com/JakeFAU/webcam-harvester/internal/worker"
)

// Queue is the producing side of the work queue.
type Queue interface {
	Enqueue(ctx context.Context, cam worker.Camera) error
	Len() int
}

// Config fixes the webcam set and timing of one session.
type Config struct {
	// Webcams are enqueued in this order every cycle.
	Webcams  []worker.Camera
	Period   time.Duration
	Duration time.Duration
}

// Result summarizes a finished session.
type Result struct {
	Cycles        int
	Enqueued      int
	FallingBehind int
	worker.Stats
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run starts all workers, dispatches until the configured duration elapses
// or ctx ends, then waits for the workers to stop. The queue is not drained.
func (d *Dispatcher) Run(ctx context.Context) Result {
	until := time.Now().Add(d.cfg.Duration)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result Result
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			stats := wk.Run(ctx, until)
			mu.Lock()
			result.Add(stats)
			mu.Unlock()
		}(w)
	}

	d.dispatch(ctx, until, &result)
	wg.Wait()

	d.logger.Info("dispatch finished",
		zap.Int("cycles", result.Cycles),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("falling_behind", result.FallingBehind),
		zap.Int("attempts", result.Attempts),
		zap.Int("succeeded", result.Succeeded))
	return result
}

// dispatch only touches the Cycles, Enqueued and FallingBehind fields,
// which no worker goroutine writes.
func (d *Dispatcher) dispatch(ctx context.Context, until time.Time, result *Result) {
	for ctx.Err() == nil {
		cycleStart := time.Now()
		if !cycleStart.Before(until) {
			return
		}
		if backlog := d.queue.Len(); backlog > 0 {
			result.FallingBehind++
			metrics.ObserveFallingBehind("backlog")
			d.logger.Warn("falling behind: queue not drained since last cycle", zap.Int("backlog", backlog))
		}

		n, err := d.enqueueAll(ctx)
		result.Enqueued += n
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("enqueue failed", zap.Error(err))
			}
			return
		}
		result.Cycles++
		metrics.ObserveDispatchCycle()
		metrics.SetQueueDepth(d.queue.Len())

		elapsed := time.Since(cycleStart)
		if elapsed >= d.cfg.Period {
			result.FallingBehind++
			metrics.ObserveFallingBehind("slow_cycle")
			d.logger.Warn("falling behind: dispatch took longer than the period",
				zap.Duration("elapsed", elapsed),
				zap.Duration("period", d.cfg.Period))
			continue
		}
		wait := d.cfg.Period - elapsed
		if remaining := time.Until(until); remaining < wait {
			wait = remaining
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (d *Dispatcher) enqueueAll(ctx context.Context) (int, error) {
	for i, cam := range d.cfg.Webcams {
		if err := d.queue.Enqueue(ctx, cam); err != nil {
			return i, fmt.Errorf("queue enqueue %s/%s: %w", cam.Source(), cam.Identifier(), err)
		}
	}
	return len(d.cfg.Webcams), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
