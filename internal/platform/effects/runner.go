// Package effects runs non-critical side effects (tickets, alerts, event
// fan-out, receipts) after the primary state transition has committed. A
// failing effect is logged and counted; it never reaches the caller.
package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	effectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whatsgate",
			Subsystem: "effects",
			Name:      "executed_total",
			Help:      "Non-critical effects by name and outcome (ok, failed, dropped).",
		},
		[]string{"effect", "outcome"},
	)
)

// Func is one non-critical effect.
type Func func(ctx context.Context) error

// Enqueuer accepts effects for later execution. Enqueue never blocks and
// reports whether the effect was accepted.
type Enqueuer interface {
	Enqueue(name string, fn Func) bool
}

type job struct {
	name string
	fn   Func
}

// Runner executes effects on a fixed pool of workers fed by a bounded queue.
// Once stopped it rejects new effects, so nothing is accepted after the final
// drain.
type Runner struct {
	queue   chan job
	workers int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewRunner(workers, queueSize int, timeout time.Duration, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Runner{
		queue:   make(chan job, queueSize),
		workers: workers,
		timeout: timeout,
		logger:  logger.With("component", "effect_runner"),
	}
}

func (r *Runner) Enqueue(name string, fn Func) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		effectsTotal.WithLabelValues(name, "dropped").Inc()
		r.logger.Warn("Effect runner stopped, dropping effect", "effect", name)
		return false
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return true
	default:
		effectsTotal.WithLabelValues(name, "dropped").Inc()
		r.logger.Warn("Effect queue full, dropping effect", "effect", name)
		return false
	}
}

// Start runs the workers until ctx is cancelled, then stops accepting
// effects, finishes whatever is already queued and returns.
func (r *Runner) Start(ctx context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case j := <-r.queue:
					r.run(j)
				case <-stop:
					r.drain()
					return
				}
			}
		}()
	}

	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	close(stop)
	wg.Wait()
	r.logger.Info("Effect runner stopped")
	return nil
}

func (r *Runner) drain() {
	for {
		select {
		case j := <-r.queue:
			r.run(j)
		default:
			return
		}
	}
}

func (r *Runner) run(j job) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	execute(ctx, r.logger, j)
}

func execute(ctx context.Context, logger *slog.Logger, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			effectsTotal.WithLabelValues(j.name, "failed").Inc()
			logger.Error("Effect panicked", "effect", j.name, "panic", rec)
		}
	}()
	if err := j.fn(ctx); err != nil {
		effectsTotal.WithLabelValues(j.name, "failed").Inc()
		logger.Warn("Non-critical effect failed", "effect", j.name, "error", err)
		return
	}
	effectsTotal.WithLabelValues(j.name, "ok").Inc()
}

// Sync runs effects immediately on the caller's goroutine. Used by
// channelctl and tests where ordering must be deterministic.
type Sync struct {
	Logger *slog.Logger
}

func (s Sync) Enqueue(name string, fn Func) bool {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	execute(context.Background(), logger, job{name: name, fn: fn})
	return true
}
