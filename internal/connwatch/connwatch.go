// Package connwatch provides service-level health monitoring with
// exponential backoff for Herald's external dependencies (Home
// Assistant, Ollama).
//
// This is distinct from httpkit's transport-level retry, which handles
// sub-second transient dial errors. connwatch handles multi-second to
// multi-minute outages: service restarts and network partitions.
//
// Each Watcher probes a single service in two phases: startup with
// exponential backoff (2s, 4s, 8s, ... capped at 60s), then periodic
// background polling with state-transition callbacks. The OnReady
// callback fires on every not-ready-to-ready transition, which is
// where Herald re-establishes its Home Assistant event subscription.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

const (
	initialDelay = 2 * time.Second
	maxDelay     = 60 * time.Second
	maxRetries   = 10
	pollInterval = 60 * time.Second
	probeTimeout = 10 * time.Second
)

// Watcher monitors a single service's health. Create with New, then
// call Start once.
type Watcher struct {
	name    string
	probeFn ProbeFunc
	onReady func()
	onDown  func(err error)
	logger  *slog.Logger

	ready atomic.Bool
	done  chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// New creates a watcher for one service. onReady fires on every
// transition to ready and onDown on every transition away from it;
// both run on their own goroutine and either may be nil.
func New(name string, probe ProbeFunc, onReady func(), onDown func(error), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		name:    name,
		probeFn: probe,
		onReady: onReady,
		onDown:  onDown,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start runs the probe loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.done)

	// Phase 1: startup probe with exponential backoff.
	delay := initialDelay
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := w.probe(ctx)
		w.recordResult(err)

		if err == nil {
			w.ready.Store(true)
			w.logger.Info("service connected",
				"service", w.name, "after_attempts", attempt)
			if w.onReady != nil {
				go w.onReady()
			}
			break
		}

		if attempt == maxRetries {
			w.logger.Info("startup connection failed, entering background polling",
				"service", w.name, "attempts", attempt, "error", err)
			break
		}

		w.logger.Debug("startup probe failed, retrying",
			"service", w.name, "attempt", attempt,
			"next_delay", delay.String(), "error", err)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	// Phase 2: background periodic polling.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			w.recordResult(err)
			wasReady := w.ready.Load()

			switch {
			case wasReady && err != nil:
				w.ready.Store(false)
				w.logger.Info("service became unreachable",
					"service", w.name, "error", err)
				if w.onDown != nil {
					go w.onDown(err)
				}
			case !wasReady && err == nil:
				w.ready.Store(true)
				w.logger.Info("service recovered", "service", w.name)
				if w.onReady != nil {
					go w.onReady()
				}
			case !wasReady:
				w.logger.Debug("service still unreachable",
					"service", w.name, "error", err)
			}
		}
	}
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Wait blocks until the probe loop exits.
func (w *Watcher) Wait() {
	<-w.done
}

// Name identifies this watcher's section in the status endpoint.
func (w *Watcher) Name() string { return w.name }

// Status returns the current health for the status endpoint.
func (w *Watcher) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := map[string]any{
		"ready":      w.ready.Load(),
		"last_check": w.lastCheck,
	}
	if w.lastErr != nil {
		s["last_error"] = w.lastErr.Error()
	}
	return s
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return w.probeFn(probeCtx)
}

func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
