// Package scheduler runs the periodic ranking refresh.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the refresh cadence when none is configured
const DefaultInterval = time.Minute

// RefreshFunc is invoked on every tick
type RefreshFunc func(ctx context.Context) error

// Periodic calls a RefreshFunc on a fixed interval, starting immediately.
// A tick that arrives while the previous call is still running is skipped.
type Periodic struct {
	interval time.Duration
	refresh  RefreshFunc
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runs   int
}

// NewPeriodic creates a stopped trigger
func NewPeriodic(interval time.Duration, refresh RefreshFunc, logger *slog.Logger) *Periodic {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Periodic{
		interval: interval,
		refresh:  refresh,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start launches the loop. Calling Start on a running trigger is a no-op.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.logger.Info("periodic ranking refresh started", slog.Duration("interval", p.interval))
}

// Stop cancels the loop and waits for an in-flight refresh to return
func (p *Periodic) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("periodic ranking refresh stopped")
}

// Runs returns how many refreshes have completed
func (p *Periodic) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

func (p *Periodic) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Periodic) tick(ctx context.Context) {
	start := time.Now()
	err := p.refresh(ctx)

	p.mu.Lock()
	p.runs++
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.ErrorContext(ctx, "ranking refresh failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return
	}
	p.logger.DebugContext(ctx, "ranking refresh completed", slog.Duration("duration", time.Since(start)))
}
