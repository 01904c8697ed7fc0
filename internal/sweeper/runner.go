// Package sweeper runs periodic detection sweeps in the background. The
// runner is an owned handle with explicit Start/Stop/Status; there is no
// package-level state.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
)

// Sweeper is the sweep entry point the runner drives.
type Sweeper interface {
	Sweep(ctx context.Context, businessID string, windowHours int) (*domain.SweepReport, error)
}

// Status is a point-in-time snapshot of the runner.
type Status struct {
	Running    bool                `json:"running"`
	Interval   string              `json:"interval"`
	SweepsRun  int64               `json:"sweeps_run"`
	LastRunAt  *time.Time          `json:"last_run_at,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
	LastReport *domain.SweepReport `json:"last_report,omitempty"`
}

// Runner drives full detection sweeps on a fixed interval.
type Runner struct {
	sweeper  Sweeper
	interval time.Duration
	logger   logger.Logger

	mu         sync.Mutex
	started    bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
	sweepsRun  int64
	lastRunAt  *time.Time
	lastError  string
	lastReport *domain.SweepReport
}

// NewRunner creates a runner; it does not start sweeping until Start.
func NewRunner(sweeper Sweeper, interval time.Duration, log logger.Logger) *Runner {
	return &Runner{
		sweeper:  sweeper,
		interval: interval,
		logger:   log,
	}
}

// Start launches the background sweep loop. Starting a running runner is a
// no-op; it reports whether this call started it.
func (r *Runner) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return false
	}
	r.started = true
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.run(ctx, r.stopChan)

	r.logger.Info("sweep runner started",
		logger.Duration("interval", r.interval))
	return true
}

// Stop halts the loop and waits for an in-flight sweep to finish. Stopping a
// stopped runner is a no-op; it reports whether this call stopped it.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return false
	}
	r.started = false
	stop := r.stopChan
	r.mu.Unlock()

	close(stop)
	r.wg.Wait()
	r.logger.Info("sweep runner stopped")
	return true
}

// Status reports the runner's current state and last sweep outcome.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Running:    r.started,
		Interval:   r.interval.String(),
		SweepsRun:  r.sweepsRun,
		LastRunAt:  r.lastRunAt,
		LastError:  r.lastError,
		LastReport: r.lastReport,
	}
}

func (r *Runner) run(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Sweep immediately on start rather than waiting a full interval.
	r.sweepOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.sweepOnce(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) sweepOnce(ctx context.Context) {
	report, err := r.sweeper.Sweep(ctx, "", 0)
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepsRun++
	r.lastRunAt = &now
	if err != nil {
		r.lastError = err.Error()
		r.logger.Error("scheduled sweep failed", logger.Error(err))
		return
	}
	r.lastError = ""
	r.lastReport = report
}
