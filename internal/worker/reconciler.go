package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/walletcore/internal/engine"
)

// Reconciling is the part of the engine the worker drives.
type Reconciling interface {
	Reconcile(ctx context.Context, olderThan time.Duration, limit int) (engine.ReconcileReport, error)
}

// Reconciler periodically finalises entries left pending.
type Reconciler struct {
	target   Reconciling
	interval time.Duration
	after    time.Duration
	batch    int
	logger   *slog.Logger
}

// NewReconciler builds a worker that every interval reconciles up to batch
// entries pending for longer than after.
func NewReconciler(target Reconciling, interval, after time.Duration, batch int, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{target: target, interval: interval, after: after, batch: batch, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", slog.Duration("interval", r.interval), slog.Duration("after", r.after))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce drains full batches until a pass comes back short, so a backlog
// clears without waiting for further ticks.
func (r *Reconciler) RunOnce(ctx context.Context) engine.ReconcileReport {
	var total engine.ReconcileReport
	for ctx.Err() == nil {
		report, err := r.target.Reconcile(ctx, r.after, r.batch)
		total.Scanned += report.Scanned
		total.Settled += report.Settled
		total.Failed += report.Failed
		total.Pending += report.Pending
		total.Errors += report.Errors
		if err != nil {
			r.logger.Error("reconcile pass failed", slog.Any("error", err))
			break
		}
		// Entries still pending at the gateway come back every pass.
		if report.Scanned < r.batch || report.Settled+report.Failed == 0 {
			break
		}
	}
	return total
}
