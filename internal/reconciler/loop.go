package reconciler

import (
	"context"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubescaler-io/kubescaler/internal/metrics"
)

// Loop runs reconciliation sweeps on a fixed cadence. Exactly one sweep is
// in flight at a time; the interval is measured from the end of one sweep
// to the start of the next, so an overlong sweep is followed immediately
// by the next one rather than overlapping it.
type Loop struct {
	reconciler *Reconciler
	interval   time.Duration
}

// NewLoop returns a Loop ticking the reconciler every interval.
func NewLoop(r *Reconciler, interval time.Duration) *Loop {
	return &Loop{reconciler: r, interval: interval}
}

// Start runs sweeps until ctx is canceled, then returns once the in-flight
// sweep (if any) has finished. A sweep error is logged and never stops the
// loop; the next tick is the retry.
func (l *Loop) Start(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	logger.Info("Reconciliation loop starting", "interval", l.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciliation loop stopped")
			return nil
		case <-timer.C:
		}

		started := time.Now()
		if err := l.reconciler.RunOnce(ctx); err != nil {
			logger.Error(err, "Reconciliation sweep failed")
		}
		metrics.ReconcilePasses.Inc()
		metrics.ReconcileDuration.Observe(time.Since(started).Seconds())

		timer.Reset(l.interval)
	}
}
