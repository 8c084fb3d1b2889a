package service

import (
	"context"
	"time"

	"github.com/Skotchmaster/storefront/internal/logging"
)

// Recovery re-runs reconciliation for sessions whose payment was confirmed
// but whose order was never written.
type Recovery struct {
	Checkout *CheckoutService
	Interval time.Duration
	// MinAge keeps the poller away from sessions a request is still
	// finishing. Zero means twice the confirm lease.
	MinAge time.Duration
	Batch  int
}

// Run polls until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) error {
	l := logging.FromContext(ctx).With("svc", "recovery")
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	l.Info("recovery_started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			l.Info("recovery_stopped")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				l.Warn("recovery_pass_failed", "error", err)
			}
		}
	}
}

// RunOnce makes one pass and returns how many sessions were persisted.
func (r *Recovery) RunOnce(ctx context.Context) (int, error) {
	l := logging.FromContext(ctx).With("svc", "recovery")
	batch := r.Batch
	if batch <= 0 {
		batch = 50
	}
	stuck, err := r.Checkout.Repo.ListStuckSessions(ctx, r.Checkout.now().Add(-r.minAge()), batch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stuck {
		sess := &stuck[i]
		order, err := r.Checkout.finalize(ctx, sess)
		if err != nil {
			l.Warn("recovery_session_failed", "session_id", sess.ID, "order_id", sess.OrderID, "error", err)
			continue
		}
		recovered++
		l.Info("recovery_session_persisted", "session_id", sess.ID, "order_id", order.OrderID)
	}
	if len(stuck) > 0 {
		l.Info("recovery_pass_done", "found", len(stuck), "recovered", recovered)
	}
	return recovered, nil
}

func (r *Recovery) minAge() time.Duration {
	if r.MinAge > 0 {
		return r.MinAge
	}
	return 2 * r.Checkout.leaseTTL()
}
