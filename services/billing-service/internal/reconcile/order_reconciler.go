package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/settle"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

// OrderReconciler re-checks created orders against the gateway's status API. It
// covers webhooks that were lost or arrived while billing was down.
type OrderReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	settle      *settle.Service
	gw          *gateway.Client
	logger      *slog.Logger
	minAge      time.Duration
	batchSize   int
	advisoryKey int64
}

type Config struct {
	MinAge          time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewOrderReconciler(pool *db.Pool, repo *storage.Repository, settleSvc *settle.Service, gw *gateway.Client, logger *slog.Logger, cfg Config) *OrderReconciler {
	if cfg.MinAge <= 0 {
		cfg.MinAge = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.AdvisoryLockKey == 0 {
		// Stable-ish default; override via env if you run multiple billing instances.
		cfg.AdvisoryLockKey = 7708301
	}
	return &OrderReconciler{
		pool:        pool,
		repo:        repo,
		settle:      settleSvc,
		gw:          gw,
		logger:      logger,
		minAge:      cfg.MinAge,
		batchSize:   cfg.BatchSize,
		advisoryKey: cfg.AdvisoryLockKey,
	}
}

func (r *OrderReconciler) Run(ctx context.Context, interval time.Duration) {
	if !r.gw.Enabled() {
		r.logger.Warn("order reconcile disabled: gateway not configured")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("order reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("order reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("order reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *OrderReconciler) reconcileOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.minAge)
	orders, err := r.repo.ListOrdersForReconcile(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("order reconcile: failed to list orders", "err", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}

		status, err := r.gw.Status(ctx, o.ID)
		if err != nil {
			r.logger.Warn("order reconcile: status check failed", "err", err, "order_id", o.ID)
			continue
		}

		tx, err := r.repo.Begin(ctx)
		if err != nil {
			r.logger.Error("order reconcile: db begin failed", "err", err)
			return
		}

		applyErr := func() error {
			order, err := r.repo.GetOrderForUpdate(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			switch status.State {
			case gateway.StateCaptured:
				return r.settle.ApplyCaptured(ctx, tx, order, status.TransactionID)
			case gateway.StateFailed:
				return r.settle.ApplyFailed(ctx, tx, order, status.FailureReason)
			default:
				// Still pending at the gateway; leave it for the next pass.
				return nil
			}
		}()

		if applyErr != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("order reconcile: apply failed", "err", applyErr, "order_id", o.ID, "state", status.State)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			r.logger.Warn("order reconcile: commit failed", "err", err, "order_id", o.ID)
			continue
		}
	}
}
