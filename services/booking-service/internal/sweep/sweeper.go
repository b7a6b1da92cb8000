package sweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/storage"
)

// Sweeper expires booking groups that never completed payment, freeing their
// windows. Claims are made with SKIP LOCKED so multiple replicas can sweep.
type Sweeper struct {
	pool      *db.Pool
	repo      *storage.BookingRepository
	outbox    *eventbus.Outbox
	logger    *slog.Logger
	ttl       time.Duration
	every     time.Duration
	batchSize int
}

type Config struct {
	PendingTTL time.Duration
	Every      time.Duration
	BatchSize  int
}

func New(pool *db.Pool, repo *storage.BookingRepository, outbox *eventbus.Outbox, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}
	if cfg.Every <= 0 {
		cfg.Every = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Sweeper{
		pool:      pool,
		repo:      repo,
		outbox:    outbox,
		logger:    logger,
		ttl:       cfg.PendingTTL,
		every:     cfg.Every,
		batchSize: cfg.BatchSize,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.sweepOnce(ctx); err != nil {
				s.logger.Error("pending sweep failed", "err", err)
			} else if n > 0 {
				s.logger.Info("expired stale pending groups", "count", n)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cutoff := time.Now().UTC().Add(-s.ttl)
	groups, err := s.repo.LockStaleGroups(ctx, tx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, g := range groups {
		if err := s.repo.SetGroupStatus(ctx, tx, g.ID, model.StatusExpired); err != nil {
			return 0, err
		}
		payload, err := json.Marshal(map[string]any{
			"group_id":     g.ID,
			"user_id":      g.UserID,
			"start_date":   g.StartDate,
			"days":         g.Days,
			"amount_cents": g.AmountCents,
			"currency":     g.Currency,
			"expired_at":   time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return 0, err
		}
		if err := s.outbox.Insert(ctx, tx, eventbus.Event{
			AggregateType: "booking_group",
			AggregateID:   g.ID,
			EventType:     "booking.group.expired.v1",
			Payload:       payload,
		}); err != nil {
			return 0, err
		}
	}
	return len(groups), tx.Commit(ctx)
}
