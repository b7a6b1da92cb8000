package storage

import (
	"context"
	"time"

	"github.com/arif-mahmud/poolbook/libs/db"
)

// Report read models. booking_days carries one row per group per covered
// date, so a three-day group contributes three day rows but one distinct
// group_id per month or year bucket.

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordGroupCreated inserts the event plus a day row for every date the
// group covers. Replays are dropped on the event_id conflict.
func (r *Repository) RecordGroupCreated(ctx context.Context, eventID, eventType, groupID, userID string, dates []string, amountCents int64, currency string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_report_events (event_id, event_type, group_id, occurred_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	for _, date := range dates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO booking_days (group_id, user_id, date, status, amount_cents, currency)
			VALUES ($1, $2, $3::date, 'pending', $4, $5)
			ON CONFLICT (group_id, date) DO NOTHING
		`, groupID, userID, date, amountCents, currency); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecordGroupStatus moves every day row of the group to the given status.
func (r *Repository) RecordGroupStatus(ctx context.Context, eventID, eventType, groupID, status string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_report_events (event_id, event_type, group_id, occurred_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE booking_days SET status = $2, updated_at = now() WHERE group_id = $1
	`, groupID, status); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordDayStatus updates a single covered date, for per-booking cancels.
func (r *Repository) RecordDayStatus(ctx context.Context, eventID, eventType, groupID, date, status string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_report_events (event_id, event_type, group_id, occurred_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE booking_days SET status = $3, updated_at = now() WHERE group_id = $1 AND date = $2::date
	`, groupID, date, status); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordDayMoved reflects a reschedule by retiring the old date and adding
// the replacement.
func (r *Repository) RecordDayMoved(ctx context.Context, eventID, groupID, oldDate, newDate string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO booking_report_events (event_id, event_type, group_id, occurred_at)
		VALUES ($1, 'booking.rescheduled.v1', $2, now())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_days (group_id, user_id, date, status, amount_cents, currency)
		SELECT group_id, user_id, $3::date, 'booked', amount_cents, currency
		FROM booking_days WHERE group_id = $1 AND date = $2::date
		ON CONFLICT (group_id, date) DO UPDATE SET status = 'booked', updated_at = now()
	`, groupID, oldDate, newDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE booking_days SET status = 'rescheduled', updated_at = now()
		WHERE group_id = $1 AND date = $2::date
	`, groupID, oldDate); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordPayment bumps the per-day revenue aggregate. duplicate events are
// dropped on the event_id conflict.
func (r *Repository) RecordPayment(ctx context.Context, eventID, eventType, paymentID string, occurredAt time.Time, capturedCents, refundedCents, failedCents int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_report_events (event_id, event_type, payment_id, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, paymentID, occurredAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	capturedCount := 0
	if capturedCents > 0 {
		capturedCount = 1
	}
	refundedCount := 0
	if refundedCents > 0 {
		refundedCount = 1
	}
	failedCount := 0
	if failedCents > 0 {
		failedCount = 1
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_revenue_metrics (day, captured_cents, refunded_cents, failed_cents, captured_count, refunded_count, failed_count)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (day)
		DO UPDATE SET captured_cents = daily_revenue_metrics.captured_cents + EXCLUDED.captured_cents,
		              refunded_cents = daily_revenue_metrics.refunded_cents + EXCLUDED.refunded_cents,
		              failed_cents   = daily_revenue_metrics.failed_cents + EXCLUDED.failed_cents,
		              captured_count = daily_revenue_metrics.captured_count + EXCLUDED.captured_count,
		              refunded_count = daily_revenue_metrics.refunded_count + EXCLUDED.refunded_count,
		              failed_count   = daily_revenue_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, occurredAt.UTC(), capturedCents, refundedCents, failedCents, capturedCount, refundedCount, failedCount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type BookingBucket struct {
	Bucket string `json:"bucket"`
	Status string `json:"status"`
	Groups int64  `json:"groups"`
}

var bucketFormats = map[string]string{
	"day":   "YYYY-MM-DD",
	"month": "YYYY-MM",
	"year":  "YYYY",
}

// BookingBuckets counts distinct groups per bucket and status. A group
// spanning a bucket boundary shows up once on each side.
func (r *Repository) BookingBuckets(ctx context.Context, granularity, from, to string) ([]BookingBucket, error) {
	format, ok := bucketFormats[granularity]
	if !ok {
		format = bucketFormats["day"]
	}

	rows, err := r.pool.Query(ctx, `
		SELECT to_char(date, `+"'"+format+"'"+`) AS bucket, status, count(DISTINCT group_id)
		FROM booking_days
		WHERE date >= $1::date AND date <= $2::date
		GROUP BY bucket, status
		ORDER BY bucket, status
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookingBucket
	for rows.Next() {
		var b BookingBucket
		if err := rows.Scan(&b.Bucket, &b.Status, &b.Groups); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type RevenueDay struct {
	Day           string `json:"day"`
	CapturedCents int64  `json:"captured_cents"`
	RefundedCents int64  `json:"refunded_cents"`
	FailedCents   int64  `json:"failed_cents"`
	CapturedCount int64  `json:"captured_count"`
	RefundedCount int64  `json:"refunded_count"`
	FailedCount   int64  `json:"failed_count"`
}

func (r *Repository) RevenueByDay(ctx context.Context, from, to string) ([]RevenueDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), captured_cents, refunded_cents, failed_cents, captured_count, refunded_count, failed_count
		FROM daily_revenue_metrics
		WHERE day >= $1::date AND day <= $2::date
		ORDER BY day
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RevenueDay
	for rows.Next() {
		var d RevenueDay
		if err := rows.Scan(&d.Day, &d.CapturedCents, &d.RefundedCents, &d.FailedCents, &d.CapturedCount, &d.RefundedCount, &d.FailedCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
