package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/availability"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	UserID          string
	IdempotencyKey  string
	GroupID         string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID, key, groupID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET group_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key, groupID, statusCode, response)
	return err
}

func (r *BookingRepository) CreateGroup(ctx context.Context, tx pgx.Tx, g *model.BookingGroup) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO booking_groups (user_id, start_date, days, start_time, end_time, status, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, g.UserID, g.StartDate, g.Days, g.StartTime, g.EndTime, g.Status, g.AmountCents, g.Currency).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) CreateBooking(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(group_id, user_id, slot_id, date, start_time, end_time, status, customer_name, customer_email, customer_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, b.GroupID, b.UserID, b.SlotID, b.Date, b.StartTime, b.EndTime, b.Status,
		b.CustomerName, b.CustomerEmail, b.CustomerPhone).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// TakenWindows returns the (date, start clock) pairs held by active bookings on
// any of the given dates. Run inside the booking transaction so concurrent
// purchases of the same window trip the unique index instead of double-booking.
func (r *BookingRepository) TakenWindows(ctx context.Context, q Queryer, dates []string) ([]availability.Booked, error) {
	rows, err := q.Query(ctx, `
		SELECT date::text, start_time
		FROM bookings
		WHERE date = ANY($1)
			AND status = ANY($2)
	`, dates, model.BlockingStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taken []availability.Booked
	for rows.Next() {
		var b availability.Booked
		if err := rows.Scan(&b.Date, &b.Start); err != nil {
			return nil, err
		}
		taken = append(taken, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return taken, nil
}

func (r *BookingRepository) Pool() Queryer {
	return r.pool
}

// Queryer is satisfied by both *db.Pool and pgx.Tx, so availability reads can run
// inside or outside the booking transaction.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *BookingRepository) GetGroupForUpdate(ctx context.Context, tx pgx.Tx, groupID string) (model.BookingGroup, error) {
	var g model.BookingGroup
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, start_date::text, days, start_time, end_time, status, amount_cents, currency, created_at
		FROM booking_groups
		WHERE id = $1
		FOR UPDATE
	`, groupID).Scan(
		&g.ID, &g.UserID, &g.StartDate, &g.Days, &g.StartTime, &g.EndTime,
		&g.Status, &g.AmountCents, &g.Currency, &g.CreatedAt,
	)
	if err != nil {
		return model.BookingGroup{}, err
	}
	return g, nil
}

func (r *BookingRepository) GetGroup(ctx context.Context, groupID string) (model.BookingGroup, error) {
	var g model.BookingGroup
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, start_date::text, days, start_time, end_time, status, amount_cents, currency, created_at
		FROM booking_groups
		WHERE id = $1
	`, groupID).Scan(
		&g.ID, &g.UserID, &g.StartDate, &g.Days, &g.StartTime, &g.EndTime,
		&g.Status, &g.AmountCents, &g.Currency, &g.CreatedAt,
	)
	if err != nil {
		return model.BookingGroup{}, err
	}
	return g, nil
}

// SetGroupStatus moves the group and all of its bookings to the given status.
func (r *BookingRepository) SetGroupStatus(ctx context.Context, tx pgx.Tx, groupID, status string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE booking_groups SET status = $2, updated_at = now() WHERE id = $1
	`, groupID, status); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2 WHERE group_id = $1
	`, groupID, status)
	return err
}

func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID, userID string) (model.Booking, error) {
	var b model.Booking
	var rescheduledTo, cancelReason *string
	err := tx.QueryRow(ctx, `
		SELECT id, group_id, user_id, slot_id, date::text, start_time, end_time, status,
			rescheduled_to, cancellation_reason, customer_name, customer_email, customer_phone, created_at
		FROM bookings
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, bookingID, userID).Scan(
		&b.ID, &b.GroupID, &b.UserID, &b.SlotID, &b.Date, &b.StartTime, &b.EndTime, &b.Status,
		&rescheduledTo, &cancelReason, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	if rescheduledTo != nil {
		b.RescheduledTo = *rescheduledTo
	}
	if cancelReason != nil {
		b.CancelReason = *cancelReason
	}
	return b, nil
}

// CancelGroup marks the group row cancelled without touching its bookings.
// The caller cancels each active day itself so rescheduled and completed
// tombstones keep their state.
func (r *BookingRepository) CancelGroup(ctx context.Context, tx pgx.Tx, groupID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_groups SET status = 'cancelled', updated_at = now() WHERE id = $1
	`, groupID)
	return err
}

func (r *BookingRepository) CancelBooking(ctx context.Context, tx pgx.Tx, bookingID, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancellation_reason = $2
		WHERE id = $1
	`, bookingID, reason)
	return err
}

func (r *BookingRepository) MarkRescheduled(ctx context.Context, tx pgx.Tx, bookingID, replacementID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'rescheduled',
			rescheduled_to = $2
		WHERE id = $1
	`, bookingID, replacementID)
	return err
}

func (r *BookingRepository) ListGroupBookings(ctx context.Context, groupID string) ([]model.Booking, error) {
	return r.listBookings(ctx, r.pool, `WHERE group_id = $1 ORDER BY date ASC`, groupID)
}

// LockGroupBookings loads every booking in the group under row locks, so a
// group cancel cannot race a reschedule of one of its days.
func (r *BookingRepository) LockGroupBookings(ctx context.Context, tx pgx.Tx, groupID string) ([]model.Booking, error) {
	return r.listBookings(ctx, tx, `WHERE group_id = $1 ORDER BY date ASC FOR UPDATE`, groupID)
}

func (r *BookingRepository) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	return r.listBookings(ctx, r.pool, `WHERE user_id = $1 ORDER BY date DESC, created_at DESC`, userID)
}

func (r *BookingRepository) listBookings(ctx context.Context, q Queryer, where string, arg any) ([]model.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT id, group_id, user_id, slot_id, date::text, start_time, end_time, status,
			rescheduled_to, cancellation_reason, customer_name, customer_email, customer_phone, created_at
		FROM bookings
	`+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		var b model.Booking
		var rescheduledTo, cancelReason *string
		if err := rows.Scan(
			&b.ID, &b.GroupID, &b.UserID, &b.SlotID, &b.Date, &b.StartTime, &b.EndTime, &b.Status,
			&rescheduledTo, &cancelReason, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		if rescheduledTo != nil {
			b.RescheduledTo = *rescheduledTo
		}
		if cancelReason != nil {
			b.CancelReason = *cancelReason
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

// LockStaleGroups claims up to limit payment_pending groups older than cutoff.
// SKIP LOCKED lets multiple sweepers run without stepping on each other.
func (r *BookingRepository) LockStaleGroups(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]model.BookingGroup, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, user_id, start_date::text, days, start_time, end_time, status, amount_cents, currency, created_at
		FROM booking_groups
		WHERE status = 'payment_pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.BookingGroup
	for rows.Next() {
		var g model.BookingGroup
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.StartDate, &g.Days, &g.StartTime, &g.EndTime,
			&g.Status, &g.AmountCents, &g.Currency, &g.CreatedAt,
		); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return groups, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, userID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT user_id::text,
			idempotency_key,
			COALESCE(group_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, userID, key).Scan(
		&rec.UserID,
		&rec.IdempotencyKey,
		&rec.GroupID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
