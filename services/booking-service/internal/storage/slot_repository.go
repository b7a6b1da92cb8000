package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
)

type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) Create(ctx context.Context, slot *model.Slot) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO slots (date, end_date, start_time, end_time, duration_mins, holiday)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, slot.Date, slot.EndDate, slot.StartTime, slot.EndTime, slot.DurationMins, slot.Holiday).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SlotRepository) Update(ctx context.Context, slot *model.Slot) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET date = $2,
			end_date = $3,
			start_time = $4,
			end_time = $5,
			duration_mins = $6,
			holiday = $7,
			updated_at = now()
		WHERE id = $1
	`, slot.ID, slot.Date, slot.EndDate, slot.StartTime, slot.EndTime, slot.DurationMins, slot.Holiday)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SlotRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SlotRepository) Get(ctx context.Context, id string) (model.Slot, error) {
	var s model.Slot
	err := r.pool.QueryRow(ctx, `
		SELECT id, date::text, COALESCE(end_date::text, date::text), start_time, end_time, duration_mins, holiday, created_at
		FROM slots
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Date, &s.EndDate, &s.StartTime, &s.EndTime, &s.DurationMins, &s.Holiday, &s.CreatedAt)
	if err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

// ForDate returns the slot row whose date range covers the given calendar date.
// The latest matching row wins when ranges overlap.
func (r *SlotRepository) ForDate(ctx context.Context, date string) (model.Slot, error) {
	var s model.Slot
	err := r.pool.QueryRow(ctx, `
		SELECT id, date::text, COALESCE(end_date::text, date::text), start_time, end_time, duration_mins, holiday, created_at
		FROM slots
		WHERE date <= $1 AND COALESCE(end_date, date) >= $1
		ORDER BY created_at DESC
		LIMIT 1
	`, date).Scan(&s.ID, &s.Date, &s.EndDate, &s.StartTime, &s.EndTime, &s.DurationMins, &s.Holiday, &s.CreatedAt)
	if err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

func (r *SlotRepository) List(ctx context.Context, from, to string, limit int) ([]model.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, date::text, COALESCE(end_date::text, date::text), start_time, end_time, duration_mins, holiday, created_at
		FROM slots
		WHERE date <= $2 AND COALESCE(end_date, date) >= $1
		ORDER BY date ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.ID, &s.Date, &s.EndDate, &s.StartTime, &s.EndTime, &s.DurationMins, &s.Holiday, &s.CreatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
