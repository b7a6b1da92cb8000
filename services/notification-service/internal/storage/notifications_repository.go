package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/db"
)

type Notification struct {
	UserID    string
	Kind      string
	Channel   string
	Recipient string
	Payload   map[string]any
	Status    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, kind, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.UserID, n.Kind, n.Channel, n.Recipient, payload, n.Status)
	return err
}

// Contact is the delivery read model. Registration events populate it, so
// events that only carry a user_id can still be addressed.
type Contact struct {
	UserID string
	Email  string
	Name   string
	Phone  string
}

type ContactRepository struct {
	pool *db.Pool
}

func NewContactRepository(pool *db.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

func (r *ContactRepository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contacts (user_id, email, name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, phone = EXCLUDED.phone, updated_at = now()
	`, c.UserID, c.Email, c.Name, c.Phone)
	return err
}

func (r *ContactRepository) Get(ctx context.Context, userID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, COALESCE(name, ''), COALESCE(phone, '')
		FROM contacts WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.Email, &c.Name, &c.Phone)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
