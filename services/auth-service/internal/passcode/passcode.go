package passcode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
)

var (
	ErrInvalidCode = errors.New("invalid or expired passcode")
	ErrThrottled   = errors.New("too many passcode requests")
)

// Service issues and checks one-time passcodes. Codes are stored bcrypt-hashed
// with a short expiry and a bounded number of verify attempts; issuance is
// rate-limited per user through Redis.
type Service struct {
	pool        *db.Pool
	rdb         *redis.Client
	outbox      *eventbus.Outbox
	ttl         time.Duration
	maxAttempts int
	maxPerHour  int
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	MaxPerHour  int
}

func New(pool *db.Pool, rdb *redis.Client, outbox *eventbus.Outbox, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = 5
	}
	return &Service{
		pool:        pool,
		rdb:         rdb,
		outbox:      outbox,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		maxPerHour:  cfg.MaxPerHour,
	}
}

// GenerateCode returns a 6-digit code with leading zeros kept.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue generates a passcode for the user, invalidating earlier ones, and
// enqueues the delivery event inside the caller's transaction. The raw code
// only ever leaves through the outbox payload.
func (s *Service) Issue(ctx context.Context, tx pgx.Tx, userID, email, phone string) error {
	if err := s.throttle(ctx, userID); err != nil {
		return err
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE passcodes SET consumed_at = now() WHERE user_id = $1 AND consumed_at IS NULL
	`, userID); err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.ttl)
	if _, err := tx.Exec(ctx, `
		INSERT INTO passcodes (user_id, code_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, string(hash), expiresAt); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"user_id":    userID,
		"email":      email,
		"phone":      phone,
		"code":       code,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "passcode",
		AggregateID:   userID,
		EventType:     "auth.passcode.issued.v1",
		Payload:       payload,
	})
}

// Verify consumes the user's live passcode if the code matches. Every failed
// attempt is counted; too many failures burn the code.
func (s *Service) Verify(ctx context.Context, tx pgx.Tx, userID, code string) error {
	var id string
	var hash string
	var attempts int
	var expiresAt time.Time
	err := tx.QueryRow(ctx, `
		SELECT id, code_hash, attempts, expires_at
		FROM passcodes
		WHERE user_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, userID).Scan(&id, &hash, &attempts, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidCode
		}
		return err
	}

	if time.Now().UTC().After(expiresAt) || attempts >= s.maxAttempts {
		return ErrInvalidCode
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE passcodes SET attempts = attempts + 1 WHERE id = $1
		`, id); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	_, err = tx.Exec(ctx, `
		UPDATE passcodes SET consumed_at = now() WHERE id = $1
	`, id)
	return err
}

func (s *Service) throttle(ctx context.Context, userID string) error {
	if s.rdb == nil {
		return nil
	}
	key := "passcode:issue:" + userID
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis being down should not block verification mail.
		return nil
	}
	if count == 1 {
		_ = s.rdb.Expire(ctx, key, time.Hour).Err()
	}
	if count > int64(s.maxPerHour) {
		return ErrThrottled
	}
	return nil
}
