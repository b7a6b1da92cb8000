package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/db"
)

// Profile holds the swimmer details collected at registration. All fields
// are optional.
type Profile struct {
	DateOfBirth      string `json:"date_of_birth"`
	Gender           string `json:"gender"`
	ExperienceLevel  string `json:"experience_level"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
}

type User struct {
	ID           string
	Email        string
	Phone        string
	Name         string
	PasswordHash string
	Role         string
	Verified     bool
	Profile      Profile
	CreatedAt    time.Time
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user User) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, phone, name, password_hash, role, verified,
		                   date_of_birth, gender, experience_level, address, emergency_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::date, $9, $10, $11, $12)
	`, user.ID, user.Email, user.Phone, user.Name, user.PasswordHash, user.Role, user.Verified,
		user.Profile.DateOfBirth, user.Profile.Gender, user.Profile.ExperienceLevel,
		user.Profile.Address, user.Profile.EmergencyContact)
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, where, arg string) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, COALESCE(phone, ''), COALESCE(name, ''), password_hash, role, verified,
		       COALESCE(to_char(date_of_birth, 'YYYY-MM-DD'), ''), COALESCE(gender, ''),
		       COALESCE(experience_level, ''), COALESCE(address, ''), COALESCE(emergency_contact, ''),
		       created_at
		FROM users
	`+where, arg).Scan(
		&user.ID, &user.Email, &user.Phone, &user.Name, &user.PasswordHash, &user.Role, &user.Verified,
		&user.Profile.DateOfBirth, &user.Profile.Gender,
		&user.Profile.ExperienceLevel, &user.Profile.Address, &user.Profile.EmergencyContact,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// MarkVerified flips the verified flag after a passcode check succeeds.
func (r *UserRepository) MarkVerified(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET verified = true, updated_at = now() WHERE id = $1
	`, userID)
	return err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, name, phone string, profile Profile) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, phone = $3,
		    date_of_birth = NULLIF($4, '')::date, gender = $5,
		    experience_level = $6, address = $7, emergency_contact = $8,
		    updated_at = now()
		WHERE id = $1
	`, userID, name, phone,
		profile.DateOfBirth, profile.Gender, profile.ExperienceLevel,
		profile.Address, profile.EmergencyContact)
	return err
}

func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}
