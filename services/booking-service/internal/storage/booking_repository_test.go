package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"exclusion violation", &pgconn.PgError{Code: "23P01"}, true},
		{"wrapped unique violation", fmt.Errorf("insert slot: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
		{"no rows", pgx.ErrNoRows, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := IsConflict(tc.err); got != tc.want {
			t.Errorf("%s: IsConflict = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(pgx.ErrNoRows) {
		t.Fatal("pgx.ErrNoRows should be not-found")
	}
	if !IsNotFound(fmt.Errorf("load slot: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped pgx.ErrNoRows should be not-found")
	}
	if IsNotFound(errors.New("boom")) {
		t.Fatal("arbitrary error should not be not-found")
	}
}
