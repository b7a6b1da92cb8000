package passcode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
		seen[code] = true
	}
	// 50 draws from a million values colliding on every draw would mean a
	// broken generator.
	if len(seen) < 2 {
		t.Fatal("generator produced a single repeated code")
	}
}

// fakeTx serves the one SELECT ... FOR UPDATE Verify issues and records every
// UPDATE, so the attempt accounting can be checked without a database.
type fakeTx struct {
	pgx.Tx
	row   fakeRow
	execd []string
}

func (f *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execd = append(f.execd, sql)
	return pgconn.CommandTag{}, nil
}

type fakeRow struct {
	id        string
	hash      string
	attempts  int
	expiresAt time.Time
	err       error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.hash
	*dest[2].(*int) = r.attempts
	*dest[3].(*time.Time) = r.expiresAt
	return nil
}

func liveRow(t *testing.T, code string, attempts int) fakeRow {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	return fakeRow{
		id:        "pc-1",
		hash:      string(hash),
		attempts:  attempts,
		expiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
}

func testService() *Service {
	return New(nil, nil, nil, Config{MaxAttempts: 5})
}

func TestVerifyWrongCodeCountsAttempt(t *testing.T) {
	tx := &fakeTx{row: liveRow(t, "123456", 0)}

	err := testService().Verify(context.Background(), tx, "usr-1", "999999")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if len(tx.execd) != 1 || !strings.Contains(tx.execd[0], "attempts = attempts + 1") {
		t.Fatalf("expected a single attempt increment, got %q", tx.execd)
	}
}

func TestVerifyExhaustedAttemptsRejectsWithoutCompare(t *testing.T) {
	tx := &fakeTx{row: liveRow(t, "123456", 5)}

	err := testService().Verify(context.Background(), tx, "usr-1", "123456")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if len(tx.execd) != 0 {
		t.Fatalf("burned code should not be touched, got %q", tx.execd)
	}
}

func TestVerifyExpiredCodeRejected(t *testing.T) {
	row := liveRow(t, "123456", 0)
	row.expiresAt = time.Now().UTC().Add(-time.Minute)
	tx := &fakeTx{row: row}

	if err := testService().Verify(context.Background(), tx, "usr-1", "123456"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestVerifyConsumesMatchingCode(t *testing.T) {
	tx := &fakeTx{row: liveRow(t, "123456", 2)}

	if err := testService().Verify(context.Background(), tx, "usr-1", "123456"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(tx.execd) != 1 || !strings.Contains(tx.execd[0], "consumed_at = now()") {
		t.Fatalf("expected the code to be consumed, got %q", tx.execd)
	}
}

func TestVerifyNoLiveCode(t *testing.T) {
	tx := &fakeTx{row: fakeRow{err: pgx.ErrNoRows}}

	if err := testService().Verify(context.Background(), tx, "usr-1", "123456"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}
