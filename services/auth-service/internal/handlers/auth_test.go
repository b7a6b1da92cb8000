package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arif-mahmud/poolbook/libs/auth"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the raw password")
	}
	if err := verifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("verifyPassword with correct password: %v", err)
	}
	if err := verifyPassword(hash, "wrong password"); err == nil {
		t.Fatal("verifyPassword accepted a wrong password")
	}
}

func TestNewRefreshToken(t *testing.T) {
	a, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken: %v", err)
	}
	b, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Fatal("consecutive tokens must differ")
	}
}

func TestHS256SignerRoundTrip(t *testing.T) {
	signer := NewHS256Signer("unit-test-secret")
	now := time.Now()
	token, err := signer.Sign(auth.Claims{
		Sub:   "user-1",
		Email: "swimmer@example.com",
		Role:  "customer",
		Iat:   now.Unix(),
		Exp:   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "user-1" || claims.Role != "customer" {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := NewHS256Signer("other-secret").Verify(token); err == nil {
		t.Fatal("token verified under a different secret")
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	h := NewAuthHandler(NewHS256Signer("s"), nil, nil, nil, nil, nil, time.Hour, 24*time.Hour)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"not json", "nope", http.StatusBadRequest},
		{"missing fields", `{"email":"a@b.c"}`, http.StatusBadRequest},
		{"short password", `{"email":"a@b.c","password":"hunter2","name":"A"}`, http.StatusBadRequest},
		{"bad date of birth", `{"email":"a@b.c","password":"longenough","name":"A","profile":{"date_of_birth":"31-01-1990"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestRegisterMethodGuard(t *testing.T) {
	h := NewAuthHandler(NewHS256Signer("s"), nil, nil, nil, nil, nil, time.Hour, 24*time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/register", nil)
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestMeRejectsBadAuthorization(t *testing.T) {
	h := NewAuthHandler(NewHS256Signer("s"), nil, nil, nil, nil, nil, time.Hour, 24*time.Hour)

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.Me(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}
