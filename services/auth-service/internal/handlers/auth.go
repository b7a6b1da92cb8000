package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/arif-mahmud/poolbook/libs/auth"
	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/passcode"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/sessions"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/storage"
)

type AuthHandler struct {
	signer      TokenSigner
	pool        *db.Pool
	users       *storage.UserRepository
	outbox      *eventbus.Outbox
	refreshRepo *sessions.RefreshRepository
	passcodes   *passcode.Service
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewAuthHandler(
	signer TokenSigner,
	pool *db.Pool,
	users *storage.UserRepository,
	outbox *eventbus.Outbox,
	refreshRepo *sessions.RefreshRepository,
	passcodes *passcode.Service,
	accessTTL, refreshTTL time.Duration,
) *AuthHandler {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &AuthHandler{
		signer:      signer,
		pool:        pool,
		users:       users,
		outbox:      outbox,
		refreshRepo: refreshRepo,
		passcodes:   passcodes,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

type registerRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Profile  storage.Profile `json:"profile"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID   string          `json:"user_id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Role     string          `json:"role"`
	Verified bool            `json:"verified"`
	Profile  storage.Profile `json:"profile"`
}

// Register creates an unverified account and sends the first passcode. Tokens
// are only issued after the passcode check.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		http.Error(w, "email, password, and name required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if req.Profile.DateOfBirth != "" {
		if _, err := time.Parse("2006-01-02", req.Profile.DateOfBirth); err != nil {
			http.Error(w, "date_of_birth must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Phone:        req.Phone,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         "customer",
		Profile:      req.Profile,
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.CreateTx(ctx, tx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	registeredPayload, err := json.Marshal(map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"phone":      user.Phone,
		"role":       user.Role,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to marshal user event", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "user",
		AggregateID:   user.ID,
		EventType:     "auth.user.registered.v1",
		Payload:       registeredPayload,
	}); err != nil {
		http.Error(w, "failed to enqueue user event", http.StatusInternalServerError)
		return
	}

	if err := h.passcodes.Issue(ctx, tx, user.ID, user.Email, user.Phone); err != nil {
		if errors.Is(err, passcode.ErrThrottled) {
			http.Error(w, "too many passcode requests", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "failed to issue passcode", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"user_id": user.ID,
		"status":  "passcode_sent",
	})
}

// RequestPasscode re-sends a verification passcode. The response never reveals
// whether the email exists.
func (h *AuthHandler) RequestPasscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.passcodes.Issue(ctx, tx, user.ID, user.Email, user.Phone); err != nil {
		if errors.Is(err, passcode.ErrThrottled) {
			http.Error(w, "too many passcode requests", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "failed to issue passcode", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyPasscode checks the code, marks the account verified, and issues the
// first token pair.
func (h *AuthHandler) VerifyPasscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Code == "" {
		http.Error(w, "email and code required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid or expired passcode", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.passcodes.Verify(ctx, tx, user.ID, req.Code); err != nil {
		if errors.Is(err, passcode.ErrInvalidCode) {
			// Commit so the failed-attempt counter survives the rejection.
			_ = tx.Commit(ctx)
			http.Error(w, "invalid or expired passcode", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to verify passcode", http.StatusInternalServerError)
		return
	}
	if !user.Verified {
		if err := h.users.MarkVerified(ctx, tx, user.ID); err != nil {
			http.Error(w, "failed to mark user verified", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.writeTokenPair(w, r.Context(), user, http.StatusOK)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !user.Verified {
		http.Error(w, "account not verified", http.StatusForbidden)
		return
	}

	h.writeTokenPair(w, r.Context(), user, http.StatusOK)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	hash := sessions.HashToken(req.RefreshToken)
	tokenRecord, err := h.refreshRepo.GetByHash(r.Context(), hash)
	if err != nil {
		if sessions.IsNotFound(err) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup refresh token", http.StatusInternalServerError)
		return
	}
	if tokenRecord.RevokedAt != nil || tokenRecord.ExpiresAt.Before(time.Now()) {
		http.Error(w, "refresh token expired", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), tokenRecord.UserID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	// Rotation: the presented token dies, a fresh pair replaces it.
	if err := h.refreshRepo.Revoke(r.Context(), tokenRecord.ID); err != nil {
		http.Error(w, "failed to rotate refresh token", http.StatusInternalServerError)
		return
	}

	h.writeTokenPair(w, r.Context(), user, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
		All          bool   `json:"all"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	hash := sessions.HashToken(req.RefreshToken)
	tokenRecord, err := h.refreshRepo.GetByHash(r.Context(), hash)
	if err != nil {
		if sessions.IsNotFound(err) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "failed to lookup refresh token", http.StatusInternalServerError)
		return
	}

	// "all" logs out every device, not just the presented session.
	if req.All {
		if err := h.refreshRepo.RevokeAllForUser(r.Context(), tokenRecord.UserID); err != nil {
			http.Error(w, "failed to revoke refresh tokens", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if tokenRecord.RevokedAt == nil {
		if err := h.refreshRepo.Revoke(r.Context(), tokenRecord.ID); err != nil {
			http.Error(w, "failed to revoke refresh token", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.bearerClaims(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.Sub)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meResponse{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Phone:    user.Phone,
		Role:     user.Role,
		Verified: user.Verified,
		Profile:  user.Profile,
	})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.bearerClaims(w, r)
	if !ok {
		return
	}

	var req struct {
		Name    string          `json:"name"`
		Phone   string          `json:"phone"`
		Profile storage.Profile `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if req.Profile.DateOfBirth != "" {
		if _, err := time.Parse("2006-01-02", req.Profile.DateOfBirth); err != nil {
			http.Error(w, "date_of_birth must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	if err := h.users.UpdateProfile(r.Context(), claims.Sub, req.Name, req.Phone, req.Profile); err != nil {
		http.Error(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) bearerClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return nil, false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	claims, err := h.signer.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) writeTokenPair(w http.ResponseWriter, ctx context.Context, user storage.User, status int) {
	token, err := h.issueJWT(user)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.issueRefreshToken(ctx, user.ID)
	if err != nil {
		http.Error(w, "failed to issue refresh token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  token,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	})
}

func (h *AuthHandler) issueJWT(user storage.User) (string, error) {
	now := time.Now()
	return h.signer.Sign(auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		Iat:   now.Unix(),
		Exp:   now.Add(h.accessTTL).Unix(),
	})
}

func (h *AuthHandler) issueRefreshToken(ctx context.Context, userID string) (string, error) {
	raw, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(h.refreshTTL)
	if _, err := h.refreshRepo.Create(ctx, userID, raw, expiresAt); err != nil {
		return "", err
	}
	return raw, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
