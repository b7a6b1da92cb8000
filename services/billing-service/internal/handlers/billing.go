package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/bookingclient"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/settle"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

type Handler struct {
	repo           *storage.Repository
	outbox         *eventbus.Outbox
	bookings       *bookingclient.Client
	gw             *gateway.Client
	settle         *settle.Service
	logger         *slog.Logger
	webhookSecrets map[string]string
	webhookPath    string
	redirectURL    string
	callbackURL    string
}

type Config struct {
	WebhookSecrets map[string]string
	WebhookPath    string
	RedirectURL    string
	CallbackURL    string
}

func New(repo *storage.Repository, outbox *eventbus.Outbox, bookings *bookingclient.Client, gw *gateway.Client, logger *slog.Logger, cfg Config) *Handler {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/api/v1/payments/webhook"
	}
	return &Handler{
		repo:           repo,
		outbox:         outbox,
		bookings:       bookings,
		gw:             gw,
		settle:         settle.New(repo, outbox),
		logger:         logger,
		webhookSecrets: cfg.WebhookSecrets,
		webhookPath:    cfg.WebhookPath,
		redirectURL:    strings.TrimSpace(cfg.RedirectURL),
		callbackURL:    strings.TrimSpace(cfg.CallbackURL),
	}
}

type createOrderRequest struct {
	GroupID       string `json:"group_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

type orderResponse struct {
	OrderID     string `json:"order_id"`
	GroupID     string `json:"group_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PayPageURL  string `json:"pay_page_url,omitempty"`
}

// CreateOrder opens a gateway order for a payment_pending booking group and
// returns the hosted pay page. One order per group; retries get the existing one.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if !h.gw.Enabled() {
		http.Error(w, "payment gateway not configured", http.StatusServiceUnavailable)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.GroupID == "" {
		http.Error(w, "group_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Existing order short-circuit.
	if existing, err := h.repo.GetOrderByGroup(ctx, req.GroupID); err == nil {
		if existing.UserID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, orderResponse{
			OrderID:     existing.ID,
			GroupID:     existing.GroupID,
			Status:      existing.Status,
			AmountCents: existing.AmountCents,
			Currency:    existing.Currency,
			PayPageURL:  existing.PayPageURL,
		})
		return
	} else if !storage.IsNotFound(err) {
		http.Error(w, "failed to load order", http.StatusInternalServerError)
		return
	}

	group, err := h.bookings.GetGroup(ctx, req.GroupID)
	if err != nil {
		if errors.Is(err, bookingclient.ErrGroupNotFound) {
			http.Error(w, "booking group not found", http.StatusNotFound)
			return
		}
		http.Error(w, "booking service unavailable", http.StatusServiceUnavailable)
		return
	}
	if group.Status != "payment_pending" {
		http.Error(w, "booking group is not awaiting payment", http.StatusConflict)
		return
	}
	if len(group.Bookings) == 0 {
		http.Error(w, "booking group has no bookings", http.StatusUnprocessableEntity)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderID, err := h.repo.CreateOrder(ctx, tx, storage.Order{
		GroupID:     group.GroupID,
		UserID:      userID,
		AmountCents: group.AmountCents,
		Currency:    group.Currency,
	})
	if err != nil {
		http.Error(w, "failed to create order", http.StatusInternalServerError)
		return
	}

	perDay := group.AmountCents / int64(len(group.Bookings))
	for _, b := range group.Bookings {
		if err := h.repo.CreatePayment(ctx, tx, storage.Payment{
			OrderID:     orderID,
			BookingID:   b.BookingID,
			AmountCents: perDay,
		}); err != nil {
			http.Error(w, "failed to create payment records", http.StatusInternalServerError)
			return
		}
	}

	payResp, err := h.gw.CreateOrder(ctx, gateway.PayRequest{
		OrderID:       orderID,
		AmountCents:   group.AmountCents,
		Currency:      group.Currency,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		RedirectURL:   h.redirectURL,
		CallbackURL:   h.callbackURL,
	})
	if err != nil {
		// The tx rolls back, so no half-created order survives a gateway outage.
		h.logger.Error("gateway order creation failed", "err", err, "group_id", group.GroupID)
		http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		return
	}
	if err := h.repo.SetOrderProviderRef(ctx, tx, orderID, payResp.ProviderOrderID, payResp.PayPageURL); err != nil {
		http.Error(w, "failed to store gateway reference", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:     orderID,
		GroupID:     group.GroupID,
		Status:      storage.OrderCreated,
		AmountCents: group.AmountCents,
		Currency:    group.Currency,
		PayPageURL:  payResp.PayPageURL,
	})
}

type orderStatusResponse struct {
	orderResponse
	GatewayState  string `json:"gateway_state,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// OrderStatus reports the local order state together with the gateway's view
// of it. The local rows stay authoritative; the gateway state is passthrough
// so a client can tell "we have not settled yet" from "the gateway is stuck".
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" {
		http.Error(w, "order_id required", http.StatusBadRequest)
		return
	}

	order, err := h.repo.GetOrder(r.Context(), orderID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	if strings.TrimSpace(r.Header.Get("X-Role")) != "admin" && order.UserID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{
		orderResponse: orderResponse{
			OrderID:     order.ID,
			GroupID:     order.GroupID,
			Status:      order.Status,
			AmountCents: order.AmountCents,
			Currency:    order.Currency,
			PayPageURL:  order.PayPageURL,
		},
		GatewayState:  h.gatewayState(r.Context(), order),
		FailureReason: order.FailureReason,
	})
}

// gatewayState asks the gateway where the order stands. A gateway outage
// degrades to local-only state rather than failing the request.
func (h *Handler) gatewayState(ctx context.Context, order storage.Order) string {
	if h.gw == nil || !h.gw.Enabled() || order.ProviderOrderID == "" {
		return ""
	}
	st, err := h.gw.Status(ctx, order.ID)
	if err != nil {
		h.logger.Warn("gateway status lookup failed", "order_id", order.ID, "err", err)
		return ""
	}
	return st.State
}

type invoiceItem struct {
	InvoiceID   string `json:"invoice_id"`
	Number      string `json:"number"`
	BookingID   string `json:"booking_id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	EmailSent   bool   `json:"email_sent"`
	SMSSent     bool   `json:"sms_sent"`
	IssuedAt    string `json:"issued_at"`
}

func invoiceToItem(inv storage.Invoice) invoiceItem {
	return invoiceItem{
		InvoiceID:   inv.ID,
		Number:      inv.Number,
		BookingID:   inv.BookingID,
		OrderID:     inv.OrderID,
		AmountCents: inv.AmountCents,
		Currency:    inv.Currency,
		EmailSent:   inv.EmailSent,
		SMSSent:     inv.SMSSent,
		IssuedAt:    inv.IssuedAt.UTC().Format(time.RFC3339),
	}
}

// Invoices lists (GET, optionally filtered by booking_id) or explicitly
// generates (POST) an invoice. Capture normally generates invoices; the POST
// path covers bookings captured before invoicing existed or repaired orders.
func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listInvoices(w, r)
	case http.MethodPost:
		h.generateInvoice(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	if bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id")); bookingID != "" {
		inv, err := h.repo.GetInvoiceByBooking(r.Context(), bookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "invoice not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load invoice", http.StatusInternalServerError)
			return
		}
		if inv.UserID != userID && r.Header.Get("X-Role") != "admin" {
			http.Error(w, "invoice not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, []invoiceItem{invoiceToItem(inv)})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	invoices, err := h.repo.ListInvoicesByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list invoices", http.StatusInternalServerError)
		return
	}

	items := make([]invoiceItem, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, invoiceToItem(inv))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.BookingID) == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)

	payment, order, err := h.repo.GetCapturedPaymentByBooking(r.Context(), req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "no captured payment for booking", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}
	if order.UserID != userID && r.Header.Get("X-Role") != "admin" {
		http.Error(w, "no captured payment for booking", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inv, created, err := h.repo.CreateInvoice(ctx, tx, payment.BookingID, order.ID, order.UserID, payment.AmountCents, order.Currency)
	if err != nil {
		http.Error(w, "failed to create invoice", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	if !created {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":          "invoice already exists for booking",
			"invoice_number": inv.Number,
		})
		return
	}
	writeJSON(w, http.StatusCreated, invoiceToItem(inv))
}

// SendInvoice re-queues invoice delivery over the requested channels and
// flips the per-channel sent flags.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req struct {
		BookingID string   `json:"booking_id"`
		Channels  []string `json:"channels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.BookingID) == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = []string{"email"}
	}
	var wantEmail, wantSMS bool
	for _, ch := range req.Channels {
		switch ch {
		case "email":
			wantEmail = true
		case "sms":
			wantSMS = true
		default:
			http.Error(w, "channels may only contain email and sms", http.StatusBadRequest)
			return
		}
	}

	inv, err := h.repo.GetInvoiceByBooking(r.Context(), strings.TrimSpace(req.BookingID))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invoice not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load invoice", http.StatusInternalServerError)
		return
	}
	if inv.UserID != userID && r.Header.Get("X-Role") != "admin" {
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.MarkInvoiceSent(ctx, tx, inv.ID, wantEmail, wantSMS); err != nil {
		http.Error(w, "failed to update invoice", http.StatusInternalServerError)
		return
	}
	payload, err := json.Marshal(map[string]any{
		"invoice_number": inv.Number,
		"booking_id":     inv.BookingID,
		"order_id":       inv.OrderID,
		"user_id":        inv.UserID,
		"amount_cents":   inv.AmountCents,
		"currency":       inv.Currency,
		"channels":       req.Channels,
		"issued_at":      inv.IssuedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "invoice",
		AggregateID:   inv.ID,
		EventType:     "billing.invoice.send.requested.v1",
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"invoice_number": inv.Number,
		"channels":       req.Channels,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
