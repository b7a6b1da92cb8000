package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

type webhookEvent struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"` // payment.captured | payment.failed | refund.completed
	OrderID       string `json:"merchant_order_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	FailureReason string `json:"failure_reason"`
	OccurredAt    string `json:"occurred_at"`
}

// GatewayWebhook handles payment gateway callbacks (no JWT auth; the checksum
// is the auth). Gateway-service exposes this path publicly.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(h.webhookSecrets) == 0 {
		http.Error(w, "gateway webhook not configured", http.StatusServiceUnavailable)
		return
	}

	verifyHeader := strings.TrimSpace(r.Header.Get("X-VERIFY"))
	if verifyHeader == "" {
		http.Error(w, "missing X-VERIFY header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		http.Error(w, "invalid webhook envelope", http.StatusBadRequest)
		return
	}
	if !gateway.VerifyChecksum(verifyHeader, envelope.Response, h.webhookPath, h.webhookSecrets) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	payload, err := gateway.DecodePayload(envelope.Response)
	if err != nil {
		http.Error(w, "invalid payload encoding", http.StatusBadRequest)
		return
	}
	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	evt.EventID = strings.TrimSpace(evt.EventID)
	evt.OrderID = strings.TrimSpace(evt.OrderID)
	if evt.EventID == "" || evt.OrderID == "" || evt.Type == "" {
		http.Error(w, "missing required event fields", http.StatusBadRequest)
		return
	}

	h.logger.Info("payment gateway event received",
		"provider_event_id", evt.EventID,
		"event_type", evt.Type,
		"order_id", evt.OrderID,
	)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotency: ignore replayed gateway events.
	if err := h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "gateway",
		ProviderEventID: evt.EventID,
		EventType:       evt.Type,
		Payload:         payload,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("gateway event duplicate ignored", "provider_event_id", evt.EventID)
			_ = tx.Commit(ctx)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	order, err := h.repo.GetOrderForUpdate(ctx, tx, evt.OrderID)
	if err != nil {
		if storage.IsNotFound(err) {
			// Acknowledge so the gateway stops retrying an order we never issued.
			h.logger.Warn("gateway event for unknown order", "order_id", evt.OrderID)
			_ = tx.Commit(ctx)
			writeJSON(w, http.StatusOK, map[string]any{"status": "unknown_order"})
			return
		}
		http.Error(w, "failed to load order", http.StatusInternalServerError)
		return
	}

	switch evt.Type {
	case "payment.captured":
		if err := h.settle.ApplyCaptured(ctx, tx, order, evt.TransactionID); err != nil {
			http.Error(w, "failed to apply capture", http.StatusInternalServerError)
			return
		}
	case "payment.failed":
		if err := h.settle.ApplyFailed(ctx, tx, order, evt.FailureReason); err != nil {
			http.Error(w, "failed to apply failure", http.StatusInternalServerError)
			return
		}
	case "refund.completed":
		if err := h.repo.MarkOrderRefunded(ctx, tx, order.ID); err != nil {
			http.Error(w, "failed to apply refund", http.StatusInternalServerError)
			return
		}
	default:
		h.logger.Info("gateway event type ignored", "event_type", evt.Type)
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
