package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
)

func newWebhookHandler(secrets map[string]string) *Handler {
	return New(nil, nil, nil, nil, nil, Config{
		WebhookSecrets: secrets,
		WebhookPath:    "/api/v1/payments/webhook",
	})
}

func postWebhook(h *Handler, body, verify string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
	if verify != "" {
		req.Header.Set("X-VERIFY", verify)
	}
	h.GatewayWebhook(rec, req)
	return rec
}

func TestGatewayWebhookUnconfigured(t *testing.T) {
	rec := postWebhook(newWebhookHandler(nil), `{}`, "x###1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no secrets configured, got %d", rec.Code)
	}
}

func TestGatewayWebhookMissingSignature(t *testing.T) {
	rec := postWebhook(newWebhookHandler(map[string]string{"1": "s"}), `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without X-VERIFY, got %d", rec.Code)
	}
}

func TestGatewayWebhookBadEnvelope(t *testing.T) {
	h := newWebhookHandler(map[string]string{"1": "s"})
	for _, body := range []string{`not json`, `{}`, `{"response":""}`} {
		rec := postWebhook(h, body, "deadbeef###1")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestGatewayWebhookBadSignature(t *testing.T) {
	h := newWebhookHandler(map[string]string{"1": "right-secret"})

	raw, _ := json.Marshal(webhookEvent{EventID: "evt-1", Type: "payment.captured", OrderID: "ord-1"})
	encoded := gateway.EncodePayload(raw)
	body, _ := json.Marshal(map[string]string{"response": encoded})

	// Signed with the wrong secret.
	verify := gateway.Checksum(encoded, "/api/v1/payments/webhook", "wrong-secret", "1")
	rec := postWebhook(h, string(body), verify)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	// Signed for a different endpoint.
	verify = gateway.Checksum(encoded, "/pg/v1/pay", "right-secret", "1")
	rec = postWebhook(h, string(body), verify)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for endpoint mismatch, got %d", rec.Code)
	}
}
