package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGateway(t *testing.T, secret string, handler func(endpoint string, payload []byte) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var envelope struct {
			Request string `json:"request"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if !VerifyChecksum(r.Header.Get("X-VERIFY"), envelope.Request, r.URL.Path, map[string]string{"1": secret}) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		payload, err := DecodePayload(envelope.Request)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(r.URL.Path, payload))
	}))
}

func TestClientCreateOrder(t *testing.T) {
	srv := newTestGateway(t, "s3cret", func(endpoint string, payload []byte) any {
		if endpoint != "/pg/v1/pay" {
			t.Fatalf("unexpected endpoint %s", endpoint)
		}
		var req PayRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Fatalf("unmarshal pay request: %v", err)
		}
		if req.MerchantID != "POOLM1" || req.OrderID != "ord-1" || req.AmountCents != 450000 {
			t.Fatalf("unexpected pay request %+v", req)
		}
		return PayResponse{ProviderOrderID: "pg-1", PayPageURL: "https://pay.example/pg-1", State: StatePending}
	})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MerchantID: "POOLM1", Secret: "s3cret", SaltIndex: "1"})
	resp, err := c.CreateOrder(context.Background(), PayRequest{OrderID: "ord-1", AmountCents: 450000, Currency: "BDT"})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if resp.PayPageURL != "https://pay.example/pg-1" {
		t.Fatalf("unexpected pay page %q", resp.PayPageURL)
	}
}

func TestClientStatus(t *testing.T) {
	srv := newTestGateway(t, "s3cret", func(endpoint string, payload []byte) any {
		if endpoint != "/pg/v1/status" {
			t.Fatalf("unexpected endpoint %s", endpoint)
		}
		return StatusResponse{OrderID: "ord-1", State: StateCaptured, AmountCents: 450000, TransactionID: "txn-9"}
	})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MerchantID: "POOLM1", Secret: "s3cret"})

	status, err := c.Status(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateCaptured || status.TransactionID != "txn-9" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestClientRejectsBadSecret(t *testing.T) {
	srv := newTestGateway(t, "right-secret", func(endpoint string, payload []byte) any { return PayResponse{} })
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MerchantID: "POOLM1", Secret: "wrong-secret"})
	if _, err := c.Status(context.Background(), "ord-1"); err == nil {
		t.Fatal("expected error when gateway rejects the checksum")
	}
}
