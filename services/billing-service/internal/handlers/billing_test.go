package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOrderStatusMethodGuard(t *testing.T) {
	h := New(nil, nil, nil, nil, quietLogger(), Config{})
	rec := httptest.NewRecorder()
	h.OrderStatus(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/status?order_id=ord-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestOrderStatusRequiresOrderID(t *testing.T) {
	h := New(nil, nil, nil, nil, quietLogger(), Config{})
	rec := httptest.NewRecorder()
	h.OrderStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without order_id, got %d", rec.Code)
	}
}

func TestGatewayStatePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pg/v1/status" {
			t.Fatalf("unexpected endpoint %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(gateway.StatusResponse{OrderID: "ord-1", State: gateway.StateCaptured})
	}))
	defer srv.Close()

	gw := gateway.NewClient(gateway.Config{BaseURL: srv.URL, MerchantID: "POOLM1", Secret: "s3cret"})
	h := New(nil, nil, nil, gw, quietLogger(), Config{})

	order := storage.Order{ID: "ord-1", ProviderOrderID: "pg-1", Status: storage.OrderCreated}
	if got := h.gatewayState(context.Background(), order); got != gateway.StateCaptured {
		t.Fatalf("gateway state = %q, want %q", got, gateway.StateCaptured)
	}
}

func TestGatewayStateSkipsUnregisteredOrders(t *testing.T) {
	gw := gateway.NewClient(gateway.Config{BaseURL: "http://gateway.invalid", Secret: "s3cret"})
	h := New(nil, nil, nil, gw, quietLogger(), Config{})

	// No provider reference yet means the gateway has never seen the order.
	if got := h.gatewayState(context.Background(), storage.Order{ID: "ord-1"}); got != "" {
		t.Fatalf("expected empty state for unregistered order, got %q", got)
	}
}

func TestGatewayStateDegradesOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := gateway.NewClient(gateway.Config{BaseURL: srv.URL, Secret: "s3cret"})
	h := New(nil, nil, nil, gw, quietLogger(), Config{})

	order := storage.Order{ID: "ord-1", ProviderOrderID: "pg-1"}
	if got := h.gatewayState(context.Background(), order); got != "" {
		t.Fatalf("expected empty state when gateway errors, got %q", got)
	}
}
