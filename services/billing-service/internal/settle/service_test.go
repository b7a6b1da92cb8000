package settle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

type fakeStore struct {
	orderStatus    map[string]string
	paymentStatus  map[string]string // keyed by booking id
	payments       []storage.Payment
	invoiceCreated map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orderStatus:    map[string]string{},
		paymentStatus:  map[string]string{},
		invoiceCreated: map[string]bool{},
	}
}

func (f *fakeStore) MarkOrderCaptured(_ context.Context, _ pgx.Tx, orderID, _ string) error {
	f.orderStatus[orderID] = storage.OrderCaptured
	return nil
}

func (f *fakeStore) MarkOrderFailed(_ context.Context, _ pgx.Tx, orderID, _ string) error {
	f.orderStatus[orderID] = storage.OrderFailed
	return nil
}

func (f *fakeStore) MarkPaymentRefunded(_ context.Context, _ pgx.Tx, _ string, bookingID string) (bool, error) {
	if f.paymentStatus[bookingID] != storage.OrderCaptured {
		return false, nil
	}
	f.paymentStatus[bookingID] = storage.OrderRefunded
	return true, nil
}

func (f *fakeStore) SetPaymentsStatus(_ context.Context, _ pgx.Tx, _ string, status string) error {
	for booking := range f.paymentStatus {
		f.paymentStatus[booking] = status
	}
	return nil
}

func (f *fakeStore) ListPayments(_ context.Context, _ string) ([]storage.Payment, error) {
	return f.payments, nil
}

func (f *fakeStore) CreateInvoice(_ context.Context, _ pgx.Tx, bookingID, orderID, userID string, amountCents int64, currency string) (storage.Invoice, bool, error) {
	if f.invoiceCreated[bookingID] {
		return storage.Invoice{ID: "inv-" + bookingID, BookingID: bookingID}, false, nil
	}
	f.invoiceCreated[bookingID] = true
	return storage.Invoice{
		ID:          "inv-" + bookingID,
		Number:      "INV-20260829-000001",
		BookingID:   bookingID,
		OrderID:     orderID,
		UserID:      userID,
		AmountCents: amountCents,
		Currency:    currency,
		IssuedAt:    time.Now().UTC(),
	}, true, nil
}

type fakeSink struct {
	events []eventbus.Event
}

func (f *fakeSink) Insert(_ context.Context, _ pgx.Tx, evt eventbus.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeSink) ofType(eventType string) []eventbus.Event {
	var out []eventbus.Event
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func capturedOrder() storage.Order {
	return storage.Order{
		ID:          "ord-1",
		GroupID:     "grp-1",
		UserID:      "usr-1",
		AmountCents: 450000,
		Currency:    "BDT",
		Status:      storage.OrderCaptured,
	}
}

func TestApplyCapturedSettlesAndInvoices(t *testing.T) {
	store := newFakeStore()
	store.paymentStatus = map[string]string{"bk-1": storage.OrderCreated, "bk-2": storage.OrderCreated}
	store.payments = []storage.Payment{
		{OrderID: "ord-1", BookingID: "bk-1", AmountCents: 150000},
		{OrderID: "ord-1", BookingID: "bk-2", AmountCents: 150000},
	}
	sink := &fakeSink{}
	svc := New(store, sink)

	order := capturedOrder()
	order.Status = storage.OrderCreated
	if err := svc.ApplyCaptured(context.Background(), nil, order, "txn-9"); err != nil {
		t.Fatalf("ApplyCaptured failed: %v", err)
	}

	if store.orderStatus["ord-1"] != storage.OrderCaptured {
		t.Fatalf("order status = %q, want captured", store.orderStatus["ord-1"])
	}
	for booking, status := range store.paymentStatus {
		if status != storage.OrderCaptured {
			t.Fatalf("payment %s status = %q, want captured", booking, status)
		}
	}
	if got := sink.ofType("billing.payment.captured.v1"); len(got) != 1 {
		t.Fatalf("captured events = %d, want 1", len(got))
	}
	if got := sink.ofType("billing.invoice.send.requested.v1"); len(got) != 2 {
		t.Fatalf("invoice events = %d, want 2 (one per booking)", len(got))
	}
}

func TestApplyCapturedIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	svc := New(store, sink)

	if err := svc.ApplyCaptured(context.Background(), nil, capturedOrder(), "txn-9"); err != nil {
		t.Fatalf("ApplyCaptured failed: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("already-captured order emitted %d events, want 0", len(sink.events))
	}
}

func TestApplyFailedOnlyFromCreated(t *testing.T) {
	store := newFakeStore()
	store.paymentStatus = map[string]string{"bk-1": storage.OrderCreated}
	sink := &fakeSink{}
	svc := New(store, sink)

	order := capturedOrder()
	order.Status = storage.OrderCreated
	if err := svc.ApplyFailed(context.Background(), nil, order, "declined"); err != nil {
		t.Fatalf("ApplyFailed failed: %v", err)
	}
	if store.orderStatus["ord-1"] != storage.OrderFailed {
		t.Fatalf("order status = %q, want failed", store.orderStatus["ord-1"])
	}
	if got := sink.ofType("billing.payment.failed.v1"); len(got) != 1 {
		t.Fatalf("failed events = %d, want 1", len(got))
	}

	// A capture that raced ahead wins: failing a captured order is a no-op.
	sink.events = nil
	if err := svc.ApplyFailed(context.Background(), nil, capturedOrder(), "declined"); err != nil {
		t.Fatalf("ApplyFailed on captured order failed: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("captured order emitted %d failed events, want 0", len(sink.events))
	}
	if store.orderStatus["ord-1"] != storage.OrderFailed {
		t.Fatalf("captured order was overwritten to %q", store.orderStatus["ord-1"])
	}
}

func TestApplyRefundedMovesCapturedPayment(t *testing.T) {
	store := newFakeStore()
	store.paymentStatus = map[string]string{"bk-1": storage.OrderCaptured}
	sink := &fakeSink{}
	svc := New(store, sink)

	if err := svc.ApplyRefunded(context.Background(), nil, capturedOrder(), "bk-1", "rfnd-1", 150000); err != nil {
		t.Fatalf("ApplyRefunded failed: %v", err)
	}
	if store.paymentStatus["bk-1"] != storage.OrderRefunded {
		t.Fatalf("payment status = %q, want refunded", store.paymentStatus["bk-1"])
	}

	events := sink.ofType("billing.payment.refunded.v1")
	if len(events) != 1 {
		t.Fatalf("refunded events = %d, want 1", len(events))
	}
	var payload struct {
		BookingID   string `json:"booking_id"`
		RefundID    string `json:"refund_id"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal refunded payload: %v", err)
	}
	if payload.BookingID != "bk-1" || payload.RefundID != "rfnd-1" || payload.AmountCents != 150000 {
		t.Fatalf("unexpected refunded payload %+v", payload)
	}
}

func TestApplyRefundedSkipsAlreadyRefunded(t *testing.T) {
	store := newFakeStore()
	store.paymentStatus = map[string]string{"bk-1": storage.OrderRefunded}
	sink := &fakeSink{}
	svc := New(store, sink)

	if err := svc.ApplyRefunded(context.Background(), nil, capturedOrder(), "bk-1", "rfnd-2", 150000); err != nil {
		t.Fatalf("ApplyRefunded failed: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("replayed refund emitted %d events, want 0", len(sink.events))
	}
}
