package settle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

// Store is the slice of the billing repository settlement touches.
type Store interface {
	MarkOrderCaptured(ctx context.Context, tx pgx.Tx, orderID, transactionID string) error
	MarkOrderFailed(ctx context.Context, tx pgx.Tx, orderID, reason string) error
	MarkPaymentRefunded(ctx context.Context, tx pgx.Tx, orderID, bookingID string) (bool, error)
	SetPaymentsStatus(ctx context.Context, tx pgx.Tx, orderID, status string) error
	ListPayments(ctx context.Context, orderID string) ([]storage.Payment, error)
	CreateInvoice(ctx context.Context, tx pgx.Tx, bookingID, orderID, userID string, amountCents int64, currency string) (storage.Invoice, bool, error)
}

// EventSink writes outbox events in the same transaction as the state change.
type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt eventbus.Event) error
}

// Service applies gateway payment outcomes to an order. Shared by the webhook
// handler, the cancelled-booking consumer, and the reconciler so every path
// settles identically.
type Service struct {
	repo   Store
	outbox EventSink
}

func New(repo Store, outbox EventSink) *Service {
	return &Service{repo: repo, outbox: outbox}
}

// ApplyCaptured settles an order: payments flip to captured, each booking gets
// its invoice, and the captured event drives booking-service's confirmation.
// Safe to call twice; an already-captured order is a no-op.
func (s *Service) ApplyCaptured(ctx context.Context, tx pgx.Tx, order storage.Order, transactionID string) error {
	if order.Status == storage.OrderCaptured {
		return nil
	}

	if err := s.repo.MarkOrderCaptured(ctx, tx, order.ID, transactionID); err != nil {
		return err
	}
	if err := s.repo.SetPaymentsStatus(ctx, tx, order.ID, storage.OrderCaptured); err != nil {
		return err
	}

	capturedPayload, err := json.Marshal(map[string]any{
		"payment_id":     order.ID,
		"group_id":       order.GroupID,
		"user_id":        order.UserID,
		"amount_cents":   order.AmountCents,
		"currency":       order.Currency,
		"transaction_id": transactionID,
		"captured_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "payment_order",
		AggregateID:   order.ID,
		EventType:     "billing.payment.captured.v1",
		Payload:       capturedPayload,
	}); err != nil {
		return err
	}

	payments, err := s.repo.ListPayments(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		inv, created, err := s.repo.CreateInvoice(ctx, tx, p.BookingID, order.ID, order.UserID, p.AmountCents, order.Currency)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		invoicePayload, err := json.Marshal(map[string]any{
			"invoice_id":     inv.ID,
			"invoice_number": inv.Number,
			"booking_id":     p.BookingID,
			"order_id":       order.ID,
			"user_id":        order.UserID,
			"amount_cents":   p.AmountCents,
			"currency":       order.Currency,
			"issued_at":      inv.IssuedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, eventbus.Event{
			AggregateType: "invoice",
			AggregateID:   inv.ID,
			EventType:     "billing.invoice.send.requested.v1",
			Payload:       invoicePayload,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ApplyFailed marks an unsettled order failed. A capture that raced ahead wins.
func (s *Service) ApplyFailed(ctx context.Context, tx pgx.Tx, order storage.Order, reason string) error {
	if order.Status != storage.OrderCreated {
		return nil
	}

	if err := s.repo.MarkOrderFailed(ctx, tx, order.ID, reason); err != nil {
		return err
	}
	if err := s.repo.SetPaymentsStatus(ctx, tx, order.ID, storage.OrderFailed); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"payment_id":   order.ID,
		"group_id":     order.GroupID,
		"user_id":      order.UserID,
		"amount_cents": order.AmountCents,
		"currency":     order.Currency,
		"reason":       reason,
		"failed_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "payment_order",
		AggregateID:   order.ID,
		EventType:     "billing.payment.failed.v1",
		Payload:       payload,
	})
}

// ApplyRefunded records a gateway-confirmed refund of a single booking's share.
func (s *Service) ApplyRefunded(ctx context.Context, tx pgx.Tx, order storage.Order, bookingID, refundID string, amountCents int64) error {
	moved, err := s.repo.MarkPaymentRefunded(ctx, tx, order.ID, bookingID)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"payment_id":   order.ID,
		"group_id":     order.GroupID,
		"user_id":      order.UserID,
		"booking_id":   bookingID,
		"refund_id":    refundID,
		"amount_cents": amountCents,
		"currency":     order.Currency,
		"refunded_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "payment_order",
		AggregateID:   order.ID,
		EventType:     "billing.payment.refunded.v1",
		Payload:       payload,
	})
}
