package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arif-mahmud/poolbook/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Order states. "created" means the gateway order exists but the customer has
// not finished the pay page; the reconciler and webhook settle it from there.
const (
	OrderCreated  = "created"
	OrderCaptured = "captured"
	OrderFailed   = "failed"
	OrderRefunded = "refunded"
	OrderExpired  = "expired"
)

type Order struct {
	ID              string
	GroupID         string
	UserID          string
	AmountCents     int64
	Currency        string
	Status          string
	ProviderOrderID string
	TransactionID   string
	PayPageURL      string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateOrder inserts the order for a booking group. The unique index on
// group_id makes retries return the existing order instead of double-charging.
func (r *Repository) CreateOrder(ctx context.Context, tx pgx.Tx, o Order) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO payment_orders (group_id, user_id, amount_cents, currency, status, provider_order_id, pay_page_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, o.GroupID, o.UserID, o.AmountCents, o.Currency, OrderCreated, nullIfEmpty(o.ProviderOrderID), nullIfEmpty(o.PayPageURL)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetOrderByGroup(ctx context.Context, groupID string) (Order, error) {
	return r.getOrder(ctx, r.pool, `WHERE group_id = $1`, groupID, false)
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return r.getOrder(ctx, r.pool, `WHERE id = $1`, orderID, false)
}

func (r *Repository) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	return r.getOrder(ctx, tx, `WHERE id = $1`, orderID, true)
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) getOrder(ctx context.Context, q rowQueryer, where, arg string, forUpdate bool) (Order, error) {
	query := `
		SELECT id, group_id, user_id::text, amount_cents, currency, status,
			COALESCE(provider_order_id, ''), COALESCE(transaction_id, ''),
			COALESCE(pay_page_url, ''), COALESCE(failure_reason, ''), created_at, updated_at
		FROM payment_orders
	` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var o Order
	err := q.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.GroupID, &o.UserID, &o.AmountCents, &o.Currency, &o.Status,
		&o.ProviderOrderID, &o.TransactionID, &o.PayPageURL, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repository) MarkOrderCaptured(ctx context.Context, tx pgx.Tx, orderID, transactionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'captured',
			transaction_id = $2,
			updated_at = now()
		WHERE id = $1
	`, orderID, nullIfEmpty(transactionID))
	return err
}

func (r *Repository) MarkOrderFailed(ctx context.Context, tx pgx.Tx, orderID, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'failed',
			failure_reason = $2,
			updated_at = now()
		WHERE id = $1 AND status <> 'captured'
	`, orderID, nullIfEmpty(reason))
	return err
}

func (r *Repository) MarkOrderRefunded(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'refunded',
			updated_at = now()
		WHERE id = $1 AND status = 'captured'
	`, orderID)
	return err
}

func (r *Repository) MarkOrderExpired(ctx context.Context, tx pgx.Tx, groupID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'expired',
			updated_at = now()
		WHERE group_id = $1 AND status = 'created'
	`, groupID)
	return err
}

func (r *Repository) SetOrderProviderRef(ctx context.Context, tx pgx.Tx, orderID, providerOrderID, payPageURL string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET provider_order_id = $2,
			pay_page_url = $3,
			updated_at = now()
		WHERE id = $1
	`, orderID, nullIfEmpty(providerOrderID), nullIfEmpty(payPageURL))
	return err
}

// ListOrdersForReconcile returns created orders old enough that a webhook
// should have arrived already.
func (r *Repository) ListOrdersForReconcile(ctx context.Context, olderThan time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, user_id::text, amount_cents, currency, status,
			COALESCE(provider_order_id, ''), COALESCE(transaction_id, ''),
			COALESCE(pay_page_url, ''), COALESCE(failure_reason, ''), created_at, updated_at
		FROM payment_orders
		WHERE status = 'created' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.GroupID, &o.UserID, &o.AmountCents, &o.Currency, &o.Status,
			&o.ProviderOrderID, &o.TransactionID, &o.PayPageURL, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

type Payment struct {
	ID          string
	OrderID     string
	BookingID   string
	AmountCents int64
	Status      string
	CreatedAt   time.Time
}

// CreatePayment records one day's share of an order.
func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (order_id, booking_id, amount_cents, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, booking_id) DO NOTHING
	`, p.OrderID, p.BookingID, p.AmountCents, OrderCreated)
	return err
}

func (r *Repository) SetPaymentsStatus(ctx context.Context, tx pgx.Tx, orderID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now() WHERE order_id = $1
	`, orderID, status)
	return err
}

// MarkPaymentRefunded refunds a single booking's share of an order. Only
// captured shares move; failed ones stay untouched.
func (r *Repository) MarkPaymentRefunded(ctx context.Context, tx pgx.Tx, orderID, bookingID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded', updated_at = now()
		WHERE order_id = $1 AND booking_id = $2 AND status = 'captured'
	`, orderID, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) GetPayment(ctx context.Context, tx pgx.Tx, orderID, bookingID string) (Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT id, order_id, booking_id, amount_cents, status, created_at
		FROM payments
		WHERE order_id = $1 AND booking_id = $2
		FOR UPDATE
	`, orderID, bookingID).Scan(&p.ID, &p.OrderID, &p.BookingID, &p.AmountCents, &p.Status, &p.CreatedAt)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *Repository) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, booking_id, amount_cents, status, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.BookingID, &p.AmountCents, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return payments, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type Invoice struct {
	ID          string
	Number      string
	BookingID   string
	OrderID     string
	UserID      string
	AmountCents int64
	Currency    string
	EmailSent   bool
	SMSSent     bool
	IssuedAt    time.Time
}

// InvoiceNumber renders a sequence value as INV-YYYYMMDD-NNNNNN. The counter
// wraps at a million; the date prefix keeps wrapped numbers unique for any
// realistic issue rate, and the width never grows past six digits.
func InvoiceNumber(now time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%06d", now.UTC().Format("20060102"), seq%1000000)
}

// CreateInvoice issues one invoice per booking. The unique index on booking_id
// keeps replayed webhooks from issuing duplicates; invoice numbers come off a
// sequence so they never collide within a day.
func (r *Repository) CreateInvoice(ctx context.Context, tx pgx.Tx, bookingID, orderID, userID string, amountCents int64, currency string) (Invoice, bool, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return Invoice{}, false, err
	}

	var inv Invoice
	err := tx.QueryRow(ctx, `
		INSERT INTO invoices (number, booking_id, order_id, user_id, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING id, number, issued_at
	`, InvoiceNumber(time.Now(), seq), bookingID, orderID, userID, amountCents, currency).Scan(&inv.ID, &inv.Number, &inv.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := r.getInvoiceTx(ctx, tx, bookingID)
			if err != nil {
				return Invoice{}, false, err
			}
			return existing, false, nil
		}
		return Invoice{}, false, err
	}
	inv.BookingID = bookingID
	inv.OrderID = orderID
	inv.UserID = userID
	inv.AmountCents = amountCents
	inv.Currency = currency
	return inv, true, nil
}

func (r *Repository) getInvoiceTx(ctx context.Context, tx pgx.Tx, bookingID string) (Invoice, error) {
	var inv Invoice
	err := tx.QueryRow(ctx, `
		SELECT id, number, booking_id, order_id, user_id::text, amount_cents, currency, email_sent, sms_sent, issued_at
		FROM invoices
		WHERE booking_id = $1
	`, bookingID).Scan(&inv.ID, &inv.Number, &inv.BookingID, &inv.OrderID, &inv.UserID, &inv.AmountCents, &inv.Currency, &inv.EmailSent, &inv.SMSSent, &inv.IssuedAt)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (r *Repository) GetInvoiceByBooking(ctx context.Context, bookingID string) (Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, booking_id, order_id, user_id::text, amount_cents, currency, email_sent, sms_sent, issued_at
		FROM invoices
		WHERE booking_id = $1
	`, bookingID).Scan(&inv.ID, &inv.Number, &inv.BookingID, &inv.OrderID, &inv.UserID, &inv.AmountCents, &inv.Currency, &inv.EmailSent, &inv.SMSSent, &inv.IssuedAt)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// MarkInvoiceSent flips the per-channel sent flags for the given invoice.
func (r *Repository) MarkInvoiceSent(ctx context.Context, tx pgx.Tx, invoiceID string, email, sms bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE invoices
		SET email_sent = email_sent OR $2, sms_sent = sms_sent OR $3
		WHERE id = $1
	`, invoiceID, email, sms)
	return err
}

// GetCapturedPaymentByBooking returns the captured payment row for a booking
// together with its order, for explicit invoice generation.
func (r *Repository) GetCapturedPaymentByBooking(ctx context.Context, bookingID string) (Payment, Order, error) {
	var p Payment
	var o Order
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.order_id, p.booking_id, p.amount_cents, p.status, p.created_at,
		       o.id, o.group_id, o.user_id::text, o.amount_cents, o.currency, o.status
		FROM payments p
		JOIN payment_orders o ON o.id = p.order_id
		WHERE p.booking_id = $1 AND p.status = 'captured'
	`, bookingID).Scan(
		&p.ID, &p.OrderID, &p.BookingID, &p.AmountCents, &p.Status, &p.CreatedAt,
		&o.ID, &o.GroupID, &o.UserID, &o.AmountCents, &o.Currency, &o.Status,
	)
	if err != nil {
		return Payment{}, Order{}, err
	}
	return p, o, nil
}

func (r *Repository) ListInvoicesByUser(ctx context.Context, userID string, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, number, booking_id, order_id, user_id::text, amount_cents, currency, email_sent, sms_sent, issued_at
		FROM invoices
		WHERE user_id = $1
		ORDER BY issued_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.BookingID, &inv.OrderID, &inv.UserID, &inv.AmountCents, &inv.Currency, &inv.EmailSent, &inv.SMSSent, &inv.IssuedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return invoices, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
