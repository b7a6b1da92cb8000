// Package dispatch delivers a rendered message over one channel, records the
// attempt, and emits the matching notification event.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/email"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/message"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/sms"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/storage"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Delivery struct {
	UserID    string
	Kind      string
	Channel   string
	Recipient string
	Msg       message.Message
	Meta      map[string]any
}

type Dispatcher struct {
	pool        *db.Pool
	repo        *storage.Repository
	outbox      *eventbus.Outbox
	emailSender email.Sender
	smsSender   sms.Sender
	logger      *slog.Logger

	// Recipients ending in failSuffix fail without touching a provider.
	// Lets end-to-end tests exercise the failure path.
	failSuffix string
}

func New(pool *db.Pool, repo *storage.Repository, outbox *eventbus.Outbox, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, failSuffix string) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		emailSender: emailSender,
		smsSender:   smsSender,
		logger:      logger,
		failSuffix:  failSuffix,
	}
}

// Deliver sends over the delivery's channel and persists the outcome. A
// provider failure is recorded and published as notification.failed.v1, not
// returned; only persistence errors bubble up so the consumer retries them.
func (d *Dispatcher) Deliver(ctx context.Context, del Delivery) error {
	status := "sent"
	providerID := ""
	failureReason := ""

	if del.Recipient == "" {
		status = "failed"
		failureReason = "no recipient"
	} else if d.failSuffix != "" && strings.HasSuffix(del.Recipient, d.failSuffix) {
		status = "failed"
		failureReason = "simulated failure"
	} else {
		switch del.Channel {
		case ChannelEmail:
			if err := d.emailSender.Send(del.Recipient, del.Msg.Subject, del.Msg.Body); err != nil {
				status = "failed"
				failureReason = err.Error()
				d.logger.Error("email send failed", "err", err, "kind", del.Kind)
			} else {
				providerID = "smtp"
			}
		case ChannelSMS:
			if err := d.smsSender.Send(ctx, del.Recipient, del.Msg.SMS); err != nil {
				status = "failed"
				failureReason = err.Error()
				d.logger.Error("sms send failed", "err", err, "kind", del.Kind)
			} else {
				providerID = d.smsSender.ProviderID()
			}
		default:
			status = "failed"
			failureReason = "unsupported channel: " + del.Channel
		}
	}

	if err := d.repo.Insert(ctx, storage.Notification{
		UserID:    del.UserID,
		Kind:      del.Kind,
		Channel:   del.Channel,
		Recipient: del.Recipient,
		Payload:   del.Meta,
		Status:    status,
	}); err != nil {
		return err
	}

	if err := d.writeOutcome(ctx, del, status, providerID, failureReason); err != nil {
		return err
	}

	d.logger.Info("notification processed", "kind", del.Kind, "channel", del.Channel, "status", status)
	return nil
}

func (d *Dispatcher) writeOutcome(ctx context.Context, del Delivery, status, providerID, failureReason string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	body := map[string]any{
		"user_id": del.UserID,
		"kind":    del.Kind,
		"channel": del.Channel,
	}
	eventType := "notification.sent.v1"
	if status == "failed" {
		eventType = "notification.failed.v1"
		body["error_reason"] = failureReason
		body["failed_at"] = time.Now().UTC().Format(time.RFC3339)
	} else {
		if providerID == "" {
			providerID = "unknown"
		}
		body["provider_id"] = providerID
		body["sent_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if err := d.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "notification",
		AggregateID:   del.UserID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
