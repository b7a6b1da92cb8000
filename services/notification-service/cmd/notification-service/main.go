package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arif-mahmud/poolbook/libs/config"
	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/libs/httpx"
	"github.com/arif-mahmud/poolbook/libs/kafkax"
	otelx "github.com/arif-mahmud/poolbook/libs/otel"
	"github.com/arif-mahmud/poolbook/libs/runtime"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/dispatch"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/email"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/message"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/sms"
	"github.com/arif-mahmud/poolbook/services/notification-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	notificationsRepo := storage.NewRepository(pool)
	contacts := storage.NewContactRepository(pool)
	inbox := eventbus.NewInbox(pool)
	outbox := eventbus.NewOutbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@poolbook.local"),
		config.String("SMTP_USERNAME", ""),
		config.String("SMTP_PASSWORD", ""),
	)

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_API_KEY", ""),
			config.String("SMS_SENDER_ID", "POOLBOOK"),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	dispatcher := dispatch.New(pool, notificationsRepo, outbox, emailSender, smsSender, logger,
		config.String("NOTIFICATION_FAIL_SUFFIX", ""))

	// resolve fills in the recipient for events that only carry a user_id.
	// An email present on the event itself wins.
	resolve := func(ctx context.Context, userID, eventEmail string) (string, string) {
		contact, err := contacts.Get(ctx, userID)
		if err != nil {
			if !storage.IsNotFound(err) {
				logger.Error("contact lookup failed", "err", err, "user_id", userID)
			}
			return eventEmail, ""
		}
		if eventEmail != "" {
			return eventEmail, contact.Name
		}
		return contact.Email, contact.Name
	}

	startConsumer := func(topic string, handler eventbus.Handler) {
		c := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("auth.user.registered.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			UserID string `json:"user_id"`
			Email  string `json:"email"`
			Name   string `json:"name"`
			Phone  string `json:"phone"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.Email == "" {
			logger.Error("invalid user registered payload", "topic", msg.Topic)
			return nil
		}
		return contacts.Upsert(ctx, storage.Contact{
			UserID: evt.UserID,
			Email:  evt.Email,
			Name:   evt.Name,
			Phone:  evt.Phone,
		})
	})

	startConsumer("auth.passcode.issued.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			UserID    string `json:"user_id"`
			Email     string `json:"email"`
			Phone     string `json:"phone"`
			Code      string `json:"code"`
			ExpiresAt string `json:"expires_at"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.Code == "" {
			logger.Error("invalid passcode payload", "topic", msg.Topic)
			return nil
		}
		_, name := resolve(ctx, evt.UserID, evt.Email)
		msgBody := message.Passcode(name, evt.Code, evt.ExpiresAt)
		if err := dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "passcode",
			Channel:   dispatch.ChannelEmail,
			Recipient: evt.Email,
			Msg:       msgBody,
		}); err != nil {
			return err
		}
		if evt.Phone == "" {
			return nil
		}
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "passcode",
			Channel:   dispatch.ChannelSMS,
			Recipient: evt.Phone,
			Msg:       msgBody,
		})
	})

	startConsumer("booking.group.confirmed.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID     string `json:"group_id"`
			UserID      string `json:"user_id"`
			StartDate   string `json:"start_date"`
			Days        int    `json:"days"`
			StartTime   string `json:"start_time"`
			EndTime     string `json:"end_time"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.GroupID == "" {
			logger.Error("invalid booking confirmed payload", "topic", msg.Topic)
			return nil
		}
		recipient, name := resolve(ctx, evt.UserID, "")
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "booking_confirmed",
			Channel:   dispatch.ChannelEmail,
			Recipient: recipient,
			Msg:       message.BookingConfirmed(name, evt.StartDate, evt.Days, evt.StartTime, evt.EndTime, evt.AmountCents, evt.Currency),
			Meta:      map[string]any{"group_id": evt.GroupID},
		})
	})

	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			BookingID     string `json:"booking_id"`
			UserID        string `json:"user_id"`
			Date          string `json:"date"`
			StartTime     string `json:"start_time"`
			Reason        string `json:"reason"`
			CustomerEmail string `json:"customer_email"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.BookingID == "" {
			logger.Error("invalid booking cancelled payload", "topic", msg.Topic)
			return nil
		}
		recipient, name := resolve(ctx, evt.UserID, evt.CustomerEmail)
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "booking_cancelled",
			Channel:   dispatch.ChannelEmail,
			Recipient: recipient,
			Msg:       message.BookingCancelled(name, evt.Date, evt.StartTime, evt.Reason),
			Meta:      map[string]any{"booking_id": evt.BookingID},
		})
	})

	startConsumer("booking.rescheduled.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			BookingID     string `json:"booking_id"`
			UserID        string `json:"user_id"`
			OldDate       string `json:"old_date"`
			OldStartTime  string `json:"old_start_time"`
			NewDate       string `json:"new_date"`
			NewStartTime  string `json:"new_start_time"`
			CustomerEmail string `json:"customer_email"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.BookingID == "" {
			logger.Error("invalid booking rescheduled payload", "topic", msg.Topic)
			return nil
		}
		recipient, name := resolve(ctx, evt.UserID, evt.CustomerEmail)
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "booking_rescheduled",
			Channel:   dispatch.ChannelEmail,
			Recipient: recipient,
			Msg:       message.BookingRescheduled(name, evt.OldDate, evt.OldStartTime, evt.NewDate, evt.NewStartTime),
			Meta:      map[string]any{"booking_id": evt.BookingID},
		})
	})

	startConsumer("billing.payment.refunded.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			PaymentID   string `json:"payment_id"`
			BookingID   string `json:"booking_id"`
			UserID      string `json:"user_id"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
			RefundedAt  string `json:"refunded_at"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.PaymentID == "" {
			logger.Error("invalid refund payload", "topic", msg.Topic)
			return nil
		}
		recipient, name := resolve(ctx, evt.UserID, "")
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "refund",
			Channel:   dispatch.ChannelEmail,
			Recipient: recipient,
			Msg:       message.Refund(name, evt.AmountCents, evt.Currency, evt.RefundedAt),
			Meta:      map[string]any{"payment_id": evt.PaymentID, "booking_id": evt.BookingID},
		})
	})

	startConsumer("billing.invoice.send.requested.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			InvoiceNumber string   `json:"invoice_number"`
			UserID        string   `json:"user_id"`
			AmountCents   int64    `json:"amount_cents"`
			Currency      string   `json:"currency"`
			Channels      []string `json:"channels"`
			IssuedAt      string   `json:"issued_at"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" || evt.InvoiceNumber == "" {
			logger.Error("invalid invoice payload", "topic", msg.Topic)
			return nil
		}
		wantEmail, wantSMS := len(evt.Channels) == 0, false
		for _, ch := range evt.Channels {
			switch ch {
			case "email":
				wantEmail = true
			case "sms":
				wantSMS = true
			}
		}
		recipient, name := resolve(ctx, evt.UserID, "")
		msgBody := message.Invoice(name, evt.InvoiceNumber, evt.AmountCents, evt.Currency, evt.IssuedAt)
		meta := map[string]any{"invoice_number": evt.InvoiceNumber}
		if wantEmail {
			if err := dispatcher.Deliver(ctx, dispatch.Delivery{
				UserID:    evt.UserID,
				Kind:      "invoice",
				Channel:   dispatch.ChannelEmail,
				Recipient: recipient,
				Msg:       msgBody,
				Meta:      meta,
			}); err != nil {
				return err
			}
		}
		if !wantSMS {
			return nil
		}
		contact, err := contacts.Get(ctx, evt.UserID)
		if err != nil || contact.Phone == "" {
			if err != nil && !storage.IsNotFound(err) {
				return err
			}
			logger.Warn("invoice sms requested without a known phone", "user_id", evt.UserID)
			return nil
		}
		return dispatcher.Deliver(ctx, dispatch.Delivery{
			UserID:    evt.UserID,
			Kind:      "invoice",
			Channel:   dispatch.ChannelSMS,
			Recipient: contact.Phone,
			Msg:       msgBody,
			Meta:      meta,
		})
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
