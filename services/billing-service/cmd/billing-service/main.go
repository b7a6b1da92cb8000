package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arif-mahmud/poolbook/libs/config"
	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/libs/httpx"
	"github.com/arif-mahmud/poolbook/libs/kafkax"
	otelx "github.com/arif-mahmud/poolbook/libs/otel"
	"github.com/arif-mahmud/poolbook/libs/runtime"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/bookingclient"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/gateway"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/handlers"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/reconcile"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/settle"
	"github.com/arif-mahmud/poolbook/services/billing-service/internal/storage"
)

// parseWebhookSecrets reads "saltIndex:secret" pairs, comma separated.
func parseWebhookSecrets(raw string, logger *slog.Logger) map[string]string {
	secrets := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, secret, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(idx) == "" || strings.TrimSpace(secret) == "" {
			logger.Warn("invalid webhook secret entry ignored", "entry", part)
			continue
		}
		secrets[strings.TrimSpace(idx)] = strings.TrimSpace(secret)
	}
	return secrets
}

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewRepository(pool)
	outbox := eventbus.NewOutbox(pool)
	inbox := eventbus.NewInbox(pool)
	settleSvc := settle.New(repo, outbox)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:    config.String("GATEWAY_BASE_URL", ""),
		MerchantID: config.String("GATEWAY_MERCHANT_ID", ""),
		Secret:     config.String("GATEWAY_SECRET", ""),
		SaltIndex:  config.String("GATEWAY_SALT_INDEX", "1"),
	})
	bookings := bookingclient.New(config.String("BOOKING_BASE_URL", "http://booking-service:8082"), 5*time.Second)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	reconciler := reconcile.NewOrderReconciler(pool, repo, settleSvc, gw, logger, reconcile.Config{
		MinAge:          config.Seconds("RECONCILE_MIN_AGE_SECONDS", 300),
		AdvisoryLockKey: int64(config.Int("RECONCILE_LOCK_KEY", 0)),
	})
	go reconciler.Run(ctx, config.Seconds("RECONCILE_INTERVAL_SECONDS", 300))

	startConsumer := func(topic string, handler eventbus.Handler) {
		c := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "billing-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	// A cancelled booked day gets its share refunded. Refunds are row-state
	// transitions here; the gateway has no refund endpoint.
	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			BookingID   string `json:"booking_id"`
			GroupID     string `json:"group_id"`
			PriorStatus string `json:"prior_status"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.BookingID == "" || evt.GroupID == "" {
			logger.Error("invalid booking cancelled payload", "topic", msg.Topic)
			return nil
		}
		if evt.PriorStatus != "booked" {
			return nil
		}

		order, err := repo.GetOrderByGroup(ctx, evt.GroupID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("cancelled booking has no order", "group_id", evt.GroupID)
				return nil
			}
			return err
		}
		if order.Status != storage.OrderCaptured {
			return nil
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		payment, err := repo.GetPayment(ctx, tx, order.ID, evt.BookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("cancelled booking has no payment row", "booking_id", evt.BookingID)
				return nil
			}
			return err
		}
		if payment.Status != storage.OrderCaptured {
			return nil
		}

		refundID := "rfnd_" + uuid.NewString()
		if err := settleSvc.ApplyRefunded(ctx, tx, order, evt.BookingID, refundID, payment.AmountCents); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})

	// Expired groups release their never-paid orders.
	startConsumer("booking.group.expired.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID string `json:"group_id"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" {
			logger.Error("invalid group expired payload", "topic", msg.Topic)
			return nil
		}
		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := repo.MarkOrderExpired(ctx, tx, evt.GroupID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})

	handler := handlers.New(repo, outbox, bookings, gw, logger, handlers.Config{
		WebhookSecrets: parseWebhookSecrets(config.String("GATEWAY_WEBHOOK_SECRETS", ""), logger),
		WebhookPath:    config.String("GATEWAY_WEBHOOK_PATH", "/api/v1/payments/webhook"),
		RedirectURL:    config.String("PAYMENT_REDIRECT_URL", ""),
		CallbackURL:    config.String("PAYMENT_CALLBACK_URL", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/payments/orders", handler.CreateOrder)
	mux.HandleFunc("/api/v1/payments/status", handler.OrderStatus)
	mux.HandleFunc("/api/v1/payments/webhook", handler.GatewayWebhook)
	mux.HandleFunc("/api/v1/invoices", handler.Invoices)
	mux.HandleFunc("/api/v1/invoices/send", handler.SendInvoice)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
