package main

import (
	"context"
	"encoding/json"
	"net/http"
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
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/handlers"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/model"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/storage"
	"github.com/arif-mahmud/poolbook/services/booking-service/internal/sweep"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8082")
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

	bookingRepo := storage.NewBookingRepository(pool)
	slotRepo := storage.NewSlotRepository(pool)
	outbox := eventbus.NewOutbox(pool)
	inbox := eventbus.NewInbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	sweeper := sweep.New(pool, bookingRepo, outbox, logger, sweep.Config{
		PendingTTL: config.Seconds("PENDING_TTL_SECONDS", 1800),
		Every:      config.Seconds("SWEEP_EVERY_SECONDS", 60),
	})
	go sweeper.Run(ctx)

	// Billing closes the payment saga: captured payments confirm the group,
	// failed or refunded ones release it.
	settle := func(ctx context.Context, groupID, status, eventType string, extra map[string]any) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		group, err := bookingRepo.GetGroupForUpdate(ctx, tx, groupID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("payment event for unknown group", "group_id", groupID)
				return nil
			}
			return err
		}
		if group.Status != model.StatusPaymentPending {
			logger.Info("payment event ignored; group already settled", "group_id", groupID, "status", group.Status)
			return nil
		}

		if err := bookingRepo.SetGroupStatus(ctx, tx, groupID, status); err != nil {
			return err
		}

		payload := map[string]any{
			"group_id":     groupID,
			"user_id":      group.UserID,
			"start_date":   group.StartDate,
			"days":         group.Days,
			"start_time":   group.StartTime,
			"end_time":     group.EndTime,
			"amount_cents": group.AmountCents,
			"currency":     group.Currency,
		}
		for k, v := range extra {
			payload[k] = v
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := outbox.Insert(ctx, tx, eventbus.Event{
			AggregateType: "booking_group",
			AggregateID:   groupID,
			EventType:     eventType,
			Payload:       body,
		}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	startConsumer := func(topic string, handler eventbus.Handler) {
		c := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("billing.payment.captured.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID   string `json:"group_id"`
			PaymentID string `json:"payment_id"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" {
			logger.Error("invalid payment captured payload", "topic", msg.Topic)
			return nil
		}
		return settle(ctx, evt.GroupID, model.StatusBooked, "booking.group.confirmed.v1",
			map[string]any{"payment_id": evt.PaymentID})
	})

	startConsumer("billing.payment.failed.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID string `json:"group_id"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" {
			logger.Error("invalid payment failed payload", "topic", msg.Topic)
			return nil
		}
		return settle(ctx, evt.GroupID, model.StatusCancelled, "booking.group.cancelled.v1",
			map[string]any{"reason": evt.Reason})
	})

	spanDays := config.Int("BOOKING_SPAN_DAYS", 3)
	slotHandler := handlers.NewSlotHandler(slotRepo, bookingRepo, logger, spanDays)
	bookingHandler := handlers.NewBookingHandler(
		bookingRepo, slotRepo, outbox, logger,
		spanDays,
		int64(config.Int("DAY_PRICE_CENTS", 150000)),
		config.String("CURRENCY", "BDT"),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/public/availability", slotHandler.Availability)
	mux.HandleFunc("/api/v1/public/availability/span", slotHandler.SpanAvailability)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.ListMine)
	mux.HandleFunc("/api/v1/bookings/create", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/bookings/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/booking-groups", bookingHandler.GetGroup)
	mux.HandleFunc("/api/v1/admin/slots", slotHandler.List)
	mux.HandleFunc("/api/v1/admin/slots/create", slotHandler.Create)
	mux.HandleFunc("/api/v1/admin/slots/update", slotHandler.Update)
	mux.HandleFunc("/api/v1/admin/slots/delete", slotHandler.Delete)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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
