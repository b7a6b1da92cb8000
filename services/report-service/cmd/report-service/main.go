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
	"github.com/arif-mahmud/poolbook/services/report-service/internal/handlers"
	"github.com/arif-mahmud/poolbook/services/report-service/internal/storage"
)

func spanDates(startDate string, days int) ([]string, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return dates, nil
}

func main() {
	service := config.String("SERVICE_NAME", "report-service")
	port, err := config.Port("PORT", "8085")
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
	inbox := eventbus.NewInbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	startConsumer := func(topic string, handler eventbus.Handler) {
		c := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "report-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	startConsumer("booking.group.created.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID     string `json:"group_id"`
			UserID      string `json:"user_id"`
			StartDate   string `json:"start_date"`
			Days        int    `json:"days"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" || evt.Days <= 0 {
			logger.Error("invalid group created payload", "topic", msg.Topic)
			return nil
		}
		dates, err := spanDates(evt.StartDate, evt.Days)
		if err != nil {
			logger.Error("invalid start_date in group created payload", "err", err)
			return nil
		}
		meta := kafkax.ExtractEventMeta(msg)
		return repo.RecordGroupCreated(ctx, meta.EventID, meta.EventType, evt.GroupID, evt.UserID, dates, evt.AmountCents, evt.Currency)
	})

	groupStatus := func(topic, status string) {
		startConsumer(topic, func(ctx context.Context, msg kafka.Message) error {
			var evt struct {
				GroupID string `json:"group_id"`
			}
			if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" {
				logger.Error("invalid group status payload", "topic", msg.Topic)
				return nil
			}
			meta := kafkax.ExtractEventMeta(msg)
			return repo.RecordGroupStatus(ctx, meta.EventID, meta.EventType, evt.GroupID, status)
		})
	}
	groupStatus("booking.group.confirmed.v1", "booked")
	groupStatus("booking.group.cancelled.v1", "cancelled")
	groupStatus("booking.group.expired.v1", "expired")

	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID string `json:"group_id"`
			Date    string `json:"date"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" || evt.Date == "" {
			logger.Error("invalid booking cancelled payload", "topic", msg.Topic)
			return nil
		}
		meta := kafkax.ExtractEventMeta(msg)
		return repo.RecordDayStatus(ctx, meta.EventID, meta.EventType, evt.GroupID, evt.Date, "cancelled")
	})

	startConsumer("booking.rescheduled.v1", func(ctx context.Context, msg kafka.Message) error {
		var evt struct {
			GroupID string `json:"group_id"`
			OldDate string `json:"old_date"`
			NewDate string `json:"new_date"`
		}
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.GroupID == "" || evt.OldDate == "" || evt.NewDate == "" {
			logger.Error("invalid booking rescheduled payload", "topic", msg.Topic)
			return nil
		}
		meta := kafkax.ExtractEventMeta(msg)
		return repo.RecordDayMoved(ctx, meta.EventID, evt.GroupID, evt.OldDate, evt.NewDate)
	})

	payment := func(topic, tsField, outcome string) {
		startConsumer(topic, func(ctx context.Context, msg kafka.Message) error {
			var evt map[string]any
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Error("invalid payment payload", "topic", msg.Topic)
				return nil
			}
			paymentID, _ := evt["payment_id"].(string)
			amount, _ := evt["amount_cents"].(float64)
			ts, _ := evt[tsField].(string)
			if paymentID == "" || amount <= 0 {
				logger.Error("missing payment fields", "topic", msg.Topic)
				return nil
			}
			occurredAt, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				occurredAt = time.Now().UTC()
			}
			var capturedCents, refundedCents, failedCents int64
			switch outcome {
			case "captured":
				capturedCents = int64(amount)
			case "refunded":
				refundedCents = int64(amount)
			case "failed":
				failedCents = int64(amount)
			}
			meta := kafkax.ExtractEventMeta(msg)
			return repo.RecordPayment(ctx, meta.EventID, meta.EventType, paymentID, occurredAt, capturedCents, refundedCents, failedCents)
		})
	}
	payment("billing.payment.captured.v1", "captured_at", "captured")
	payment("billing.payment.refunded.v1", "refunded_at", "refunded")
	payment("billing.payment.failed.v1", "failed_at", "failed")

	reportHandler := handlers.NewReportHandler(repo, logger)
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/admin/reports/bookings", reportHandler.Bookings)
	mux.HandleFunc("/api/v1/admin/reports/revenue", reportHandler.Revenue)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "report")
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
