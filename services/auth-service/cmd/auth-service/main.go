package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arif-mahmud/poolbook/libs/config"
	"github.com/arif-mahmud/poolbook/libs/db"
	"github.com/arif-mahmud/poolbook/libs/eventbus"
	"github.com/arif-mahmud/poolbook/libs/httpx"
	"github.com/arif-mahmud/poolbook/libs/kafkax"
	otelx "github.com/arif-mahmud/poolbook/libs/otel"
	"github.com/arif-mahmud/poolbook/libs/runtime"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/handlers"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/passcode"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/sessions"
	"github.com/arif-mahmud/poolbook/services/auth-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
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

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	signer := handlers.NewHS256Signer(jwtSecret)

	// Passcode throttling degrades gracefully without Redis; the service
	// still issues codes, just without the per-hour cap.
	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		logger.Info("passcode throttling enabled (redis)", "redis_addr", addr)
	} else {
		logger.Warn("REDIS_ADDR not set; passcode throttling disabled")
	}

	users := storage.NewUserRepository(pool)
	refreshRepo := sessions.NewRefreshRepository(pool)
	outbox := eventbus.NewOutbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	passcodes := passcode.New(pool, rdb, outbox, passcode.Config{
		TTL:         config.Seconds("PASSCODE_TTL_SECONDS", 600),
		MaxAttempts: config.Int("PASSCODE_MAX_ATTEMPTS", 5),
		MaxPerHour:  config.Int("PASSCODE_MAX_PER_HOUR", 5),
	})

	authHandler := handlers.NewAuthHandler(
		signer, pool, users, outbox, refreshRepo, passcodes,
		config.Seconds("ACCESS_TOKEN_TTL_SECONDS", 3600),
		config.Seconds("REFRESH_TOKEN_TTL_SECONDS", 30*24*3600),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("/api/v1/auth/passcode/request", authHandler.RequestPasscode)
	mux.HandleFunc("/api/v1/auth/passcode/verify", authHandler.VerifyPasscode)
	mux.HandleFunc("/api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("/api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("/api/v1/auth/me", authHandler.Me)
	mux.HandleFunc("/api/v1/auth/profile", authHandler.UpdateProfile)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "auth")
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
