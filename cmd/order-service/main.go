package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/orderservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/orderservice/httpx"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/config"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/consumer"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/deadletter"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/idempotency"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/telemetry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
	"github.com/jcmexdev/ecommerce-choreography/internal/sagalog"
)

func main() {
	cfg := config.Load("order-service")
	telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, cfg.ServiceName)
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer client.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
		slog.Error("failed to create audit log directory", "path", cfg.AuditLogPath, "error", err)
		os.Exit(1)
	}
	audit, err := sagalog.Open(cfg.AuditLogPath)
	if err != nil {
		slog.Error("failed to open audit log", "path", cfg.AuditLogPath, "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	docs := docstore.New(client, "")
	log := eventlog.NewRedisLog(client, cfg.Partitions)
	sagas := saga.NewRepository(docs)
	letters := deadletter.NewRedisStore(client)

	svc := orderservice.NewService(docs, sagas, log)
	exec := choreo.NewExecutor(sagas, audit, log)
	handler := httpx.NewHandler(svc, letters, deadletter.NewReplayer(letters, log))

	loop := consumer.New(consumer.Config{
		Group:    cfg.ServiceName,
		Topics:   []string{event.TopicInventory, event.TopicPayments, event.TopicShipping},
		Log:      log,
		Registry: event.DefaultRegistry(),
		Idem:     idempotency.NewStore(docs, cfg.IdempotencyTTL, cfg.IdempotencyClaimTTL),
		DLQ:      letters,
		Policy: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Handler: orderservice.NewEventHandler(svc, exec),
	})

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpx.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	slog.Info("order service running", "addr", server.Addr, "redis", cfg.RedisAddr)

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer loop exited", "error", err)
	}

	slog.Info("order service stopped")
}
