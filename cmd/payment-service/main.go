package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/paymentservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/breaker"
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
	cfg := config.Load("payment-service")
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
	exec := choreo.NewExecutor(saga.NewRepository(docs), audit, log)

	brk := breaker.New(breaker.Settings{
		Name:             "payment-provider",
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
		Probes:           cfg.BreakerProbes,
		OnStateChange: func(name string, from, to breaker.State) {
			slog.Warn("circuit breaker state changed",
				"dependency", name, "from", from.String(), "to", to.String())
		},
	})

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	handler := paymentservice.NewHandler(
		exec,
		docs,
		paymentservice.NewStubAuthorizer(cfg.PaymentAuthLimit),
		brk,
		policy,
	)

	loop := consumer.New(consumer.Config{
		Group:    cfg.ServiceName,
		Topics:   []string{event.TopicOrders, event.TopicInventory},
		Log:      log,
		Registry: event.DefaultRegistry(),
		Idem:     idempotency.NewStore(docs, cfg.IdempotencyTTL, cfg.IdempotencyClaimTTL),
		DLQ:      deadletter.NewRedisStore(client),
		Policy:   policy,
		Handler:  handler,
	})

	slog.Info("payment service running",
		"redis", cfg.RedisAddr, "auth_limit", cfg.PaymentAuthLimit)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer loop exited", "error", err)
		os.Exit(1)
	}

	slog.Info("payment service stopped")
}
