// cmd/notification-engine/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notification-engine/internal/api"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/database"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/dispatch"
	"notification-engine/internal/inbound"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/provider/chat"
	"notification-engine/internal/provider/email"
	"notification-engine/internal/provider/sms"
	"notification-engine/internal/queue"
	"notification-engine/internal/template"
	"notification-engine/internal/tracker"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// logOnlyEvents is the default business-layer hook: domain events are logged
// until an external consumer is wired in.
type logOnlyEvents struct {
	log logger.Logger
}

func (e *logOnlyEvents) CustomerConfirmed(_ context.Context, event *models.InboundEvent) error {
	e.log.Info("domain event: customer confirmed", map[string]interface{}{
		"channel":       event.Channel,
		"sender":        event.SenderAddress,
		"correlationId": event.CorrelationID,
	})
	return nil
}

func (e *logOnlyEvents) CustomerRequestedCancellation(_ context.Context, event *models.InboundEvent) error {
	e.log.Info("domain event: customer requested cancellation", map[string]interface{}{
		"channel":       event.Channel,
		"sender":        event.SenderAddress,
		"correlationId": event.CorrelationID,
	})
	return nil
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if err := database.EnsureSchema(ctx, pg.DB); err != nil {
		zapLog.Fatal("schema setup failed", zap.Error(err))
	}

	// --- Init Redis with retry ---
	var rds *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rds, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rds.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rds.Close()
	zapLog.Info("Redis connected successfully")

	// --- Channel adapters ---
	registry := provider.NewRegistry()

	if cfg.Providers.Email.Enabled {
		adapter, err := email.NewAdapter(ctx, email.Config{
			AWSRegion:     cfg.Providers.Email.AWSRegion,
			FromEmail:     cfg.Providers.Email.FromEmail,
			WebhookSecret: cfg.Providers.Email.WebhookSecret,
		})
		if err != nil {
			zapLog.Fatal("email adapter init failed", zap.Error(err))
		}
		registry.Register(adapter)
		zapLog.Info("email adapter registered")
	}

	if cfg.Providers.SMS.Enabled {
		adapter, err := sms.NewAdapter(ctx, sms.Config{
			AWSRegion:     cfg.Providers.SMS.AWSRegion,
			SenderID:      cfg.Providers.SMS.SenderID,
			WebhookSecret: cfg.Providers.SMS.WebhookSecret,
		})
		if err != nil {
			zapLog.Fatal("sms adapter init failed", zap.Error(err))
		}
		registry.Register(adapter)
		zapLog.Info("sms adapter registered")
	}

	if cfg.Providers.Chat.Enabled {
		registry.Register(chat.NewAdapter(chat.Config{
			BaseURL:       cfg.Providers.Chat.BaseURL,
			APIKey:        cfg.Providers.Chat.APIKey,
			WebhookSecret: cfg.Providers.Chat.WebhookSecret,
			Timeout:       time.Duration(cfg.Providers.Chat.Timeout) * time.Millisecond,
		}))
		zapLog.Info("chat adapter registered")
	}

	// --- Core components ---
	templates := template.NewPostgresStore(pg.DB)
	engine := template.NewEngine(templates)

	q := queue.New(rds.Client, queue.Options{
		LeaseDuration: cfg.Queue.LeaseDurationDuration(),
		DedupeTTL:     cfg.Queue.DedupeTTLDuration(),
	}, log)

	tr := tracker.New(pg.DB, rds.Client, tracker.Options{}, log)

	dispatcher := dispatch.New(q, engine, tr, registry, obs, dispatch.Options{
		Workers:        cfg.Dispatch.Workers,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		PollInterval:   cfg.Queue.PollIntervalDuration(),
		SendTimeout:    cfg.Dispatch.SendTimeoutDuration(),
		LeaseHeartbeat: cfg.Dispatch.LeaseHeartbeatDuration(),
		Backoff: dispatch.BackoffPolicy{
			Base:   cfg.Dispatch.BackoffBaseDuration(),
			Cap:    cfg.Dispatch.BackoffCapDuration(),
			Jitter: cfg.Dispatch.BackoffJitter,
		},
		RateLimitRPS:   cfg.Dispatch.RateLimitRPS,
		RateLimitBurst: cfg.Dispatch.RateLimitBurst,
	}, log)

	processor := inbound.New(registry, tr, q, &logOnlyEvents{log: log}, rds.Client, inbound.Options{
		DedupeTTL:    cfg.Inbound.CallbackDedupeTTLDuration(),
		HelpTenant:   cfg.Inbound.HelpTenant,
		HelpTemplate: cfg.Inbound.HelpTemplate,
	}, log)

	server := api.NewServer(cfg.HTTP, api.Deps{
		Queue:     q,
		Tracker:   tr,
		Templates: templates,
		Processor: processor,
		Adapters:  registry,
		DB:        pg.DB,
		Redis:     rds.Client,
		Logger:    log,
	})

	dispatcher.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			zapLog.Error("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Millisecond)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}

	cancel()
	dispatcher.Wait()

	zapLog.Info("Notification engine stopped gracefully")
}
