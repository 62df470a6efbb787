package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"

	"github.com/edusphere/notify-api/internal/adapter"
	"github.com/edusphere/notify-api/internal/config"
	"github.com/edusphere/notify-api/internal/dedup"
	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository/postgres"
	"github.com/edusphere/notify-api/internal/service/notification"
	preferenceService "github.com/edusphere/notify-api/internal/service/preference"
	"github.com/edusphere/notify-api/internal/worker"
	"github.com/edusphere/notify-api/pkg/circuitbreaker"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/messaging"
	rabbitbroker "github.com/edusphere/notify-api/pkg/messaging/rabbitmq"
	redisbroker "github.com/edusphere/notify-api/pkg/messaging/redis"
	"github.com/edusphere/notify-api/pkg/metrics"
	"github.com/edusphere/notify-api/pkg/retry"
	"github.com/edusphere/notify-api/pkg/timeout"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zl := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()
	appLog := logger.FromZerolog(zl)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := buildBroker(ctx, cfg, &zl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	defer broker.Close()

	store, err := buildDedupStore(ctx, cfg, broker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dedup store")
	}
	deduper := dedup.New(store,
		time.Duration(cfg.Dedup.TTLHours)*time.Hour,
		time.Duration(cfg.Dedup.ClaimTTLMs)*time.Millisecond)

	m := metrics.NewMetrics("notify", "worker")

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, appLog, func(name string, from, to gobreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(circuitbreaker.StateValue(to))
		m.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	})

	dispatcher := adapter.NewDispatcher(
		timeoutConfig(cfg.Channels.Timeouts),
		rateLimits(cfg.Channels.Limits),
		appLog,
		buildAdapters(ctx, cfg, broker, appLog)...,
	)

	base := postgres.NewBaseRepository(db)
	prefRepo := postgres.NewPreferenceRepository(base)
	logRepo := postgres.NewNotificationLogRepository(base)
	dlqRepo := postgres.NewDeadLetterRepository(base)

	prefSvc := preferenceService.NewService(prefRepo, appLog)
	pipeline := notification.NewPipeline(
		dispatcher, prefSvc, deduper, breakers,
		retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxIntervalMs) * time.Millisecond,
			Multiplier:      cfg.Retry.Multiplier,
		},
		logRepo, dlqRepo, m, appLog,
		notification.WithMaxConcurrent(cfg.Pipeline.MaxConcurrent),
	)

	// Scheduled dead-letter retention.
	cleanup := worker.NewDLQCleanupWorker(dlqRepo, cfg.DLQ.RetentionDays, cfg.DLQ.CleanupBatch, m, appLog)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.DLQ.CleanupSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := cleanup.Run(runCtx); err != nil {
			appLog.Error(err, "dead letter cleanup failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("invalid cleanup schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Health and metrics endpoint for the worker process.
	go serveOps(cfg.Server.Port, appLog)

	// Event consumption: each message is one fan-out; in-flight events
	// are drained before exit.
	var inFlight sync.WaitGroup
	err = messaging.NewBrokerAdapter(broker).Subscribe(ctx, messaging.TopicNotificationEvents, func(payload []byte) error {
		var event model.NotificationEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			m.EventsRejected.Inc()
			appLog.Error(err, "failed to decode notification event")
			return nil
		}

		inFlight.Add(1)
		defer inFlight.Done()

		dispatchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := pipeline.Dispatch(dispatchCtx, &event); err != nil {
			appLog.Error(err, "event dispatch failed", "correlation_id", event.CorrelationID)
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to notification events")
	}

	appLog.Info("worker started", "broker", cfg.Broker.Type)

	<-ctx.Done()
	appLog.Info("shutting down, draining in-flight deliveries")

	done := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		appLog.Warn("drain timed out, exiting with deliveries in flight")
	}
}

func serveOps(apiPort int, appLog *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"UP"}`)
	})

	addr := fmt.Sprintf(":%d", apiPort+1)
	appLog.Info("worker ops server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		appLog.Error(err, "ops server failed")
	}
}

func buildBroker(ctx context.Context, cfg *config.Config, zl *zerolog.Logger) (messaging.Broker, error) {
	switch cfg.Broker.Type {
	case "rabbitmq":
		return rabbitbroker.NewRabbitBroker(ctx, rabbitbroker.Config{URL: cfg.Broker.URL}, zl)
	default:
		return redisbroker.NewRedisBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, zl)
	}
}

func buildDedupStore(ctx context.Context, cfg *config.Config, broker messaging.Broker) (dedup.Store, error) {
	if cfg.Dedup.Store != "redis" {
		return dedup.NewMemoryStore(), nil
	}

	if rb, ok := broker.(*redisbroker.RedisBroker); ok {
		return dedup.NewRedisStore(rb.Client()), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return dedup.NewRedisStore(client), nil
}

func buildAdapters(ctx context.Context, cfg *config.Config, broker messaging.Broker, appLog *logger.Logger) []adapter.Adapter {
	return []adapter.Adapter{
		adapter.NewEmailAdapter(adapter.SMTPConfig{
			Host:     cfg.Channels.SMTP.Host,
			Port:     cfg.Channels.SMTP.Port,
			Username: cfg.Channels.SMTP.Username,
			Password: cfg.Channels.SMTP.Password,
			From:     cfg.Channels.SMTP.From,
		}, appLog),
		adapter.NewSMSAdapter(adapter.TwilioConfig{
			AccountSID: cfg.Channels.Twilio.AccountSID,
			AuthToken:  cfg.Channels.Twilio.AuthToken,
			From:       cfg.Channels.Twilio.From,
		}, appLog),
		adapter.NewWhatsAppAdapter(adapter.WhatsAppConfig{
			BaseURL:       cfg.Channels.WhatsApp.BaseURL,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
		}, appLog),
		adapter.NewPushAdapter(newPushClient(ctx, cfg.Channels.FCM, appLog), broker, appLog),
		adapter.NewInAppAdapter(broker, messaging.TopicInApp, appLog),
	}
}

func newPushClient(ctx context.Context, cfg config.FCMConfig, appLog *logger.Logger) adapter.PushClient {
	if cfg.CredentialsFile == "" {
		return nil
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID},
		option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		appLog.Error(err, "failed to initialize firebase app, push disabled")
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		appLog.Error(err, "failed to initialize FCM client, push disabled")
		return nil
	}
	return client
}

func timeoutConfig(t config.TimeoutsConfig) timeout.Config {
	return timeout.Config{
		Email:    t.Email(),
		SMS:      t.SMS(),
		WhatsApp: t.WhatsApp(),
		Push:     t.Push(),
		InApp:    t.InApp(),
		Default:  t.Default(),
	}
}

func rateLimits(l config.RateLimitConfig) map[model.Channel]adapter.RateLimit {
	return map[model.Channel]adapter.RateLimit{
		model.ChannelEmail:    {RPS: l.EmailRPS, Burst: l.Burst},
		model.ChannelSMS:      {RPS: l.SMSRPS, Burst: l.Burst},
		model.ChannelWhatsApp: {RPS: l.WhatsAppRPS, Burst: l.Burst},
		model.ChannelPush:     {RPS: l.PushRPS, Burst: l.Burst},
	}
}
