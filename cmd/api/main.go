package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"

	"github.com/edusphere/notify-api/internal/adapter"
	"github.com/edusphere/notify-api/internal/config"
	"github.com/edusphere/notify-api/internal/dedup"
	deadletterHandler "github.com/edusphere/notify-api/internal/handler/deadletter"
	"github.com/edusphere/notify-api/internal/handler/health"
	notificationHandler "github.com/edusphere/notify-api/internal/handler/notification"
	preferenceHandler "github.com/edusphere/notify-api/internal/handler/preference"
	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository/postgres"
	"github.com/edusphere/notify-api/internal/router"
	deadletterService "github.com/edusphere/notify-api/internal/service/deadletter"
	"github.com/edusphere/notify-api/internal/service/notification"
	preferenceService "github.com/edusphere/notify-api/internal/service/preference"
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

	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
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

	m := metrics.NewMetrics("notify", "")

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
	dlqSvc := deadletterService.NewService(dlqRepo, pipeline, appLog)

	engine := router.New(zl, router.DefaultConfig(),
		health.NewHandler(db),
		preferenceHandler.NewHandler(prefSvc),
		notificationHandler.NewHandler(pipeline, logRepo, appLog),
		deadletterHandler.NewHandler(dlqSvc),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		appLog.Info("api server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "server shutdown failed")
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

	// The redis broker already holds a pool; share it.
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

// newPushClient returns nil when push is not configured; the adapter
// then reports itself unconfigured instead of failing dispatches.
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
