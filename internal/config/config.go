package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Broker   BrokerConfig
	Channels ChannelsConfig
	Retry    RetryConfig
	Breaker  BreakerConfig
	Dedup    DedupConfig
	DLQ      DLQConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// BrokerConfig selects the event transport. Type is "redis" or
// "rabbitmq"; URL is only read for rabbitmq.
type BrokerConfig struct {
	Type string `mapstructure:"type"`
	URL  string `mapstructure:"url"`
}

type ChannelsConfig struct {
	SMTP     SMTPConfig      `mapstructure:"smtp"`
	Twilio   TwilioConfig    `mapstructure:"twilio"`
	WhatsApp WhatsAppConfig  `mapstructure:"whatsapp"`
	FCM      FCMConfig       `mapstructure:"fcm"`
	Timeouts TimeoutsConfig  `mapstructure:"timeouts"`
	Limits   RateLimitConfig `mapstructure:"limits"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	AccessToken   string `mapstructure:"access_token"`
}

type FCMConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
}

// TimeoutsConfig holds per-channel send deadlines in milliseconds. A
// zero value falls back to DefaultMs.
type TimeoutsConfig struct {
	EmailMs    int `mapstructure:"email_ms"`
	SMSMs      int `mapstructure:"sms_ms"`
	WhatsAppMs int `mapstructure:"whatsapp_ms"`
	PushMs     int `mapstructure:"push_ms"`
	InAppMs    int `mapstructure:"in_app_ms"`
	DefaultMs  int `mapstructure:"default_ms"`
}

type RateLimitConfig struct {
	EmailRPS    float64 `mapstructure:"email_rps"`
	SMSRPS      float64 `mapstructure:"sms_rps"`
	WhatsAppRPS float64 `mapstructure:"whatsapp_rps"`
	PushRPS     float64 `mapstructure:"push_rps"`
	Burst       int     `mapstructure:"burst"`
}

type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialIntervalMs int     `mapstructure:"initial_interval_ms"`
	MaxIntervalMs     int     `mapstructure:"max_interval_ms"`
	Multiplier        float64 `mapstructure:"multiplier"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

type DedupConfig struct {
	// Store is "redis" or "memory".
	Store      string `mapstructure:"store"`
	TTLHours   int    `mapstructure:"ttl_hours"`
	ClaimTTLMs int    `mapstructure:"claim_ttl_ms"`
}

type DLQConfig struct {
	RetentionDays   int    `mapstructure:"retention_days"`
	CleanupBatch    int    `mapstructure:"cleanup_batch"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

type PipelineConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)

	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("broker.type", "redis")

	viper.SetDefault("channels.timeouts.default_ms", 10000)
	viper.SetDefault("channels.limits.burst", 5)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_interval_ms", 500)
	viper.SetDefault("retry.max_interval_ms", 5000)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.cooldown_seconds", 30)

	viper.SetDefault("dedup.store", "memory")
	viper.SetDefault("dedup.ttl_hours", 24)
	viper.SetDefault("dedup.claim_ttl_ms", 30000)

	viper.SetDefault("dlq.retention_days", 14)
	viper.SetDefault("dlq.cleanup_batch", 500)
	viper.SetDefault("dlq.cleanup_schedule", "0 3 * * *")

	viper.SetDefault("pipeline.max_concurrent", 64)
}

// Duration helpers keep millisecond config fields out of the call sites.

func (t TimeoutsConfig) Email() time.Duration    { return msOr(t.EmailMs, t.DefaultMs) }
func (t TimeoutsConfig) SMS() time.Duration      { return msOr(t.SMSMs, t.DefaultMs) }
func (t TimeoutsConfig) WhatsApp() time.Duration { return msOr(t.WhatsAppMs, t.DefaultMs) }
func (t TimeoutsConfig) Push() time.Duration     { return msOr(t.PushMs, t.DefaultMs) }
func (t TimeoutsConfig) InApp() time.Duration    { return msOr(t.InAppMs, t.DefaultMs) }
func (t TimeoutsConfig) Default() time.Duration  { return msOr(t.DefaultMs, 10000) }

func msOr(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
