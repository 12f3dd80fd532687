// Package config loads and validates configuration for all sendfabric
// processes (server, worker, orchestrator, scheduler, reconciler).
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Broker    BrokerConfig    `yaml:"broker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Leader    LeaderConfig    `yaml:"leader"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	SES       SESConfig       `yaml:"ses"`
	Telnyx    TelnyxConfig    `yaml:"telnyx"`
	Resend    ResendConfig    `yaml:"resend"`
	Generic   GenericConfig   `yaml:"generic"`
	Internal  InternalConfig  `yaml:"internal"`
}

// ServerConfig holds HTTP server configuration for the webhook ingestor.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS/container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// PostgresConfig holds the relational-store connection.
type PostgresConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds the shared cache connection (rate fabric, hot state, leases).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig holds the NATS JetStream connection and retention settings.
type BrokerConfig struct {
	URL                     string `yaml:"url"`
	MaxReconnects           int    `yaml:"max_reconnects"`
	ReconnectWaitSecs       int    `yaml:"reconnect_wait_seconds"`
	DedupWindowSeconds      int    `yaml:"dedup_window_seconds"`
	JobsMaxAgeHours         int    `yaml:"jobs_max_age_hours"`
	WebhooksMaxAgeHours     int    `yaml:"webhooks_max_age_hours"`
	OrchestrationMaxAgeHours int   `yaml:"orchestration_max_age_hours"`
	MaxMsgsPerSubject       int64  `yaml:"max_msgs_per_subject"`
}

// ReconnectWait returns the reconnect wait as a duration.
func (c BrokerConfig) ReconnectWait() time.Duration {
	return time.Duration(c.ReconnectWaitSecs) * time.Second
}

// DedupWindow returns the broker message-dedup window as a duration.
func (c BrokerConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// RateLimitConfig holds defaults for the rate-limit fabric.
type RateLimitConfig struct {
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds"`
	BucketTTLSeconds      int `yaml:"bucket_ttl_seconds"`
}

// AcquireTimeout returns the per-job rate-limit acquire deadline.
func (c RateLimitConfig) AcquireTimeout() time.Duration {
	if c.AcquireTimeoutSeconds == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// LeaderConfig holds lease parameters for the leader-only singletons.
type LeaderConfig struct {
	TTLSeconds   int `yaml:"ttl_seconds"`
	RenewSeconds int `yaml:"renew_seconds"`
}

// TTL returns the leader lease TTL as a duration.
func (c LeaderConfig) TTL() time.Duration {
	if c.TTLSeconds == 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// RenewEvery returns the leader lease renewal interval as a duration.
func (c LeaderConfig) RenewEvery() time.Duration {
	if c.RenewSeconds == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RenewSeconds) * time.Second
}

// RecoveryConfig holds stuck-batch recovery parameters.
type RecoveryConfig struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	ThresholdSeconds int `yaml:"threshold_seconds"`
	MaxPerScan       int `yaml:"max_per_scan"`
	MaxRecoveries    int `yaml:"max_recoveries"`
}

// Interval returns the recovery scan interval as a duration.
func (c RecoveryConfig) Interval() time.Duration {
	if c.IntervalSeconds == 0 {
		return 60 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Threshold returns the stuck-batch staleness threshold as a duration.
func (c RecoveryConfig) Threshold() time.Duration {
	if c.ThresholdSeconds == 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ThresholdSeconds) * time.Second
}

// SESConfig holds AWS SES v2 credentials for the email module's managed provider.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured SES call timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TelnyxConfig holds Telnyx SMS provider credentials and webhook verification key.
type TelnyxConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	PublicKey      string `yaml:"public_key"` // Ed25519 public key, base64
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured Telnyx call timeout as a duration.
func (c TelnyxConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResendConfig holds Resend email provider credentials and Svix webhook secret.
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured Resend call timeout as a duration.
func (c ResendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GenericConfig holds the shared HMAC secret for the catch-all webhook
// provider, used by senders that aren't ses/telnyx/resend.
type GenericConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// InternalConfig holds secrets for service-to-service signing, separate
// from any provider-facing credential.
type InternalConfig struct {
	ServiceTokenSecret string `yaml:"service_token_secret"`
}

// Load reads and parses the configuration file, applying defaults for
// any zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifeMins == 0 {
		cfg.Postgres.ConnMaxLifeMins = 5
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Broker.URL == "" {
		cfg.Broker.URL = "nats://localhost:4222"
	}
	if cfg.Broker.MaxReconnects == 0 {
		cfg.Broker.MaxReconnects = -1 // unlimited, matches nats.go default for long-lived workers
	}
	if cfg.Broker.ReconnectWaitSecs == 0 {
		cfg.Broker.ReconnectWaitSecs = 2
	}
	if cfg.Broker.DedupWindowSeconds == 0 {
		cfg.Broker.DedupWindowSeconds = 120
	}
	if cfg.Broker.JobsMaxAgeHours == 0 {
		cfg.Broker.JobsMaxAgeHours = 2
	}
	if cfg.Broker.WebhooksMaxAgeHours == 0 {
		cfg.Broker.WebhooksMaxAgeHours = 24
	}
	if cfg.Broker.OrchestrationMaxAgeHours == 0 {
		cfg.Broker.OrchestrationMaxAgeHours = 1
	}
	if cfg.Broker.MaxMsgsPerSubject == 0 {
		cfg.Broker.MaxMsgsPerSubject = 10000
	}
	if cfg.RateLimit.AcquireTimeoutSeconds == 0 {
		cfg.RateLimit.AcquireTimeoutSeconds = 5
	}
	if cfg.RateLimit.BucketTTLSeconds == 0 {
		cfg.RateLimit.BucketTTLSeconds = 10
	}
	if cfg.Recovery.MaxPerScan == 0 {
		cfg.Recovery.MaxPerScan = 50
	}
	if cfg.Recovery.MaxRecoveries == 0 {
		cfg.Recovery.MaxRecoveries = 3
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Telnyx.BaseURL == "" {
		cfg.Telnyx.BaseURL = "https://api.telnyx.com/v2"
	}
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("TELNYX_API_KEY"); v != "" {
		cfg.Telnyx.APIKey = v
	}
	if v := os.Getenv("TELNYX_PUBLIC_KEY"); v != "" {
		cfg.Telnyx.PublicKey = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_WEBHOOK_SECRET"); v != "" {
		cfg.Resend.WebhookSecret = v
	}
	if v := os.Getenv("GENERIC_WEBHOOK_SECRET"); v != "" {
		cfg.Generic.WebhookSecret = v
	}
	if v := os.Getenv("INTERNAL_SERVICE_SECRET"); v != "" {
		cfg.Internal.ServiceTokenSecret = v
	}
	if cfg.Internal.ServiceTokenSecret == "" {
		cfg.Internal.ServiceTokenSecret = "sendfabric-internal-dev-secret"
	}

	return cfg, nil
}
