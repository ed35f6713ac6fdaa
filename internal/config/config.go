package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	RedisURL string `yaml:"redis_url"`

	Queue      QueueConfig      `yaml:"queue"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Reconcile  ReconcileConfig  `yaml:"reconciliation"`

	AuditPath         string   `yaml:"audit_path"`
	EventHistoryLimit int      `yaml:"event_history_limit"`
	MetricsEnabled    bool     `yaml:"metrics_enabled"`
	AdminAPIKey       string   `yaml:"admin_api_key"`
	AdminIPAllowlist  []string `yaml:"admin_ip_allowlist"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

type QueueConfig struct {
	Name         string        `yaml:"name"`
	NumWorkers   int           `yaml:"num_workers"`
	MaxAttempts  int           `yaml:"max_retry_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// JobLease is renewed by the worker while a job runs; it only bounds how
	// long a crashed worker's job stays active before it is re-queued.
	JobLease time.Duration `yaml:"job_lease"`
}

type WebhookConfig struct {
	Route              string   `yaml:"route"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
	RateLimitPerSecond int      `yaml:"rate_limit_per_second"`
	Secret             string   `yaml:"secret"`
	PreviousSecret     string   `yaml:"previous_secret"`
	IPAllowlist        []string `yaml:"ip_allowlist"`
}

type UpstreamConfig struct {
	GraphQLURL        string `yaml:"graphql_url"`
	APIKey            string `yaml:"api_key"`
	EnrichmentEnabled bool   `yaml:"enrichment_enabled"`
}

type ConnectorsConfig struct {
	CSVPath          string   `yaml:"csv_path"`
	TMSWebhookURL    string   `yaml:"tms_webhook_url"`
	TMSSigningSecret string   `yaml:"tms_signing_secret"`
	PostgresURL      string   `yaml:"postgres_url"`
	PostgresTable    string   `yaml:"postgres_table"`
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTopic       string   `yaml:"kafka_topic"`
}

type ReconcileConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	LookbackDays  int    `yaml:"lookback_days"`
	ReplayMissing bool   `yaml:"replay_missing_events"`
	ReportPath    string `yaml:"report_path"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		Queue: QueueConfig{
			Name:         "fastweigh-events",
			NumWorkers:   10,
			MaxAttempts:  5,
			RetryBackoff: 5 * time.Second,
			JobLease:     5 * time.Minute,
		},
		Webhook: WebhookConfig{
			Route:              "/webhooks/fastweigh",
			MaxBodyBytes:       1 << 20,
			RateLimitPerSecond: 10,
		},
		Upstream: UpstreamConfig{
			GraphQLURL:        "https://graphql.fast-weigh.com/",
			EnrichmentEnabled: true,
		},
		Connectors: ConnectorsConfig{
			CSVPath:       "./data/connectors/accounting-export.csv",
			PostgresTable: "fastweigh_event_sink",
			KafkaTopic:    "fastweigh-events",
		},
		Reconcile: ReconcileConfig{
			Enabled:       true,
			Schedule:      "0 2 * * *",
			LookbackDays:  1,
			ReplayMissing: true,
			ReportPath:    "./data/reconciliation",
		},
		AuditPath:         "./data/audit",
		EventHistoryLimit: 500,
		MetricsEnabled:    true,
	}
}

// Load reads configuration from an optional YAML file named by CONFIG_FILE,
// then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	cfg.Queue.Name = getEnv("QUEUE_NAME", cfg.Queue.Name)
	cfg.Queue.NumWorkers = getEnvInt("NUM_WORKERS", cfg.Queue.NumWorkers)
	cfg.Queue.MaxAttempts = getEnvInt("MAX_RETRY_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.RetryBackoff = getEnvDuration("RETRY_BACKOFF", cfg.Queue.RetryBackoff)
	cfg.Queue.JobLease = getEnvDuration("JOB_LEASE", cfg.Queue.JobLease)

	cfg.Webhook.Route = getEnv("WEBHOOK_ROUTE", cfg.Webhook.Route)
	cfg.Webhook.MaxBodyBytes = int64(getEnvInt("MAX_WEBHOOK_BODY_BYTES", int(cfg.Webhook.MaxBodyBytes)))
	cfg.Webhook.RateLimitPerSecond = getEnvInt("WEBHOOK_RATE_LIMIT_PER_SECOND", cfg.Webhook.RateLimitPerSecond)
	cfg.Webhook.Secret = getEnv("FAST_WEIGH_WEBHOOK_SECRET", cfg.Webhook.Secret)
	cfg.Webhook.PreviousSecret = getEnv("FAST_WEIGH_WEBHOOK_SECRET_PREVIOUS", cfg.Webhook.PreviousSecret)
	cfg.Webhook.IPAllowlist = getEnvList("WEBHOOK_IP_ALLOWLIST", cfg.Webhook.IPAllowlist)

	cfg.Upstream.GraphQLURL = getEnv("FAST_WEIGH_GRAPHQL_URL", cfg.Upstream.GraphQLURL)
	cfg.Upstream.APIKey = getEnv("FAST_WEIGH_API_KEY", cfg.Upstream.APIKey)
	cfg.Upstream.EnrichmentEnabled = getEnvBool("ENRICHMENT_ENABLED", cfg.Upstream.EnrichmentEnabled)

	cfg.Connectors.CSVPath = getEnv("CONNECTOR_CSV_PATH", cfg.Connectors.CSVPath)
	cfg.Connectors.TMSWebhookURL = getEnv("CONNECTOR_TMS_WEBHOOK_URL", cfg.Connectors.TMSWebhookURL)
	cfg.Connectors.TMSSigningSecret = getEnv("CONNECTOR_TMS_SIGNING_SECRET", cfg.Connectors.TMSSigningSecret)
	cfg.Connectors.PostgresURL = getEnv("CONNECTOR_POSTGRES_URL", cfg.Connectors.PostgresURL)
	cfg.Connectors.PostgresTable = getEnv("CONNECTOR_POSTGRES_TABLE", cfg.Connectors.PostgresTable)
	cfg.Connectors.KafkaBrokers = getEnvList("CONNECTOR_KAFKA_BROKERS", cfg.Connectors.KafkaBrokers)
	cfg.Connectors.KafkaTopic = getEnv("CONNECTOR_KAFKA_TOPIC", cfg.Connectors.KafkaTopic)

	cfg.Reconcile.Enabled = getEnvBool("RECONCILIATION_ENABLED", cfg.Reconcile.Enabled)
	cfg.Reconcile.Schedule = getEnv("RECONCILIATION_SCHEDULE", cfg.Reconcile.Schedule)
	cfg.Reconcile.LookbackDays = getEnvInt("RECONCILIATION_LOOKBACK_DAYS", cfg.Reconcile.LookbackDays)
	cfg.Reconcile.ReplayMissing = getEnvBool("RECONCILIATION_REPLAY_MISSING_EVENTS", cfg.Reconcile.ReplayMissing)
	cfg.Reconcile.ReportPath = getEnv("RECONCILIATION_REPORT_PATH", cfg.Reconcile.ReportPath)

	cfg.AuditPath = getEnv("AUDIT_PATH", cfg.AuditPath)
	cfg.EventHistoryLimit = getEnvInt("EVENT_HISTORY_LIMIT", cfg.EventHistoryLimit)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.AdminAPIKey = getEnv("ADMIN_API_KEY", cfg.AdminAPIKey)
	cfg.AdminIPAllowlist = getEnvList("ADMIN_IP_ALLOWLIST", cfg.AdminIPAllowlist)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", cfg.TrustProxy)
}

// Validate checks required values and numeric bounds.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("FAST_WEIGH_WEBHOOK_SECRET is required")
	}
	if c.Queue.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.Queue.NumWorkers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.RetryBackoff <= 0 {
		return fmt.Errorf("RETRY_BACKOFF must be positive")
	}
	if c.Reconcile.LookbackDays <= 0 {
		return fmt.Errorf("RECONCILIATION_LOOKBACK_DAYS must be positive, got %d", c.Reconcile.LookbackDays)
	}
	if c.AdminAPIKey != "" && len(c.AdminAPIKey) < 8 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 8 characters")
	}
	if c.EventHistoryLimit <= 0 {
		return fmt.Errorf("EVENT_HISTORY_LIMIT must be positive, got %d", c.EventHistoryLimit)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("5s") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
