// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for OpsGuard.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Log       LogConfig
	AI        AIConfig
	Notify    NotifyConfig
	Ticket    TicketConfig
	Scan      ScanConfig
	Remediate RemediateConfig
	Worker    WorkerConfig
	OTel      OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
	// PublicURL is the externally reachable base URL used to build the
	// approve/escalate callback links embedded in notifications.
	PublicURL string
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "opsguard.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// AIConfig holds diagnosis provider connection settings.
type AIConfig struct {
	Provider string // "openai" or "heuristic" (default)
	APIKey   string //nolint:gosec // intentional: holds AI provider API key loaded from env
	APIBase  string
	Model    string
	Timeout  time.Duration
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	WebhookURL string // Discord-compatible webhook; empty disables delivery
	Timeout    time.Duration
}

// TicketConfig holds external tracker settings.
type TicketConfig struct {
	BaseURL string // base URL used to render ticket links
}

// ScanConfig holds scheduled security scan settings.
type ScanConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RemediateConfig holds fix execution settings.
type RemediateConfig struct {
	// StepDelayScale multiplies the simulated per-step delays. Set to 0 in
	// tests to run the sequence instantly.
	StepDelayScale float64
	AuditLogPath   string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	cfg.HTTP.PublicURL = envStr("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port))

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "opsguard.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// AI
	cfg.AI.Provider = envStr("AI_PROVIDER", "heuristic")
	cfg.AI.APIKey = os.Getenv("AI_API_KEY")
	cfg.AI.APIBase = envStr("AI_API_BASE", "https://api.openai.com/v1")
	cfg.AI.Model = envStr("AI_MODEL", "gpt-4o-mini")
	if cfg.AI.Provider == "openai" && cfg.AI.APIKey == "" {
		return nil, errors.New("AI_API_KEY is required when AI_PROVIDER=openai")
	}
	var err error
	cfg.AI.Timeout, err = envDuration("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AI_TIMEOUT: %w", err)
	}

	// Notify
	cfg.Notify.WebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	cfg.Notify.Timeout, err = envDuration("NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NOTIFY_TIMEOUT: %w", err)
	}

	// Ticket
	cfg.Ticket.BaseURL = envStr("TICKET_BASE_URL", "https://linear.app/opsguard/issue")

	// Scan
	cfg.Scan.Enabled = envBool("SCAN_ENABLED", true)
	cfg.Scan.Interval, err = envDuration("SCAN_INTERVAL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SCAN_INTERVAL: %w", err)
	}

	// Remediate
	cfg.Remediate.StepDelayScale = envFloat("REMEDIATE_DELAY_SCALE", 1.0)
	cfg.Remediate.AuditLogPath = envStr("AUDIT_LOG_PATH", "opsguard_audit.log")

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
