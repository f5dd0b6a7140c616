package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

type Config struct {
	Environment string
	HTTPAddr    string

	// Database
	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	// Redis backs the ephemeral stores when set; empty means in-process maps.
	RedisAddr     string
	RedisPassword string

	// Secrets
	TokenSecret string
	TokenIssuer string
	Pepper      string

	// TTLs and intervals
	SessionTTL        time.Duration
	ChallengeTTL      time.Duration
	EphemeralKeyTTL   time.Duration
	SweepInterval     time.Duration
	LockoutWindow     time.Duration
	LockoutDuration   time.Duration
	DefaultRateLimit  int
	DefaultRateWindow time.Duration

	// IPs flagged by upstream threat intelligence; requests from them
	// score as suspicious.
	ThreatIPs []string

	// Observability
	OTELMetricsEnabled        bool
	OTELLogsEnabled           bool
	OTELServiceName           string
	OTELExporterEndpoint      string
	OTELExporterInsecure      bool
	OTELMetricsExportInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("TRUSTCORE_ENV", "development"),
		HTTPAddr:    getEnv("TRUSTCORE_HTTP_ADDR", ":8080"),

		DBDriver: getEnv("TRUSTCORE_DB_DRIVER", "postgres"),
		DBDSN:    os.Getenv("TRUSTCORE_DB_DSN"),

		RedisAddr:     os.Getenv("TRUSTCORE_REDIS_ADDR"),
		RedisPassword: os.Getenv("TRUSTCORE_REDIS_PASSWORD"),

		TokenSecret: os.Getenv("TRUSTCORE_TOKEN_SECRET"),
		TokenIssuer: getEnv("TRUSTCORE_TOKEN_ISSUER", "trustcore"),
		Pepper:      os.Getenv("TRUSTCORE_PEPPER"),

		SessionTTL:        getDuration("TRUSTCORE_SESSION_TTL", 24*time.Hour),
		ChallengeTTL:      getDuration("TRUSTCORE_CHALLENGE_TTL", 5*time.Minute),
		EphemeralKeyTTL:   getDuration("TRUSTCORE_EPHEMERAL_KEY_TTL", 24*time.Hour),
		SweepInterval:     getDuration("TRUSTCORE_SWEEP_INTERVAL", 15*time.Minute),
		LockoutWindow:     getDuration("TRUSTCORE_LOCKOUT_WINDOW", 15*time.Minute),
		LockoutDuration:   getDuration("TRUSTCORE_LOCKOUT_DURATION", 15*time.Minute),
		DefaultRateLimit:  getInt("TRUSTCORE_DEFAULT_RATE_LIMIT", 60),
		DefaultRateWindow: getDuration("TRUSTCORE_DEFAULT_RATE_WINDOW", time.Hour),

		ThreatIPs: getList("TRUSTCORE_THREAT_IPS"),

		OTELMetricsEnabled:        getBool("TRUSTCORE_OTEL_METRICS_ENABLED", false),
		OTELLogsEnabled:           getBool("TRUSTCORE_OTEL_LOGS_ENABLED", false),
		OTELServiceName:           getEnv("TRUSTCORE_OTEL_SERVICE_NAME", "trustcore"),
		OTELExporterEndpoint:      getEnv("TRUSTCORE_OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OTELExporterInsecure:      getBool("TRUSTCORE_OTEL_EXPORTER_INSECURE", true),
		OTELMetricsExportInterval: getDuration("TRUSTCORE_OTEL_METRICS_EXPORT_INTERVAL", time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TRUSTCORE_TOKEN_SECRET is required")
	}
	if c.Pepper == "" {
		return fmt.Errorf("TRUSTCORE_PEPPER is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("TRUSTCORE_DB_DSN is required")
	}
	if c.SessionTTL <= 0 || c.ChallengeTTL <= 0 || c.EphemeralKeyTTL <= 0 {
		return fmt.Errorf("TTLs must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.DefaultRateLimit <= 0 || c.DefaultRateWindow <= 0 {
		return fmt.Errorf("default rate limit rule must be positive")
	}
	return nil
}

// NewLogger builds the process logger: OTLP-bridged when enabled, text handler
// otherwise. Either way the request ID travels via chi middleware context.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg.OTELLogsEnabled {
		return otelslog.NewLogger(cfg.OTELServiceName)
	}
	level := slog.LevelInfo
	if cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
