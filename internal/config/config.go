// Package config loads the portal configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP server listens on (e.g. :5000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// AllowedOrigin enables CORS for a single dashboard origin; empty disables CORS headers.
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`

	// DBDriver selects the gorm dialector: "sqlite" or "postgres".
	DBDriver string `mapstructure:"DB_DRIVER"`
	// DatabaseURL is the sqlite file path or the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTSecret signs portal session tokens. Required when Env is production.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// SessionTTL is the portal session lifetime (e.g. "24h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31).
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// CookieSecure marks the session cookie Secure (HTTPS only).
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// AgentSharedSecret is the deployment-wide bearer key accepted from any agent. Empty disables it.
	AgentSharedSecret string `mapstructure:"AGENT_SHARED_SECRET"`
	// ServerKeyCacheTTL bounds how long a looked-up server registration is trusted (e.g. "30s").
	ServerKeyCacheTTL string `mapstructure:"SERVER_KEY_CACHE_TTL"`

	// BootstrapAdminUsername is the username seeded into an empty users table.
	BootstrapAdminUsername string `mapstructure:"BOOTSTRAP_ADMIN_USERNAME"`
	// BootstrapAdminPassword is the seeded password; a random one is generated and logged when empty.
	BootstrapAdminPassword string `mapstructure:"BOOTSTRAP_ADMIN_PASSWORD"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty switches from JSON lines to zerolog's console writer.
	LogPretty bool `mapstructure:"LOG_PRETTY"`
	// LogFile additionally appends log output to this file when set.
	LogFile string `mapstructure:"LOG_FILE"`

	// KafkaBrokers is a comma-separated broker list. When set, accepted telemetry is mirrored to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the topic accepted telemetry events are mirrored to.
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`

	// MonitorInterval is how often fleet metrics are recomputed (e.g. "30s").
	MonitorInterval string `mapstructure:"MONITOR_INTERVAL"`
	// ServerStaleAfter is how long a registered server may stay silent before it is reported stale.
	ServerStaleAfter string `mapstructure:"SERVER_STALE_AFTER"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// A missing .env is ignored; one that cannot be read or parsed is an error. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":5000")
	v.SetDefault("ALLOWED_ORIGIN", "")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "portal.db")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("AGENT_SHARED_SECRET", "")
	v.SetDefault("SERVER_KEY_CACHE_TTL", "30s")
	v.SetDefault("BOOTSTRAP_ADMIN_USERNAME", "admin")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "ovpn-telemetry")
	v.SetDefault("MONITOR_INTERVAL", "30s")
	v.SetDefault("SERVER_STALE_AFTER", "5m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, errors.New("config: DB_DRIVER must be sqlite or postgres")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}

	if cfg.JWTSecret == "" && cfg.IsProduction() {
		return nil, errors.New("config: JWT_SECRET must be set when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 10
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// SessionDuration parses SessionTTL. Returns 24h if unset or invalid.
func (c *Config) SessionDuration() time.Duration {
	return parseDuration(c.SessionTTL, 24*time.Hour)
}

// ServerKeyCacheDuration parses ServerKeyCacheTTL. Returns 30s if unset or invalid.
func (c *Config) ServerKeyCacheDuration() time.Duration {
	return parseDuration(c.ServerKeyCacheTTL, 30*time.Second)
}

// MonitorDuration parses MonitorInterval. Returns 30s if unset or invalid.
func (c *Config) MonitorDuration() time.Duration {
	return parseDuration(c.MonitorInterval, 30*time.Second)
}

// StaleAfterDuration parses ServerStaleAfter. Returns 5m if unset or invalid.
func (c *Config) StaleAfterDuration() time.Duration {
	return parseDuration(c.ServerStaleAfter, 5*time.Minute)
}

// KafkaBrokersList returns broker addresses from the comma-separated config.
// An empty list means the Kafka mirror is disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
