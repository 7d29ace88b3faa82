// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment overrides. Nested keys use a
// double underscore, e.g. IC_SERVER__PORT=8080.
const envPrefix = "IC_"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig holds PostgreSQL settings. Ignored when the memory storage
// backend is selected.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	Migrate         bool          `koanf:"migrate"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `koanf:"backend"` // memory or postgres
}

// APIKeyConfig is a static operator credential (bcrypt hash of the key).
type APIKeyConfig struct {
	Name string `koanf:"name"`
	Hash string `koanf:"hash"`
	Role string `koanf:"role"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	SecretKey     string         `koanf:"secret_key"`
	TokenDuration time.Duration  `koanf:"token_duration"`
	APIKeys       []APIKeyConfig `koanf:"api_keys"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// EscalationConfig holds escalation scheduler settings.
type EscalationConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// PostmortemConfig holds postmortem scheduler settings.
type PostmortemConfig struct {
	Delay      time.Duration `koanf:"delay"`
	OwnerEmail string        `koanf:"owner_email"`
}

// EmailConfig holds SMTP sender settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	// Timeout bounds the whole SMTP transaction; zero means the sender
	// default.
	Timeout time.Duration `koanf:"timeout"`
}

// SlackConfig holds Slack webhook sender settings.
type SlackConfig struct {
	Username string        `koanf:"username"`
	IconURL  string        `koanf:"icon_url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// TwilioConfig holds Twilio SMS and voice sender settings.
type TwilioConfig struct {
	Enabled    bool    `koanf:"enabled"`
	AccountSID string  `koanf:"account_sid"`
	AuthToken  string  `koanf:"auth_token"`
	FromNumber string  `koanf:"from_number"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// NotificationsConfig holds notification channel settings.
type NotificationsConfig struct {
	Enabled bool         `koanf:"enabled"`
	Email   EmailConfig  `koanf:"email"`
	Slack   SlackConfig  `koanf:"slack"`
	Twilio  TwilioConfig `koanf:"twilio"`
}

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Storage       StorageConfig       `koanf:"storage"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	CORS          CORSConfig          `koanf:"cors"`
	Escalation    EscalationConfig    `koanf:"escalation"`
	Postmortem    PostmortemConfig    `koanf:"postmortem"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// Load reads configuration from the given YAML file (optional, may be
// empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envToKey maps IC_SERVER__METRICS_PORT to server.metrics_port.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  30 * time.Second,
			Migrate:         true,
		},
		Auth: AuthConfig{
			TokenDuration: 12 * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Escalation: EscalationConfig{
			SweepInterval: 60 * time.Second,
		},
		Postmortem: PostmortemConfig{
			Delay: 24 * time.Hour,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Slack: SlackConfig{
				Username: "Incident Commander",
				Timeout:  10 * time.Second,
			},
			Twilio: TwilioConfig{
				RateLimit: 1.0,
			},
		},
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("config: database.url is required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Auth.SecretKey == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("config: auth.secret_key or auth.api_keys must be set")
	}

	return nil
}
