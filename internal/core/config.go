package core

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents the main configuration for Vigil
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Monitor  MonitorConfig
	Auth     AuthConfig
	Alert    AlertConfig
	Log      LogConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr          string        `envconfig:"VIGIL_ADDR" default:":4000"`
	ReadTimeout   time.Duration `envconfig:"VIGIL_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `envconfig:"VIGIL_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout   time.Duration `envconfig:"VIGIL_IDLE_TIMEOUT" default:"60s"`
	RateLimit     int           `envconfig:"VIGIL_RATE_LIMIT" default:"100"`
	ShutdownGrace time.Duration `envconfig:"VIGIL_SHUTDOWN_GRACE" default:"10s"`
}

// DatabaseConfig selects and configures the storage backend
type DatabaseConfig struct {
	Driver      string `envconfig:"VIGIL_DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"VIGIL_DB_PATH" default:"./vigil.db"`
	PostgresDSN string `envconfig:"VIGIL_PG_DSN"`
}

// MonitorConfig contains uptime monitoring configuration
type MonitorConfig struct {
	PollInterval  time.Duration `envconfig:"VIGIL_POLL_INTERVAL" default:"60s"`
	MaxConcurrent int           `envconfig:"VIGIL_MAX_CONCURRENT" default:"8"`
	ProbeTimeout  time.Duration `envconfig:"VIGIL_PROBE_TIMEOUT" default:"5s"`
}

// AuthConfig contains authentication configuration. AdminUsername and
// AdminPassword are optional; when both are set an initial user is created
// at startup if it does not already exist.
type AuthConfig struct {
	AdminUsername string `envconfig:"VIGIL_ADMIN_USERNAME"`
	AdminPassword string `envconfig:"VIGIL_ADMIN_PASSWORD"`
}

// AlertConfig contains email alerting configuration. Alerting is enabled
// by setting the SMTP2GO API key.
type AlertConfig struct {
	SMTP2GOAPIKey string        `envconfig:"VIGIL_SMTP2GO_API_KEY"`
	Sender        string        `envconfig:"VIGIL_ALERT_SENDER"`
	Recipient     string        `envconfig:"VIGIL_ALERT_RECIPIENT"`
	Cooldown      time.Duration `envconfig:"VIGIL_ALERT_COOLDOWN" default:"15m"`
}

// Enabled reports whether email alerting is configured
func (c AlertConfig) Enabled() bool {
	return c.SMTP2GOAPIKey != ""
}

// LogConfig contains logging configuration
type LogConfig struct {
	Format string `envconfig:"LOG_FORMAT" default:"text"`
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("invalid rate limit: %d", c.Server.RateLimit)
	}

	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("invalid shutdown grace period: %s", c.Server.ShutdownGrace)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.Monitor.PollInterval)
	}

	if c.Monitor.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid max concurrent checks: %d", c.Monitor.MaxConcurrent)
	}

	if c.Monitor.ProbeTimeout <= 0 {
		return fmt.Errorf("invalid probe timeout: %s", c.Monitor.ProbeTimeout)
	}

	if c.Monitor.ProbeTimeout >= c.Monitor.PollInterval {
		return fmt.Errorf("probe timeout (%s) must be shorter than the poll interval (%s)", c.Monitor.ProbeTimeout, c.Monitor.PollInterval)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format: %q", c.Log.Format)
	}

	if (c.Auth.AdminUsername == "") != (c.Auth.AdminPassword == "") {
		return fmt.Errorf("admin username and password must be set together")
	}

	if c.Alert.Enabled() {
		if c.Alert.Sender == "" {
			return fmt.Errorf("alert sender is required when alerting is enabled")
		}
		if c.Alert.Recipient == "" {
			return fmt.Errorf("alert recipient is required when alerting is enabled")
		}
		if c.Alert.Cooldown <= 0 {
			return fmt.Errorf("invalid alert cooldown: %s", c.Alert.Cooldown)
		}
	}

	return nil
}
