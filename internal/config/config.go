// Package config loads server configuration: YAML file over defaults, then
// environment variables over both. Missing files are not an error; the
// server boots on defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// GameServer holds all configuration for the game server.
type GameServer struct {
	// Network
	BindAddress string `yaml:"bind_address" env:"WARBAND_BIND_ADDRESS"`
	Port        int    `yaml:"port" env:"WARBAND_PORT"`

	// Auth
	JWTSecret string `yaml:"jwt_secret" env:"WARBAND_JWT_SECRET"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"WARBAND_LOG_LEVEL"`   // debug, info, warn, error
	LogFormat string `yaml:"log_format" env:"WARBAND_LOG_FORMAT"` // text, json

	// Connection limits
	SendQueueSize  int           `yaml:"send_queue_size"` // per-client outbox capacity
	PingInterval   time.Duration `yaml:"ping_interval" env:"WARBAND_PING_INTERVAL"`     // keepalive, doubles as liveness check
	AuthTimeout    time.Duration `yaml:"auth_timeout" env:"WARBAND_AUTH_TIMEOUT"`       // first-frame deadline
	ReconnectGrace time.Duration `yaml:"reconnect_grace" env:"WARBAND_RECONNECT_GRACE"` // seat hold after disconnect
	DMAbsence      time.Duration `yaml:"dm_absence_window" env:"WARBAND_DM_ABSENCE"`    // pause window after DM drop
}

// DatabaseConfig holds PostgreSQL connection parameters. URL, when set,
// overrides the individual fields.
type DatabaseConfig struct {
	URL      string `yaml:"url" env:"WARBAND_DATABASE_URL"`
	Host     string `yaml:"host" env:"WARBAND_DB_HOST"`
	Port     int    `yaml:"port" env:"WARBAND_DB_PORT"`
	User     string `yaml:"user" env:"WARBAND_DB_USER"`
	Password string `yaml:"password" env:"WARBAND_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"WARBAND_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"WARBAND_DB_SSLMODE"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress:    "0.0.0.0",
		Port:           8080,
		LogLevel:       "info",
		LogFormat:      "text",
		SendQueueSize:  256,
		PingInterval:   15 * time.Second,
		AuthTimeout:    10 * time.Second,
		ReconnectGrace: 30 * time.Second,
		DMAbsence:      2 * time.Minute,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "warband",
			Password: "warband",
			DBName:   "warband",
			SSLMode:  "disable",
		},
	}
}

// LoadGameServer loads game server config from a YAML file and applies
// environment overrides. If the file doesn't exist, defaults plus the
// environment are used.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c GameServer) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required (WARBAND_JWT_SECRET)")
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address.
func (c GameServer) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
