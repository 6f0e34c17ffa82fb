package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	UICC     UICCConfig     `yaml:"uicc"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// UICCConfig sizes the UICC controller
type UICCConfig struct {
	PhoneCount    int  `yaml:"phone_count"`
	PhysicalSlots int  `yaml:"physical_slots"`
	CdmaSupported bool `yaml:"cdma_supported"`

	RadioOffOnRefreshReset bool `yaml:"radio_off_on_refresh_reset"`
}

// AdminConfig holds the API admin credentials
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "uicc-server",
			Version: "dev",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		NATS: NATSConfig{
			URL:               "nats://localhost:4222",
			MaxReconnects:     10,
			ReconnectInterval: 2 * time.Second,
			RequestTimeout:    5 * time.Second,
		},
		JWT: JWTConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		UICC: UICCConfig{
			PhoneCount:    1,
			PhysicalSlots: 1,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
}

// Validate checks the configuration for fatal mistakes
func (c *Config) Validate() error {
	if c.UICC.PhoneCount < 1 {
		return fmt.Errorf("uicc.phone_count must be at least 1, got %d", c.UICC.PhoneCount)
	}
	if c.UICC.PhysicalSlots < 0 {
		return fmt.Errorf("uicc.physical_slots must not be negative, got %d", c.UICC.PhysicalSlots)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required (or set JWT_SECRET)")
	}
	if c.Admin.Username == "" || c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.username and admin.password_hash are required")
	}
	return nil
}

// PrintSummary logs the effective configuration
func (c *Config) PrintSummary() {
	log.Info().
		Str("name", c.Server.Name).
		Str("version", c.Server.Version).
		Str("api", fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)).
		Str("nats", c.NATS.URL).
		Bool("postgres", c.Database.DSN != "").
		Int("phones", c.UICC.PhoneCount).
		Int("physical_slots", c.UICC.PhysicalSlots).
		Bool("cdma", c.UICC.CdmaSupported).
		Msg("Configuration loaded")
}
