package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8545"
	defaultBlockInterval   = 5 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress   string            `yaml:"listen"`
	GenesisPath     string            `yaml:"genesis"`
	DataDir         string            `yaml:"data_dir"`
	BlockInterval   time.Duration     `yaml:"block_interval"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	PausedModules   []string          `yaml:"paused_modules"`
	Auth            AuthConfig        `yaml:"auth"`
	RateLimit       RateLimitConfig   `yaml:"rate_limit"`
	Idempotency     IdempotencyConfig `yaml:"idempotency"`
	Audit           AuditConfig       `yaml:"audit"`
	Log             LogConfig         `yaml:"log"`
	Telemetry       TelemetryConfig   `yaml:"telemetry"`
}

// AuthConfig describes the HMAC bearer tokens accepted by the API. The token
// subject is the sender address of every state-changing request.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scope_claim"`
	AdminScope string        `yaml:"admin_scope"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IdempotencyConfig controls replay of POST responses carrying an
// Idempotency-Key header.
type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// AuditConfig points at the database receiving committed events. postgres://
// DSNs select Postgres; anything else is a SQLite path.
type AuditConfig struct {
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig toggles the prometheus endpoint and OTLP exporters. Empty
// OTLP fields fall back to the standard OTEL_EXPORTER_OTLP_* variables.
type TelemetryConfig struct {
	Metrics     bool    `yaml:"metrics"`
	Traces      bool    `yaml:"traces"`
	Endpoint    string  `yaml:"otlp_endpoint"`
	Insecure    bool    `yaml:"otlp_insecure"`
	Headers     string  `yaml:"otlp_headers"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ChainPath is the LevelDB directory holding checkpoints and history.
func (cfg Config) ChainPath() string {
	return filepath.Join(cfg.DataDir, "chain")
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = defaultBlockInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.Auth.normalize()
	cfg.Idempotency.Path = strings.TrimSpace(cfg.Idempotency.Path)
	if cfg.Idempotency.Path == "" && cfg.DataDir != "" {
		cfg.Idempotency.Path = filepath.Join(cfg.DataDir, "idempotency.db")
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = defaultIdempotencyTTL
	}
	cfg.Audit.DSN = strings.TrimSpace(cfg.Audit.DSN)
	if cfg.Audit.DSN == "" && cfg.DataDir != "" {
		cfg.Audit.DSN = filepath.Join(cfg.DataDir, "audit.db")
	}
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Telemetry.Headers = strings.TrimSpace(cfg.Telemetry.Headers)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.GenesisPath == "" {
		return fmt.Errorf("genesis path required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.ScopeClaim = strings.TrimSpace(cfg.ScopeClaim)
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	cfg.AdminScope = strings.TrimSpace(cfg.AdminScope)
	if cfg.AdminScope == "" {
		cfg.AdminScope = "lending:admin"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.HMACSecret == "" {
		return fmt.Errorf("hmac_secret required")
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 bytes")
	}
	return nil
}
