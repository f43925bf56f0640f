// Package config loads ledgerd settings from an optional YAML file overlaid
// with environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileEnv names the YAML file read before the environment is applied.
const FileEnv = "LEDGER_CONFIG_FILE"

// Config holds the application configuration.
type Config struct {
	Environment string `yaml:"app_env" validate:"required,oneof=development test staging production"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Database Database `yaml:"database"`
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	TLS      TLS      `yaml:"tls"`
	Redis    Redis    `yaml:"redis"`
	Webhook  Webhook  `yaml:"webhook"`

	// AuditLogFile receives the hash-chained audit log; empty disables the file.
	AuditLogFile string `yaml:"audit_log_file"`
}

type Database struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres sqlite3"`
	URL      string `yaml:"url" validate:"required"`
	MaxConns int    `yaml:"max_conns" validate:"min=1,max=1000"`
}

type HTTP struct {
	Addr         string `yaml:"addr" validate:"required"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" validate:"min=1"`
}

type GRPC struct {
	// Addr empty disables the gRPC listener.
	Addr string `yaml:"addr"`
}

type TLS struct {
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`
}

type Redis struct {
	// Addr empty disables rate limiting.
	Addr                  string  `yaml:"addr"`
	RateLimitCapacity     int     `yaml:"rate_limit_capacity" validate:"min=0"`
	RateLimitRefillPerSec float64 `yaml:"rate_limit_refill_per_sec" validate:"min=0"`
}

type Webhook struct {
	Timeout             time.Duration `yaml:"timeout" validate:"min=1ms"`
	Workers             int           `yaml:"workers" validate:"min=1"`
	PerOwnerConcurrency int64         `yaml:"per_owner_concurrency" validate:"min=1"`
	MaxAttempts         int           `yaml:"max_attempts" validate:"min=1"`
	BackoffBase         time.Duration `yaml:"backoff_base" validate:"min=1ms"`
	BackoffMax          time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
	PollInterval        time.Duration `yaml:"poll_interval" validate:"min=10ms"`
	// Lease is how long a claimed outbox message stays hidden from other
	// dispatchers; it must outlast one delivery attempt.
	Lease               time.Duration `yaml:"lease" validate:"gtfield=Timeout"`
}

// Default returns the settings used for anything neither the file nor the
// environment sets.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Database:    Database{Driver: "postgres", MaxConns: 5},
		HTTP:        HTTP{Addr: ":3000", MaxBodyBytes: 1 << 20},
		GRPC:        GRPC{Addr: ":9090"},
		Redis:       Redis{RateLimitCapacity: 100, RateLimitRefillPerSec: 10},
		Webhook: Webhook{
			Timeout:             5 * time.Second,
			Workers:             8,
			PerOwnerConcurrency: 2,
			MaxAttempts:         5,
			BackoffBase:         10 * time.Second,
			BackoffMax:          10 * time.Minute,
			PollInterval:        2 * time.Second,
			Lease:               5 * time.Minute,
		},
	}
}

// Load reads LEDGER_CONFIG_FILE if set, applies environment variables on top
// and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type envParser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (p *envParser) int(key string, dst *int) {
	if v, ok := p.lookup(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *envParser) int64(key string, dst *int64) {
	if v, ok := p.lookup(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *envParser) float(key string, dst *float64) {
	if v, ok := p.lookup(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (p *envParser) duration(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	p := &envParser{lookup: lookup}

	p.str("APP_ENV", &c.Environment)
	p.str("LOG_LEVEL", &c.LogLevel)
	p.str("DATABASE_DRIVER", &c.Database.Driver)
	p.str("DATABASE_URL", &c.Database.URL)
	p.int("DB_MAX_CONNS", &c.Database.MaxConns)
	p.str("HTTP_ADDR", &c.HTTP.Addr)
	p.int64("MAX_BODY_BYTES", &c.HTTP.MaxBodyBytes)
	p.str("GRPC_ADDR", &c.GRPC.Addr)
	p.str("TLS_CERT_FILE", &c.TLS.CertFile)
	p.str("TLS_KEY_FILE", &c.TLS.KeyFile)
	p.str("REDIS_ADDR", &c.Redis.Addr)
	p.int("RATE_LIMIT_CAPACITY", &c.Redis.RateLimitCapacity)
	p.float("RATE_LIMIT_REFILL_PER_SEC", &c.Redis.RateLimitRefillPerSec)
	p.duration("WEBHOOK_TIMEOUT", &c.Webhook.Timeout)
	p.int("WEBHOOK_WORKERS", &c.Webhook.Workers)
	p.int64("WEBHOOK_PER_OWNER_CONCURRENCY", &c.Webhook.PerOwnerConcurrency)
	p.int("WEBHOOK_MAX_ATTEMPTS", &c.Webhook.MaxAttempts)
	p.duration("WEBHOOK_BACKOFF_BASE", &c.Webhook.BackoffBase)
	p.duration("WEBHOOK_BACKOFF_MAX", &c.Webhook.BackoffMax)
	p.duration("WEBHOOK_POLL_INTERVAL", &c.Webhook.PollInterval)
	p.duration("WEBHOOK_LEASE", &c.Webhook.Lease)
	p.str("AUDIT_LOG_FILE", &c.AuditLogFile)

	if len(p.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(p.errs...))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, then the rules that depend on the
// environment: staging and production must serve TLS.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return errors.New("invalid configuration: " + strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.IsProduction() {
		var missing []string
		if c.TLS.CertFile == "" {
			missing = append(missing, "TLS_CERT_FILE")
		}
		if c.TLS.KeyFile == "" {
			missing = append(missing, "TLS_KEY_FILE")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
