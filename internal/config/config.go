// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Fact source backends
const (
	FactsMemory   = "memory"
	FactsPostgres = "postgres"
	FactsRedis    = "redis"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"1"`

	// FactSource selects where get_<name> fetchers read from. When empty it
	// is derived: redis if REDIS_ADDR is set, postgres if DATABASE_URL is
	// set, memory otherwise.
	FactSource      string `env:"FACT_SOURCE"`
	DatabaseURL     string `env:"DATABASE_URL"`
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisFactPrefix string `env:"REDIS_FACT_PREFIX" envDefault:"facts:"`

	ActionScriptsDir string `env:"ACTION_SCRIPTS_DIR"`

	FailFast      bool `env:"RULES_FAIL_FAST"`
	Concurrency   int  `env:"RULES_CONCURRENCY" envDefault:"0"`
	FirstRuleOnly bool `env:"RULES_FIRST_RULE_ONLY"`
	AllowNonBool  bool `env:"RULES_ALLOW_NON_BOOL"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// OTELEndpoint receives traces over OTLP HTTP, OTELLogsEndpoint
	// receives log records over OTLP gRPC
	OTELEndpoint     string `env:"OTEL_ENDPOINT"`
	OTELLogsEndpoint string `env:"OTEL_LOGS_ENDPOINT"`
	OTELServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"businessrules"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.FactSource == "" {
		cfg.FactSource = deriveFactSource(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func deriveFactSource(cfg Config) string {
	switch {
	case cfg.RedisAddr != "":
		return FactsRedis
	case cfg.DatabaseURL != "":
		return FactsPostgres
	default:
		return FactsMemory
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.FactSource {
	case FactsMemory:
	case FactsPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres fact source"))
		}
	case FactsRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis fact source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FACT_SOURCE %q", c.FactSource))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("RULES_CONCURRENCY must not be negative, got %d", c.Concurrency))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	return errors.Join(errs...)
}
