// Package config loads the license server configuration from an optional
// YAML file overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config is the license server configuration after file, environment and
// defaults have been merged.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StoreDriver     string
	PostgresDSN     string
	PostgresTable   string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string

	StripeSecretKey       string
	StripeWebhookSecret   string
	StripePriceID         string
	StripeSuccessURL      string
	StripeCancelURL       string
	StripePortalReturnURL string

	WebhookTolerance    time.Duration
	WebhookScanFallback bool

	ReceiptSigningKey string

	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32

	ShutdownTimeout time.Duration
}

type configFile struct {
	Service struct {
		HTTPAddr        string `yaml:"http_addr"`
		LogLevel        string `yaml:"log_level"`
		LogFormat       string `yaml:"log_format"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"service"`
	Store struct {
		Driver          string `yaml:"driver"`
		PostgresDSN     string `yaml:"postgres_dsn"`
		PostgresTable   string `yaml:"postgres_table"`
		MongoURI        string `yaml:"mongo_uri"`
		MongoDatabase   string `yaml:"mongo_database"`
		MongoCollection string `yaml:"mongo_collection"`
		RedisAddr       string `yaml:"redis_addr"`
		RedisPassword   string `yaml:"redis_password"`
		RedisDB         int    `yaml:"redis_db"`
		RedisPrefix     string `yaml:"redis_prefix"`
	} `yaml:"store"`
	Stripe struct {
		SecretKey       string `yaml:"secret_key"`
		WebhookSecret   string `yaml:"webhook_secret"`
		PriceID         string `yaml:"price_id"`
		SuccessURL      string `yaml:"success_url"`
		CancelURL       string `yaml:"cancel_url"`
		PortalReturnURL string `yaml:"portal_return_url"`
	} `yaml:"stripe"`
	Webhook struct {
		ToleranceSeconds int  `yaml:"tolerance"`
		ScanFallback     bool `yaml:"scan_fallback"`
	} `yaml:"webhook"`
	Receipts struct {
		SigningKey string `yaml:"signing_key"`
	} `yaml:"receipts"`
	Breaker struct {
		MaxRequests         uint32 `yaml:"max_requests"`
		Interval            string `yaml:"interval"`
		Timeout             string `yaml:"timeout"`
		ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	} `yaml:"breaker"`
}

// Load reads path (skipped when empty or absent), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPAddr:                   ":8787",
		LogLevel:                   "info",
		LogFormat:                  "json",
		StoreDriver:                DriverMemory,
		PostgresTable:              "licenses",
		MongoDatabase:              "licensing",
		MongoCollection:            "licenses",
		RedisPrefix:                "license:",
		StripeSuccessURL:           "https://exportdoctor.app/success",
		StripeCancelURL:            "https://exportdoctor.app/cancel",
		StripePortalReturnURL:      "https://exportdoctor.app/manage-done",
		WebhookTolerance:           300 * time.Second,
		BreakerMaxRequests:         3,
		BreakerInterval:            2 * time.Minute,
		BreakerTimeout:             10 * time.Second,
		BreakerConsecutiveFailures: 5,
		ShutdownTimeout:            15 * time.Second,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	envErr := cfg.applyEnv()
	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.HTTPAddr, f.Service.HTTPAddr)
	setString(&c.LogLevel, f.Service.LogLevel)
	setString(&c.LogFormat, f.Service.LogFormat)

	setString(&c.StoreDriver, f.Store.Driver)
	setString(&c.PostgresDSN, f.Store.PostgresDSN)
	setString(&c.PostgresTable, f.Store.PostgresTable)
	setString(&c.MongoURI, f.Store.MongoURI)
	setString(&c.MongoDatabase, f.Store.MongoDatabase)
	setString(&c.MongoCollection, f.Store.MongoCollection)
	setString(&c.RedisAddr, f.Store.RedisAddr)
	setString(&c.RedisPassword, f.Store.RedisPassword)
	setString(&c.RedisPrefix, f.Store.RedisPrefix)
	if f.Store.RedisDB > 0 {
		c.RedisDB = f.Store.RedisDB
	}

	setString(&c.StripeSecretKey, f.Stripe.SecretKey)
	setString(&c.StripeWebhookSecret, f.Stripe.WebhookSecret)
	setString(&c.StripePriceID, f.Stripe.PriceID)
	setString(&c.StripeSuccessURL, f.Stripe.SuccessURL)
	setString(&c.StripeCancelURL, f.Stripe.CancelURL)
	setString(&c.StripePortalReturnURL, f.Stripe.PortalReturnURL)

	if f.Webhook.ToleranceSeconds > 0 {
		c.WebhookTolerance = time.Duration(f.Webhook.ToleranceSeconds) * time.Second
	}
	c.WebhookScanFallback = f.Webhook.ScanFallback
	setString(&c.ReceiptSigningKey, f.Receipts.SigningKey)

	if f.Breaker.MaxRequests > 0 {
		c.BreakerMaxRequests = f.Breaker.MaxRequests
	}
	if f.Breaker.ConsecutiveFailures > 0 {
		c.BreakerConsecutiveFailures = f.Breaker.ConsecutiveFailures
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"service.shutdown_timeout", f.Service.ShutdownTimeout, &c.ShutdownTimeout},
		{"breaker.interval", f.Breaker.Interval, &c.BreakerInterval},
		{"breaker.timeout", f.Breaker.Timeout, &c.BreakerTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// applyEnv overlays environment variables. Malformed numeric or boolean
// values are reported, not ignored.
func (c *Config) applyEnv() error {
	var env envOverlay
	c.HTTPAddr = envOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)

	c.StoreDriver = envOrDefault("STORE_DRIVER", c.StoreDriver)
	c.PostgresDSN = envOrDefault("POSTGRES_DSN", c.PostgresDSN)
	c.MongoURI = envOrDefault("MONGO_URI", c.MongoURI)
	c.MongoDatabase = envOrDefault("MONGO_DATABASE", c.MongoDatabase)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envOrDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = env.intVar("REDIS_DB", c.RedisDB)

	c.StripeSecretKey = envOrDefault("STRIPE_SECRET_KEY", c.StripeSecretKey)
	c.StripeWebhookSecret = envOrDefault("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	c.StripePriceID = envOrDefault("STRIPE_PRICE_ID", c.StripePriceID)

	c.WebhookTolerance = time.Duration(env.intVar("WEBHOOK_TOLERANCE_SECONDS", int(c.WebhookTolerance/time.Second))) * time.Second
	c.WebhookScanFallback = env.boolVar("WEBHOOK_SCAN_FALLBACK", c.WebhookScanFallback)
	c.ReceiptSigningKey = envOrDefault("RECEIPT_SIGNING_KEY", c.ReceiptSigningKey)

	if err := errors.Join(env.errs...); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("stripe secret key is required (STRIPE_SECRET_KEY)"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("stripe webhook secret is required (STRIPE_WEBHOOK_SECRET)"))
	}
	if c.StripePriceID == "" {
		errs = append(errs, errors.New("stripe price id is required (STRIPE_PRICE_ID)"))
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres driver requires POSTGRES_DSN"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo driver requires MONGO_URI"))
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis driver requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}

	if c.WebhookTolerance <= 0 {
		errs = append(errs, errors.New("webhook tolerance must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envOverlay reads typed environment overrides and collects parse failures.
type envOverlay struct {
	errs []error
}

func (e *envOverlay) intVar(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", name, raw))
		return fallback
	}
	return v
}

func (e *envOverlay) boolVar(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", name, raw))
		return fallback
	}
	return v
}
