package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ESCROW_TIMEZONE must resolve in slim containers
)

type Config struct {
	Addr    string
	BaseURL string

	DBDriver string // mysql | sqlite
	DBDSN    string

	Payments PaymentsConfig
	Escrow   EscrowConfig
	SMTP     SMTPConfig
	Mail     MailConfig
	Storage  StorageConfig

	NewRelicLicense string
	CORSOrigins     []string
}

type PaymentsConfig struct {
	Provider           string // stripe | mock
	StripeSecretKey    string
	WebhookSecret      string
	Currency           string
	ProviderTimeout    time.Duration
	SignatureTolerance time.Duration
}

type EscrowConfig struct {
	Hold            time.Duration
	SweepInterval   time.Duration
	SweepSchedule   string // cron expression; empty derives one from SweepInterval
	Location        *time.Location
	DistributedLock bool
}

type SMTPConfig struct {
	Host          string
	Port          string
	User          string
	Pass          string
	TLSMode       string // none | starttls | tls
	SkipVerifyTLS bool
}

// StorageConfig selects where release receipts are archived.
type StorageConfig struct {
	Driver string // none | local | s3

	LocalDir       string
	LocalURLPrefix string

	S3Region        string
	S3Bucket        string
	S3Prefix        string
	S3PublicBaseURL string
}

type MailConfig struct {
	Enabled  bool
	Driver   string // smtp | mailtrap
	From     string
	FromName string

	MailtrapAPIURL   string
	MailtrapAPIToken string
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Addr:     envOr("APP_ADDR", ":8080"),
		BaseURL:  strings.TrimRight(envOr("APP_BASE_URL", "http://localhost:8080"), "/"),
		DBDriver: envOr("DB_DRIVER", "mysql"),
		DBDSN:    os.Getenv("DB_DSN"),
		Payments: PaymentsConfig{
			Provider:        envOr("PAYMENT_PROVIDER", "stripe"),
			StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
			Currency:        strings.ToLower(envOr("PAYMENT_CURRENCY", "usd")),
		},
		SMTP: SMTPConfig{
			Host:    envOr("SMTP_HOST", "localhost"),
			Port:    envOr("SMTP_PORT", "1025"),
			User:    os.Getenv("SMTP_USER"),
			Pass:    os.Getenv("SMTP_PASS"),
			TLSMode: envOr("SMTP_TLS_MODE", "none"),
		},
		Mail: MailConfig{
			Driver:           envOr("MAIL_DRIVER", "smtp"),
			From:             envOr("MAIL_FROM", "no-reply@rentbridge.local"),
			FromName:         envOr("MAIL_FROM_NAME", "RentBridge"),
			MailtrapAPIURL:   os.Getenv("MAILTRAP_API_URL"),
			MailtrapAPIToken: os.Getenv("MAILTRAP_API_TOKEN"),
		},
		Storage: StorageConfig{
			Driver:          envOr("STORAGE_DRIVER", "none"),
			LocalDir:        envOr("LOCAL_STORAGE_DIR", "./storage/receipts"),
			LocalURLPrefix:  envOr("LOCAL_STORAGE_URL_PREFIX", "/receipts"),
			S3Region:        os.Getenv("S3_REGION"),
			S3Bucket:        os.Getenv("S3_BUCKET"),
			S3Prefix:        envOr("S3_PREFIX", "receipts"),
			S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		},
		NewRelicLicense: os.Getenv("NEW_RELIC_LICENSE_KEY"),
		CORSOrigins:     splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	switch cfg.Payments.Provider {
	case "stripe":
		cfg.Payments.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	case "mock":
		cfg.Payments.WebhookSecret = os.Getenv("MOCK_WEBHOOK_SECRET")
	}

	cfg.Payments.ProviderTimeout = envDuration("PROVIDER_TIMEOUT", 10*time.Second, &errs)
	cfg.Payments.SignatureTolerance = envDuration("WEBHOOK_TOLERANCE", 5*time.Minute, &errs)
	cfg.Escrow.Hold = envDuration("ESCROW_HOLD", 72*time.Hour, &errs)
	cfg.Escrow.SweepInterval = envDuration("ESCROW_SWEEP_INTERVAL", 2*time.Hour, &errs)
	cfg.Escrow.SweepSchedule = strings.TrimSpace(os.Getenv("ESCROW_SWEEP_SCHEDULE"))
	cfg.Escrow.Location = envLocation("ESCROW_TIMEZONE", &errs)
	cfg.Escrow.DistributedLock = envBool("ESCROW_DISTRIBUTED_LOCK", false, &errs)
	cfg.SMTP.SkipVerifyTLS = envBool("SMTP_SKIP_VERIFY_TLS", false, &errs)
	cfg.Mail.Enabled = envBool("MAIL_ENABLED", true, &errs)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings the process cannot start without.
// A missing webhook secret is not fatal here: the webhook endpoint answers 500 until it is set.
func (c Config) Validate() error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER: %s", c.DBDriver))
	}
	switch c.Payments.Provider {
	case "stripe":
		if c.Payments.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe provider"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER: %s", c.Payments.Provider))
	}
	if c.Escrow.Hold <= 0 {
		errs = append(errs, errors.New("ESCROW_HOLD must be positive"))
	}
	if c.Escrow.SweepInterval <= 0 {
		errs = append(errs, errors.New("ESCROW_SWEEP_INTERVAL must be positive"))
	}
	switch c.Mail.Driver {
	case "smtp":
	case "mailtrap":
		if c.Mail.Enabled && (c.Mail.MailtrapAPIURL == "" || c.Mail.MailtrapAPIToken == "") {
			errs = append(errs, errors.New("MAILTRAP_API_URL and MAILTRAP_API_TOKEN are required for the mailtrap driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER: %s", c.Mail.Driver))
	}
	switch c.Storage.Driver {
	case "none", "local":
	case "s3":
		if c.Storage.S3Region == "" || c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_REGION and S3_BUCKET are required for the s3 storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER: %s", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func envLocation(k string, errs *[]error) *time.Location {
	v := os.Getenv(k)
	if v == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return time.UTC
	}
	return loc
}

func envBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
