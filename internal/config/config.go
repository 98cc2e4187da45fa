package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the server reads from the environment.
// Integrations (email, push, billing, export, calendar providers) are
// enabled only when their keys are present.
type Config struct {
	Addr     string
	BaseURL  string
	DBPath   string
	LogLevel string

	CronSecret string

	GeneralRateLimit int
	AuthRateLimit    int
	RateWindow       time.Duration

	// Email (Postmark)
	PostmarkToken string
	FromEmail     string

	// Web push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePlusPriceID   string

	// Export storage (S3-compatible)
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	ExportPassphrase string
	ExportRetention  int

	// Calendar providers
	GoogleClientID      string
	GoogleClientSecret  string
	OutlookClientID     string
	OutlookClientSecret string
	OAuthStateSecret    string

	// In-process scheduler; off when deployments drive the cron
	// endpoints externally.
	SchedulerEnabled bool
}

// Load reads configuration from the environment. Required variables are
// collected and reported together so a broken deploy fails with one
// actionable error.
func Load() (*Config, error) {
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		Addr:     envDefault("HEARTHSIDE_ADDR", ":8080"),
		BaseURL:  strings.TrimRight(envDefault("HEARTHSIDE_BASE_URL", "http://localhost:8080"), "/"),
		DBPath:   envDefault("HEARTHSIDE_DB_PATH", "hearthside.db"),
		LogLevel: envDefault("HEARTHSIDE_LOG_LEVEL", "info"),

		CronSecret: require("CRON_SECRET"),

		GeneralRateLimit: envInt("HEARTHSIDE_GENERAL_RATE_LIMIT", 120),
		AuthRateLimit:    envInt("HEARTHSIDE_AUTH_RATE_LIMIT", 10),
		RateWindow:       envDuration("HEARTHSIDE_RATE_WINDOW", time.Minute),

		PostmarkToken: os.Getenv("POSTMARK_SERVER_TOKEN"),
		FromEmail:     envDefault("HEARTHSIDE_FROM_EMAIL", "hello@hearthside.app"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    envDefault("VAPID_SUBJECT", "mailto:hello@hearthside.app"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePlusPriceID:   os.Getenv("STRIPE_PLUS_PRICE_ID"),

		S3Endpoint:       os.Getenv("EXPORT_S3_ENDPOINT"),
		S3Region:         envDefault("EXPORT_S3_REGION", "auto"),
		S3Bucket:         os.Getenv("EXPORT_S3_BUCKET"),
		S3AccessKey:      os.Getenv("EXPORT_S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("EXPORT_S3_SECRET_KEY"),
		ExportPassphrase: os.Getenv("EXPORT_PASSPHRASE"),
		ExportRetention:  envInt("EXPORT_RETENTION_DAYS", 30),

		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		OutlookClientID:     os.Getenv("OUTLOOK_CLIENT_ID"),
		OutlookClientSecret: os.Getenv("OUTLOOK_CLIENT_SECRET"),
		OAuthStateSecret:    os.Getenv("OAUTH_STATE_SECRET"),

		SchedulerEnabled: envBool("HEARTHSIDE_SCHEDULER", true),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// EmailEnabled reports whether outbound email is configured.
func (c *Config) EmailEnabled() bool {
	return c.PostmarkToken != ""
}

// PushEnabled reports whether web push is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// BillingEnabled reports whether Stripe billing is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// ExportEnabled reports whether S3 export storage is configured.
func (c *Config) ExportEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.ExportPassphrase != ""
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
