// Package config loads application configuration from the environment.
// A .env file in the working directory is honoured when present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; defaults apply when the variable is unset.
type Config struct {
	Env  string `envconfig:"APP_ENV" default:"dev"`
	Port string `envconfig:"APP_PORT" default:"8080"`

	DBUser string `envconfig:"DB_USER" required:"true"`
	DBPass string `envconfig:"DB_PASS"`
	DBHost string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort string `envconfig:"DB_PORT" default:"3306"`
	DBName string `envconfig:"DB_NAME" required:"true"`

	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"`
	AccessTTL      time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTTL     time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	BcryptCost     int           `envconfig:"BCRYPT_COST" default:"12"`
	OTPTTL         time.Duration `envconfig:"OTP_TTL" default:"10m"`
	InternalSecret string        `envconfig:"INTERNAL_API_SECRET"` // shared with the frontend's OAuth callback

	ReservationLimit int             `envconfig:"RESERVATION_LIMIT" default:"2"`
	PriceTolerance   decimal.Decimal `envconfig:"PRICE_TOLERANCE" default:"1"`
	ShippingFlat     decimal.Decimal `envconfig:"SHIPPING_FLAT" default:"0"`
	InsuranceRate    decimal.Decimal `envconfig:"INSURANCE_RATE" default:"0"`
	ReservationLock  time.Duration   `envconfig:"RESERVATION_LOCK_TTL" default:"10s"`

	DefaultLocale string   `envconfig:"DEFAULT_LOCALE" default:"en"`
	Locales       []string `envconfig:"LOCALES" default:"de,fr,es"`

	ShopName       string `envconfig:"SHOP_NAME" default:"Luthier Workshop"`
	ShopOwnerEmail string `envconfig:"SHOP_OWNER_EMAIL"`
	MailFrom       string `envconfig:"MAIL_FROM" default:"Luthier Workshop <orders@example.com>"`
	ResendAPIKey   string `envconfig:"RESEND_API_KEY"`
	DeepLAPIKey    string `envconfig:"DEEPL_API_KEY"`

	RabbitMQURL        string        `envconfig:"RABBITMQ_URL"`
	QueueName          string        `envconfig:"QUEUE_NAME" default:"storefront.jobs"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"5"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
}

// Load reads .env (if any) and the process environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.DefaultLocale = strings.ToLower(strings.TrimSpace(cfg.DefaultLocale))
	cfg.Locales = normalizeLocales(cfg.Locales, cfg.DefaultLocale)
	if cfg.ReservationLimit < 1 {
		cfg.ReservationLimit = 1
	}
	if cfg.OutboxMaxAttempts < 1 {
		cfg.OutboxMaxAttempts = 1
	}
	return cfg, nil
}

// Dev reports whether the service runs in a development environment.
func (c Config) Dev() bool { return c.Env == "dev" || c.Env == "development" }

// normalizeLocales lowercases and de-duplicates the translation targets and
// drops the default locale, which is the translation source.
func normalizeLocales(in []string, def string) []string {
	seen := map[string]bool{def: true}
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
