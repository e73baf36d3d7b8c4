package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/amaruortiz/vendora-backend/pkg/env"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting for the service, loaded from the
// environment with the VENDORA_ prefix.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Pricing  PricingConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Features FeatureFlags
}

type AppConfig struct {
	Name            string        `envconfig:"APP_NAME" default:"vendora-backend"`
	Env             string        `envconfig:"APP_ENV" default:"development"`
	Port            int           `envconfig:"PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type DBConfig struct {
	DSN             string        `envconfig:"DB_DSN"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrateDev  bool          `envconfig:"DB_AUTO_MIGRATE_DEV" default:"true"`
}

type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	Namespace string `envconfig:"REDIS_NAMESPACE" default:"vn"`
}

type JWTConfig struct {
	Secret     string        `envconfig:"JWT_SECRET" required:"true"`
	Issuer     string        `envconfig:"JWT_ISSUER" default:"vendora"`
	AccessTTL  time.Duration `envconfig:"JWT_ACCESS_TTL" default:"15m"`
	RefreshTTL time.Duration `envconfig:"JWT_REFRESH_TTL" default:"168h"`
}

// GatewayConfig configures the redirect payment gateway integration.
type GatewayConfig struct {
	BaseURL        string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.gateway.example"`
	SecretKey      string        `envconfig:"GATEWAY_SECRET_KEY" required:"true"`
	WebhookSecret  string        `envconfig:"GATEWAY_WEBHOOK_SECRET" required:"true"`
	CallbackURL    string        `envconfig:"GATEWAY_CALLBACK_URL" default:"http://localhost:8080/payments/callback"`
	RequestTimeout time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"10s"`
}

// PricingConfig carries checkout pricing knobs. Rates are expressed in
// basis points so they stay integral in the environment.
type PricingConfig struct {
	TaxRateBps           int   `envconfig:"PRICING_TAX_RATE_BPS" default:"750"`
	ShippingFlatCents    int64 `envconfig:"PRICING_SHIPPING_FLAT_CENTS" default:"1500"`
	DefaultCommissionBps int   `envconfig:"PRICING_DEFAULT_COMMISSION_BPS" default:"1000"`
	MinPayoutCents       int64 `envconfig:"PRICING_MIN_PAYOUT_CENTS" default:"5000"`
}

type PubSubConfig struct {
	ProjectID      string `envconfig:"PUBSUB_PROJECT_ID"`
	TopicPrefix    string `envconfig:"PUBSUB_TOPIC_PREFIX" default:"vendora"`
	DeadLetterName string `envconfig:"PUBSUB_DEAD_LETTER" default:"vendora-dlq"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	MaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"8"`
}

type FeatureFlags struct {
	CODEnabled      bool `envconfig:"FEATURE_COD_ENABLED" default:"true"`
	DisputesEnabled bool `envconfig:"FEATURE_DISPUTES_ENABLED" default:"true"`
}

// Load reads the configuration from the environment. Legacy PG* vars
// are honored when VENDORA_DB_DSN is unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("VENDORA", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	if err := cfg.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ensureDSN() error {
	if c.DB.DSN != "" {
		return nil
	}

	host := env.Get("PGHOST", "localhost")
	port := env.Get("PGPORT", "5432")
	user := env.Get("PGUSER", "postgres")
	pass := env.Get("PGPASSWORD", "")
	name := env.Get("PGDATABASE", "vendora")
	sslmode := env.Get("PGSSLMODE", "disable")

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   "/" + name,
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	c.DB.DSN = u.String()
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
