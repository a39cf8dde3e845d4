package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Marketplace  MarketplaceConfig
	Payments     PaymentsConfig
	Logistics    LogisticsConfig
	Orders       OrdersConfig
	Payouts      PayoutsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOKALBAZAAR_APP_ENV" required:"true"`
	Port         string `envconfig:"LOKALBAZAAR_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOKALBAZAAR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOKALBAZAAR_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOKALBAZAAR_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LOKALBAZAAR_DB_DSN"`
	Driver string `envconfig:"LOKALBAZAAR_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOKALBAZAAR_DB_HOST"`
	LegacyPort     int    `envconfig:"LOKALBAZAAR_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOKALBAZAAR_DB_USER"`
	LegacyPassword string `envconfig:"LOKALBAZAAR_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOKALBAZAAR_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOKALBAZAAR_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOKALBAZAAR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOKALBAZAAR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOKALBAZAAR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOKALBAZAAR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOKALBAZAAR_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOKALBAZAAR_REDIS_ADDR"`
	Password     string        `envconfig:"LOKALBAZAAR_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOKALBAZAAR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOKALBAZAAR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOKALBAZAAR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOKALBAZAAR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOKALBAZAAR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOKALBAZAAR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// MarketplaceConfig carries platform-level fee rates. Rates are decimal
// strings ("0.10" = 10%) so fee math never touches binary floats.
type MarketplaceConfig struct {
	CommissionRate    string `envconfig:"LOKALBAZAAR_COMMISSION_RATE" default:"0.10"`
	GatewayFeeRate    string `envconfig:"LOKALBAZAAR_GATEWAY_FEE_RATE" default:"0.02"`
	GatewayFeeFlatPct bool   `envconfig:"LOKALBAZAAR_GATEWAY_FEE_FLAT_PCT" default:"true"`
}

type PaymentsConfig struct {
	BaseURL       string        `envconfig:"LOKALBAZAAR_PAYMENTS_BASE_URL" required:"true"`
	APIKey        string        `envconfig:"LOKALBAZAAR_PAYMENTS_API_KEY" required:"true"`
	WebhookSecret string        `envconfig:"LOKALBAZAAR_PAYMENTS_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"LOKALBAZAAR_PAYMENTS_TIMEOUT" default:"10s"`
	SessionTTL    time.Duration `envconfig:"LOKALBAZAAR_PAYMENTS_SESSION_TTL" default:"30m"`
}

type LogisticsConfig struct {
	BaseURL string        `envconfig:"LOKALBAZAAR_LOGISTICS_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"LOKALBAZAAR_LOGISTICS_API_KEY" required:"true"`
	Timeout time.Duration `envconfig:"LOKALBAZAAR_LOGISTICS_TIMEOUT" default:"10s"`
}

type OrdersConfig struct {
	AutoCancelAfter      time.Duration `envconfig:"LOKALBAZAAR_ORDER_AUTOCANCEL_AFTER" default:"72h"`
	AutoCancelBatchSize  int           `envconfig:"LOKALBAZAAR_ORDER_AUTOCANCEL_BATCH_SIZE" default:"100"`
	AbandonedReservation time.Duration `envconfig:"LOKALBAZAAR_ABANDONED_RESERVATION_AFTER" default:"45m"`
}

type PayoutsConfig struct {
	PeriodDays int `envconfig:"LOKALBAZAAR_PAYOUT_PERIOD_DAYS" default:"7"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LOKALBAZAAR_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LOKALBAZAAR_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LOKALBAZAAR_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"LOKALBAZAAR_PUBSUB_DOMAIN_TOPIC" default:"lb-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"LOKALBAZAAR_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"LOKALBAZAAR_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"LOKALBAZAAR_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"LOKALBAZAAR_OUTBOX_RETENTION" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LOKALBAZAAR_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LOKALBAZAAR_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
