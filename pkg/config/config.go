package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Stripe        StripeConfig
	Webhook       WebhookConfig
	RetryQueue    RetryQueueConfig
	Sweep         SweepConfig
	Cron          CronConfig
	Notifications NotificationsConfig
	GCP           GCPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Stripe.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CONNECT_APP_ENV" required:"true"`
	Port         string `envconfig:"CONNECT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CONNECT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CONNECT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CONNECT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CONNECT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CONNECT_DB_DSN"`
	Driver string `envconfig:"CONNECT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CONNECT_DB_HOST"`
	Port     int    `envconfig:"CONNECT_DB_PORT" default:"5432"`
	User     string `envconfig:"CONNECT_DB_USER"`
	Password string `envconfig:"CONNECT_DB_PASSWORD"`
	Name     string `envconfig:"CONNECT_DB_NAME"`
	SSLMode  string `envconfig:"CONNECT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CONNECT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CONNECT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONNECT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CONNECT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CONNECT_REDIS_URL"`
	Address      string        `envconfig:"CONNECT_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"CONNECT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CONNECT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CONNECT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CONNECT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CONNECT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CONNECT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CONNECT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"CONNECT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CONNECT_JWT_ISSUER" required:"true"`
	// Lifetime of tokens minted by cmd tooling and tests.
	ExpirationMinutes int `envconfig:"CONNECT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CONNECT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CONNECT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"CONNECT_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"CONNECT_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"CONNECT_STRIPE_ENV" default:"test"`
	// Percentage of each split payment retained by the platform.
	ApplicationFeePercent string `envconfig:"CONNECT_STRIPE_APPLICATION_FEE_PERCENT" default:"10"`
	DefaultCountry        string `envconfig:"CONNECT_STRIPE_DEFAULT_COUNTRY" default:"US"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// FeePercent parses ApplicationFeePercent; validated during Load.
func (s StripeConfig) FeePercent() decimal.Decimal {
	pct, err := decimal.NewFromString(strings.TrimSpace(s.ApplicationFeePercent))
	if err != nil {
		return decimal.Zero
	}
	return pct
}

func (s StripeConfig) validate() error {
	raw := strings.TrimSpace(s.ApplicationFeePercent)
	if raw == "" {
		return nil
	}
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%s must be numeric: %w", EnvStripeFeePercent, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvStripeFeePercent)
	}
	return nil
}

type WebhookConfig struct {
	Dedupe       bool          `envconfig:"CONNECT_WEBHOOK_DEDUPE" default:"false"`
	DedupeTTL    time.Duration `envconfig:"CONNECT_WEBHOOK_DEDUPE_TTL" default:"72h"`
	MaxBodyBytes int64         `envconfig:"CONNECT_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type RetryQueueConfig struct {
	DrainLimit         int           `envconfig:"CONNECT_RETRY_DRAIN_LIMIT" default:"5"`
	DefaultMaxAttempts int           `envconfig:"CONNECT_RETRY_MAX_ATTEMPTS" default:"3"`
	LeaseTTL           time.Duration `envconfig:"CONNECT_RETRY_LEASE_TTL" default:"5m"`
}

type SweepConfig struct {
	Limit         int     `envconfig:"CONNECT_SWEEP_LIMIT" default:"50"`
	RatePerSecond float64 `envconfig:"CONNECT_SWEEP_RATE_PER_SECOND" default:"20"`
	Burst         int     `envconfig:"CONNECT_SWEEP_BURST" default:"5"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"CONNECT_CRON_INTERVAL" default:"5m"`
	LockTTL          time.Duration `envconfig:"CONNECT_CRON_LOCK_TTL" default:"4m"`
	APIKeyCheckEvery time.Duration `envconfig:"CONNECT_CRON_API_KEY_CHECK_EVERY" default:"1h"`
}

type NotificationsConfig struct {
	Driver string `envconfig:"CONNECT_NOTIFICATIONS_DRIVER" default:"log"`
	Topic  string `envconfig:"CONNECT_NOTIFICATIONS_TOPIC" default:"connect-notifications"`
}

// UsesPubSub reports whether notifications are published to Pub/Sub.
func (n NotificationsConfig) UsesPubSub() bool {
	return strings.EqualFold(strings.TrimSpace(n.Driver), NotificationDriverPubSub)
}

type GCPConfig struct {
	ProjectID string `envconfig:"CONNECT_GCP_PROJECT_ID"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = DefaultSQLiteDSN
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
