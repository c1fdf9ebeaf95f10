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
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Payments     PaymentsConfig
	Reconcile    ReconcileConfig
	Delivery     DeliveryConfig
	Tripay       TripayConfig
	Midtrans     MidtransConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	if cfg.App.IsProd() && cfg.Midtrans.AdvisorySignature {
		return nil, fmt.Errorf("DIGISTORE_MIDTRANS_ADVISORY_SIGNATURE is not allowed in %s", AppEnvProd)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DIGISTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"DIGISTORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DIGISTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DIGISTORE_LOG_WARN_STACK" default:"false"`
	// Storefront origins allowed to call the public API.
	CORSOrigins []string `envconfig:"DIGISTORE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DIGISTORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DIGISTORE_DB_DSN"`
	Driver string `envconfig:"DIGISTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DIGISTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"DIGISTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DIGISTORE_DB_USER"`
	LegacyPassword string `envconfig:"DIGISTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"DIGISTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"DIGISTORE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"DIGISTORE_SQLITE_PATH" default:"file:digistore.db?cache=shared&_busy_timeout=5000"`

	MaxOpenConns    int           `envconfig:"DIGISTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DIGISTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DIGISTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DIGISTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"DIGISTORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxRetries          uint64        `envconfig:"DIGISTORE_DB_TX_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DIGISTORE_REDIS_URL"`
	Address      string        `envconfig:"DIGISTORE_REDIS_ADDR"`
	Password     string        `envconfig:"DIGISTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"DIGISTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DIGISTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DIGISTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIGISTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DIGISTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DIGISTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies the operator tokens presented on admin routes.
type JWTConfig struct {
	Secret            string `envconfig:"DIGISTORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DIGISTORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DIGISTORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DIGISTORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DIGISTORE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookReplayTTL     time.Duration `envconfig:"DIGISTORE_EVENTING_WEBHOOK_REPLAY_TTL" default:"24h"`
	CheckoutIdemTTL      time.Duration `envconfig:"DIGISTORE_EVENTING_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
	NotificationQueueLen int           `envconfig:"DIGISTORE_EVENTING_NOTIFICATION_QUEUE" default:"256"`
	NotificationWorkers  int           `envconfig:"DIGISTORE_EVENTING_NOTIFICATION_WORKERS" default:"2"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DIGISTORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DIGISTORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DIGISTORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig names the topics order events fan out on. When AlertTopic is
// set, delivery failures and discrepancies go there instead of the
// notification topic so operators can subscribe to them alone.
type PubSubConfig struct {
	NotificationTopic string `envconfig:"DIGISTORE_PUBSUB_NOTIFICATION_TOPIC" default:"digistore-order-notifications"`
	AlertTopic        string `envconfig:"DIGISTORE_PUBSUB_ALERT_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DIGISTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DIGISTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DIGISTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"DIGISTORE_OUTBOX_RETENTION_DAYS" default:"30"`
	// dead letters stay longer so support can still see them on old orders
	DLQRetentionDays int `envconfig:"DIGISTORE_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

// PaymentsConfig holds the global gateway routing used when a product price
// does not override it.
type PaymentsConfig struct {
	DefaultIDR      string        `envconfig:"DIGISTORE_PAYMENTS_DEFAULT_IDR" default:"tripay"`
	BackupIDR       string        `envconfig:"DIGISTORE_PAYMENTS_BACKUP_IDR" default:"midtrans"`
	DefaultUSD      string        `envconfig:"DIGISTORE_PAYMENTS_DEFAULT_USD" default:"stripe"`
	BackupUSD       string        `envconfig:"DIGISTORE_PAYMENTS_BACKUP_USD" default:"square"`
	PublicBaseURL   string        `envconfig:"DIGISTORE_PAYMENTS_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	ReturnURL       string        `envconfig:"DIGISTORE_PAYMENTS_RETURN_URL" default:"http://localhost:3000/orders"`
	SessionTTL      time.Duration `envconfig:"DIGISTORE_PAYMENTS_SESSION_TTL" default:"1h"`
	ProviderTimeout time.Duration `envconfig:"DIGISTORE_PAYMENTS_PROVIDER_TIMEOUT" default:"8s"`
}

func (p PaymentsConfig) validate() error {
	if strings.TrimSpace(p.DefaultIDR) == "" && strings.TrimSpace(p.DefaultUSD) == "" {
		return fmt.Errorf("at least one default gateway is required")
	}
	if _, err := url.Parse(p.PublicBaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvPaymentsPublicBaseURL, err)
	}
	return nil
}

type ReconcileConfig struct {
	TolerancePercent string `envconfig:"DIGISTORE_RECONCILE_TOLERANCE_PERCENT" default:"1"`
}

// Tolerance parses the configured band, falling back to one percent.
func (r ReconcileConfig) Tolerance() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(r.TolerancePercent))
	if err != nil || value.IsNegative() {
		return decimal.NewFromInt(1)
	}
	return value
}

// DeliveryConfig carries fallbacks for products whose delivery settings omit them.
type DeliveryConfig struct {
	APIMaxAttempts int           `envconfig:"DIGISTORE_DELIVERY_API_MAX_ATTEMPTS" default:"3"`
	APIBackoff     time.Duration `envconfig:"DIGISTORE_DELIVERY_API_BACKOFF" default:"1s"`
	APIMaxBackoff  time.Duration `envconfig:"DIGISTORE_DELIVERY_API_MAX_BACKOFF" default:"30s"`
	APITimeout     time.Duration `envconfig:"DIGISTORE_DELIVERY_API_TIMEOUT" default:"10s"`
	InFlightWait   time.Duration `envconfig:"DIGISTORE_DELIVERY_INFLIGHT_WAIT" default:"5s"`
	StaleClaim     time.Duration `envconfig:"DIGISTORE_DELIVERY_STALE_CLAIM" default:"10m"`

	// Webhook-triggered deliveries run on a background queue; the sweeper
	// re-queues paid orders whose delivery never started.
	QueueLen   int           `envconfig:"DIGISTORE_DELIVERY_QUEUE_LEN" default:"256"`
	Workers    int           `envconfig:"DIGISTORE_DELIVERY_WORKERS" default:"4"`
	SweepEvery time.Duration `envconfig:"DIGISTORE_DELIVERY_SWEEP_EVERY" default:"1m"`
	SweepGrace time.Duration `envconfig:"DIGISTORE_DELIVERY_SWEEP_GRACE" default:"30s"`
}

type TripayConfig struct {
	BaseURL      string `envconfig:"DIGISTORE_TRIPAY_BASE_URL" default:"https://tripay.co.id/api-sandbox"`
	APIKey       string `envconfig:"DIGISTORE_TRIPAY_API_KEY"`
	PrivateKey   string `envconfig:"DIGISTORE_TRIPAY_PRIVATE_KEY"`
	MerchantCode string `envconfig:"DIGISTORE_TRIPAY_MERCHANT_CODE"`
	Method       string `envconfig:"DIGISTORE_TRIPAY_METHOD" default:"QRIS"`
}

// MidtransConfig. AdvisorySignature downgrades a bad signature_key to a
// logged warning; it exists for sandbox replays and is refused in prod.
type MidtransConfig struct {
	BaseURL           string `envconfig:"DIGISTORE_MIDTRANS_BASE_URL" default:"https://app.sandbox.midtrans.com"`
	ServerKey         string `envconfig:"DIGISTORE_MIDTRANS_SERVER_KEY"`
	AdvisorySignature bool   `envconfig:"DIGISTORE_MIDTRANS_ADVISORY_SIGNATURE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DIGISTORE_STRIPE_API_KEY"`
	Secret string `envconfig:"DIGISTORE_STRIPE_SECRET"`
	Env    string `envconfig:"DIGISTORE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken  string `envconfig:"DIGISTORE_SQUARE_ACCESS_TOKEN"`
	LocationID   string `envconfig:"DIGISTORE_SQUARE_LOCATION_ID"`
	SignatureKey string `envconfig:"DIGISTORE_SQUARE_SIGNATURE_KEY"`
	Env          string `envconfig:"DIGISTORE_SQUARE_ENV" default:"sandbox"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"DIGISTORE_CRON_INTERVAL" default:"1m"`
	JobTimeout         time.Duration `envconfig:"DIGISTORE_CRON_JOB_TIMEOUT" default:"4m"`
	SessionExpiryGrace time.Duration `envconfig:"DIGISTORE_CRON_SESSION_EXPIRY_GRACE" default:"15m"`
	ExpiryBatchSize    int           `envconfig:"DIGISTORE_CRON_EXPIRY_BATCH_SIZE" default:"100"`
	RetentionEvery     time.Duration `envconfig:"DIGISTORE_CRON_RETENTION_EVERY" default:"1h"`
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

// RateLimitConfig throttles the public surfaces per client IP.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"DIGISTORE_RATE_LIMIT_WINDOW" default:"1m"`
	SessionIPLimit int           `envconfig:"DIGISTORE_RATE_LIMIT_SESSION_IP" default:"20"`
	WebhookIPLimit int           `envconfig:"DIGISTORE_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}
