package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Locks         LocksConfig
	Idempotency   IdempotencyConfig
	Ledger        LedgerConfig
	Notifications NotificationsConfig
	Sweep         SweepConfig
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
	Env          string `envconfig:"PAYCORE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"PAYCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYCORE_SERVICE_KIND" default:"sweep-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYCORE_DB_DSN"`
	Driver string `envconfig:"PAYCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYCORE_DB_USER"`
	LegacyPassword string `envconfig:"PAYCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYCORE_REDIS_ADDR"`
	Password     string        `envconfig:"PAYCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYCORE_AUTO_MIGRATE" default:"false"`
}

type LocksConfig struct {
	// DefaultTTL bounds how long a holder may keep an order leased before it
	// self-expires; the expiry is the only cancellation mechanism.
	DefaultTTL time.Duration `envconfig:"PAYCORE_LOCK_DEFAULT_TTL" default:"30s"`
}

type IdempotencyConfig struct {
	EntryTTL           time.Duration `envconfig:"PAYCORE_IDEMPOTENCY_ENTRY_TTL" default:"24h"`
	StalenessThreshold time.Duration `envconfig:"PAYCORE_IDEMPOTENCY_STALENESS" default:"5m"`
}

type LedgerConfig struct {
	// AmountTolerance is a decimal string; claimed amounts within this
	// distance of the order total pass verification.
	AmountTolerance    string        `envconfig:"PAYCORE_LEDGER_AMOUNT_TOLERANCE" default:"0.01"`
	HeuristicWindow    time.Duration `envconfig:"PAYCORE_LEDGER_HEURISTIC_WINDOW" default:"48h"`
	ProcessingDeadline time.Duration `envconfig:"PAYCORE_LEDGER_PROCESSING_DEADLINE" default:"15m"`
}

type NotificationsConfig struct {
	InsertAttempts int           `envconfig:"PAYCORE_NOTIFY_INSERT_ATTEMPTS" default:"3"`
	RetryBound     int           `envconfig:"PAYCORE_NOTIFY_RETRY_BOUND" default:"5"`
	ClaimTimeout   time.Duration `envconfig:"PAYCORE_NOTIFY_CLAIM_TIMEOUT" default:"10m"`
	Retention      time.Duration `envconfig:"PAYCORE_NOTIFY_RETENTION" default:"720h"`
}

type SweepConfig struct {
	Interval     time.Duration `envconfig:"PAYCORE_SWEEP_INTERVAL" default:"5m"`
	ReviewWindow time.Duration `envconfig:"PAYCORE_SWEEP_REVIEW_WINDOW" default:"24h"`
	LockTTL      time.Duration `envconfig:"PAYCORE_SWEEP_LOCK_TTL" default:"10m"`
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
