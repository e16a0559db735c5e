package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	Solana     SolanaConfig
	Fees       FeeConfig
	Reconciler ReconcilerConfig
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
	Env          string `envconfig:"CLIPMINT_APP_ENV" required:"true"`
	Port         string `envconfig:"CLIPMINT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CLIPMINT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLIPMINT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CLIPMINT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CLIPMINT_DB_DSN"`
	Driver string `envconfig:"CLIPMINT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CLIPMINT_DB_HOST"`
	LegacyPort     int    `envconfig:"CLIPMINT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLIPMINT_DB_USER"`
	LegacyPassword string `envconfig:"CLIPMINT_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLIPMINT_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLIPMINT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLIPMINT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLIPMINT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLIPMINT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLIPMINT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"CLIPMINT_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CLIPMINT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CLIPMINT_REDIS_ADDR"`
	Password     string        `envconfig:"CLIPMINT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CLIPMINT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CLIPMINT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLIPMINT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLIPMINT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLIPMINT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLIPMINT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SolanaConfig carries every knob the ledger client needs. The signing key is
// only read in custodial mode; the API never receives buyer private keys.
type SolanaConfig struct {
	EndpointURL         string        `envconfig:"CLIPMINT_SOLANA_RPC_URL" default:"https://api.devnet.solana.com"`
	Commitment          string        `envconfig:"CLIPMINT_SOLANA_COMMITMENT" default:"confirmed"`
	PlatformWallet      string        `envconfig:"CLIPMINT_PLATFORM_WALLET" required:"true"`
	PlatformSigningKey  string        `envconfig:"CLIPMINT_PLATFORM_SIGNING_KEY"`
	ConfirmationTimeout time.Duration `envconfig:"CLIPMINT_SOLANA_CONFIRMATION_TIMEOUT" default:"60s"`
	PollInterval        time.Duration `envconfig:"CLIPMINT_SOLANA_POLL_INTERVAL" default:"2s"`
	RequestTimeout      time.Duration `envconfig:"CLIPMINT_SOLANA_REQUEST_TIMEOUT" default:"15s"`
}

// FeeConfig holds the authoritative platform fee schedule. Amounts are
// lamports; below FeeThresholdLamports no platform fee is charged.
type FeeConfig struct {
	FeePercent           int   `envconfig:"CLIPMINT_FEE_PERCENT" default:"5"`
	FeeThresholdLamports int64 `envconfig:"CLIPMINT_FEE_THRESHOLD_LAMPORTS" default:"10000000"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `envconfig:"CLIPMINT_RECONCILER_INTERVAL" default:"1m"`
	BatchSize  int           `envconfig:"CLIPMINT_RECONCILER_BATCH_SIZE" default:"50"`
	PendingAge time.Duration `envconfig:"CLIPMINT_RECONCILER_PENDING_AGE" default:"30s"`
	AbandonAge time.Duration `envconfig:"CLIPMINT_RECONCILER_ABANDON_AGE" default:"24h"`
	LockTTL    time.Duration `envconfig:"CLIPMINT_RECONCILER_LOCK_TTL" default:"5m"`
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
