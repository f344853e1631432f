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
	RateLimit    RateLimitConfig
	Credits      CreditsConfig
	ExpirySweep  ExpirySweepConfig
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
	Env          string `envconfig:"CREDITCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CREDITCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITCORE_DB_DSN"`
	Driver string `envconfig:"CREDITCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITCORE_DB_USER"`
	LegacyPassword string `envconfig:"CREDITCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns     int           `envconfig:"CREDITCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns     int           `envconfig:"CREDITCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime  time.Duration `envconfig:"CREDITCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime  time.Duration `envconfig:"CREDITCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	StatementTimeout time.Duration `envconfig:"CREDITCORE_DB_STATEMENT_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CREDITCORE_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type RateLimitConfig struct {
	MutationWindow    time.Duration `envconfig:"CREDITCORE_RATE_LIMIT_MUTATION_WINDOW" default:"1m"`
	MutationUserLimit int           `envconfig:"CREDITCORE_RATE_LIMIT_MUTATION_USER_LIMIT" default:"120"`
}

type CreditsConfig struct {
	// MaxGrantAmount bounds a single grant before promotion multipliers.
	MaxGrantAmount  int64         `envconfig:"CREDITCORE_CREDITS_MAX_GRANT_AMOUNT" default:"1000000"`
	ReplayReadDelay time.Duration `envconfig:"CREDITCORE_CREDITS_REPLAY_READ_DELAY" default:"50ms"`
}

type ExpirySweepConfig struct {
	Interval  time.Duration `envconfig:"CREDITCORE_EXPIRY_SWEEP_INTERVAL" default:"24h"`
	BatchSize int           `envconfig:"CREDITCORE_EXPIRY_SWEEP_BATCH_SIZE" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CREDITCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CREDITCORE_AUTO_MIGRATE" default:"false"`
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
