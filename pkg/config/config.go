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
	JWT          JWTConfig
	Realtime     RealtimeConfig
	Assignment   AssignmentConfig
	Bus          BusConfig
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
	Env          string `envconfig:"BARBERDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"BARBERDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BARBERDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BARBERDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BARBERDESK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BARBERDESK_DB_DSN"`
	Driver string `envconfig:"BARBERDESK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BARBERDESK_DB_HOST"`
	LegacyPort     int    `envconfig:"BARBERDESK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BARBERDESK_DB_USER"`
	LegacyPassword string `envconfig:"BARBERDESK_DB_PASSWORD"`
	LegacyName     string `envconfig:"BARBERDESK_DB_NAME"`
	LegacySSLMode  string `envconfig:"BARBERDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BARBERDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BARBERDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BARBERDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BARBERDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	QueryTimeout    time.Duration `envconfig:"BARBERDESK_DB_QUERY_TIMEOUT" default:"2s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BARBERDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BARBERDESK_REDIS_ADDR"`
	Password     string        `envconfig:"BARBERDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"BARBERDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BARBERDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BARBERDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BARBERDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BARBERDESK_REDIS_READ_TIMEOUT" default:"500ms"`
	WriteTimeout time.Duration `envconfig:"BARBERDESK_REDIS_WRITE_TIMEOUT" default:"500ms"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BARBERDESK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BARBERDESK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BARBERDESK_JWT_EXPIRATION_MINUTES" required:"true"`
}

type RealtimeConfig struct {
	DeliveryTimeout     time.Duration `envconfig:"BARBERDESK_REALTIME_DELIVERY_TIMEOUT" default:"2s"`
	MaxDeliveryFailures int           `envconfig:"BARBERDESK_REALTIME_MAX_DELIVERY_FAILURES" default:"3"`
	HeartbeatTimeout    time.Duration `envconfig:"BARBERDESK_REALTIME_HEARTBEAT_TIMEOUT" default:"60s"`
	EvictionInterval    time.Duration `envconfig:"BARBERDESK_REALTIME_EVICTION_INTERVAL" default:"15s"`
	DrainGrace          time.Duration `envconfig:"BARBERDESK_REALTIME_DRAIN_GRACE" default:"5s"`
}

type AssignmentConfig struct {
	SweepInterval    time.Duration `envconfig:"BARBERDESK_ASSIGNMENT_SWEEP_INTERVAL" default:"5s"`
	MaxCASRetries    int           `envconfig:"BARBERDESK_ASSIGNMENT_MAX_CAS_RETRIES" default:"3"`
	WorkerOfflineTTL time.Duration `envconfig:"BARBERDESK_ASSIGNMENT_WORKER_OFFLINE_TTL" default:"90s"`
}

type BusConfig struct {
	RetryQueueSize   int           `envconfig:"BARBERDESK_BUS_RETRY_QUEUE_SIZE" default:"256"`
	RetryQueueMaxAge time.Duration `envconfig:"BARBERDESK_BUS_RETRY_QUEUE_MAX_AGE" default:"2m"`
	RetryFlushEvery  time.Duration `envconfig:"BARBERDESK_BUS_RETRY_FLUSH_EVERY" default:"1s"`
	BackoffBase      time.Duration `envconfig:"BARBERDESK_BUS_BACKOFF_BASE" default:"200ms"`
	BackoffCap       time.Duration `envconfig:"BARBERDESK_BUS_BACKOFF_CAP" default:"30s"`
	ResyncGap        int64         `envconfig:"BARBERDESK_BUS_RESYNC_GAP" default:"1"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BARBERDESK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BARBERDESK_AUTO_MIGRATE" default:"false"`
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
