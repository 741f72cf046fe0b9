package config

// EnvPrefix is applied by envconfig on top of the explicit tags.
const EnvPrefix = "barberdesk"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv     = "BARBERDESK_APP_ENV"
	EnvPort       = "BARBERDESK_APP_PORT"
	EnvDBDSN      = "BARBERDESK_DB_DSN"
	EnvDBHost     = "BARBERDESK_DB_HOST"
	EnvDBUser     = "BARBERDESK_DB_USER"
	EnvDBName     = "BARBERDESK_DB_NAME"
	EnvRedisURL   = "BARBERDESK_REDIS_URL"
	EnvJWTSecret  = "BARBERDESK_JWT_SECRET"
	EnvJWTIssuer  = "BARBERDESK_JWT_ISSUER"
	EnvJWTExpMins = "BARBERDESK_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
