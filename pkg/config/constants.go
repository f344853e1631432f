package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "CREDITCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CREDITCORE_APP_ENV"
	EnvPort     = "CREDITCORE_APP_PORT"
	EnvDBDSN    = "CREDITCORE_DB_DSN"
	EnvDBHost   = "CREDITCORE_DB_HOST"
	EnvDBUser   = "CREDITCORE_DB_USER"
	EnvDBName   = "CREDITCORE_DB_NAME"
	EnvRedisURL = "CREDITCORE_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
