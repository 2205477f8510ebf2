package config

// EnvPrefix scopes every environment variable the service reads.
const EnvPrefix = "PAYCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "PAYCORE_DB_DSN"
	EnvDBHost = "PAYCORE_DB_HOST"
	EnvDBUser = "PAYCORE_DB_USER"
	EnvDBName = "PAYCORE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
