package config

// EnvPrefix scopes every environment variable this service reads.
const EnvPrefix = ""

// App environment names.
const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced in error messages.
const (
	EnvDBDSN  = "CLIPMINT_DB_DSN"
	EnvDBHost = "CLIPMINT_DB_HOST"
	EnvDBUser = "CLIPMINT_DB_USER"
	EnvDBName = "CLIPMINT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
