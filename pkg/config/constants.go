package config

const (
	EnvPrefix = "LOKALBAZAAR"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LOKALBAZAAR_DB_DSN"
	EnvDBHost = "LOKALBAZAAR_DB_HOST"
	EnvDBUser = "LOKALBAZAAR_DB_USER"
	EnvDBName = "LOKALBAZAAR_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
