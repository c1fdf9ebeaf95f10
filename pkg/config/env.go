package config

const (
	EnvPrefix = "DIGISTORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "DIGISTORE_APP_ENV"
	EnvPort     = "DIGISTORE_APP_PORT"
	EnvLogLevel = "DIGISTORE_LOG_LEVEL"

	EnvDBDSN  = "DIGISTORE_DB_DSN"
	EnvDBHost = "DIGISTORE_DB_HOST"
	EnvDBUser = "DIGISTORE_DB_USER"
	EnvDBName = "DIGISTORE_DB_NAME"

	EnvRedisURL  = "DIGISTORE_REDIS_URL"
	EnvJWTSecret = "DIGISTORE_JWT_SECRET"
	EnvJWTIssuer = "DIGISTORE_JWT_ISSUER"
	EnvUseSQLite = "DIGISTORE_USE_SQLITE"

	EnvPaymentsDefaultIDR    = "DIGISTORE_PAYMENTS_DEFAULT_IDR"
	EnvPaymentsBackupIDR     = "DIGISTORE_PAYMENTS_BACKUP_IDR"
	EnvPaymentsDefaultUSD    = "DIGISTORE_PAYMENTS_DEFAULT_USD"
	EnvPaymentsPublicBaseURL = "DIGISTORE_PAYMENTS_PUBLIC_BASE_URL"
	EnvReconcileTolerance    = "DIGISTORE_RECONCILE_TOLERANCE_PERCENT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
