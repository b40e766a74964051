package config

const (
	EnvPrefix = "CONNECT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	NotificationDriverLog    = "log"
	NotificationDriverPubSub = "pubsub"

	DefaultSQLiteDSN = "file:connect.db?cache=shared&_busy_timeout=5000"

	EnvAppEnv           = "CONNECT_APP_ENV"
	EnvPort             = "CONNECT_APP_PORT"
	EnvDBDSN            = "CONNECT_DB_DSN"
	EnvDBHost           = "CONNECT_DB_HOST"
	EnvDBUser           = "CONNECT_DB_USER"
	EnvDBName           = "CONNECT_DB_NAME"
	EnvUseSQLite        = "CONNECT_USE_SQLITE"
	EnvRedisURL         = "CONNECT_REDIS_URL"
	EnvJWTSecret        = "CONNECT_JWT_SECRET"
	EnvJWTIssuer        = "CONNECT_JWT_ISSUER"
	EnvStripeAPIKey     = "CONNECT_STRIPE_API_KEY"
	EnvStripeSecret     = "CONNECT_STRIPE_WEBHOOK_SECRET"
	EnvStripeFeePercent = "CONNECT_STRIPE_APPLICATION_FEE_PERCENT"
	EnvWebhookDedupe    = "CONNECT_WEBHOOK_DEDUPE"
	EnvNotifyDriver     = "CONNECT_NOTIFICATIONS_DRIVER"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
