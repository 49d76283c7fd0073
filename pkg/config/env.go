package config

// EnvPrefix is handed to envconfig; every field carries an explicit envconfig tag.
const EnvPrefix = "STOREFRONT"

// AppEnvDev switches logging to the console format.
const AppEnvDev = "dev"

const (
	StorageDriverMemory   = "memory"
	StorageDriverRedis    = "redis"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

const (
	EnvAppEnv             = "STOREFRONT_APP_ENV"
	EnvLogLevel           = "STOREFRONT_LOG_LEVEL"
	EnvAPIBaseURL         = "STOREFRONT_API_BASE_URL"
	EnvAPITimeout         = "STOREFRONT_API_TIMEOUT"
	EnvTokenExpiresIn     = "STOREFRONT_TOKEN_EXPIRES_IN"
	EnvAPIDebug           = "STOREFRONT_API_DEBUG"
	EnvStorageDriver      = "STOREFRONT_STORAGE_DRIVER"
	EnvStorageDSN         = "STOREFRONT_STORAGE_DSN"
	EnvRedisURL           = "STOREFRONT_REDIS_URL"
	EnvCartPersistKey     = "STOREFRONT_CART_PERSIST_KEY"
	EnvCartPersistTimeout = "STOREFRONT_CART_PERSIST_TIMEOUT"
)
