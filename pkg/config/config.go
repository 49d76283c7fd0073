package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	API     APIConfig
	Storage StorageConfig
	Redis   RedisConfig
	Cart    CartConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.API.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type APIConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_API_BASE_URL" required:"true"`
	Timeout        time.Duration `envconfig:"STOREFRONT_API_TIMEOUT" default:"10s"`
	TokenExpiresIn time.Duration `envconfig:"STOREFRONT_TOKEN_EXPIRES_IN" default:"15m"`
	Debug          bool          `envconfig:"STOREFRONT_API_DEBUG" default:"false"`
	Tracing        bool          `envconfig:"STOREFRONT_API_TRACING" default:"false"`
}

// TokenExpiryHint renders the refresh expiry hint the way the backend expects it (e.g. "15m").
func (a APIConfig) TokenExpiryHint() string {
	if a.TokenExpiresIn <= 0 {
		return ""
	}
	return shortDuration(a.TokenExpiresIn)
}

func (a APIConfig) validate() error {
	u, err := url.Parse(strings.TrimSpace(a.BaseURL))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvAPIBaseURL, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) url", EnvAPIBaseURL)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvAPITimeout)
	}
	return nil
}

type StorageConfig struct {
	Driver string `envconfig:"STOREFRONT_STORAGE_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"STOREFRONT_STORAGE_DSN" default:"storefront.db"`
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case StorageDriverMemory, StorageDriverRedis:
		return nil
	case StorageDriverSQLite, StorageDriverPostgres:
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("%s is required for driver %q", EnvStorageDSN, s.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvStorageDriver, s.Driver)
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type CartConfig struct {
	PersistKey     string        `envconfig:"STOREFRONT_CART_PERSIST_KEY" default:"@cart_storage"`
	PersistTimeout time.Duration `envconfig:"STOREFRONT_CART_PERSIST_TIMEOUT" default:"2s"`
	RecentLimit    int           `envconfig:"STOREFRONT_CART_RECENT_LIMIT" default:"5"`
}

func shortDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return d.String()
	}
}
