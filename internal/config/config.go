package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName  = "walletcore"
	defaultAppEnv   = "development"
	defaultPort     = "8080"
	defaultLogLevel = "info"
	defaultCurrency = "XAF"
	devJWTSecret    = "walletcore-dev-secret"

	configFileEnvVar = "CONFIG_FILE"
)

// Config captures application runtime configuration.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RunMigrations  bool
	DBMaxConns     int32
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret            string
	GatewayWebhookSecret string
	RateLimitPerMinute   int

	GatewayTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	ReconcileBatch    int

	MaxPageSize      int
	Currency         string
	CurrencyExponent int32

	AMQPURL      string
	AMQPExchange string
}

func defaults(v *viper.Viper) {
	v.SetDefault("app_name", defaultAppName)
	v.SetDefault("app_env", defaultAppEnv)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("run_migrations", false)
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("gateway_timeout", "5s")
	v.SetDefault("retry_max_attempts", 5)
	v.SetDefault("retry_base_delay", "20ms")
	v.SetDefault("reconcile_interval", "30s")
	v.SetDefault("reconcile_after", "1m")
	v.SetDefault("reconcile_batch", 100)
	v.SetDefault("max_page_size", 100)
	v.SetDefault("currency", defaultCurrency)
	v.SetDefault("currency_exponent", 0)
	v.SetDefault("amqp_exchange", "wallet.events")
}

// Load reads configuration from the environment, optionally layered over a
// config file named by CONFIG_FILE or ./config.yaml.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(configFileEnvVar); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return Config{}, fmt.Errorf("config file error: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		AppName:              v.GetString("app_name"),
		AppEnv:               v.GetString("app_env"),
		Port:                 v.GetString("port"),
		LogLevel:             strings.ToLower(v.GetString("log_level")),
		DatabaseURL:          v.GetString("database_url"),
		RedisURL:             v.GetString("redis_url"),
		RunMigrations:        v.GetBool("run_migrations"),
		DBMaxConns:           v.GetInt32("db_max_conns"),
		JWTSecret:            v.GetString("jwt_secret"),
		GatewayWebhookSecret: v.GetString("gateway_webhook_secret"),
		RateLimitPerMinute:   v.GetInt("rate_limit_per_minute"),
		RetryMaxAttempts:     v.GetInt("retry_max_attempts"),
		ReconcileBatch:       v.GetInt("reconcile_batch"),
		MaxPageSize:          v.GetInt("max_page_size"),
		Currency:             strings.ToUpper(v.GetString("currency")),
		CurrencyExponent:     v.GetInt32("currency_exponent"),
		AMQPURL:              v.GetString("amqp_url"),
		AMQPExchange:         v.GetString("amqp_exchange"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"shutdown_timeout", &cfg.ShutdownPeriod},
		{"idempotency_ttl", &cfg.IdempotencyTTL},
		{"gateway_timeout", &cfg.GatewayTimeout},
		{"retry_base_delay", &cfg.RetryBaseDelay},
		{"reconcile_interval", &cfg.ReconcileInterval},
		{"reconcile_after", &cfg.ReconcileAfter},
	}
	for _, d := range durations {
		value, err := duration(v, d.key)
		if err != nil {
			return Config{}, err
		}
		*d.dst = value
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = devJWTSecret
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// duration accepts either KEY as a Go duration or KEY_SECONDS as an integer.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	secondsKey := key + "_seconds"
	if raw := v.GetString(secondsKey); raw != "" {
		seconds := v.GetInt(secondsKey)
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", strings.ToUpper(secondsKey), raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
	}
	return d, nil
}

func (c Config) validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxPageSize < 1 {
		return fmt.Errorf("MAX_PAGE_SIZE must be at least 1")
	}
	if c.CurrencyExponent < 0 || c.CurrencyExponent > 8 {
		return fmt.Errorf("CURRENCY_EXPONENT must be between 0 and 8")
	}
	return nil
}

// IsDev reports whether the memory backends may stand in for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
