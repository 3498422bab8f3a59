package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Session    SessionConfig    `mapstructure:"session"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig holds checkout session configuration. Secret signs the
// poll tokens; StateSecret seals the redirect return state and the
// provider credentials at rest.
type SessionConfig struct {
	Secret      string        `mapstructure:"secret"`
	StateSecret string        `mapstructure:"state_secret"`
	PollExpiry  time.Duration `mapstructure:"poll_expiry"`
}

// ReconcilerConfig holds background sweep configuration.
type ReconcilerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Grace       time.Duration `mapstructure:"grace"`
	ExpireAfter time.Duration `mapstructure:"expire_after"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// ProvidersConfig holds per-provider credentials. A provider with
// Enabled false is simply not registered.
type ProvidersConfig struct {
	PayU   PayUConfig   `mapstructure:"payu"`
	PayPal PayPalConfig `mapstructure:"paypal"`
	Stripe StripeConfig `mapstructure:"stripe"`
	Wechat WechatConfig `mapstructure:"wechat"`
}

// PayUConfig holds PayU merchant configuration.
type PayUConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MerchantKey string `mapstructure:"merchant_key"`
	Salt        string `mapstructure:"salt"`
	BaseURL     string `mapstructure:"base_url"`
}

// PayPalConfig holds PayPal REST configuration.
type PayPalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
	BaseURL  string `mapstructure:"base_url"`
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// WechatConfig holds WeChat Pay v3 configuration.
type WechatConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AppID          string        `mapstructure:"app_id"`
	MchID          string        `mapstructure:"mch_id"`
	APIKeyV3       string        `mapstructure:"api_key_v3"`
	SerialNo       string        `mapstructure:"serial_no"`
	PrivateKey     string        `mapstructure:"private_key"`
	PlatformSerial string        `mapstructure:"platform_serial"`
	PlatformCert   string        `mapstructure:"platform_cert"`
	IsProd         bool          `mapstructure:"is_prod"`
	CollectExpiry  time.Duration `mapstructure:"collect_expiry"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/payhub")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("PAYHUB")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("PAYHUB_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}
	if secret := os.Getenv("PAYHUB_STATE_SECRET"); secret != "" {
		cfg.Session.StateSecret = secret
	}
	if password := os.Getenv("PAYHUB_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("PAYHUB_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("PAYHUB_STRIPE_API_KEY"); key != "" {
		cfg.Providers.Stripe.APIKey = key
	}
	if salt := os.Getenv("PAYHUB_PAYU_SALT"); salt != "" {
		cfg.Providers.PayU.Salt = salt
	}
	if secret := os.Getenv("PAYHUB_PAYPAL_SECRET"); secret != "" {
		cfg.Providers.PayPal.Secret = secret
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "payhub")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Session defaults
	v.SetDefault("session.poll_expiry", 30*time.Minute)

	// Reconciler defaults
	v.SetDefault("reconciler.interval", time.Minute)
	v.SetDefault("reconciler.grace", 5*time.Minute)
	v.SetDefault("reconciler.expire_after", 2*time.Hour)
	v.SetDefault("reconciler.batch_size", 100)

	// Provider defaults
	v.SetDefault("providers.payu.base_url", "https://secure.payu.in")
	v.SetDefault("providers.paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("providers.wechat.collect_expiry", 2*time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
