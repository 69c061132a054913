// Package config loads runtime configuration from environment variables
// and an optional config file, grounded on
// go-server-3/internal/config/config.go's viper setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the exchange server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the HTTP/WebSocket listener.
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Path             string        `mapstructure:"path"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	PublicBufferSize int           `mapstructure:"public_buffer_size"`
	PaymentBufferSize int          `mapstructure:"payment_buffer_size"`
	RateLimitPerSec  float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// AuthConfig controls JWT verification and the admin bootstrap balance.
type AuthConfig struct {
	// SecretKey is the shared HMAC secret the access and identity JWTs are
	// signed with.
	SecretKey string `mapstructure:"secret_key"`
	// AdminInitialBalance is credited the first time a user carrying the
	// admin role connects. Everyone else starts at zero. This is a
	// configuration value, not a constant, so a deployment can change the
	// bootstrap balance without a code change.
	AdminInitialBalance string `mapstructure:"admin_initial_balance"`
}

// NATSConfig controls the optional cross-process broadcast relay. URL
// empty means the hub runs single-process, no relay attached.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// MetricsConfig controls the Prometheus endpoint, served on the main
// listener at Endpoint when Enabled. ListenAddr is not used by the server.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from ODIN_-prefixed environment variables and
// an optional ./odin.{yaml,json,...} config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.public_buffer_size", 256)
	v.SetDefault("server.payment_buffer_size", 64)
	v.SetDefault("server.rate_limit_per_sec", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.admin_initial_balance", "1000000")

	v.SetDefault("nats.url", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("odin")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("ODIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; environment variables always take precedence.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Auth.SecretKey == "" {
		return Config{}, fmt.Errorf("auth.secret_key (ODIN_AUTH_SECRET_KEY) is required")
	}

	return cfg, nil
}
