// Package config loads server and CLI settings from defaults, an optional
// config file and TEAMLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"teamledger.io/internal/cache"
	"teamledger.io/internal/obs"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TEAMLEDGER"

// ErrMissingSecret is returned when auth.secret is not set.
var ErrMissingSecret = errors.New("auth.secret is required")

// Config holds all configuration settings.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Invitations InvitationsConfig `mapstructure:"invitations"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Rate        RateConfig        `mapstructure:"rate"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type InvitationsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	Mode          string        `mapstructure:"mode"`
	TTL           time.Duration `mapstructure:"ttl"`
	LocalMaxBytes int           `mapstructure:"local_max_bytes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Output     string `mapstructure:"output"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RateConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "teamledger")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("invitations.ttl", 7*24*time.Hour)
	v.SetDefault("cache.mode", cache.ModeLocal)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.local_max_bytes", 32<<20)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("rate.per_second", 20.0)
	v.SetDefault("rate.burst", 40)
}

// Load reads configuration. An empty path skips the config file; the file
// type is taken from its extension (yaml, toml or json).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Cache.Mode = strings.ToLower(strings.TrimSpace(cfg.Cache.Mode))
	return cfg, nil
}

// Validate checks settings the server cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return ErrMissingSecret
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitations.ttl must be positive, got %s", c.Invitations.TTL)
	}
	switch c.Cache.Mode {
	case cache.ModeNone, cache.ModeLocal:
	case cache.ModeRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when cache.mode is redis")
		}
	default:
		return fmt.Errorf("cache.mode must be none, local or redis, got %q", c.Cache.Mode)
	}
	if c.Rate.PerSecond < 0 || c.Rate.Burst < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// ValidateDatabase checks that a DSN is configured.
func (c Config) ValidateDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	return nil
}

// CacheSettings maps the cache and redis sections onto cache.Config.
func (c Config) CacheSettings() cache.Config {
	return cache.Config{
		Mode:          c.Cache.Mode,
		TTL:           c.Cache.TTL,
		LocalMaxBytes: c.Cache.LocalMaxBytes,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
	}
}

// LogSettings maps the log section onto obs.LogConfig.
func (c Config) LogSettings() obs.LogConfig {
	return obs.LogConfig{
		Level:      c.Log.Level,
		Output:     c.Log.Output,
		Path:       c.Log.Path,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
