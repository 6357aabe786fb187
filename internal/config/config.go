// Package config loads client settings from file, environment and flags.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/dialogue"
	"github.com/aretw0/audiencia/pkg/syncengine"
	"github.com/spf13/viper"
)

// AppName names the config directory and env prefix.
const AppName = "audiencia"

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the full client configuration.
type Config struct {
	Authority AuthorityConfig         `mapstructure:"authority"`
	Client    ClientConfig            `mapstructure:"client"`
	Sync      syncengine.Config       `mapstructure:"sync"`
	Bot       dialogue.FallbackConfig `mapstructure:"bot"`
	Store     StoreConfig             `mapstructure:"store"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Server    ServerConfig            `mapstructure:"server"`
}

// AuthorityConfig points at the session authority.
type AuthorityConfig struct {
	// URL of the REST authority. Empty means the embedded courtroom scenario.
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Scenario string        `mapstructure:"scenario"`
}

// ClientConfig identifies the local user.
type ClientConfig struct {
	UserID int64  `mapstructure:"user_id"`
	Name   string `mapstructure:"name"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	Kind          string        `mapstructure:"kind"`
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	// EncryptionKey is a base64 AES-256 key; empty disables encryption.
	EncryptionKey string   `mapstructure:"encryption_key"`
	MaskPatterns  []string `mapstructure:"mask_patterns"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig configures the local HTTP bridge.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Authority: AuthorityConfig{Timeout: 5 * time.Second},
		Client:    ClientConfig{Name: AppName},
		Sync:      syncengine.DefaultConfig(),
		Bot:       dialogue.DefaultFallbackConfig(),
		Store: StoreConfig{
			Kind:   StoreFile,
			Path:   filepath.Join(ConfigDir(), "snapshots"),
			Prefix: AppName,
			TTL:    24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8686"},
	}
}

// SetDefaults registers every default on v so env overrides resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("authority.url", d.Authority.URL)
	v.SetDefault("authority.token", d.Authority.Token)
	v.SetDefault("authority.timeout", d.Authority.Timeout)
	v.SetDefault("authority.scenario", d.Authority.Scenario)

	v.SetDefault("client.user_id", d.Client.UserID)
	v.SetDefault("client.name", d.Client.Name)

	v.SetDefault("sync.poll_interval", d.Sync.PollInterval)
	v.SetDefault("sync.heartbeat_interval", d.Sync.HeartbeatInterval)
	v.SetDefault("sync.request_timeout", d.Sync.RequestTimeout)
	v.SetDefault("sync.reconnect_delay", d.Sync.ReconnectDelay)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)

	v.SetDefault("bot.enabled", d.Bot.Enabled)
	v.SetDefault("bot.grace_period", d.Bot.GracePeriod)
	v.SetDefault("bot.delay", d.Bot.Delay)
	v.SetDefault("bot.check_interval", d.Bot.CheckInterval)
	v.SetDefault("bot.lock_ttl", d.Bot.LockTTL)
	v.SetDefault("bot.timeout", d.Bot.Timeout)

	v.SetDefault("store.kind", d.Store.Kind)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.encryption_key", d.Store.EncryptionKey)
	v.SetDefault("store.mask_patterns", d.Store.MaskPatterns)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("server.addr", d.Server.Addr)
}

// Init wires file and environment sources into v. A missing config file is
// not an error unless cfgFile names it explicitly.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return cfg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/audiencia or ~/.config/audiencia.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+AppName)
	}
	return filepath.Join(home, ".config", AppName)
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// EncryptionKey decodes the store key. It returns nil when none is set.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Store.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Store.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	return key, nil
}
