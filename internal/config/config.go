package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	DefaultName    string        `mapstructure:"default_name"`
	MaxNameLen     int           `mapstructure:"max_name_len"`
	PurgeThreshold int           `mapstructure:"purge_threshold"`
	Log            LogConfig     `mapstructure:"log"`
	Store          StoreConfig   `mapstructure:"store"`
}

var ErrInvalidConfig = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("default_name", "Guest")
	v.SetDefault("max_name_len", 36)
	v.SetDefault("purge_threshold", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "data/chat.db")
	v.SetDefault("store.history_limit", 0)
}

// Load reads config/config.<CONFIG_ENV>.yaml (env defaults to dev). A
// missing file falls back to defaults; COLLAB_* variables override both.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalidConfig)
	case c.ReadLimit <= 0:
		return fmt.Errorf("%w: read_limit must be positive", ErrInvalidConfig)
	case c.PongWait <= 0 || c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait:
		return fmt.Errorf("%w: ping_period must be below pong_wait", ErrInvalidConfig)
	case c.PurgeThreshold < 0:
		return fmt.Errorf("%w: purge_threshold must not be negative", ErrInvalidConfig)
	case c.MaxNameLen < 0 || c.MaxNameLen > domain.MaxAuthorLen:
		return fmt.Errorf("%w: max_name_len must be within 0..%d", ErrInvalidConfig, domain.MaxAuthorLen)
	case c.Store.HistoryLimit < 0:
		return fmt.Errorf("%w: store.history_limit must not be negative", ErrInvalidConfig)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	return nil
}
