// Package config loads the relay server settings from YAML via viper and the
// peer settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode             string        `mapstructure:"mode"`
	Port             int           `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	Secret           string        `mapstructure:"secret"`
	HostMigration    bool          `mapstructure:"host_migration"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	Backpressure     string        `mapstructure:"backpressure"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "tabletop-dev-secret")
	v.SetDefault("host_migration", true)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_interval", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
// A missing file is not an error; defaults apply. TABLETOP_* variables
// override file values.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("TABLETOP")
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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("host_migration", cfg.HostMigration).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Secret == "" {
		return fmt.Errorf("secret must not be empty")
	}
	if c.JoinRateLimit <= 0 || c.JoinRateInterval <= 0 {
		return fmt.Errorf("join rate limit must be positive")
	}
	if c.Backpressure != "kick" && c.Backpressure != "drop" {
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	return nil
}
