package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BlacklistConfig lists the privacy rules: application-name patterns and
// window-title substrings, both matched case-insensitively.
type BlacklistConfig struct {
	Apps   []string `mapstructure:"apps"`
	Titles []string `mapstructure:"titles"`
}

// EncodeConfig tunes the ffmpeg video sink.
type EncodeConfig struct {
	FFmpegPath             string `mapstructure:"ffmpeg_path"`
	Codec                  string `mapstructure:"codec"`
	Preset                 string `mapstructure:"preset"`
	CRF                    int    `mapstructure:"crf"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
}

type Config struct {
	OutputDir           string          `mapstructure:"output_dir"`
	DatabasePath        string          `mapstructure:"database_path"`
	TickIntervalSeconds int             `mapstructure:"tick_interval_seconds"`
	LogPath             string          `mapstructure:"log_path"`
	MetricsAddr         string          `mapstructure:"metrics_addr"`
	LogAppendRetries    int             `mapstructure:"log_append_retries"`
	Blacklist           BlacklistConfig `mapstructure:"blacklist"`
	Encode              EncodeConfig    `mapstructure:"encode"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/screentrail")
		viper.AddConfigPath("/etc/screentrail/")
	}

	viper.SetEnvPrefix("SCREENTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("output_dir", "")
	viper.SetDefault("database_path", "")
	viper.SetDefault("tick_interval_seconds", 1)
	viper.SetDefault("log_path", "")
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("log_append_retries", 3)
	viper.SetDefault("blacklist.apps", []string{"spotify", "slack", "line", "discord"})
	viper.SetDefault("blacklist.titles", []string{"private", "incognito", "secret"})
	viper.SetDefault("encode.ffmpeg_path", "")
	viper.SetDefault("encode.codec", "libx264")
	viper.SetDefault("encode.preset", "ultrafast")
	viper.SetDefault("encode.crf", 23)
	viper.SetDefault("encode.write_timeout_seconds", 10)
	viper.SetDefault("encode.max_consecutive_failures", 5)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("config file not found, using defaults")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.OutputDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg.OutputDir = ".screentrail"
		} else {
			cfg.OutputDir = filepath.Join(home, ".screentrail")
		}
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.OutputDir, "screentrail.db")
	}
	if cfg.TickIntervalSeconds < 1 {
		slog.Warn("tick_interval_seconds too low, setting to 1")
		cfg.TickIntervalSeconds = 1
	}
	if cfg.LogAppendRetries < 1 {
		slog.Warn("log_append_retries too low, setting to 1")
		cfg.LogAppendRetries = 1
	}
	if cfg.Encode.MaxConsecutiveFailures < 1 {
		cfg.Encode.MaxConsecutiveFailures = 5
	}

	return &cfg, nil
}

// TickInterval returns the capture cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// EncodeWriteTimeout returns the per-frame backpressure bound; zero means
// unbounded.
func (c *Config) EncodeWriteTimeout() time.Duration {
	return time.Duration(c.Encode.WriteTimeoutSeconds) * time.Second
}
