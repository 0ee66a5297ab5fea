package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
// Everything here is resolved once at startup; nothing is runtime-mutable.
type Config struct {
	Tagger TaggerConfig `mapstructure:"tagger"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Log    LogConfig    `mapstructure:"log"`
}

// TaggerConfig stores the remote auto-tagging service settings.
type TaggerConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`  // Tagger evaluate URL
	Threshold float64       `mapstructure:"threshold"` // Minimum confidence to include a tag
	Limit     int           `mapstructure:"limit"`     // Maximum tags per response
	Timeout   time.Duration `mapstructure:"timeout"`   // Per-request HTTP timeout
}

// CacheConfig stores the persistent tag cache settings.
type CacheConfig struct {
	DatabasePath  string        `mapstructure:"database_path"`  // Path to the libsql .db file
	ExpiryWindow  time.Duration `mapstructure:"expiry_window"`  // Max record age before eviction
	MaxEntries    int           `mapstructure:"max_entries"`    // Capacity bound, enforced by the sweep
	SchemaVersion int           `mapstructure:"schema_version"` // Bumping destroys and recreates the store
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level: trace..panic
	Pretty bool   `mapstructure:"pretty"` // Console writer instead of JSON
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Tagger defaults
	viper.SetDefault("tagger.endpoint", "http://localhost:5000/evaluate")
	viper.SetDefault("tagger.threshold", 0.3)
	viper.SetDefault("tagger.limit", 50)
	viper.SetDefault("tagger.timeout", "60s")

	// Cache defaults
	viper.SetDefault("cache.database_path", "tagsuggest.db")
	viper.SetDefault("cache.expiry_window", "168h") // 7 days
	viper.SetDefault("cache.max_entries", 5000)
	viper.SetDefault("cache.schema_version", 2)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", true)

	viper.SetEnvPrefix("tagsuggest")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults + env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Cache.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache.max_entries must be positive: %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.SchemaVersion <= 0 {
		return nil, fmt.Errorf("cache.schema_version must be positive: %d", cfg.Cache.SchemaVersion)
	}

	return &cfg, nil
}
