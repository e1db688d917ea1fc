package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Uploads UploadsConfig `yaml:"uploads" mapstructure:"uploads"`
	Nearby  NearbyConfig  `yaml:"nearby" mapstructure:"nearby"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// UploadsConfig configures image upload handling and the orphan sweep.
type UploadsConfig struct {
	Dir              string  `yaml:"dir" mapstructure:"dir"`
	MaxBytes         int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	ReapIntervalMins int     `yaml:"reap_interval_mins" mapstructure:"reap_interval_mins"`
	OrphanTTLHours   int     `yaml:"orphan_ttl_hours" mapstructure:"orphan_ttl_hours"`
}

// NearbyConfig configures nearby-place queries.
type NearbyConfig struct {
	RadiusKM float64 `yaml:"radius_km" mapstructure:"radius_km"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WHATSIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "whatsin.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("uploads.dir", "ImageUploads")
	v.SetDefault("uploads.max_bytes", 10<<20)
	v.SetDefault("uploads.rate_per_sec", 5)
	v.SetDefault("uploads.burst", 10)
	v.SetDefault("uploads.reap_interval_mins", 60)
	v.SetDefault("uploads.orphan_ttl_hours", 24)
	v.SetDefault("nearby.radius_km", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
