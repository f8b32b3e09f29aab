// Package config loads loader settings from config.yaml and LOADER_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/covid-loader/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Loader LoaderConfig `yaml:"loader" mapstructure:"loader"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Watch  WatchConfig  `yaml:"watch" mapstructure:"watch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LoaderConfig configures row ingestion.
type LoaderConfig struct {
	Mode             string `yaml:"mode" mapstructure:"mode"`
	DefaultProvider  string `yaml:"default_provider" mapstructure:"default_provider"`
	HospitalSentinel string `yaml:"hospital_sentinel" mapstructure:"hospital_sentinel"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	TempDir          string `yaml:"temp_dir" mapstructure:"temp_dir"`
	DryRun           bool   `yaml:"dry_run" mapstructure:"dry_run"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	S3Region    string  `yaml:"s3_region" mapstructure:"s3_region"`
	S3Endpoint  string  `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
	S3PathStyle bool    `yaml:"s3_path_style" mapstructure:"s3_path_style"`
}

// Timeout returns TimeoutSecs as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// WatchConfig configures the folder watcher.
type WatchConfig struct {
	Dir      string   `yaml:"dir" mapstructure:"dir"`
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
}

// ServerConfig configures the upload server.
type ServerConfig struct {
	Port        int    `yaml:"port" mapstructure:"port"`
	UploadDir   string `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadMB int64  `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// NotifyConfig configures failure alerts.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns TimeoutSecs as a duration.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
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
	v.SetEnvPrefix("LOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.schema", "staging")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("loader.mode", "append")
	v.SetDefault("loader.default_provider", "doe-covid19")
	v.SetDefault("loader.hospital_sentinel", "HospitalName")
	v.SetDefault("loader.concurrency", 4)
	v.SetDefault("loader.temp_dir", "/tmp/covid-loader")
	v.SetDefault("loader.dry_run", false)
	v.SetDefault("fetch.user_agent", "covid-loader/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 2.0)
	v.SetDefault("fetch.s3_region", "us-east-1")
	v.SetDefault("watch.dir", "/tmp/input")
	v.SetDefault("watch.patterns", []string{"*.csv", "*.xlsx", "*.zip"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upload_dir", "/tmp/input")
	v.SetDefault("server.max_upload_mb", 64)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
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

// Validate checks the settings a command needs. mode is the command name:
// load, migrate, status, watch or serve. All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (postgres, sqlite)", c.Store.Driver))
	}

	switch mode {
	case "migrate", "status":
	case "load", "watch", "serve":
		if c.Loader.Concurrency < 1 || c.Loader.Concurrency > 64 {
			errs = append(errs, "loader.concurrency must be between 1 and 64")
		}
		if _, err := model.ParseMode(c.Loader.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("loader.mode %q is not a load mode", c.Loader.Mode))
		}
		if mode == "watch" && c.Watch.Dir == "" {
			errs = append(errs, "watch.dir is required")
		}
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Server.UploadDir == "" {
				errs = append(errs, "server.upload_dir is required")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
