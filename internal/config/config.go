// Package config loads clinicflow settings from defaults, an optional config
// file and CLINICFLOW_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/internal/core"
	"clinicflow/internal/replication"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CLINICFLOW_STORAGE_DRIVER.
const EnvPrefix = "CLINICFLOW"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Inference InferenceConfig `mapstructure:"inference"`
	Formulary FormularyConfig `mapstructure:"formulary"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type SyncConfig struct {
	Drivers       string        `mapstructure:"drivers"`
	HTTPURL       string        `mapstructure:"http_url"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisStream   string        `mapstructure:"redis_stream"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type BlobConfig struct {
	Driver            string `mapstructure:"driver"`
	FSRoot            string `mapstructure:"fs_root"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3PathStyle       bool   `mapstructure:"s3_path_style"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
}

type InferenceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type FormularyConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "clinicflow.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("sync.drivers", "none")
	v.SetDefault("sync.http_url", "")
	v.SetDefault("sync.redis_addr", "")
	v.SetDefault("sync.redis_stream", "clinicflow:mutations")
	v.SetDefault("sync.rate_per_second", 20)
	v.SetDefault("sync.burst", 40)
	v.SetDefault("sync.timeout", "10s")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./archive")
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "us-east-1")
	v.SetDefault("blob.s3_endpoint", "")
	v.SetDefault("blob.s3_path_style", false)
	v.SetDefault("blob.s3_access_key_id", "")
	v.SetDefault("blob.s3_secret_access_key", "")
	v.SetDefault("inference.url", "http://localhost:8000")
	v.SetDefault("inference.timeout", "2m")
	v.SetDefault("inference.retries", 1)
	v.SetDefault("formulary.path", "")
}

// Load resolves the configuration. configFile is optional; when given it must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite", "":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Blob.Driver) {
	case "fs", "memory", "":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("blob.s3_bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver must be fs, s3 or memory, got %q", c.Blob.Driver)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Sync.Timeout < 0 || c.Inference.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// StorageOptions maps the storage section onto the core opener.
func (c *Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions maps the blob section onto the archive opener.
func (c *Config) BlobOptions() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.Blob.S3Bucket,
			Region:          c.Blob.S3Region,
			Endpoint:        c.Blob.S3Endpoint,
			PathStyle:       c.Blob.S3PathStyle,
			AccessKeyID:     c.Blob.S3AccessKeyID,
			SecretAccessKey: c.Blob.S3SecretAccessKey,
		},
	}
}

// Replication maps the sync section onto the adapter config.
func (c *Config) Replication() replication.Config {
	return replication.Config{
		Drivers:       replication.ParseDrivers(c.Sync.Drivers),
		HTTPURL:       c.Sync.HTTPURL,
		RedisAddr:     c.Sync.RedisAddr,
		RedisStream:   c.Sync.RedisStream,
		RatePerSecond: c.Sync.RatePerSecond,
		Burst:         c.Sync.Burst,
		Timeout:       c.Sync.Timeout,
	}
}

// NewLogger builds the process logger: JSON by default, human-readable
// console output when format is "console". A nil writer means stdout.
func (l LogConfig) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(l.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
