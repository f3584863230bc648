// Package config loads tasksync settings from defaults, an optional YAML file
// and TASKSYNC_* environment variables, in increasing priority.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// TASKSYNC_SYNC_WORKERS.
const EnvPrefix = "TASKSYNC"

// Config is the full runtime configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	Log    LogConfig    `mapstructure:"log"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig configures the sqlite store.
type DBConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SyncConfig configures the reconciliation engine.
type SyncConfig struct {
	// Workers bounds concurrent processing of distinct record ids in a batch.
	Workers int `mapstructure:"workers"`
	// MaxRetries caps caller-driven retries of an ERROR entry. Zero disables the cap.
	MaxRetries int `mapstructure:"max_retries"`
	// ResumeInterval enables the stale PENDING sweeper when positive.
	ResumeInterval time.Duration `mapstructure:"resume_interval"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("sync.workers", 1)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.resume_interval", time.Duration(0))
	v.SetDefault("sync.stale_after", 5*time.Minute)
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "read config "+path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Sync.Workers < 1:
		return apperrors.Newf(apperrors.ErrInvalid, "sync.workers must be at least 1, got %d", c.Sync.Workers)
	case c.Sync.MaxRetries < 0:
		return apperrors.Newf(apperrors.ErrInvalid, "sync.max_retries must not be negative, got %d", c.Sync.MaxRetries)
	case c.Sync.ResumeInterval < 0:
		return apperrors.Newf(apperrors.ErrInvalid, "sync.resume_interval must not be negative")
	case c.Sync.ResumeInterval > 0 && c.Sync.StaleAfter <= 0:
		return apperrors.Newf(apperrors.ErrInvalid, "sync.stale_after must be positive when the sweeper is enabled")
	case c.DB.DataDir == "":
		return apperrors.New(apperrors.ErrInvalid, "db.data_dir must be set")
	}
	return nil
}
