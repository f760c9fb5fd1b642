// Package config loads sealdb settings from an optional YAML file and
// SEALDB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/storage"
)

const EnvPrefix = "SEALDB"

var ErrInvalidConfig = errors.New("config: invalid config")

type Config struct {
	Storage struct {
		PageSize     int  `mapstructure:"page_size"`
		SyncOnCommit bool `mapstructure:"sync_on_commit"`
	} `mapstructure:"storage"`

	Crypto struct {
		Argon2 struct {
			MemoryKiB   uint32 `mapstructure:"memory_kib"`
			Iterations  uint32 `mapstructure:"iterations"`
			Parallelism uint8  `mapstructure:"parallelism"`
		} `mapstructure:"argon2"`
	} `mapstructure:"crypto"`

	Txn struct {
		BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	} `mapstructure:"txn"`

	Cache struct {
		MaxCost int64 `mapstructure:"max_cost"`
	} `mapstructure:"cache"`

	Logging struct {
		Level     string `mapstructure:"level"`
		Format    string `mapstructure:"format"`
		File      string `mapstructure:"file"`
		MaxSizeMB int    `mapstructure:"max_size_mb"`
		MaxFiles  int    `mapstructure:"max_files"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	kdf := crypto.DefaultArgon2Params()
	v.SetDefault("storage.page_size", storage.DefaultPageSize)
	v.SetDefault("storage.sync_on_commit", true)
	v.SetDefault("crypto.argon2.memory_kib", kdf.Memory)
	v.SetDefault("crypto.argon2.iterations", kdf.Iterations)
	v.SetDefault("crypto.argon2.parallelism", kdf.Parallelism)
	v.SetDefault("txn.busy_timeout", time.Duration(0))
	v.SetDefault("cache.max_cost", int64(32<<20))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_files", 5)
}

// Default returns the built-in settings, ignoring files and the environment.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (if non-empty) and overlays SEALDB_* variables, e.g.
// SEALDB_STORAGE_PAGE_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Argon2() crypto.Argon2Params {
	return crypto.Argon2Params{
		Memory:      c.Crypto.Argon2.MemoryKiB,
		Iterations:  c.Crypto.Argon2.Iterations,
		Parallelism: c.Crypto.Argon2.Parallelism,
	}
}

func (c *Config) Validate() error {
	if err := storage.ValidatePageSize(c.Storage.PageSize); err != nil {
		return fmt.Errorf("%w: storage.page_size: %w", ErrInvalidConfig, err)
	}
	if err := c.Argon2().Validate(); err != nil {
		return fmt.Errorf("%w: crypto.argon2: %w", ErrInvalidConfig, err)
	}
	if c.Txn.BusyTimeout < 0 {
		return fmt.Errorf("%w: txn.busy_timeout must be >= 0", ErrInvalidConfig)
	}
	if c.Cache.MaxCost < 0 {
		return fmt.Errorf("%w: cache.max_cost must be >= 0", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalidConfig)
	}
	return nil
}
