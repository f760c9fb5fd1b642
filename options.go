package sealdb

import (
	"log/slog"
	"time"

	"github.com/tuannm99/sealdb/internal/config"
	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/engine"
)

type Option func(*engine.Options)

// WithPageSize sets the page size of a new database. Existing files keep
// theirs.
func WithPageSize(n int) Option {
	return func(o *engine.Options) { o.PageSize = n }
}

// WithArgon2 sets the key derivation cost of a new database.
func WithArgon2(memoryKiB, iterations uint32, parallelism uint8) Option {
	return func(o *engine.Options) {
		o.Argon2 = crypto.Argon2Params{Memory: memoryKiB, Iterations: iterations, Parallelism: parallelism}
	}
}

// WithSyncOnCommit controls whether Commit fsyncs the log.
func WithSyncOnCommit(on bool) Option {
	return func(o *engine.Options) { o.SyncOnCommit = on }
}

// WithBusyTimeout is how long an exclusive Begin waits for the writer slot
// when TxOptions.Timeout is zero.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *engine.Options) { o.BusyTimeout = d }
}

func WithCacheMaxCost(bytes int64) Option {
	return func(o *engine.Options) { o.CacheMaxCost = bytes }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *engine.Options) { o.Logger = l }
}

// WithConfigFile loads settings from a YAML file and SEALDB_* variables.
// Options listed after it override the file.
func WithConfigFile(path string) (Option, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return func(o *engine.Options) {
		logger := o.Logger
		*o = engine.OptionsFromConfig(cfg)
		o.Logger = logger
	}, nil
}

func buildOptions(opts []Option) engine.Options {
	o := engine.DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
