package engine

import (
	"log/slog"
	"time"

	"github.com/tuannm99/sealdb/internal/config"
	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/storage"
	"github.com/tuannm99/sealdb/internal/txn"
)

// Mode says what Open does when the file is missing.
type Mode uint8

const (
	CreateIfMissing Mode = iota
	OpenExisting
)

func (m Mode) String() string {
	switch m {
	case CreateIfMissing:
		return "create-if-missing"
	case OpenExisting:
		return "open-existing"
	default:
		return "unknown"
	}
}

// Options tune a handle. PageSize and Argon2 only apply when a database is
// created; an existing file keeps the values recorded in its header.
type Options struct {
	PageSize     int
	Argon2       crypto.Argon2Params
	SyncOnCommit bool
	BusyTimeout  time.Duration
	CacheMaxCost int64
	Logger       *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		PageSize:     storage.DefaultPageSize,
		Argon2:       crypto.DefaultArgon2Params(),
		SyncOnCommit: true,
		CacheMaxCost: txn.DefaultCacheMaxCost,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:     cfg.Storage.PageSize,
		Argon2:       cfg.Argon2(),
		SyncOnCommit: cfg.Storage.SyncOnCommit,
		BusyTimeout:  cfg.Txn.BusyTimeout,
		CacheMaxCost: cfg.Cache.MaxCost,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
