package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
)

// Config holds configuration for the change store's badger database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the share of garbage a value log file needs before it
	// is rewritten.
	GCDiscardRatio float64
}

func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig is for tests and throwaway servers.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes badger's logging through glog. Badger is chatty at
// info level, so that goes to V(1).
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf("[badger] "+format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(1, fmt.Sprintf("[badger] "+format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	glog.V(1).Infof("[badger] "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	glog.V(3).Infof("[badger] "+format, args...)
}

func openBadger(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// runGC rewrites value log files until ctx is done.
func runGC(ctx context.Context, db *badger.DB, interval time.Duration, ratio float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// ErrNoRewrite only means there was nothing to collect
		if err := db.RunValueLogGC(ratio); err == nil {
			glog.V(1).Infof("[store]value log gc done")
		} else if !errors.Is(err, badger.ErrNoRewrite) {
			glog.Warningf("[store]value log gc: %v", err)
		}
	}
}
