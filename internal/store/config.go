package store

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	// TTL is the lifetime of an entry measured from its last update. Zero
	// selects the default of the entry type.
	TTL time.Duration
	// SweepInterval is how often Sweep evicts expired entries.
	SweepInterval time.Duration
	Logger        *zap.Logger
	// Now is the clock used for expiry decisions.
	Now func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.TTL == 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.TTL <= 0 {
		return errors.New("[store] - ttl must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("[store] - sweep interval must be positive")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		SweepInterval: 1 * time.Minute,
		Logger:        zap.NewNop(),
		Now:           time.Now,
	}
}
