package persist

import (
	"bytes"
	"context"
	"time"

	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

type Config struct {
	// Dirname is the directory pebble stores its data in.
	Dirname string
	// FS is the filesystem pebble runs on. Defaults to the OS filesystem.
	FS       vfs.FS
	Registry store.Registry
	// FlushInterval is the time between two flushes of the registry.
	FlushInterval time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.FS == nil {
		cfg.FS = def.FS
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = def.FlushInterval
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
	if cfg.Registry == nil {
		return errors.New("[persist] - registry required")
	}
	if cfg.FlushInterval <= 0 {
		return errors.New("[persist] - flush interval must be positive")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		FS:            vfs.Default,
		FlushInterval: 1 * time.Minute,
		Logger:        zap.NewNop(),
		Now:           time.Now,
	}
}

var prefix = []byte("infodb/entries/")

func typePrefix(t entry.Type) []byte {
	return append(append(append([]byte{}, prefix...), t.String()...), '/')
}

func key(t entry.Type, id string) []byte { return append(typePrefix(t), id...) }

// upperBound returns the smallest key greater than every key starting with p.
func upperBound(p []byte) []byte {
	end := append([]byte{}, p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Persister keeps an on-disk copy of every store so a restarted node does
// not start from an empty view.
type Persister struct {
	Config
	db *pebble.DB
}

func Open(cfg Config) (*Persister, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := pebble.Open(cfg.Dirname, &pebble.Options{FS: cfg.FS})
	if err != nil {
		return nil, errors.Wrapf(err, "[persist] - open %s", cfg.Dirname)
	}
	return &Persister{Config: cfg, db: db}, nil
}

// Load replays every persisted entry into its store without distributing
// it. Expired, undecodable and bootstrap entries are skipped; bootstrap
// entries come from static configuration alone. It returns the number of
// entries accepted.
func (p *Persister) Load() (int, error) {
	n := 0
	for _, t := range entry.Types {
		s, err := p.Registry.Get(t)
		if err != nil {
			return n, err
		}
		pre := typePrefix(t)
		iter := p.db.NewIter(&pebble.IterOptions{LowerBound: pre, UpperBound: upperBound(pre)})
		for valid := iter.First(); valid; valid = iter.Next() {
			e, err := codec.DecodeRecord(iter.Value(), t)
			if err != nil {
				p.Logger.Warn("skipping undecodable record", zap.ByteString("key", iter.Key()), zap.Error(err))
				continue
			}
			if e.Bootstrap {
				continue
			}
			if s.Update(e, store.NoDistribute()) == store.Accepted {
				n++
			}
		}
		if err := iter.Close(); err != nil {
			return n, errors.Wrap(err, "[persist] - load")
		}
	}
	p.Logger.Info("loaded persisted entries", zap.Int("count", n))
	return n, nil
}

// Flush replaces the persisted copy of every store with its current
// snapshot, leaving out bootstrap entries.
func (p *Persister) Flush() error {
	b := p.db.NewBatch()
	defer func() { _ = b.Close() }()
	for _, t := range entry.Types {
		s, err := p.Registry.Get(t)
		if err != nil {
			return err
		}
		pre := typePrefix(t)
		if err := b.DeleteRange(pre, upperBound(pre), nil); err != nil {
			return errors.Wrap(err, "[persist] - flush")
		}
		for _, e := range s.Snapshot() {
			if e.Bootstrap {
				continue
			}
			v, err := codec.EncodeRecord(e)
			if err != nil {
				return err
			}
			if err := b.Set(key(t, e.ID), v, nil); err != nil {
				return errors.Wrap(err, "[persist] - flush")
			}
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "[persist] - commit")
}

// Run flushes every FlushInterval until ctx is cancelled, then flushes one
// last time.
func (p *Persister) Run(ctx context.Context) error {
	t := time.NewTicker(p.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return p.Flush()
		case <-t.C:
			if err := p.Flush(); err != nil {
				p.Logger.Error("flush failed", zap.Error(err))
			}
		}
	}
}

// Count returns the number of persisted entries of type t.
func (p *Persister) Count(t entry.Type) int {
	pre := typePrefix(t)
	iter := p.db.NewIter(&pebble.IterOptions{LowerBound: pre, UpperBound: upperBound(pre)})
	defer func() { _ = iter.Close() }()
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		if bytes.HasPrefix(iter.Key(), pre) {
			n++
		}
	}
	return n
}

func (p *Persister) Close() error { return p.db.Close() }
