package store

import (
	"context"
	"time"

	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Registry holds one store per entry type. It is built once and handed to
// every component that reads or writes entries.
type Registry map[entry.Type]*Store

// NewRegistry opens a store for every known type. ttl overrides the default
// lifetime of individual types.
func NewRegistry(cfg Config, ttl map[entry.Type]time.Duration) Registry {
	r := make(Registry, len(entry.Types))
	for _, t := range entry.Types {
		c := cfg
		if d, ok := ttl[t]; ok && d > 0 {
			c.TTL = d
		}
		r[t] = New(t, c)
	}
	return r
}

var ErrNoStore = errors.New("no store for entry type")

// Get returns the store for t.
func (r Registry) Get(t entry.Type) (*Store, error) {
	s, ok := r[t]
	if !ok {
		return nil, errors.Wrapf(ErrNoStore, "%s", t)
	}
	return s, nil
}

// AddListener registers l with every store.
func (r Registry) AddListener(l Listener) {
	for _, s := range r {
		s.AddListener(l)
	}
}

// Sweep runs the sweeper of every store until ctx is cancelled.
func (r Registry) Sweep(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r {
		s := s
		g.Go(func() error { return s.Sweep(ctx) })
	}
	return g.Wait()
}
