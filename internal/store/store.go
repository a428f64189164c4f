package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arya-analytics/infodb/internal/entry"
	"go.uber.org/zap"
)

// Store is the table of entries of a single type. Every id maps to at most
// one entry, and an entry is only ever replaced by a strictly newer one.
type Store struct {
	Config
	t  entry.Type
	mu sync.RWMutex
	// entries is guarded by mu.
	entries   map[string]entry.Entry
	listeners struct {
		mu  sync.RWMutex
		fns []Listener
	}
}

// New opens an empty store for entries of type t.
func New(t entry.Type, cfg Config) *Store {
	cfg = cfg.Merge(Config{TTL: t.TTL()}).Merge(DefaultConfig())
	return &Store{
		Config:  cfg,
		t:       t,
		entries: make(map[string]entry.Entry),
	}
}

func (s *Store) Type() entry.Type { return s.t }

// Update inserts e if its id is unknown or replaces the stored entry if e is
// strictly newer. The expiry of e is always recomputed from its last update.
func (s *Store) Update(e entry.Entry, opts ...UpdateOption) Outcome {
	o := newUpdateOptions(opts)
	if !e.Verified {
		s.Logger.Warn("refusing unverified entry",
			zap.Stringer("type", s.t),
			zap.String("id", e.ID),
		)
		return Unverified
	}
	e.Type = s.t
	e.Expiry = e.Version.LastUpdate.Add(s.TTL)

	s.mu.Lock()
	prev, ok := s.entries[e.ID]
	if ok && !e.NewerThan(prev) {
		s.mu.Unlock()
		s.Logger.Debug("stale entry",
			zap.Stringer("type", s.t),
			zap.String("id", e.ID),
			zap.Time("lastUpdate", e.Version.LastUpdate),
			zap.Int64("serial", e.Version.Serial),
		)
		return StaleVersion
	}
	if !e.Bootstrap && e.Expired(s.Now()) {
		// A newer copy that is already dead still retires the older one.
		if ok {
			delete(s.entries, e.ID)
		}
		s.mu.Unlock()
		if ok {
			s.notify(Event{Variant: EventRemoved, Type: s.t, Entry: prev})
		}
		return Expired
	}
	s.entries[e.ID] = e
	s.mu.Unlock()

	ev := Event{Variant: EventAdded, Type: s.t, Entry: e, Distribute: o.distribute}
	if ok {
		ev.Variant = EventReplaced
	}
	s.notify(ev)
	return Accepted
}

// Remove deletes the entry with the given id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	prev, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		s.notify(Event{Variant: EventRemoved, Type: s.t, Entry: prev})
	}
	return ok
}

// RemoveAll clears the store and emits a single EventAllRemoved.
func (s *Store) RemoveAll() {
	s.mu.Lock()
	s.entries = make(map[string]entry.Entry)
	s.mu.Unlock()
	s.notify(Event{Variant: EventAllRemoved, Type: s.t})
}

func (s *Store) Get(id string) (entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Snapshot returns a point in time copy of the store ordered by id.
func (s *Store) Snapshot() []entry.Entry {
	s.mu.RLock()
	out := make([]entry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SweepExpired evicts every non-bootstrap entry whose expiry lies before now
// and returns the number evicted.
func (s *Store) SweepExpired(now time.Time) int {
	var evicted []entry.Entry
	s.mu.Lock()
	for id, e := range s.entries {
		if !e.Bootstrap && e.Expiry.Before(now) {
			evicted = append(evicted, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
	for _, e := range evicted {
		s.notify(Event{Variant: EventRemoved, Type: s.t, Entry: e})
	}
	if len(evicted) > 0 {
		s.Logger.Debug("swept expired entries",
			zap.Stringer("type", s.t),
			zap.Int("count", len(evicted)),
		)
	}
	return len(evicted)
}

// Sweep runs SweepExpired every SweepInterval until ctx is cancelled.
func (s *Store) Sweep(ctx context.Context) error {
	t := time.NewTicker(s.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepExpired(s.Now())
		}
	}
}

func (s *Store) AddListener(l Listener) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	s.listeners.fns = append(s.listeners.fns, l)
}

func (s *Store) notify(ev Event) {
	s.listeners.mu.RLock()
	fns := s.listeners.fns
	s.listeners.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
