package peer

import (
	"sync"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Peer is a known infoservice.
type Peer struct {
	ID         string
	Descriptor entry.PeerDescriptor
}

// Listeners returns the valid listeners of the peer in priority order.
func (p Peer) Listeners() []address.Listener { return p.Descriptor.ValidListeners() }

type Config struct {
	// HostID is the id of this node, which is never its own neighbour.
	HostID string
	// InitialContacts are the statically configured seed listeners. Known
	// peers exposing one of them are always neighbours.
	InitialContacts []address.Listener
	Logger          *zap.Logger
	Now             func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.HostID == "" {
		return errors.New("[peer] - host id required")
	}
	return nil
}

func DefaultConfig() Config { return Config{Logger: zap.NewNop(), Now: time.Now} }

// Directory is the view of the peer mesh derived from the infoservice store,
// along with per address reachability.
type Directory struct {
	Config
	store   *store.Store
	blocked struct {
		mu    sync.Mutex
		until map[address.Address]time.Time
	}
}

func New(s *store.Store, cfg Config) (*Directory, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.Type() != entry.TypeInfoService {
		return nil, errors.Newf("[peer] - directory needs the infoservice store, got %s", s.Type())
	}
	d := &Directory{Config: cfg, store: s}
	d.blocked.until = make(map[address.Address]time.Time)
	return d, nil
}

// Neighbours returns the verified peers this node gossips with. It is
// recomputed from the store on every call.
func (d *Directory) Neighbours() []Peer {
	var out []Peer
	for _, e := range d.store.Snapshot() {
		if !e.Verified || e.ID == d.HostID {
			continue
		}
		desc, err := entry.DecodePeer(e)
		if err != nil {
			d.Logger.Debug("skipping undecodable descriptor", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		if desc.Neighbour || d.isContact(desc.Listeners) {
			desc.Neighbour = true
			out = append(out, Peer{ID: e.ID, Descriptor: desc})
		}
	}
	return out
}

func (d *Directory) isContact(ls []address.Listener) bool {
	for _, c := range d.InitialContacts {
		if address.Contains(ls, c.Address()) {
			return true
		}
	}
	return false
}

// Seeds returns the configured initial contacts.
func (d *Directory) Seeds() []address.Listener {
	return append([]address.Listener(nil), d.InitialContacts...)
}

// PendingSeeds returns the seeds that are not yet a listener of a known
// neighbour.
func (d *Directory) PendingSeeds() []address.Listener {
	known := make(map[address.Address]bool)
	for _, p := range d.Neighbours() {
		for _, l := range p.Listeners() {
			known[l.Address()] = true
		}
	}
	var out []address.Listener
	for _, c := range d.InitialContacts {
		if !known[c.Address()] {
			out = append(out, c)
		}
	}
	return out
}

// BlockAddress marks addr unreachable for dur.
func (d *Directory) BlockAddress(addr address.Address, dur time.Duration) {
	d.blocked.mu.Lock()
	defer d.blocked.mu.Unlock()
	d.blocked.until[addr] = d.Now().Add(dur)
	d.Logger.Info("blocking address", zap.Stringer("addr", addr), zap.Duration("for", dur))
}

// IsBlocked returns true if addr is blocked at now.
func (d *Directory) IsBlocked(addr address.Address, now time.Time) bool {
	d.blocked.mu.Lock()
	defer d.blocked.mu.Unlock()
	until, ok := d.blocked.until[addr]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(d.blocked.until, addr)
		return false
	}
	return true
}

// Available filters ls down to the listeners not blocked at now, keeping
// their order.
func (d *Directory) Available(ls []address.Listener, now time.Time) []address.Listener {
	out := make([]address.Listener, 0, len(ls))
	for _, l := range ls {
		if !d.IsBlocked(l.Address(), now) {
			out = append(out, l)
		}
	}
	return out
}
