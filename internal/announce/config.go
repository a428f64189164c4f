package announce

import (
	"context"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/peer"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Transport fetches a listing or entry from a remote node.
type Transport interface {
	Get(ctx context.Context, addr address.Address, path string) ([]byte, error)
}

// Admitter authenticates a pulled entry and stores it.
type Admitter interface {
	Admit(e entry.Entry, opts ...store.UpdateOption) (store.Outcome, error)
}

// Signer signs the descriptor of this node.
type Signer interface {
	Sign(e entry.Entry, class entry.Class) (entry.Entry, error)
}

// Directory supplies the nodes to pull from.
type Directory interface {
	Neighbours() []peer.Peer
	Seeds() []address.Listener
	IsBlocked(addr address.Address, now time.Time) bool
}

// Bootstrapper receives the descriptor of this node after every cycle.
type Bootstrapper interface {
	AddBootstrapJob(e entry.Entry)
}

type Config struct {
	// HostID is the id of this node.
	HostID string
	// Name is the human readable name announced with the descriptor.
	Name string
	// Listeners are announced in priority order. At least one is required.
	Listeners []address.Listener
	// Neighbour asks peers to keep a gossip relationship with this node.
	Neighbour          bool
	HoldsForwarderList bool
	// Period is the time between announcements.
	Period time.Duration
	// FetchTimeout bounds a single pull request.
	FetchTimeout time.Duration
	// PullTopologyEveryCycle pulls cascades and mixes on every cycle instead
	// of only the first.
	PullTopologyEveryCycle bool
	Registry               store.Registry
	Transport              Transport
	Admitter               Admitter
	Signer                 Signer
	Directory              Directory
	Bootstrapper           Bootstrapper
	Logger                 *zap.Logger
	Now                    func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return cfg
}

// ErrNoListener means there is nothing to announce. It is fatal.
var ErrNoListener = errors.New("no listener interface configured")

func (cfg Config) Validate() error {
	if cfg.HostID == "" {
		return errors.New("[announce] - host id required")
	}
	valid := 0
	for _, l := range cfg.Listeners {
		if l.Valid() {
			valid++
		}
	}
	if valid == 0 {
		return ErrNoListener
	}
	if cfg.Registry == nil || cfg.Transport == nil || cfg.Admitter == nil ||
		cfg.Signer == nil || cfg.Directory == nil || cfg.Bootstrapper == nil {
		return errors.New("[announce] - registry, transport, admitter, signer, directory and bootstrapper required")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Period:       10 * time.Minute,
		FetchTimeout: 10 * time.Second,
		Logger:       zap.NewNop(),
		Now:          time.Now,
	}
}

// pullTypes are pulled on every cycle.
var pullTypes = []entry.Type{entry.TypeInfoService, entry.TypePaymentInstance}

// topologyTypes are pulled on the first cycle only, unless
// PullTopologyEveryCycle is set.
var topologyTypes = []entry.Type{entry.TypeMixCascade, entry.TypeMixInfo}
