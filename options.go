package infodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	// id is the identifier of the host node.
	id string
	// name is the human readable name announced with the descriptor.
	name string
	// listeners are the interfaces the host serves on, in priority order.
	listeners []address.Listener
	// contacts are the statically configured seeds.
	contacts []address.Listener
	// dirname is the directory entries are persisted in. Persistence is off
	// unless dirname or fs is set.
	dirname string
	// fs sets the filesystem the persister runs on.
	fs vfs.FS
	// transport carries every request the node sends and serves.
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
	// auth configures signature checks on admission and signing of the own
	// descriptor.
	auth auth.Config
	// ttl overrides the lifetime of individual entry types.
	ttl         map[entry.Type]time.Duration
	propagation PropagationConfig
	// neighbour asks peers to keep a gossip relationship with this node.
	neighbour              bool
	holdsForwarderList     bool
	pullTopologyEveryCycle bool
	// static entries are installed on open and never expire.
	static []entry.Entry
}

// PropagationConfig tunes the timing of gossip. Zero fields keep their
// defaults.
type PropagationConfig struct {
	// AnnouncePeriod is the time between two announce cycles.
	AnnouncePeriod time.Duration
	// FetchTimeout bounds a single pull request.
	FetchTimeout time.Duration
	// DeliveryTimeout bounds a single push to a single address.
	DeliveryTimeout time.Duration
	// BlockingFactor scales DeliveryTimeout into the time a failed address
	// is skipped for.
	BlockingFactor int
	// CacheWindow is how long a served listing is reused.
	CacheWindow   time.Duration
	SweepInterval time.Duration
	FlushInterval time.Duration
}

func (p PropagationConfig) Merge(def PropagationConfig) PropagationConfig {
	if p.AnnouncePeriod == 0 {
		p.AnnouncePeriod = def.AnnouncePeriod
	}
	if p.FetchTimeout == 0 {
		p.FetchTimeout = def.FetchTimeout
	}
	if p.DeliveryTimeout == 0 {
		p.DeliveryTimeout = def.DeliveryTimeout
	}
	if p.BlockingFactor == 0 {
		p.BlockingFactor = def.BlockingFactor
	}
	if p.CacheWindow == 0 {
		p.CacheWindow = def.CacheWindow
	}
	if p.SweepInterval == 0 {
		p.SweepInterval = def.SweepInterval
	}
	if p.FlushInterval == 0 {
		p.FlushInterval = def.FlushInterval
	}
	return p
}

func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{
		AnnouncePeriod:  10 * time.Minute,
		FetchTimeout:    10 * time.Second,
		DeliveryTimeout: 10 * time.Second,
		BlockingFactor:  5,
		CacheWindow:     10 * time.Second,
		SweepInterval:   1 * time.Minute,
		FlushInterval:   1 * time.Minute,
	}
}

func newOptions(id string, listeners, contacts []address.Listener, opts ...Option) *options {
	o := &options{
		id:        id,
		listeners: listeners,
		contacts:  contacts,
		neighbour: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	mergeDefaultOptions(o)
	return o
}

func validateOptions(o *options) error {
	if o.id == "" {
		return errors.New("[infodb] - node id required")
	}
	if o.transport == nil {
		return errors.New("[infodb] - transport required")
	}
	if o.auth.Signer == nil && !o.auth.Unchecked[entry.ClassInfoService] {
		return errors.Wrap(auth.ErrNoSigner, "[infodb] - own descriptor cannot be signed")
	}
	return nil
}

func mergeDefaultOptions(o *options) {
	def := defaultOptions()

	if o.name == "" {
		o.name = o.id
	}
	if o.logger == nil {
		o.logger = def.logger
	}
	if o.now == nil {
		o.now = def.now
	}

	// |||| PERSISTENCE ||||

	if o.fs != nil && o.dirname == "" {
		o.dirname = def.dirname
	}

	// |||| AUTH ||||

	if o.auth.Logger == nil {
		o.auth.Logger = o.logger.Named("auth")
	}

	// |||| PROPAGATION ||||

	o.propagation = o.propagation.Merge(def.propagation)
}

func defaultOptions() *options {
	return &options{
		dirname:     "infodb",
		logger:      zap.NewNop(),
		now:         time.Now,
		propagation: DefaultPropagationConfig(),
	}
}

func (o *options) persistent() bool { return o.dirname != "" }

func (o *options) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", o.id)
	fmt.Fprintf(&b, "name: %s\n", o.name)
	fmt.Fprintf(&b, "listeners: %v\n", o.listeners)
	fmt.Fprintf(&b, "contacts: %v\n", o.contacts)
	fmt.Fprintf(&b, "neighbour: %t\n", o.neighbour)
	fmt.Fprintf(&b, "persistent: %t\n", o.persistent())
	fmt.Fprintf(&b, "propagation: %+v\n", o.propagation)
	return b.String()
}

// WithTransport sets the transport the node sends and serves requests on.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithName sets the human readable name announced with the descriptor.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithDir persists entries in dirname so a restarted node does not start
// from an empty view.
func WithDir(dirname string) Option { return func(o *options) { o.dirname = dirname } }

// MemBacked persists entries to an in-memory filesystem.
func MemBacked() Option { return func(o *options) { o.fs = vfs.NewMem() } }

// WithVerifier sets the verifier inbound signatures are checked against.
func WithVerifier(v auth.Verifier) Option { return func(o *options) { o.auth.Verifier = v } }

// WithSigner sets the signer of the own descriptor.
func WithSigner(s auth.Signer) Option { return func(o *options) { o.auth.Signer = s } }

// Unchecked switches signature checking off for the given classes.
func Unchecked(classes ...entry.Class) Option {
	return func(o *options) {
		if o.auth.Unchecked == nil {
			o.auth.Unchecked = make(map[entry.Class]bool)
		}
		for _, c := range classes {
			o.auth.Unchecked[c] = true
		}
	}
}

// WithTTL overrides the lifetime of entries of type t.
func WithTTL(t entry.Type, d time.Duration) Option {
	return func(o *options) {
		if o.ttl == nil {
			o.ttl = make(map[entry.Type]time.Duration)
		}
		o.ttl[t] = d
	}
}

func WithPropagationConfig(p PropagationConfig) Option {
	return func(o *options) { o.propagation = p }
}

// NotNeighbour announces the node without asking peers to gossip with it.
func NotNeighbour() Option { return func(o *options) { o.neighbour = false } }

func HoldsForwarderList() Option { return func(o *options) { o.holdsForwarderList = true } }

// PullTopologyEveryCycle pulls cascades and mixes on every announce cycle.
func PullTopologyEveryCycle() Option { return func(o *options) { o.pullTopologyEveryCycle = true } }

// WithStaticEntries installs entries on open. They are trusted as given,
// never expire and are not distributed.
func WithStaticEntries(es ...entry.Entry) Option {
	return func(o *options) { o.static = append(o.static, es...) }
}

// WithClock replaces the wall clock used for every expiry and version
// decision.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }
