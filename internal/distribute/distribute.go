package distribute

import (
	"context"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/peer"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transport pushes an encoded entry to the given path of a remote node.
type Transport interface {
	Post(ctx context.Context, addr address.Address, path string, body []byte) error
}

// Directory supplies delivery targets and address reachability.
type Directory interface {
	Neighbours() []peer.Peer
	PendingSeeds() []address.Listener
	IsBlocked(addr address.Address, now time.Time) bool
	BlockAddress(addr address.Address, d time.Duration)
}

type Config struct {
	Transport Transport
	Directory Directory
	// DeliveryTimeout bounds a single request to a single address.
	DeliveryTimeout time.Duration
	// BlockingFactor scales DeliveryTimeout into the time a failed address
	// is skipped for.
	BlockingFactor int
	Logger         *zap.Logger
	Now            func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Transport == nil {
		cfg.Transport = def.Transport
	}
	if cfg.Directory == nil {
		cfg.Directory = def.Directory
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.BlockingFactor == 0 {
		cfg.BlockingFactor = def.BlockingFactor
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
	if cfg.Transport == nil {
		return errors.New("[distribute] - transport required")
	}
	if cfg.Directory == nil {
		return errors.New("[distribute] - directory required")
	}
	if cfg.DeliveryTimeout <= 0 || cfg.BlockingFactor <= 0 {
		return errors.New("[distribute] - delivery timeout and blocking factor must be positive")
	}
	return nil
}

// BlockDuration is how long a failed address is skipped for.
func (cfg Config) BlockDuration() time.Duration {
	return cfg.DeliveryTimeout * time.Duration(cfg.BlockingFactor)
}

func DefaultConfig() Config {
	return Config{
		DeliveryTimeout: 10 * time.Second,
		BlockingFactor:  5,
		Logger:          zap.NewNop(),
		Now:             time.Now,
	}
}

// Distributor gossips accepted entries to the mesh without blocking the
// goroutines that produce them. The default queue fans out to neighbours.
// The bootstrap queue also reaches seeds that are not known neighbours yet.
type Distributor struct {
	Config
	def       *queue
	bootstrap *queue
}

func New(cfg Config) (*Distributor, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		Config:    cfg,
		def:       newQueue("default"),
		bootstrap: newQueue("bootstrap"),
	}, nil
}

// AddJob queues e for delivery to every neighbour. Entries that are not
// verified or not distributable are ignored.
func (d *Distributor) AddJob(e entry.Entry) {
	if d.accepts(e) {
		d.def.push(e)
	}
}

// AddBootstrapJob queues e for delivery to pending seeds and then to every
// neighbour.
func (d *Distributor) AddBootstrapJob(e entry.Entry) {
	if d.accepts(e) {
		d.bootstrap.push(e)
	}
}

func (d *Distributor) accepts(e entry.Entry) bool {
	if !e.Verified {
		d.Logger.Warn("not distributing unverified entry", zap.Stringer("type", e.Type), zap.String("id", e.ID))
		return false
	}
	return e.Type.Distributable()
}

// Listener returns the store listener that feeds accepted entries into the
// default queue.
func (d *Distributor) Listener() store.Listener {
	return func(ev store.Event) {
		switch ev.Variant {
		case store.EventAdded, store.EventReplaced:
			if ev.Distribute {
				d.AddJob(ev.Entry)
			}
		}
	}
}

// Pending returns the number of queued jobs per queue.
func (d *Distributor) Pending() (def, bootstrap int) { return d.def.len(), d.bootstrap.len() }

// Run drains both queues until ctx is cancelled.
func (d *Distributor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.def.drain(ctx, d.deliverDefault) })
	g.Go(func() error { return d.bootstrap.drain(ctx, d.deliverBootstrap) })
	return g.Wait()
}

// |||| DELIVERY ||||

func (d *Distributor) deliverDefault(ctx context.Context, e entry.Entry) {
	path, body, ok := d.encode(e)
	if !ok {
		return
	}
	for _, p := range d.Directory.Neighbours() {
		d.deliver(ctx, p.ID, p.Listeners(), path, body)
	}
}

func (d *Distributor) deliverBootstrap(ctx context.Context, e entry.Entry) {
	path, body, ok := d.encode(e)
	if !ok {
		return
	}
	for _, l := range d.Directory.PendingSeeds() {
		d.deliver(ctx, "seed", []address.Listener{l}, path, body)
	}
	for _, p := range d.Directory.Neighbours() {
		d.deliver(ctx, p.ID, p.Listeners(), path, body)
	}
}

func (d *Distributor) encode(e entry.Entry) (string, []byte, bool) {
	path := e.Type.Paths().Post
	body, err := codec.Encode(e)
	if err != nil || path == "" {
		d.Logger.Error("cannot distribute entry",
			zap.Stringer("type", e.Type),
			zap.String("id", e.ID),
			zap.Error(err),
		)
		return "", nil, false
	}
	return path, body, true
}

// deliver tries the listeners of a single target in order and stops at the
// first success. Every address that fails is blocked.
func (d *Distributor) deliver(
	ctx context.Context,
	target string,
	ls []address.Listener,
	path string,
	body []byte,
) bool {
	for _, l := range ls {
		addr := l.Address()
		if d.Directory.IsBlocked(addr, d.Now()) {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, d.DeliveryTimeout)
		err := d.Transport.Post(reqCtx, addr, path, body)
		cancel()
		if err == nil {
			d.Logger.Debug("delivered",
				zap.String("target", target),
				zap.Stringer("addr", addr),
				zap.String("path", path),
			)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		d.Logger.Warn("delivery failed",
			zap.String("target", target),
			zap.Stringer("addr", addr),
			zap.Error(err),
		)
		d.Directory.BlockAddress(addr, d.BlockDuration())
	}
	d.Logger.Info("target unreachable", zap.String("target", target), zap.String("path", path))
	return false
}
