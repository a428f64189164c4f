package announce

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/arya-analytics/infodb/internal/version"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Announcer periodically pulls remote state and re-announces the descriptor
// of this node.
type Announcer struct {
	Config
	serial *version.Counter
	mu     sync.Mutex
	cycles int
}

func New(cfg Config) (*Announcer, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Announcer{Config: cfg, serial: version.NewCounter(cfg.Now())}, nil
}

// Run announces immediately and then once every Period until ctx is
// cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := a.AnnounceOnce(ctx); err != nil {
			return err
		}
		t.Reset(a.Period)
	}
}

// AnnounceOnce runs a single cycle. Only configuration errors are returned.
func (a *Announcer) AnnounceOnce(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := pullTypes
	if a.cycles == 0 || a.PullTopologyEveryCycle {
		types = append(append([]entry.Type{}, pullTypes...), topologyTypes...)
	}
	a.pull(ctx, types)
	a.cycles++

	own, err := a.Descriptor()
	if err != nil {
		return err
	}
	is, err := a.Registry.Get(entry.TypeInfoService)
	if err != nil {
		return err
	}
	if o := is.Update(own); o != store.Accepted {
		a.Logger.Error("could not update own descriptor",
			zap.String("id", own.ID),
			zap.Time("lastUpdate", own.Version.LastUpdate),
			zap.Int64("serial", own.Version.Serial),
			zap.Stringer("outcome", o),
		)
		a.serial.Rebase(a.Now())
		return nil
	}
	a.Bootstrapper.AddBootstrapJob(own)
	a.Logger.Debug("announced", zap.String("id", own.ID), zap.Int("cycle", a.cycles))
	return nil
}

// Descriptor builds and signs the current descriptor of this node.
func (a *Announcer) Descriptor() (entry.Entry, error) {
	ls := make([]address.Listener, 0, len(a.Listeners))
	for _, l := range a.Listeners {
		if l.Valid() {
			ls = append(ls, l)
		}
	}
	if len(ls) == 0 {
		return entry.Entry{}, ErrNoListener
	}
	p, err := entry.PeerDescriptor{
		Name:               a.Name,
		Listeners:          ls,
		Neighbour:          a.Neighbour,
		HoldsForwarderList: a.HoldsForwarderList,
	}.Encode()
	if err != nil {
		return entry.Entry{}, err
	}
	e := entry.Entry{
		Type:    entry.TypeInfoService,
		ID:      a.HostID,
		Version: version.Version{LastUpdate: a.Now(), Serial: a.serial.Increment()},
		Payload: p,
	}
	if e, err = a.Signer.Sign(e, entry.ClassInfoService); err != nil {
		return e, errors.Wrap(err, "[announce] - sign own descriptor")
	}
	// Our own descriptor is trusted by construction.
	e.Verified = true
	return e, nil
}

// |||| PULL ||||

func (a *Announcer) sources() [][]address.Listener {
	var out [][]address.Listener
	for _, p := range a.Directory.Neighbours() {
		out = append(out, p.Listeners())
	}
	if len(out) > 0 {
		return out
	}
	for _, s := range a.Directory.Seeds() {
		out = append(out, []address.Listener{s})
	}
	return out
}

func (a *Announcer) pull(ctx context.Context, types []entry.Type) {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range a.sources() {
		src := src
		g.Go(func() error {
			for _, t := range types {
				if err := a.pullType(ctx, src, t); err != nil {
					a.Logger.Info("pull failed",
						zap.Stringer("type", t),
						zap.String("from", joinListeners(src)),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// pullType fetches the serials digest of t and then only the entries that
// are newer than ours. Peers without a digest are pulled in full.
func (a *Announcer) pullType(ctx context.Context, src []address.Listener, t entry.Type) error {
	s, err := a.Registry.Get(t)
	if err != nil {
		return err
	}
	b, err := a.fetch(ctx, src, t.Paths().Serials)
	if err != nil {
		return a.pullFull(ctx, src, t, nil)
	}
	digests, err := codec.DecodeSerials(b, t)
	if err != nil {
		return a.pullFull(ctx, src, t, nil)
	}
	wanted := make(map[string]bool)
	for _, d := range digests {
		if !d.Verified || (t == entry.TypeInfoService && d.ID == a.HostID) {
			continue
		}
		if local, ok := s.Get(d.ID); ok && !d.Version.NewerThan(local.Version) {
			continue
		}
		wanted[d.ID] = true
	}
	if len(wanted) == 0 {
		return nil
	}
	if len(wanted) > 1 && len(wanted)*2 > len(digests) {
		return a.pullFull(ctx, src, t, wanted)
	}
	for id := range wanted {
		b, err := a.fetch(ctx, src, t.ItemPath(id))
		if err == nil {
			var e entry.Entry
			if e, err = codec.Decode(b, t); err == nil {
				a.admit(e)
				continue
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.Logger.Info("pull of entry failed",
			zap.Stringer("type", t),
			zap.String("id", id),
			zap.String("from", joinListeners(src)),
			zap.Error(err),
		)
	}
	return nil
}

// pullFull fetches the full listing of t. If wanted is non-nil, only the
// entries it names are admitted.
func (a *Announcer) pullFull(ctx context.Context, src []address.Listener, t entry.Type, wanted map[string]bool) error {
	b, err := a.fetch(ctx, src, t.Paths().List)
	if err != nil {
		return err
	}
	es, err := codec.DecodeListing(b, t)
	if err != nil {
		return err
	}
	for _, e := range es {
		if wanted == nil || wanted[e.ID] {
			a.admit(e)
		}
	}
	return nil
}

func (a *Announcer) admit(e entry.Entry) {
	o, err := a.Admitter.Admit(e, store.NoDistribute())
	if err != nil {
		a.Logger.Debug("pulled entry refused", zap.Stringer("type", e.Type), zap.String("id", e.ID), zap.Error(err))
		return
	}
	a.Logger.Debug("pulled entry",
		zap.Stringer("type", e.Type),
		zap.String("id", e.ID),
		zap.Stringer("outcome", o),
	)
}

func (a *Announcer) fetch(ctx context.Context, ls []address.Listener, path string) ([]byte, error) {
	err := errors.Newf("no reachable listener for %s", path)
	for _, l := range ls {
		if a.Directory.IsBlocked(l.Address(), a.Now()) {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, a.FetchTimeout)
		var b []byte
		b, err = a.Transport.Get(reqCtx, l.Address(), path)
		cancel()
		if err == nil {
			return b, nil
		}
	}
	return nil, err
}

func joinListeners(ls []address.Listener) string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return strings.Join(out, ",")
}
