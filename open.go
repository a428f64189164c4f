package infodb

import (
	"context"

	"github.com/arya-analytics/infodb/internal/announce"
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/distribute"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/peer"
	"github.com/arya-analytics/infodb/internal/persist"
	"github.com/arya-analytics/infodb/internal/snapshot"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Open starts a node identified by id that serves on listeners and uses
// contacts as seeds until it knows neighbours of its own. The node runs
// until ctx is cancelled or Close is called.
func Open(
	ctx context.Context,
	id string,
	listeners []Listener,
	contacts []Listener,
	opts ...Option,
) (*DB, error) {
	o := newOptions(id, listeners, contacts, opts...)
	if err := validateOptions(o); err != nil {
		return nil, err
	}
	o.logger = o.logger.With(zap.String("node", o.id))
	o.logger.Debug("configuration\n" + o.String())

	db := &DB{opts: o, logger: o.logger}

	db.registry = store.NewRegistry(store.Config{
		SweepInterval: o.propagation.SweepInterval,
		Logger:        o.logger.Named("store"),
		Now:           o.now,
	}, o.ttl)

	gate, err := auth.NewGate(o.auth)
	if err != nil {
		return nil, err
	}
	db.admission = &admission{hostID: o.id, registry: db.registry, gate: gate, logger: o.logger.Named("admission")}

	db.directory, err = peer.New(db.registry[entry.TypeInfoService], peer.Config{
		HostID:          o.id,
		InitialContacts: o.contacts,
		Logger:          o.logger.Named("peer"),
		Now:             o.now,
	})
	if err != nil {
		return nil, err
	}

	db.distrib, err = distribute.New(distribute.Config{
		Transport:       o.transport,
		Directory:       db.directory,
		DeliveryTimeout: o.propagation.DeliveryTimeout,
		BlockingFactor:  o.propagation.BlockingFactor,
		Logger:          o.logger.Named("distribute"),
		Now:             o.now,
	})
	if err != nil {
		return nil, err
	}
	db.registry.AddListener(db.distrib.Listener())

	db.cache, err = snapshot.New(snapshot.Config{
		HostID:   o.id,
		Registry: db.registry,
		Window:   o.propagation.CacheWindow,
		Logger:   o.logger.Named("snapshot"),
		Now:      o.now,
	})
	if err != nil {
		return nil, err
	}
	db.registry.AddListener(db.cache.Listener())

	db.announcer, err = announce.New(announce.Config{
		HostID:                 o.id,
		Name:                   o.name,
		Listeners:              o.listeners,
		Neighbour:              o.neighbour,
		HoldsForwarderList:     o.holdsForwarderList,
		Period:                 o.propagation.AnnouncePeriod,
		FetchTimeout:           o.propagation.FetchTimeout,
		PullTopologyEveryCycle: o.pullTopologyEveryCycle,
		Registry:               db.registry,
		Transport:              o.transport,
		Admitter:               db.admission,
		Signer:                 gate,
		Directory:              db.directory,
		Bootstrapper:           db.distrib,
		Logger:                 o.logger.Named("announce"),
		Now:                    o.now,
	})
	if err != nil {
		return nil, err
	}

	if err := installStatic(db.registry, o.static); err != nil {
		return nil, err
	}

	if o.persistent() {
		if db.persister, err = openPersister(o, db.registry); err != nil {
			return nil, err
		}
	}

	ctx, db.cancel = context.WithCancel(ctx)
	if err := configureTransport(ctx, o, db.Handle); err != nil {
		db.cancel()
		if db.persister != nil {
			_ = db.persister.Close()
		}
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return db.registry.Sweep(gctx) })
	g.Go(func() error { return db.distrib.Run(gctx) })
	g.Go(func() error { return db.announcer.Run(gctx) })
	if db.persister != nil {
		g.Go(func() error { return db.persister.Run(gctx) })
	}
	db.group = g

	o.logger.Info("opened",
		zap.String("name", o.name),
		zap.Int("listeners", len(o.listeners)),
		zap.Int("contacts", len(o.contacts)),
	)
	return db, nil
}

func installStatic(reg store.Registry, es []entry.Entry) error {
	for _, e := range es {
		s, err := reg.Get(e.Type)
		if err != nil {
			return err
		}
		e.Verified, e.Bootstrap = true, true
		if o := s.Update(e, store.NoDistribute()); o != store.Accepted {
			return errors.Newf("[infodb] - static %s %s: %s", e.Type, e.ID, o)
		}
	}
	return nil
}

func openPersister(o *options, reg store.Registry) (*persist.Persister, error) {
	p, err := persist.Open(persist.Config{
		Dirname:       o.dirname,
		FS:            o.fs,
		Registry:      reg,
		FlushInterval: o.propagation.FlushInterval,
		Logger:        o.logger.Named("persist"),
		Now:           o.now,
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.Load(); err != nil {
		return nil, errors.CombineErrors(err, p.Close())
	}
	return p, nil
}

func configureTransport(ctx context.Context, o *options, h Handler) error {
	for _, l := range o.listeners {
		if !l.Valid() {
			continue
		}
		if err := o.transport.Configure(ctx, l.Address(), h); err != nil {
			return errors.Wrapf(err, "[infodb] - serve %s", l)
		}
	}
	return nil
}
