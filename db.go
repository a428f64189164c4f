package infodb

import (
	"context"
	"sync"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/announce"
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/codec"
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

type (
	Entry    = entry.Entry
	Type     = entry.Type
	Class    = entry.Class
	Listener = address.Listener
	Outcome  = store.Outcome
	Peer     = peer.Peer
	Variant  = snapshot.Variant
	Listing  = snapshot.Response
	Verifier = auth.Verifier
	Signer   = auth.Signer
)

const (
	TypeInfoService     = entry.TypeInfoService
	TypeMixCascade      = entry.TypeMixCascade
	TypeMixInfo         = entry.TypeMixInfo
	TypeStatus          = entry.TypeStatus
	TypePaymentInstance = entry.TypePaymentInstance
	TypeInfoServiceID   = entry.TypeInfoServiceID

	ClassInfoService = entry.ClassInfoService
	ClassMix         = entry.ClassMix
	ClassPayment     = entry.ClassPayment

	Accepted     = store.Accepted
	StaleVersion = store.StaleVersion
	Unverified   = store.Unverified
	Expired      = store.Expired

	Full    = snapshot.Full
	Serials = snapshot.Serials
)

// ErrNoListener is returned by Open when the node has no valid listener to
// announce.
var ErrNoListener = announce.ErrNoListener

// DB is a single infoservice node. It stores the entries it learns of,
// serves them to peers and gossips accepted entries to its neighbours.
type DB struct {
	opts      *options
	registry  store.Registry
	admission *admission
	directory *peer.Directory
	distrib   *distribute.Distributor
	cache     *snapshot.Cache
	announcer *announce.Announcer
	persister *persist.Persister
	logger    *zap.Logger

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// ID returns the id of the host node.
func (db *DB) ID() string { return db.opts.id }

// Submit decodes raw as an entry of type t and admits it. Accepted entries
// are gossiped to every neighbour.
func (db *DB) Submit(ctx context.Context, t Type, raw []byte) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e, err := codec.Decode(raw, t)
	if err != nil {
		return 0, err
	}
	return db.admission.Admit(e)
}

// Fetch returns the listing of type t.
func (db *DB) Fetch(t Type, v Variant, compressed bool) (Listing, error) {
	if !t.Valid() || t.Paths().List == "" {
		return Listing{}, errors.Wrapf(entry.ErrUnknownType, "%s is not served", t)
	}
	return db.cache.Get(t, v, compressed)
}

// Get returns the entry of type t with the given id.
func (db *DB) Get(t Type, id string) (Entry, bool) {
	s, err := db.registry.Get(t)
	if err != nil {
		return Entry{}, false
	}
	return s.Get(id)
}

// Entries returns every stored entry of type t ordered by id.
func (db *DB) Entries(t Type) []Entry {
	s, err := db.registry.Get(t)
	if err != nil {
		return nil
	}
	return s.Snapshot()
}

// SetSignatureCheck switches signature checking for class on or off.
// Turning it on fails with auth.ErrNoVerifier if no verifier was configured.
func (db *DB) SetSignatureCheck(class Class, checked bool) error {
	return db.admission.gate.SetChecked(class, checked)
}

// Neighbours returns the peers this node currently gossips with.
func (db *DB) Neighbours() []Peer { return db.directory.Neighbours() }

// Announce runs an announce cycle immediately.
func (db *DB) Announce(ctx context.Context) error { return db.announcer.AnnounceOnce(ctx) }

// Pending returns the number of entries waiting to be distributed.
func (db *DB) Pending() int {
	def, bootstrap := db.distrib.Pending()
	return def + bootstrap
}

// Wait blocks until the node stops, either because it was closed or because
// a background routine failed, and returns the first error encountered.
func (db *DB) Wait() error { return db.group.Wait() }

// Close stops every background routine, flushes persisted state and stops
// serving.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.cancel()
		err := db.group.Wait()
		if db.persister != nil {
			err = errors.CombineErrors(err, db.persister.Close())
		}
		db.closeErr = err
		db.logger.Info("closed", zap.Error(err))
	})
	return db.closeErr
}
