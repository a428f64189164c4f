package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/cockroachdb/errors"
)

// Builder opens nodes on a shared in-memory network. Every node built with
// New uses the first listener of every previously built node as a contact.
type Builder struct {
	Net            *Network
	PortRangeStart int
	DefaultOptions []infodb.Option
	Nodes          []*infodb.DB
	contacts       []address.Listener
}

// NewMemBuilder returns a builder whose nodes gossip quickly, skip signature
// checks and persist to memory.
func NewMemBuilder(defaultOpts ...infodb.Option) *Builder {
	propConfig := infodb.PropagationConfig{
		AnnouncePeriod:  50 * time.Millisecond,
		FetchTimeout:    100 * time.Millisecond,
		DeliveryTimeout: 100 * time.Millisecond,
		CacheWindow:     10 * time.Millisecond,
		SweepInterval:   50 * time.Millisecond,
		FlushInterval:   50 * time.Millisecond,
	}
	return &Builder{
		Net:            NewNetwork(),
		PortRangeStart: 9000,
		DefaultOptions: append([]infodb.Option{
			infodb.MemBacked(),
			infodb.WithPropagationConfig(propConfig),
			infodb.Unchecked(infodb.ClassInfoService, infodb.ClassMix, infodb.ClassPayment),
		}, defaultOpts...),
	}
}

// Listener returns the i-th listener handed out by the builder.
func (b *Builder) Listener(i int) address.Listener {
	return address.Listener{Host: "localhost", Port: b.PortRangeStart + i}
}

// New opens a node with a single listener.
func (b *Builder) New(ctx context.Context, opts ...infodb.Option) (*infodb.DB, error) {
	l := b.Listener(len(b.Nodes))
	return b.NewWith(ctx, []address.Listener{l}, b.contacts, opts...)
}

// NewWith opens a node with the given listeners and contacts.
func (b *Builder) NewWith(
	ctx context.Context,
	listeners []address.Listener,
	contacts []address.Listener,
	opts ...infodb.Option,
) (*infodb.DB, error) {
	id := fmt.Sprintf("node-%d", len(b.Nodes)+1)
	opts = append(append([]infodb.Option{infodb.WithTransport(b.Net.NewTransport())}, b.DefaultOptions...), opts...)
	db, err := infodb.Open(ctx, id, listeners, contacts, opts...)
	if err != nil {
		return nil, err
	}
	b.Nodes = append(b.Nodes, db)
	if len(listeners) > 0 {
		b.contacts = append(b.contacts, listeners[0])
	}
	return db, nil
}

// Close closes every node the builder opened.
func (b *Builder) Close() error {
	var err error
	for _, db := range b.Nodes {
		err = errors.CombineErrors(err, db.Close())
	}
	return err
}
