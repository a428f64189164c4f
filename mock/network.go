package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/cockroachdb/errors"
)

// ErrUnreachable is returned for addresses nothing serves on.
var ErrUnreachable = errors.New("address unreachable")

// Network routes requests between in-memory transports by address.
type Network struct {
	mu       sync.RWMutex
	routes   map[address.Address]infodb.Handler
	dead     map[address.Address]bool
	requests map[address.Address]int
}

func NewNetwork() *Network {
	return &Network{
		routes:   make(map[address.Address]infodb.Handler),
		dead:     make(map[address.Address]bool),
		requests: make(map[address.Address]int),
	}
}

// NewTransport returns a transport attached to the network.
func (n *Network) NewTransport() infodb.Transport { return &transport{net: n} }

// Unreachable makes every request to addr hang until the caller gives up,
// the way a silently dropped packet would.
func (n *Network) Unreachable(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead[addr] = true
}

// Reachable undoes Unreachable.
func (n *Network) Reachable(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.dead, addr)
}

// Requests returns the number of requests sent to addr.
func (n *Network) Requests(addr address.Address) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.requests[addr]
}

func (n *Network) route(addr address.Address, h infodb.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[addr] = h
}

func (n *Network) unroute(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.routes, addr)
}

func (n *Network) exchange(ctx context.Context, addr address.Address, req infodb.Request) (infodb.Response, error) {
	n.mu.Lock()
	n.requests[addr]++
	h, dead := n.routes[addr], n.dead[addr]
	n.mu.Unlock()
	if dead {
		<-ctx.Done()
		return infodb.Response{}, ctx.Err()
	}
	if h == nil {
		return infodb.Response{}, errors.Wrapf(ErrUnreachable, "%s", addr)
	}
	res := h(ctx, req)
	if res.Status != http.StatusOK {
		return res, infodb.StatusError{Status: res.Status, Body: string(res.Body)}
	}
	return res, nil
}

// transport is an in-memory, synchronous implementation of infodb.Transport.
type transport struct {
	net *Network
}

// Configure implements infodb.Transport.
func (t *transport) Configure(ctx context.Context, addr address.Address, h infodb.Handler) error {
	t.net.route(addr, h)
	go func() {
		<-ctx.Done()
		t.net.unroute(addr)
	}()
	return nil
}

// Post implements infodb.Transport.
func (t *transport) Post(ctx context.Context, addr address.Address, path string, body []byte) error {
	_, err := t.net.exchange(ctx, addr, infodb.Request{Method: infodb.MethodPost, Path: path, Body: body})
	return err
}

// Get implements infodb.Transport. Listings are requested compressed.
func (t *transport) Get(ctx context.Context, addr address.Address, path string) ([]byte, error) {
	res, err := t.net.exchange(ctx, addr, infodb.Request{
		Method:           infodb.MethodGet,
		Path:             path,
		AcceptCompressed: true,
	})
	if err != nil {
		return nil, err
	}
	if res.Compressed {
		return codec.Decompress(res.Body)
	}
	return res.Body, nil
}
