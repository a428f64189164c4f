package infodb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/announce"
	"github.com/arya-analytics/infodb/internal/distribute"
)

// Transport carries requests between nodes. Post pushes a single entry and
// Get fetches a listing or a single entry.
type Transport interface {
	distribute.Transport
	announce.Transport
	// Configure starts serving handle on addr until ctx is cancelled. It is
	// called once per listener.
	Configure(ctx context.Context, addr address.Address, handle Handler) error
}

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// Request is a transport independent inbound request.
type Request struct {
	Method string
	Path   string
	Body   []byte
	// Compressed is set when Body is deflated.
	Compressed bool
	// AcceptCompressed is set when the caller accepts a deflated body.
	AcceptCompressed bool
	// IfNoneMatch carries the entity tag of a listing the caller already
	// holds.
	IfNoneMatch string
}

// Response answers a Request. Status follows HTTP semantics on every
// transport.
type Response struct {
	Status     int
	Body       []byte
	Compressed bool
	ETag       string
}

// Handler serves inbound requests.
type Handler func(ctx context.Context, req Request) Response

// StatusError is returned by transports when a remote node answers with a
// status other than 200.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote answered %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote answered %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}
