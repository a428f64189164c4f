package infodb

import (
	"context"
	"net/http"

	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/snapshot"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Handle serves a single inbound request. Pushes answer 200 whenever the
// entry was well formed and authentic, even if it was stale.
func (db *DB) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPost:
		return db.handlePost(ctx, req)
	case MethodGet:
		return db.handleGet(req)
	default:
		return status(http.StatusMethodNotAllowed)
	}
}

func (db *DB) handlePost(ctx context.Context, req Request) Response {
	t, ok := entry.ResolvePost(req.Path)
	if !ok {
		return status(http.StatusNotFound)
	}
	body := req.Body
	if req.Compressed {
		b, err := codec.Decompress(body)
		if err != nil {
			return Response{Status: http.StatusBadRequest, Body: []byte(err.Error())}
		}
		body = b
	}
	o, err := db.Submit(ctx, t, body)
	if err != nil {
		code := statusOf(err)
		db.logger.Debug("push refused",
			zap.String("path", req.Path),
			zap.Int("status", code),
			zap.Error(err),
		)
		return Response{Status: code, Body: []byte(err.Error())}
	}
	db.logger.Debug("push", zap.String("path", req.Path), zap.Stringer("outcome", o))
	return status(http.StatusOK)
}

func (db *DB) handleGet(req Request) Response {
	r, ok := entry.ResolveGet(req.Path)
	if !ok {
		return status(http.StatusNotFound)
	}
	if r.Variant == entry.RouteItem {
		e, ok := db.Get(r.Type, r.ID)
		if !ok {
			return status(http.StatusNotFound)
		}
		b, err := codec.Encode(e)
		if err != nil {
			return Response{Status: http.StatusInternalServerError, Body: []byte(err.Error())}
		}
		return Response{Status: http.StatusOK, Body: b}
	}
	v := snapshot.Full
	if r.Variant == entry.RouteSerials {
		v = snapshot.Serials
	}
	l, err := db.Fetch(r.Type, v, req.AcceptCompressed)
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: []byte(err.Error())}
	}
	etag := l.ETag()
	if req.IfNoneMatch != "" && req.IfNoneMatch == etag {
		return Response{Status: http.StatusNotModified, ETag: etag}
	}
	return Response{Status: http.StatusOK, Body: l.Body, Compressed: l.Compressed, ETag: etag}
}

// statusOf maps an admission error to the status answered to the peer.
func statusOf(err error) int {
	switch {
	case errors.Is(err, codec.ErrMalformed), errors.Is(err, auth.ErrMalformedPayload):
		return http.StatusBadRequest
	case auth.Rejected(err), errors.Is(err, ErrOwnEntry):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func status(code int) Response { return Response{Status: code} }
