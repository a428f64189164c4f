package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	// Client sends every outbound request. Per request deadlines come from
	// the caller's context.
	Client *http.Client
	// MaxBodySize bounds the size of inbound request bodies.
	MaxBodySize int64
	// ShutdownTimeout bounds a graceful server shutdown.
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Client == nil {
		cfg.Client = def.Client
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		Client:          &http.Client{},
		MaxBodySize:     4 << 20,
		ShutdownTimeout: 5 * time.Second,
		Logger:          zap.NewNop(),
	}
}

// Transport exchanges entries over plain HTTP. Listings are requested and
// served deflated, and tagged so that unchanged listings are not resent.
type Transport struct {
	Config
	mu   sync.Mutex
	tags map[string]tagged
}

type tagged struct {
	etag string
	body []byte
}

func New(cfg Config) *Transport {
	return &Transport{Config: cfg.Merge(DefaultConfig()), tags: make(map[string]tagged)}
}

var _ infodb.Transport = (*Transport)(nil)

// |||| SERVER ||||

// Configure implements infodb.Transport.
func (t *Transport) Configure(ctx context.Context, addr address.Address, h infodb.Handler) error {
	lis, err := net.Listen("tcp", addr.String())
	if err != nil {
		return errors.Wrapf(err, "[http] - listen on %s", addr)
	}
	srv := &http.Server{Handler: t.Handler(h)}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logger.Error("server stopped", zap.Stringer("addr", addr), zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), t.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			t.Logger.Warn("shutdown", zap.Stringer("addr", addr), zap.Error(err))
		}
	}()
	t.Logger.Info("serving", zap.Stringer("addr", addr))
	return nil
}

// Handler adapts h to net/http.
func (t *Transport) Handler(h infodb.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, t.MaxBodySize+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if int64(len(body)) > t.MaxBodySize {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		res := h(r.Context(), infodb.Request{
			Method:           r.Method,
			Path:             r.URL.Path,
			Body:             body,
			Compressed:       r.Header.Get("Content-Encoding") == codec.Encoding,
			AcceptCompressed: accepts(r.Header.Get("Accept-Encoding")),
			IfNoneMatch:      r.Header.Get("If-None-Match"),
		})
		if res.ETag != "" {
			w.Header().Set("ETag", res.ETag)
		}
		if res.Compressed {
			w.Header().Set("Content-Encoding", codec.Encoding)
		}
		if len(res.Body) > 0 && res.Status < http.StatusBadRequest {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(res.Status)
		if _, err := w.Write(res.Body); err != nil {
			t.Logger.Debug("write response", zap.String("path", r.URL.Path), zap.Error(err))
		}
	})
}

func accepts(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == codec.Encoding {
			return true
		}
	}
	return false
}

// |||| CLIENT ||||

func url(addr address.Address, path string) string { return "http://" + addr.String() + path }

// Post implements infodb.Transport.
func (t *Transport) Post(ctx context.Context, addr address.Address, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url(addr, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return infodb.StatusError{Status: res.StatusCode, Body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Get implements infodb.Transport. A listing that did not change since the
// last fetch from the same address is answered from the local copy.
func (t *Transport) Get(ctx context.Context, addr address.Address, path string) ([]byte, error) {
	key := url(addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", codec.Encoding)
	t.mu.Lock()
	prev, ok := t.tags[key]
	t.mu.Unlock()
	if ok {
		req.Header.Set("If-None-Match", prev.etag)
	}
	res, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if ok {
			return prev.body, nil
		}
		return nil, infodb.StatusError{Status: res.StatusCode}
	default:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, infodb.StatusError{Status: res.StatusCode, Body: string(msg)}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, codec.MaxInflatedSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > codec.MaxInflatedSize {
		return nil, errors.Wrapf(codec.ErrMalformed, "%s: response too large", key)
	}
	if res.Header.Get("Content-Encoding") == codec.Encoding {
		if body, err = codec.Decompress(body); err != nil {
			return nil, err
		}
	}
	if etag := res.Header.Get("ETag"); etag != "" {
		t.mu.Lock()
		t.tags[key] = tagged{etag: etag, body: body}
		t.mu.Unlock()
	}
	return body, nil
}
