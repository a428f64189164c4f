package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Variant selects the listing a response carries.
type Variant uint8

const (
	// Full lists every entry.
	Full Variant = iota + 1
	// Serials lists only the (id, version) digest of every entry.
	Serials
)

func (v Variant) String() string {
	if v == Serials {
		return "serials"
	}
	return "full"
}

// Response is a serialized listing.
type Response struct {
	Body       []byte
	Compressed bool
	// Digest is the xxhash of Body, usable as an entity tag.
	Digest uint64
	Built  time.Time
}

// ETag returns the quoted entity tag of the response.
func (r Response) ETag() string { return fmt.Sprintf("%q", fmt.Sprintf("%016x", r.Digest)) }

type Config struct {
	// HostID is written into every listing.
	HostID   string
	Registry store.Registry
	// Window is how long a built listing is served before it is rebuilt.
	Window time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Window == 0 {
		cfg.Window = def.Window
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
	if cfg.Registry == nil {
		return errors.New("[snapshot] - registry required")
	}
	if cfg.Window <= 0 {
		return errors.New("[snapshot] - window must be positive")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{Window: 10 * time.Second, Logger: zap.NewNop(), Now: time.Now}
}

type key struct {
	t          entry.Type
	variant    Variant
	compressed bool
}

func (k key) String() string { return fmt.Sprintf("%s/%s/%t", k.t, k.variant, k.compressed) }

type slot struct {
	resp       Response
	ok         bool
	rebuilding bool
}

// Cache serves listings of each entry type, rebuilding each at most once per
// window. While a stale listing is being rebuilt, other callers keep
// receiving the stale one.
type Cache struct {
	Config
	mu    sync.Mutex
	slots map[key]*slot
	group singleflight.Group
}

func New(cfg Config) (*Cache, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{Config: cfg, slots: make(map[key]*slot)}, nil
}

// Get returns the listing of type t.
func (c *Cache) Get(t entry.Type, v Variant, compressed bool) (Response, error) {
	k := key{t: t, variant: v, compressed: compressed}
	c.mu.Lock()
	s, ok := c.slots[k]
	if !ok {
		s = &slot{}
		c.slots[k] = s
	}
	if s.ok && (c.Now().Sub(s.resp.Built) < c.Window || s.rebuilding) {
		resp := s.resp
		c.mu.Unlock()
		return resp, nil
	}
	if s.ok {
		s.rebuilding = true
	}
	c.mu.Unlock()

	res, err, _ := c.group.Do(k.String(), func() (interface{}, error) { return c.build(k) })

	c.mu.Lock()
	defer c.mu.Unlock()
	s.rebuilding = false
	if err != nil {
		return Response{}, err
	}
	resp := res.(Response)
	if !s.ok || resp.Built.After(s.resp.Built) {
		s.resp, s.ok = resp, true
	}
	return resp, nil
}

// Full returns the full listing of t.
func (c *Cache) Full(t entry.Type, compressed bool) (Response, error) {
	return c.Get(t, Full, compressed)
}

// Serials returns the serials digest of t.
func (c *Cache) Serials(t entry.Type, compressed bool) (Response, error) {
	return c.Get(t, Serials, compressed)
}

// Invalidate drops every cached listing of t.
func (c *Cache) Invalidate(t entry.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.slots {
		if k.t == t {
			delete(c.slots, k)
		}
	}
}

// Listener drops cached listings when a store is cleared.
func (c *Cache) Listener() store.Listener {
	return func(ev store.Event) {
		if ev.Variant == store.EventAllRemoved {
			c.Invalidate(ev.Type)
		}
	}
}

func (c *Cache) build(k key) (Response, error) {
	s, err := c.Registry.Get(k.t)
	if err != nil {
		return Response{}, err
	}
	built := c.Now()
	snap := s.Snapshot()
	var body []byte
	switch k.variant {
	case Serials:
		body, err = codec.EncodeSerials(c.HostID, k.t, snap)
	default:
		body, err = codec.EncodeListing(c.HostID, k.t, snap)
	}
	if err != nil {
		return Response{}, err
	}
	if k.compressed {
		if body, err = codec.Compress(body); err != nil {
			return Response{}, err
		}
	}
	c.Logger.Debug("rebuilt listing",
		zap.Stringer("key", k),
		zap.Int("entries", len(snap)),
		zap.Int("bytes", len(body)),
	)
	return Response{Body: body, Compressed: k.compressed, Digest: xxhash.Sum64(body), Built: built}, nil
}
