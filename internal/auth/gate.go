package auth

import (
	"sync"

	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	Verifier Verifier
	Signer   Signer
	// Unchecked lists the classes signature checking is switched off for.
	Unchecked map[entry.Class]bool
	Logger    *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Verifier == nil {
		cfg.Verifier = def.Verifier
	}
	if cfg.Signer == nil {
		cfg.Signer = def.Signer
	}
	if cfg.Unchecked == nil {
		cfg.Unchecked = def.Unchecked
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	for _, c := range entry.Classes {
		if !cfg.Unchecked[c] && cfg.Verifier == nil {
			return errors.Newf("[auth] - no verifier for checked class %s", c)
		}
	}
	return nil
}

func DefaultConfig() Config {
	return Config{Unchecked: map[entry.Class]bool{}, Logger: zap.NewNop()}
}

// Gate decides whether an inbound entry may be admitted. It is the only
// place entries are marked verified.
type Gate struct {
	Config
	// mu guards Unchecked, which SetChecked changes at runtime.
	mu sync.RWMutex
}

func NewGate(cfg Config) (*Gate, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	unchecked := make(map[entry.Class]bool, len(cfg.Unchecked))
	for c, off := range cfg.Unchecked {
		unchecked[c] = off
		if off {
			cfg.Logger.Warn("signature checking disabled", zap.Stringer("class", c))
		}
	}
	cfg.Unchecked = unchecked
	return &Gate{Config: cfg}, nil
}

var ErrNoVerifier = errors.New("no verifier configured")

// SetChecked switches signature checking for class on or off. Entries
// already admitted are not re-checked.
func (g *Gate) SetChecked(class entry.Class, checked bool) error {
	if checked && g.Verifier == nil {
		return errors.Wrapf(ErrNoVerifier, "cannot check %s", class)
	}
	g.mu.Lock()
	g.Unchecked[class] = !checked
	g.mu.Unlock()
	g.Logger.Info("signature checking switched",
		zap.Stringer("class", class),
		zap.Bool("checked", checked),
	)
	return nil
}

// Checked returns true if entries of class must carry a trusted signature.
func (g *Gate) Checked(class entry.Class) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.Unchecked[class]
}

// Verify returns e marked as verified, or the reason it was rejected.
func (g *Gate) Verify(e entry.Entry, class entry.Class) (entry.Entry, error) {
	e.Verified = false
	if e.ID == "" || len(e.Payload) == 0 {
		return e, errors.Wrapf(ErrMalformedPayload, "%s entry without id or payload", e.Type)
	}
	if !g.Checked(class) {
		g.Logger.Warn("admitting entry without signature check",
			zap.Stringer("class", class),
			zap.Stringer("type", e.Type),
			zap.String("id", e.ID),
		)
		e.Verified = true
		return e, nil
	}
	if len(e.Signature) == 0 || e.Signer == "" {
		return e, errors.Wrapf(ErrNoTrustedPath, "%s %s is unsigned", e.Type, e.ID)
	}
	if err := g.Verifier.Verify(e.SignedBytes(), e.Signature, e.Signer, class); err != nil {
		g.Logger.Warn("rejected entry",
			zap.Stringer("type", e.Type),
			zap.String("id", e.ID),
			zap.String("signer", e.Signer),
			zap.Error(err),
		)
		return e, errors.Wrapf(err, "%s %s", e.Type, e.ID)
	}
	e.Verified = true
	return e, nil
}

var ErrNoSigner = errors.New("no signer configured")

// Sign signs e for class. Entries for unchecked classes are returned as is
// when no signer is configured.
func (g *Gate) Sign(e entry.Entry, class entry.Class) (entry.Entry, error) {
	if g.Signer == nil {
		if !g.Checked(class) {
			return e, nil
		}
		return e, errors.Wrapf(ErrNoSigner, "%s", class)
	}
	signer, sig, err := g.Signer.Sign(e.SignedBytes(), class)
	if err != nil {
		return e, errors.Wrapf(err, "sign %s %s", e.Type, e.ID)
	}
	e.Signer, e.Signature = signer, sig
	return e, nil
}
