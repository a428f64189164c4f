package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"sync"

	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/sha3"
)

// KeyID returns the identifier entries signed by pub carry as their signer.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha3.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

func digest(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// Keyring verifies ed25519 signatures over the SHA3-256 digest of an entry
// against the public keys trusted for each class.
type Keyring struct {
	mu      sync.RWMutex
	trusted map[entry.Class]map[string]ed25519.PublicKey
}

func NewKeyring() *Keyring {
	return &Keyring{trusted: make(map[entry.Class]map[string]ed25519.PublicKey)}
}

// Trust adds pub to the keys trusted for class.
func (k *Keyring) Trust(class entry.Class, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return errors.Newf("[auth] - public key must be %d bytes", ed25519.PublicKeySize)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.trusted[class] == nil {
		k.trusted[class] = make(map[string]ed25519.PublicKey)
	}
	k.trusted[class][KeyID(pub)] = pub
	return nil
}

// TrustHex adds a hex encoded public key.
func (k *Keyring) TrustHex(class entry.Class, s string) error {
	pub, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "[auth] - decode public key")
	}
	return k.Trust(class, pub)
}

func (k *Keyring) Verify(msg, sig []byte, signer string, class entry.Class) error {
	k.mu.RLock()
	pub, ok := k.trusted[class][signer]
	k.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrNoTrustedPath, "signer %s for class %s", signer, class)
	}
	if !ed25519.Verify(pub, digest(msg), sig) {
		return ErrBadSignature
	}
	return nil
}

// KeySigner signs with a single ed25519 key for every class.
type KeySigner struct {
	key ed25519.PrivateKey
	id  string
}

func NewKeySigner(key ed25519.PrivateKey) *KeySigner {
	return &KeySigner{key: key, id: KeyID(key.Public().(ed25519.PublicKey))}
}

// NewKeySignerFromSeed builds a signer from a hex encoded 32 byte seed.
func NewKeySignerFromSeed(seed string) (*KeySigner, error) {
	b, err := hex.DecodeString(seed)
	if err != nil {
		return nil, errors.Wrap(err, "[auth] - decode seed")
	}
	if len(b) != ed25519.SeedSize {
		return nil, errors.Newf("[auth] - seed must be %d bytes", ed25519.SeedSize)
	}
	return NewKeySigner(ed25519.NewKeyFromSeed(b)), nil
}

func (s *KeySigner) Public() ed25519.PublicKey { return s.key.Public().(ed25519.PublicKey) }

func (s *KeySigner) Sign(msg []byte, _ entry.Class) (string, []byte, error) {
	return s.id, ed25519.Sign(s.key, digest(msg)), nil
}
