package entry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/arya-analytics/infodb/internal/version"
)

// Entry is a single versioned fact. Entries are immutable values: a store
// only ever replaces them whole.
type Entry struct {
	Type    Type
	ID      string
	Version version.Version
	// Expiry is derived by the store as Version.LastUpdate plus the TTL of
	// the type. Values set by callers are overwritten.
	Expiry time.Time
	// Payload is the type specific JSON document.
	Payload []byte
	// Verified is set only by the authenticity gate.
	Verified bool
	// Bootstrap marks entries from static configuration. They are never
	// swept.
	Bootstrap bool
	// Signer identifies the key Signature was made with.
	Signer    string
	Signature []byte
}

// Expired returns true if the entry is dead at now.
func (e Entry) Expired(now time.Time) bool { return now.After(e.Expiry) }

// NewerThan orders two observations of the same id.
func (e Entry) NewerThan(other Entry) bool { return e.Version.NewerThan(other.Version) }

// SignedBytes returns the canonical byte form covered by the signature.
func (e Entry) SignedBytes() []byte {
	var b bytes.Buffer
	b.WriteByte(byte(e.Type))
	writeField(&b, []byte(e.ID))
	var ts [16]byte
	binary.BigEndian.PutUint64(ts[:8], uint64(e.Version.LastUpdate.UnixNano()))
	binary.BigEndian.PutUint64(ts[8:], uint64(e.Version.Serial))
	b.Write(ts[:])
	writeField(&b, canonical(e.Payload))
	return b.Bytes()
}

// canonical strips insignificant whitespace so re-encoded payloads keep
// their signatures.
func canonical(p []byte) []byte {
	var b bytes.Buffer
	if err := json.Compact(&b, p); err != nil {
		return p
	}
	return b.Bytes()
}

func writeField(b *bytes.Buffer, v []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(v)))
	b.Write(l[:])
	b.Write(v)
}

// Digest is the (id, version) summary of an entry exchanged during
// anti-entropy.
type Digest struct {
	ID       string
	Version  version.Version
	Verified bool
}

func (e Entry) Digest() Digest { return Digest{ID: e.ID, Version: e.Version, Verified: e.Verified} }
