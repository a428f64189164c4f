// Package codec implements the JSON wire documents entries, listings, and
// serials digests are exchanged as, along with their zlib compressed form.
package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/version"
	"github.com/cockroachdb/errors"
)

// ErrMalformed is returned for any document that cannot be decoded.
var ErrMalformed = errors.New("malformed payload")

type document struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	LastUpdate time.Time       `json:"lastUpdate"`
	Serial     int64           `json:"serial"`
	Payload    json.RawMessage `json:"payload"`
	Signer     string          `json:"signer,omitempty"`
	Signature  []byte          `json:"signature,omitempty"`
}

func toDocument(e entry.Entry) document {
	return document{
		Type:       e.Type.String(),
		ID:         e.ID,
		LastUpdate: e.Version.LastUpdate,
		Serial:     e.Version.Serial,
		Payload:    payload(e.Payload),
		Signer:     e.Signer,
		Signature:  e.Signature,
	}
}

func payload(p []byte) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	return p
}

func fromDocument(d document, t entry.Type) (entry.Entry, error) {
	if d.Type != "" && d.Type != t.String() {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "expected %s, got %s", t, d.Type)
	}
	if d.ID == "" {
		return entry.Entry{}, errors.Wrap(ErrMalformed, "missing id")
	}
	if d.LastUpdate.IsZero() {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "%s: missing last update", d.ID)
	}
	p := bytes.TrimSpace(d.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) || !json.Valid(p) {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "%s: missing payload", d.ID)
	}
	return entry.Entry{
		Type:      t,
		ID:        d.ID,
		Version:   version.Version{LastUpdate: d.LastUpdate, Serial: d.Serial},
		Payload:   append([]byte(nil), p...),
		Signer:    d.Signer,
		Signature: d.Signature,
	}, nil
}

// Encode returns the wire form of a single entry. Local flags such as
// Verified are never written.
func Encode(e entry.Entry) ([]byte, error) {
	b, err := json.Marshal(toDocument(e))
	return b, errors.Wrapf(err, "encode %s %s", e.Type, e.ID)
}

// Decode parses a single entry of type t. The result is never verified.
func Decode(b []byte, t entry.Type) (entry.Entry, error) {
	var d document
	if err := json.Unmarshal(b, &d); err != nil {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "%s: %v", t, err)
	}
	return fromDocument(d, t)
}

// DecodeTyped parses a single entry whose type is named in the document
// itself.
func DecodeTyped(b []byte) (entry.Entry, error) {
	var d document
	if err := json.Unmarshal(b, &d); err != nil {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "%v", err)
	}
	t, err := entry.ParseType(d.Type)
	if err != nil {
		return entry.Entry{}, errors.Wrap(ErrMalformed, err.Error())
	}
	return fromDocument(d, t)
}

type listing struct {
	Node    string     `json:"node"`
	Type    string     `json:"type"`
	Entries []document `json:"entries"`
}

// EncodeListing returns the full listing of entries as served by node.
func EncodeListing(node string, t entry.Type, entries []entry.Entry) ([]byte, error) {
	l := listing{Node: node, Type: t.String(), Entries: make([]document, len(entries))}
	for i, e := range entries {
		l.Entries[i] = toDocument(e)
	}
	b, err := json.Marshal(l)
	return b, errors.Wrapf(err, "encode %s listing", t)
}

// DecodeListing parses a full listing. Individually malformed entries are
// skipped so that one bad entry does not poison the rest.
func DecodeListing(b []byte, t entry.Type) ([]entry.Entry, error) {
	var l listing
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s listing: %v", t, err)
	}
	if l.Type != "" && l.Type != t.String() {
		return nil, errors.Wrapf(ErrMalformed, "expected %s listing, got %s", t, l.Type)
	}
	out := make([]entry.Entry, 0, len(l.Entries))
	for _, d := range l.Entries {
		e, err := fromDocument(d, t)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type serial struct {
	ID         string    `json:"id"`
	LastUpdate time.Time `json:"lastUpdate"`
	Serial     int64     `json:"serial"`
	Verified   bool      `json:"verified"`
}

type serials struct {
	Node    string   `json:"node"`
	Type    string   `json:"type"`
	Serials []serial `json:"serials"`
}

// EncodeSerials returns the (id, version) digest of entries.
func EncodeSerials(node string, t entry.Type, entries []entry.Entry) ([]byte, error) {
	s := serials{Node: node, Type: t.String(), Serials: make([]serial, len(entries))}
	for i, e := range entries {
		s.Serials[i] = serial{
			ID:         e.ID,
			LastUpdate: e.Version.LastUpdate,
			Serial:     e.Version.Serial,
			Verified:   e.Verified,
		}
	}
	b, err := json.Marshal(s)
	return b, errors.Wrapf(err, "encode %s serials", t)
}

func DecodeSerials(b []byte, t entry.Type) ([]entry.Digest, error) {
	var s serials
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s serials: %v", t, err)
	}
	if s.Type != "" && s.Type != t.String() {
		return nil, errors.Wrapf(ErrMalformed, "expected %s serials, got %s", t, s.Type)
	}
	out := make([]entry.Digest, 0, len(s.Serials))
	for _, d := range s.Serials {
		if d.ID == "" {
			continue
		}
		out = append(out, entry.Digest{
			ID:       d.ID,
			Version:  version.Version{LastUpdate: d.LastUpdate, Serial: d.Serial},
			Verified: d.Verified,
		})
	}
	return out, nil
}

type record struct {
	Entry     document `json:"entry"`
	Verified  bool     `json:"verified"`
	Bootstrap bool     `json:"bootstrap"`
}

// EncodeRecord returns the local storage form of an entry, which unlike the
// wire form keeps the Verified and Bootstrap flags.
func EncodeRecord(e entry.Entry) ([]byte, error) {
	b, err := json.Marshal(record{Entry: toDocument(e), Verified: e.Verified, Bootstrap: e.Bootstrap})
	return b, errors.Wrapf(err, "encode record %s %s", e.Type, e.ID)
}

func DecodeRecord(b []byte, t entry.Type) (entry.Entry, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return entry.Entry{}, errors.Wrapf(ErrMalformed, "record: %v", err)
	}
	e, err := fromDocument(r.Entry, t)
	if err != nil {
		return e, err
	}
	e.Verified, e.Bootstrap = r.Verified, r.Bootstrap
	return e, nil
}
