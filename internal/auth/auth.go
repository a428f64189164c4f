package auth

import (
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
)

var (
	// ErrBadSignature means the signature does not match the entry.
	ErrBadSignature = errors.New("bad signature")
	// ErrNoTrustedPath means no trusted key is known for the signer.
	ErrNoTrustedPath = errors.New("no trusted path to signer")
	// ErrMalformedPayload means the entry cannot be checked at all.
	ErrMalformedPayload = errors.New("entry cannot be authenticated")
)

// Verifier checks a signature over msg made by signer for the given class.
type Verifier interface {
	Verify(msg, sig []byte, signer string, class entry.Class) error
}

// Signer signs msg for the given class and returns the id of the key used.
type Signer interface {
	Sign(msg []byte, class entry.Class) (signer string, sig []byte, err error)
}

// Rejected returns true if err is one of the rejections the gate produces.
func Rejected(err error) bool {
	return errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrNoTrustedPath) ||
		errors.Is(err, ErrMalformedPayload)
}
