package entry

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Type is a category of replicated fact. Each type lives in its own store
// with its own TTL and signature class.
type Type uint8

const (
	TypeInfoService Type = iota + 1
	TypeMixCascade
	TypeMixInfo
	TypeStatus
	TypePaymentInstance
	// TypeInfoServiceID records the latest version seen for every infoservice
	// id. It outlives the descriptor itself and is never gossiped.
	TypeInfoServiceID
)

// Types lists every type in a stable order.
var Types = []Type{
	TypeInfoService,
	TypeMixCascade,
	TypeMixInfo,
	TypeStatus,
	TypePaymentInstance,
	TypeInfoServiceID,
}

var typeNames = map[Type]string{
	TypeInfoService:     "infoservice",
	TypeMixCascade:      "cascade",
	TypeMixInfo:         "mix",
	TypeStatus:          "status",
	TypePaymentInstance: "paymentinstance",
	TypeInfoServiceID:   "infoserviceid",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

var ErrUnknownType = errors.New("unknown entry type")

// ParseType resolves a type from its name.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownType, "%q", s)
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// TTL returns the default lifetime of an entry of this type, measured from
// its last update.
func (t Type) TTL() time.Duration {
	switch t {
	case TypeInfoService:
		return 15 * time.Minute
	case TypeMixCascade, TypeMixInfo:
		return 15 * time.Minute
	case TypeStatus:
		return 3 * time.Minute
	case TypePaymentInstance:
		return 15 * time.Minute
	case TypeInfoServiceID:
		return 1 * time.Hour
	}
	return 0
}

// Class returns the signature class entries of this type are checked
// against.
func (t Type) Class() Class {
	switch t {
	case TypeInfoService, TypeInfoServiceID:
		return ClassInfoService
	case TypePaymentInstance:
		return ClassPayment
	}
	return ClassMix
}

// Distributable returns true if accepted entries of this type are gossiped
// to peers.
func (t Type) Distributable() bool { return t != TypeInfoServiceID }

// Class is a signature class. Signature checking can be switched off per
// class.
type Class uint8

const (
	ClassInfoService Class = iota + 1
	ClassMix
	ClassPayment
)

var Classes = []Class{ClassInfoService, ClassMix, ClassPayment}

var classNames = map[Class]string{
	ClassInfoService: "infoservice",
	ClassMix:         "mix",
	ClassPayment:     "payment",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return "unknown"
}

var ErrUnknownClass = errors.New("unknown signature class")

func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range classNames {
		if n == s {
			return c, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownClass, "%q", s)
}
