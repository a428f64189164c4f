package address

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Address is a "host:port" network address.
type Address string

func (a Address) String() string { return string(a) }

// Listener is a single network endpoint a node accepts requests on.
type Listener struct {
	Host string `json:"host" yaml:"host" validate:"required"`
	Port int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
}

// Address returns the dialable address of the listener.
func (l Listener) Address() Address {
	return Address(net.JoinHostPort(l.Host, strconv.Itoa(l.Port)))
}

func (l Listener) Valid() bool { return l.Host != "" && l.Port > 0 && l.Port <= 65535 }

func (l Listener) String() string { return string(l.Address()) }

var ErrInvalid = errors.New("invalid listener address")

// Parse parses a "host:port" string into a Listener.
func Parse(s string) (Listener, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Listener{}, errors.Wrapf(ErrInvalid, "%s: %v", s, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Listener{}, errors.Wrapf(ErrInvalid, "%s: bad port", s)
	}
	l := Listener{Host: host, Port: p}
	if !l.Valid() {
		return Listener{}, errors.Wrapf(ErrInvalid, "%s", s)
	}
	return l, nil
}

// Contains returns true if any of the listeners resolves to addr.
func Contains(ls []Listener, addr Address) bool {
	for _, l := range ls {
		if l.Address() == addr {
			return true
		}
	}
	return false
}
