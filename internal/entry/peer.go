package entry

import (
	"encoding/json"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/cockroachdb/errors"
)

// PeerDescriptor is the payload of an infoservice entry.
type PeerDescriptor struct {
	Name string `json:"name,omitempty"`
	// Listeners are tried in order when delivering to the peer.
	Listeners []address.Listener `json:"listeners"`
	// Neighbour asks peers to keep a live gossip relationship with the
	// announcing node.
	Neighbour          bool `json:"neighbour"`
	HoldsForwarderList bool `json:"holdsForwarderList"`
}

var ErrNotPeer = errors.New("entry is not an infoservice descriptor")

// DecodePeer decodes the descriptor carried by an infoservice entry.
func DecodePeer(e Entry) (PeerDescriptor, error) {
	if e.Type != TypeInfoService {
		return PeerDescriptor{}, errors.Wrapf(ErrNotPeer, "type %s", e.Type)
	}
	var d PeerDescriptor
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return PeerDescriptor{}, errors.Wrapf(err, "decode descriptor %s", e.ID)
	}
	return d, nil
}

// Encode returns the payload form of the descriptor.
func (d PeerDescriptor) Encode() ([]byte, error) {
	b, err := json.Marshal(d)
	return b, errors.Wrap(err, "encode descriptor")
}

// ValidListeners returns the listeners that can actually be dialed.
func (d PeerDescriptor) ValidListeners() []address.Listener {
	out := make([]address.Listener, 0, len(d.Listeners))
	for _, l := range d.Listeners {
		if l.Valid() {
			out = append(out, l)
		}
	}
	return out
}
