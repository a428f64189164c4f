package infodb

import (
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrOwnEntry is returned when a peer pushes a descriptor carrying the id of
// the host node. Only the host announces itself.
var ErrOwnEntry = errors.New("entry carries the id of this node")

// guardPayload is stored with every infoservice id record.
var guardPayload = []byte("{}")

// admission is the single path inbound entries take into the registry,
// whether pushed by a peer or pulled by the announcer.
type admission struct {
	hostID   string
	registry store.Registry
	gate     *auth.Gate
	logger   *zap.Logger
}

// Admit authenticates e and stores it. Infoservice descriptors are also
// checked against the id record, which outlives the descriptor itself so
// that a copy older than one already seen cannot come back after the
// descriptor expired.
func (a *admission) Admit(e entry.Entry, opts ...store.UpdateOption) (store.Outcome, error) {
	s, err := a.registry.Get(e.Type)
	if err != nil {
		return 0, err
	}
	if e.Type == entry.TypeInfoService {
		if e.ID == a.hostID {
			return 0, errors.Wrapf(ErrOwnEntry, "%s", e.ID)
		}
		if g, ok := a.registry[entry.TypeInfoServiceID].Get(e.ID); ok && !e.NewerThan(g) {
			return store.StaleVersion, nil
		}
	}
	v, err := a.gate.Verify(e, e.Type.Class())
	if err != nil {
		return 0, err
	}
	o := s.Update(v, opts...)
	if o == store.Accepted && e.Type == entry.TypeInfoService {
		a.registry[entry.TypeInfoServiceID].Update(entry.Entry{
			ID:       e.ID,
			Version:  e.Version,
			Payload:  guardPayload,
			Verified: true,
		}, store.NoDistribute())
	}
	a.logger.Debug("admitted",
		zap.Stringer("type", e.Type),
		zap.String("id", e.ID),
		zap.Stringer("outcome", o),
	)
	return o, nil
}
