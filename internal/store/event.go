package store

import "github.com/arya-analytics/infodb/internal/entry"

// EventVariant tags a store change.
type EventVariant uint8

const (
	// EventAdded means an entry with a previously unknown id was accepted.
	EventAdded EventVariant = iota + 1
	// EventReplaced means a strictly newer entry replaced the stored one.
	EventReplaced
	// EventRemoved means a single entry was deleted, explicitly or by expiry.
	EventRemoved
	// EventAllRemoved means the whole table was cleared. Listeners should
	// drop everything they hold for the type.
	EventAllRemoved
)

func (v EventVariant) String() string {
	switch v {
	case EventAdded:
		return "added"
	case EventReplaced:
		return "replaced"
	case EventRemoved:
		return "removed"
	case EventAllRemoved:
		return "allRemoved"
	}
	return "unknown"
}

// Event is delivered to listeners after the store lock is released.
type Event struct {
	Variant EventVariant
	Type    entry.Type
	// Entry is the zero value for EventAllRemoved.
	Entry entry.Entry
	// Distribute is false for entries accepted with NoDistribute.
	Distribute bool
}

// Listener observes store changes. Listeners run on the goroutine that
// changed the store and must hand work off instead of blocking.
type Listener func(Event)

// Outcome is the result of an Update.
type Outcome uint8

const (
	Accepted Outcome = iota + 1
	// StaleVersion means the stored entry is as new or newer.
	StaleVersion
	// Unverified means the entry did not pass through the authenticity gate.
	Unverified
	// Expired means the entry was newer but already dead on arrival.
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case StaleVersion:
		return "staleVersion"
	case Unverified:
		return "unverified"
	case Expired:
		return "expired"
	}
	return "unknown"
}

type updateOptions struct {
	distribute bool
}

// UpdateOption configures a single Update.
type UpdateOption func(*updateOptions)

// NoDistribute stores the entry without handing it to gossip listeners.
// Pulled and reloaded entries are stored this way.
func NoDistribute() UpdateOption { return func(o *updateOptions) { o.distribute = false } }

func newUpdateOptions(opts []UpdateOption) updateOptions {
	o := updateOptions{distribute: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
