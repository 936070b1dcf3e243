package store

import "context"

// Value is a decoded record at a path: a JSON-style field map. At collection
// paths the map is keyed by child id, each entry itself a Value.
type Value = map[string]interface{}

// Event is one snapshot notification for a subscribed path. Value is the
// full current value at the path (nil when the path no longer exists).
type Event struct {
	Path  string
	Value Value
}

// RemoteStore is the boundary to the replicated key-value service. Write
// applies a partial-field patch: fields absent from the patch are left
// untouched, a nil field marks deletion of that field or child. Per-path
// notifications are delivered in store order; no ordering holds across
// different paths.
type RemoteStore interface {
	Read(ctx context.Context, path string) (Value, error)
	Write(ctx context.Context, path string, patch Value) error

	// Subscribe delivers the current value immediately, then a snapshot
	// on every subsequent change at or under the path. The returned
	// handle owns a bounded channel; Cancel stops delivery and is
	// idempotent.
	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// SetEphemeral writes a full value that the service removes by itself
	// when the writing connection dies, provided OnDisconnectRemove was
	// armed for the path.
	SetEphemeral(ctx context.Context, path string, value Value) error
	OnDisconnectRemove(ctx context.Context, path string) error

	// Connectivity streams the live/dead state of the transport
	// connection, current state first.
	Connectivity(ctx context.Context) (*StatusSubscription, error)
}

// Subscription is a cancellable handle over a bounded event channel.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

func NewSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// StatusSubscription streams connectivity transitions.
type StatusSubscription struct {
	C      <-chan bool
	cancel func()
}

func NewStatusSubscription(c <-chan bool, cancel func()) *StatusSubscription {
	return &StatusSubscription{C: c, cancel: cancel}
}

func (s *StatusSubscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}
