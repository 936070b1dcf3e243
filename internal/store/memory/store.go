package memory

import (
	"context"
	"fmt"
	"sync"

	"collab-notes-core/internal/store"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const changesTopic = "store.changes"

// Store is an in-process RemoteStore backed by a nested value tree. Change
// notifications fan out over a watermill gochannel pub/sub: every mutation
// publishes the written path, each subscription filters for related paths
// and re-reads its snapshot. It also models the transport connection so
// disconnect directives and the connectivity feed are exercisable in tests.
type Store struct {
	mu   sync.RWMutex
	root map[string]interface{}

	pubSub *gochannel.GoChannel

	connMu    sync.Mutex
	connected bool
	armed     map[string]bool
	watchers  map[int]chan bool
	nextWatch int

	closed bool
}

func New() *Store {
	return &Store{
		root: make(map[string]interface{}),
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		connected: true,
		armed:     make(map[string]bool),
		watchers:  make(map[int]chan bool),
	}
}

func (s *Store) Read(ctx context.Context, path string) (store.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node := s.lookup(path)
	if node == nil {
		return nil, nil
	}
	return copyValue(node), nil
}

func (s *Store) Write(ctx context.Context, path string, patch store.Value) error {
	s.mu.Lock()
	if patch == nil {
		s.deleteAt(path)
	} else {
		parent := s.ensure(path)
		for field, v := range patch {
			if v == nil {
				delete(parent, field)
				continue
			}
			parent[field] = copyAny(v)
		}
	}
	s.mu.Unlock()

	return s.notify(path)
}

func (s *Store) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := s.pubSub.Subscribe(subCtx, changesTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	out := make(chan store.Event, 16)
	go func() {
		defer close(out)
		s.deliver(out, path)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				changed := string(msg.Payload)
				msg.Ack()
				if store.Related(path, changed) {
					s.deliver(out, path)
				}
			}
		}
	}()

	return store.NewSubscription(out, cancel), nil
}

func (s *Store) SetEphemeral(ctx context.Context, path string, value store.Value) error {
	parent, leaf := store.ParentPath(path)
	if leaf == "" {
		return fmt.Errorf("ephemeral write needs a non-root path")
	}
	return s.Write(ctx, parent, store.Value{leaf: map[string]interface{}(value)})
}

func (s *Store) OnDisconnectRemove(ctx context.Context, path string) error {
	s.connMu.Lock()
	s.armed[path] = true
	s.connMu.Unlock()
	return nil
}

func (s *Store) Connectivity(ctx context.Context) (*store.StatusSubscription, error) {
	ch := make(chan bool, 4)

	s.connMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	ch <- s.connected
	s.connMu.Unlock()

	cancel := func() {
		s.connMu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
		s.connMu.Unlock()
	}
	return store.NewStatusSubscription(ch, cancel), nil
}

// SetConnected flips the modeled transport state. Dropping the connection
// runs the armed disconnect directives, the same convergence an ungraceful
// client disappearance produces on the real service.
func (s *Store) SetConnected(connected bool) {
	s.connMu.Lock()
	wasConnected := s.connected
	s.connected = connected
	var toRemove []string
	if wasConnected && !connected {
		for p := range s.armed {
			toRemove = append(toRemove, p)
		}
		s.armed = make(map[string]bool)
	}
	for _, ch := range s.watchers {
		select {
		case ch <- connected:
		default:
		}
	}
	s.connMu.Unlock()

	for _, p := range toRemove {
		_ = s.Write(context.Background(), p, nil)
	}
}

func (s *Store) Close() error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.connMu.Unlock()
	return s.pubSub.Close()
}

func (s *Store) notify(path string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(path))
	if err := s.pubSub.Publish(changesTopic, msg); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

// deliver pushes the current snapshot at path, dropping the oldest queued
// event when the subscriber channel is full. Snapshots are full values, so
// a dropped intermediate one is superseded by the next.
func (s *Store) deliver(out chan store.Event, path string) {
	s.mu.RLock()
	node := s.lookup(path)
	var val store.Value
	if node != nil {
		val = copyValue(node)
	}
	s.mu.RUnlock()

	ev := store.Event{Path: path, Value: val}
	for {
		select {
		case out <- ev:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

// lookup walks to the map node at path. Caller holds mu.
func (s *Store) lookup(path string) map[string]interface{} {
	node := s.root
	for _, seg := range store.SplitPath(path) {
		child, ok := node[seg].(map[string]interface{})
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// ensure walks to the map node at path, creating intermediate maps.
// Caller holds mu.
func (s *Store) ensure(path string) map[string]interface{} {
	node := s.root
	for _, seg := range store.SplitPath(path) {
		child, ok := node[seg].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[seg] = child
		}
		node = child
	}
	return node
}

// deleteAt removes the subtree at path. Caller holds mu.
func (s *Store) deleteAt(path string) {
	parent, leaf := store.ParentPath(path)
	if leaf == "" {
		s.root = make(map[string]interface{})
		return
	}
	if node := s.lookup(parent); node != nil {
		delete(node, leaf)
	}
}

func copyValue(src map[string]interface{}) store.Value {
	dst := make(store.Value, len(src))
	for k, v := range src {
		dst[k] = copyAny(v)
	}
	return dst
}

func copyAny(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return map[string]interface{}(copyValue(m))
	}
	return v
}
