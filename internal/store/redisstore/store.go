package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"collab-notes-core/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "cn:"
	changesChan   = "cn:changes"
	beatKeyPrefix = "cn:beat:"
)

// Store is the Redis-backed RemoteStore. Records live as JSON hash fields
// under their parent path's hash; every write publishes the changed path on
// a pub/sub channel and subscribers re-read their snapshot.
//
// Redis cannot run a server-side disconnect directive the way the original
// replicated service does, so ephemeral records carry a heartbeat shadow key
// with a TTL. When the writing client dies the shadow expires and readers
// prune the orphaned record from ephemeral collections.
type Store struct {
	rdb *redis.Client

	// Collections under these roots hold ephemeral records subject to
	// heartbeat pruning.
	ephemeralRoots []string

	beatTTL      time.Duration
	beatInterval time.Duration
	pingInterval time.Duration

	mu     sync.Mutex
	beats  map[string]context.CancelFunc
	closed bool
}

type Options struct {
	EphemeralRoots []string
	BeatTTL        time.Duration
	BeatInterval   time.Duration
	PingInterval   time.Duration
}

func New(rdb *redis.Client, opts Options) *Store {
	if len(opts.EphemeralRoots) == 0 {
		opts.EphemeralRoots = []string{"presence"}
	}
	if opts.BeatTTL <= 0 {
		opts.BeatTTL = 30 * time.Second
	}
	if opts.BeatInterval <= 0 {
		opts.BeatInterval = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	return &Store{
		rdb:            rdb,
		ephemeralRoots: opts.EphemeralRoots,
		beatTTL:        opts.BeatTTL,
		beatInterval:   opts.BeatInterval,
		pingInterval:   opts.PingInterval,
		beats:          make(map[string]context.CancelFunc),
	}
}

func (s *Store) Read(ctx context.Context, path string) (store.Value, error) {
	fields, err := s.rdb.HGetAll(ctx, keyPrefix+path).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(fields) > 0 {
		return s.assemble(ctx, path, fields)
	}

	parent, leaf := store.ParentPath(path)
	if leaf == "" {
		return nil, nil
	}
	raw, err := s.rdb.HGet(ctx, keyPrefix+parent, leaf).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var val store.Value
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, fmt.Errorf("read %s: decode: %w", path, err)
	}
	return val, nil
}

// assemble decodes a collection hash, pruning ephemeral records whose
// heartbeat shadow key has expired.
func (s *Store) assemble(ctx context.Context, path string, fields map[string]string) (store.Value, error) {
	val := make(store.Value, len(fields))
	for leaf, raw := range fields {
		childPath := store.JoinPath(path, leaf)
		if s.isEphemeral(childPath) {
			alive, err := s.rdb.Exists(ctx, beatKeyPrefix+childPath).Result()
			if err == nil && alive == 0 {
				_ = s.rdb.HDel(ctx, keyPrefix+path, leaf).Err()
				s.publish(ctx, childPath)
				continue
			}
		}
		var child store.Value
		if err := json.Unmarshal([]byte(raw), &child); err != nil {
			continue
		}
		val[leaf] = map[string]interface{}(child)
	}
	return val, nil
}

func (s *Store) Write(ctx context.Context, path string, patch store.Value) error {
	if patch == nil {
		if err := s.deleteAt(ctx, path); err != nil {
			return err
		}
		s.publish(ctx, path)
		return nil
	}

	for field, v := range patch {
		switch child := v.(type) {
		case nil:
			if err := s.rdb.HDel(ctx, keyPrefix+path, field).Err(); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		case map[string]interface{}:
			raw, err := json.Marshal(child)
			if err != nil {
				return fmt.Errorf("write %s: encode: %w", path, err)
			}
			if err := s.rdb.HSet(ctx, keyPrefix+path, field, raw).Err(); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		default:
			if err := s.patchRecordField(ctx, path, field, v); err != nil {
				return err
			}
		}
	}
	s.publish(ctx, path)
	return nil
}

// patchRecordField merges one scalar field into the record stored at path.
// Read-modify-write, last writer wins; there is no transaction across
// concurrent patches to the same record.
func (s *Store) patchRecordField(ctx context.Context, path, field string, v interface{}) error {
	parent, leaf := store.ParentPath(path)
	if leaf == "" {
		return fmt.Errorf("write %s: scalar patch at root", path)
	}
	record := store.Value{}
	raw, err := s.rdb.HGet(ctx, keyPrefix+parent, leaf).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err == nil {
		if derr := json.Unmarshal([]byte(raw), &record); derr != nil {
			record = store.Value{}
		}
	}
	record[field] = v
	out, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("write %s: encode: %w", path, err)
	}
	if err := s.rdb.HSet(ctx, keyPrefix+parent, leaf, out).Err(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *Store) deleteAt(ctx context.Context, path string) error {
	parent, leaf := store.ParentPath(path)
	if leaf != "" {
		if err := s.rdb.HDel(ctx, keyPrefix+parent, leaf).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}
	if err := s.rdb.Del(ctx, keyPrefix+path, beatKeyPrefix+path).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, changesChan)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan store.Event, 16)
	msgs := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()
		s.deliver(subCtx, out, path)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if store.Related(path, msg.Payload) {
					s.deliver(subCtx, out, path)
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
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ephemeral write %s: encode: %w", path, err)
	}
	if err := s.rdb.HSet(ctx, keyPrefix+parent, leaf, raw).Err(); err != nil {
		return fmt.Errorf("ephemeral write %s: %w", path, err)
	}
	if err := s.rdb.Set(ctx, beatKeyPrefix+path, "1", s.beatTTL).Err(); err != nil {
		return fmt.Errorf("ephemeral write %s: %w", path, err)
	}
	s.publish(ctx, path)
	return nil
}

// OnDisconnectRemove starts the heartbeat that keeps the ephemeral record's
// shadow key alive. When this client dies the shadow expires and other
// readers prune the record.
func (s *Store) OnDisconnectRemove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store closed")
	}
	if _, running := s.beats[path]; running {
		return nil
	}
	beatCtx, cancel := context.WithCancel(context.Background())
	s.beats[path] = cancel

	go func() {
		ticker := time.NewTicker(s.beatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-beatCtx.Done():
				return
			case <-ticker.C:
				_ = s.rdb.Expire(beatCtx, beatKeyPrefix+path, s.beatTTL).Err()
			}
		}
	}()
	return nil
}

func (s *Store) Connectivity(ctx context.Context) (*store.StatusSubscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan bool, 4)

	go func() {
		defer close(out)
		last := -1 // force an initial emit
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			connected := 0
			if err := s.rdb.Ping(subCtx).Err(); err == nil {
				connected = 1
			}
			if connected != last {
				last = connected
				select {
				case out <- connected == 1:
				case <-subCtx.Done():
					return
				}
			}
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return store.NewStatusSubscription(out, cancel), nil
}

// Close stops every heartbeat; orphaned ephemeral records then expire via
// their shadow keys, which is the ungraceful-disconnect path.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for path, cancel := range s.beats {
		cancel()
		delete(s.beats, path)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, path string) {
	_ = s.rdb.Publish(ctx, changesChan, path).Err()
}

func (s *Store) isEphemeral(path string) bool {
	for _, root := range s.ephemeralRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

// deliver pushes the current snapshot, dropping the oldest queued event if
// the subscriber is behind. Snapshots are full values, so the next one
// supersedes anything dropped.
func (s *Store) deliver(ctx context.Context, out chan store.Event, path string) {
	val, err := s.Read(ctx, path)
	if err != nil {
		return
	}
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
