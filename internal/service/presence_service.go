package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-notes-core/internal/apperror"
	"collab-notes-core/internal/constant"
	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/pkg/logger"
	"collab-notes-core/internal/store"
)

// IPresenceTracker publishes "this identity is viewing note X" and observes
// the roster of everyone else doing the same. The record is ephemeral: the
// store removes it when the connection dies, a graceful Leave removes it
// faster.
type IPresenceTracker interface {
	Enter(ctx context.Context, noteId string) error
	Leave()
	Roster() []entity.Presence
	Connected() bool
}

type presenceTracker struct {
	remote   store.RemoteStore
	identity IIdentityService
	logger   logger.ILogger
	onRoster func([]entity.Presence)
	now      func() int64

	mu        sync.Mutex
	noteId    string
	selfPath  string
	roster    []entity.Presence
	connected bool
	cancel    context.CancelFunc
	entered   bool
}

// NewPresenceTracker builds a tracker. onRoster is optional and fires after
// every roster snapshot.
func NewPresenceTracker(
	remote store.RemoteStore,
	identity IIdentityService,
	log logger.ILogger,
	onRoster func([]entity.Presence),
) IPresenceTracker {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &presenceTracker{
		remote:   remote,
		identity: identity,
		logger:   log,
		onRoster: onRoster,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

func (p *presenceTracker) Enter(ctx context.Context, noteId string) error {
	p.Leave()

	self := p.identity.Current()
	rosterPath := store.JoinPath(constant.PresencePath, noteId)
	selfPath := store.JoinPath(rosterPath, self)

	connSub, err := p.remote.Connectivity(ctx)
	if err != nil {
		return &apperror.RemoteSubscribeError{Path: ".info/connected", Err: err}
	}
	rosterSub, err := p.remote.Subscribe(ctx, rosterPath)
	if err != nil {
		connSub.Cancel()
		return &apperror.RemoteSubscribeError{Path: rosterPath, Err: err}
	}

	enterCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.noteId = noteId
	p.selfPath = selfPath
	p.roster = nil
	p.cancel = cancel
	p.entered = true
	p.mu.Unlock()

	go func() {
		defer connSub.Cancel()
		defer rosterSub.Cancel()
		for {
			select {
			case <-enterCtx.Done():
				return
			case connected, ok := <-connSub.C:
				if !ok {
					return
				}
				p.onConnectivity(enterCtx, connected)
			case ev, ok := <-rosterSub.C:
				if !ok {
					return
				}
				p.applyRoster(ev.Value)
			}
		}
	}()
	return nil
}

// onConnectivity re-registers presence on every transition to connected: a
// prior disconnect may already have triggered the remote removal, so the
// record and the disconnect directive both have to be re-issued.
func (p *presenceTracker) onConnectivity(ctx context.Context, connected bool) {
	p.mu.Lock()
	p.connected = connected
	selfPath := p.selfPath
	p.mu.Unlock()

	if !connected {
		return
	}

	record := store.Value{
		"uid":       p.identity.Current(),
		"timestamp": p.now(),
		"status":    entity.PresenceStatusActive,
	}
	if err := p.remote.SetEphemeral(ctx, selfPath, record); err != nil {
		p.logger.Warn("PresenceTracker", "Presence registration failed", map[string]interface{}{
			"path":  selfPath,
			"error": err.Error(),
		})
		return
	}
	if err := p.remote.OnDisconnectRemove(ctx, selfPath); err != nil {
		p.logger.Warn("PresenceTracker", "Disconnect directive failed", map[string]interface{}{
			"path":  selfPath,
			"error": err.Error(),
		})
	}
}

func (p *presenceTracker) applyRoster(val store.Value) {
	list := make([]entity.Presence, 0, len(val))
	for identity, child := range val {
		record, ok := child.(map[string]interface{})
		if !ok {
			continue
		}
		pr := entity.Presence{
			Identity:  identity,
			Timestamp: asTimestamp(record["timestamp"]),
			Status:    entity.PresenceStatusActive,
		}
		if s, ok := record["status"].(string); ok && s != "" {
			pr.Status = s
		}
		list = append(list, pr)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp > list[j].Timestamp
		}
		return list[i].Identity < list[j].Identity
	})

	p.mu.Lock()
	p.roster = list
	cb := p.onRoster
	p.mu.Unlock()

	if cb != nil {
		cb(list)
	}
}

// Leave tears down both feeds and removes this identity's record. Redundant
// with the disconnect directive, but faster. Idempotent.
func (p *presenceTracker) Leave() {
	p.mu.Lock()
	if !p.entered {
		p.mu.Unlock()
		return
	}
	p.entered = false
	selfPath := p.selfPath
	cancel := p.cancel
	p.cancel = nil
	p.roster = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	parent, leaf := store.ParentPath(selfPath)
	if err := p.remote.Write(ctx, parent, store.Value{leaf: nil}); err != nil {
		p.logger.Warn("PresenceTracker", "Presence removal failed", map[string]interface{}{
			"path":  selfPath,
			"error": err.Error(),
		})
	}
}

func (p *presenceTracker) Roster() []entity.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entity.Presence, len(p.roster))
	copy(out, p.roster)
	return out
}

func (p *presenceTracker) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func asTimestamp(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
