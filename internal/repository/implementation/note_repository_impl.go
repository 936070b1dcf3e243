package implementation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"collab-notes-core/internal/apperror"
	"collab-notes-core/internal/constant"
	"collab-notes-core/internal/dto"
	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/pkg/logger"
	"collab-notes-core/internal/repository/contract"
	"collab-notes-core/internal/store"
	"collab-notes-core/pkg/events"

	"github.com/go-playground/validator/v10"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

type noteRepository struct {
	remote    store.RemoteStore
	logger    logger.ILogger
	validate  *validator.Validate
	publisher events.Publisher
	retention time.Duration
	now       func() int64

	mu    sync.RWMutex
	notes []*entity.Note
	index map[string]*entity.Note
}

// NewNoteRepository builds the repository over a remote store. The publisher
// is optional; lifecycle events are auxiliary and their failures only log.
func NewNoteRepository(
	remote store.RemoteStore,
	log logger.ILogger,
	publisher events.Publisher,
	retention time.Duration,
) contract.NoteRepository {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &noteRepository{
		remote:    remote,
		logger:    log,
		validate:  validator.New(),
		publisher: publisher,
		retention: retention,
		now:       func() int64 { return time.Now().UnixMilli() },
		index:     make(map[string]*entity.Note),
	}
}

func (r *noteRepository) Observe(ctx context.Context, onList func([]*entity.Note), onErr func(error)) (func(), error) {
	sub, err := r.remote.Subscribe(ctx, constant.NotesPath)
	if err != nil {
		return nil, &apperror.RemoteSubscribeError{Path: constant.NotesPath, Err: err}
	}

	obsCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-obsCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					if obsCtx.Err() == nil && onErr != nil {
						onErr(&apperror.RemoteSubscribeError{
							Path: constant.NotesPath,
							Err:  errors.New("collection feed closed"),
						})
					}
					return
				}
				list := r.applySnapshot(obsCtx, ev.Value)
				if onList != nil {
					onList(list)
				}
			}
		}
	}()

	return cancel, nil
}

// applySnapshot runs the reconciliation pass and refreshes the cached view.
// This is the system's only garbage collector; it runs opportunistically on
// every observed snapshot.
func (r *noteRepository) applySnapshot(ctx context.Context, raw store.Value) []*entity.Note {
	now := r.now()
	list, stale := Reconcile(raw, now, r.retention.Milliseconds())

	if len(stale) > 0 {
		patch := store.Value{}
		for _, id := range stale {
			patch[id] = nil
		}
		if err := r.remote.Write(ctx, constant.NotesPath, patch); err != nil {
			r.logger.Warn("NoteRepository", "Auto-clean failed", map[string]interface{}{
				"count": len(stale),
				"error": err.Error(),
			})
		}
	}

	r.mu.Lock()
	r.notes = list
	r.index = make(map[string]*entity.Note, len(list))
	for _, n := range list {
		r.index[n.Id] = n
	}
	r.mu.Unlock()

	return list
}

// Reconcile classifies one raw collection snapshot: malformed records, ghost
// records (name equals a note_-prefixed id) and expired unpinned+unlocked
// records become deletions; survivors get defaults backfilled and come back
// sorted pinned-first, then by descending lastModified.
func Reconcile(raw store.Value, nowMillis, retentionMillis int64) ([]*entity.Note, []string) {
	var list []*entity.Note
	var stale []string

	for id, child := range raw {
		record, ok := child.(map[string]interface{})
		if !ok {
			stale = append(stale, id)
			continue
		}

		note := decodeNote(id, record)
		if !note.Valid() {
			stale = append(stale, id)
			continue
		}
		if note.CreatedAt == 0 {
			note.CreatedAt = nowMillis
		}
		if note.LastModified == 0 {
			note.LastModified = note.CreatedAt
		}
		if note.Expired(nowMillis, retentionMillis) {
			stale = append(stale, id)
			continue
		}
		list = append(list, note)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		if list[i].LastModified != list[j].LastModified {
			return list[i].LastModified > list[j].LastModified
		}
		return list[i].Id < list[j].Id
	})
	sort.Strings(stale)

	return list, stale
}

func (r *noteRepository) Create(ctx context.Context, name string) (*entity.Note, error) {
	req := &dto.CreateNoteRequest{Name: strings.TrimSpace(name)}
	if err := r.validate.Struct(req); err != nil {
		return nil, apperror.NewValidationError("name", "name must not be empty")
	}

	r.mu.RLock()
	for _, n := range r.notes {
		if strings.EqualFold(n.Name, req.Name) {
			r.mu.RUnlock()
			return nil, apperror.NewValidationError("name", "duplicate name")
		}
	}
	r.mu.RUnlock()

	now := r.now()
	note := &entity.Note{
		Id:           newNoteId(now),
		Name:         req.Name,
		Content:      "",
		CreatedAt:    now,
		LastModified: now,
	}

	if err := r.remote.Write(ctx, constant.NotesPath, store.Value{note.Id: encodeNote(note)}); err != nil {
		return nil, &apperror.RemoteWriteError{Path: constant.NotesPath, Err: err}
	}

	// Optimistic insert so a second Create sees the name before the next
	// snapshot lands. Two clients racing the same name still both win on
	// the remote store; the duplicate shows up on the next pass.
	r.mu.Lock()
	r.notes = append(r.notes, note)
	r.index[note.Id] = note
	r.mu.Unlock()

	r.publish(ctx, constant.EventNoteCreated, map[string]interface{}{
		"note_id": note.Id,
		"name":    note.Name,
	})
	return note, nil
}

func (r *noteRepository) Rename(ctx context.Context, id, newName string) error {
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" {
		return nil
	}
	if err := r.patch(ctx, id, store.Value{
		"name":         trimmed,
		"lastModified": r.now(),
	}); err != nil {
		return err
	}
	r.publish(ctx, constant.EventNoteRenamed, map[string]interface{}{
		"note_id": id,
		"name":    trimmed,
	})
	return nil
}

func (r *noteRepository) TogglePin(ctx context.Context, id string) error {
	note, ok := r.Get(id)
	if !ok {
		var err error
		note, err = r.readNote(ctx, id)
		if err != nil {
			return err
		}
	}
	return r.patch(ctx, id, store.Value{
		"pinned":       !note.Pinned,
		"lastModified": r.now(),
	})
}

func (r *noteRepository) SetLock(ctx context.Context, id, pinCode string) error {
	req := &dto.SetLockRequest{Id: id, PinCode: pinCode}
	if err := r.validate.Struct(req); err != nil {
		return apperror.NewValidationError("pin_code", "PIN must be 4 digits or empty")
	}
	if err := r.patch(ctx, id, store.Value{
		"locked":       true,
		"pinCode":      pinCode,
		"lastModified": r.now(),
	}); err != nil {
		return err
	}
	r.publish(ctx, constant.EventNoteLocked, map[string]interface{}{
		"note_id":       id,
		"pin_protected": pinCode != "",
	})
	return nil
}

func (r *noteRepository) Unlock(ctx context.Context, id string) error {
	return r.patch(ctx, id, store.Value{
		"locked":       false,
		"pinCode":      "",
		"lastModified": r.now(),
	})
}

func (r *noteRepository) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	patch := store.Value{}
	for _, id := range ids {
		patch[id] = nil
	}
	// One batched write; a failure covers the whole batch.
	if err := r.remote.Write(ctx, constant.NotesPath, patch); err != nil {
		return &apperror.RemoteWriteError{Path: constant.NotesPath, Err: err}
	}

	r.mu.Lock()
	kept := r.notes[:0]
	for _, n := range r.notes {
		if _, gone := patch[n.Id]; gone {
			delete(r.index, n.Id)
			continue
		}
		kept = append(kept, n)
	}
	r.notes = kept
	r.mu.Unlock()

	r.publish(ctx, constant.EventNoteDeleted, map[string]interface{}{
		"note_ids": ids,
	})
	return nil
}

func (r *noteRepository) DeleteAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.notes))
	for _, n := range r.notes {
		ids = append(ids, n.Id)
	}
	r.mu.RUnlock()

	if err := r.DeleteMany(ctx, ids); err != nil {
		return err
	}
	r.publish(ctx, constant.EventNotesWiped, map[string]interface{}{
		"count": len(ids),
	})
	return nil
}

func (r *noteRepository) Get(id string) (*entity.Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.index[id]
	return n, ok
}

func (r *noteRepository) Search(term string) []*entity.Note {
	term = strings.ToLower(strings.TrimSpace(term))
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Note
	for _, n := range r.notes {
		if term == "" || strings.Contains(strings.ToLower(n.Name), term) {
			out = append(out, n)
		}
	}
	return out
}

func (r *noteRepository) patch(ctx context.Context, id string, fields store.Value) error {
	path := store.JoinPath(constant.NotesPath, id)
	if err := r.remote.Write(ctx, path, fields); err != nil {
		return &apperror.RemoteWriteError{Path: path, Err: err}
	}
	return nil
}

func (r *noteRepository) readNote(ctx context.Context, id string) (*entity.Note, error) {
	path := store.JoinPath(constant.NotesPath, id)
	val, err := r.remote.Read(ctx, path)
	if err != nil {
		return nil, &apperror.RemoteWriteError{Path: path, Err: err}
	}
	if val == nil {
		return nil, apperror.NewValidationError("id", "unknown note")
	}
	return decodeNote(id, val), nil
}

func (r *noteRepository) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if r.publisher == nil {
		return
	}
	evt := events.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now(),
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("NoteRepository", "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func newNoteId(nowMillis int64) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("note_%d_%s", nowMillis, suffix)
}

func encodeNote(n *entity.Note) map[string]interface{} {
	return map[string]interface{}{
		"name":         n.Name,
		"content":      n.Content,
		"createdAt":    n.CreatedAt,
		"lastModified": n.LastModified,
		"pinned":       n.Pinned,
		"locked":       n.Locked,
		"pinCode":      n.PinCode,
	}
}

func decodeNote(id string, record map[string]interface{}) *entity.Note {
	return &entity.Note{
		Id:           id,
		Name:         strings.TrimSpace(asString(record["name"])),
		Content:      asString(record["content"]),
		CreatedAt:    asInt64(record["createdAt"]),
		LastModified: asInt64(record["lastModified"]),
		Pinned:       asBool(record["pinned"]),
		Locked:       asBool(record["locked"]),
		PinCode:      asString(record["pinCode"]),
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// asInt64 tolerates the numeric types a JSON decode or a direct in-memory
// write can produce.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}
