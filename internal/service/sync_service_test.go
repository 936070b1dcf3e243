package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collab-notes-core/internal/apperror"
	"collab-notes-core/internal/store"
	"collab-notes-core/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore counts the writes the engine issues; test setup writes go
// straight to the underlying store.
type recordingStore struct {
	*memory.Store
	mu     sync.Mutex
	writes []store.Value
	fail   bool
}

func (r *recordingStore) Write(ctx context.Context, path string, patch store.Value) error {
	r.mu.Lock()
	if r.fail {
		r.mu.Unlock()
		return errors.New("store rejected write")
	}
	r.writes = append(r.writes, patch)
	r.mu.Unlock()
	return r.Store.Write(ctx, path, patch)
}

func (r *recordingStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingStore) lastWrite() store.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.writes) == 0 {
		return nil
	}
	return r.writes[len(r.writes)-1]
}

// echoEditor mimics a widget whose change callback fires synchronously when
// content is programmatically replaced.
type echoEditor struct {
	engine   IDocumentSync
	mu       sync.Mutex
	replaced []string
}

func (e *echoEditor) Replace(content string) {
	e.mu.Lock()
	e.replaced = append(e.replaced, content)
	e.mu.Unlock()
	if e.engine != nil {
		e.engine.OnLocalEdit(content)
	}
}

const testDebounce = 50 * time.Millisecond

func newSyncFixture(t *testing.T) (*recordingStore, *memory.Store) {
	t.Helper()
	mem := memory.New()
	t.Cleanup(func() { mem.Close() })
	return &recordingStore{Store: mem}, mem
}

func seedNote(t *testing.T, mem *memory.Store, id, content string, locked bool) {
	t.Helper()
	require.NoError(t, mem.Write(context.Background(), "notes", store.Value{
		id: map[string]interface{}{
			"name":         "Seeded",
			"content":      content,
			"locked":       locked,
			"createdAt":    time.Now().UnixMilli(),
			"lastModified": time.Now().UnixMilli(),
		},
	}))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoteSnapshotEqualContentIsNotResent(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "a", false)

	engine := NewDocumentSync(rec, nil, testDebounce, nil, nil)
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return engine.Buffer() == "a" }, "initial snapshot not applied")

	// Another snapshot bearing the same value must neither replace nor
	// schedule an outbound write.
	require.NoError(t, mem.Write(context.Background(), "notes/note_1", store.Value{"content": "a"}))
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 0, rec.writeCount())
}

func TestRemoteReplaceIsNotEchoedBack(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "a", false)

	editor := &echoEditor{}
	engine := NewDocumentSync(rec, nil, testDebounce, editor, nil)
	editor.engine = engine
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return engine.Buffer() == "a" }, "initial snapshot not applied")

	require.NoError(t, mem.Write(context.Background(), "notes/note_1", store.Value{"content": "b"}))
	waitFor(t, func() bool { return engine.Buffer() == "b" }, "remote content not applied")

	// The widget echoed the replace synchronously; suppression must have
	// swallowed it.
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 0, rec.writeCount())
}

func TestDebounceCoalescesEdits(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "", false)

	engine := NewDocumentSync(rec, nil, testDebounce, nil, nil)
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return engine.Locked() == false && engine.Buffer() == "" }, "not opened")

	engine.OnLocalEdit("a")
	engine.OnLocalEdit("ab")
	engine.OnLocalEdit("abc")

	waitFor(t, func() bool { return rec.writeCount() > 0 }, "debounced write never fired")
	time.Sleep(4 * testDebounce)

	assert.Equal(t, 1, rec.writeCount(), "three edits inside the window coalesce into one write")
	last := rec.lastWrite()
	assert.Equal(t, "abc", last["content"])
	assert.Contains(t, last, "lastModified")
}

func TestLockedNoteDiscardsEdits(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "original", true)

	engine := NewDocumentSync(rec, nil, testDebounce, nil, nil)
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return engine.Locked() }, "lock state not applied")

	engine.OnLocalEdit("typed anyway")
	time.Sleep(4 * testDebounce)

	assert.Equal(t, 0, rec.writeCount(), "locked edit never persisted")
	assert.Equal(t, "typed anyway", engine.Buffer(), "on-screen buffer still follows typing")
}

func TestGrantedClientWritesDespiteLock(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "original", true)

	engine := NewDocumentSync(rec, nil, testDebounce, nil, nil)
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return engine.Locked() }, "lock state not applied")

	engine.SetWritable(true)
	engine.OnLocalEdit("granted edit")

	waitFor(t, func() bool { return rec.writeCount() == 1 }, "granted edit not persisted")
	assert.Equal(t, "granted edit", rec.lastWrite()["content"])
}

func TestCloseCancelsPendingWrite(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "", false)

	engine := NewDocumentSync(rec, nil, testDebounce, nil, nil)
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	waitFor(t, func() bool { return engine.Buffer() == "" && !engine.Locked() }, "not opened")

	engine.OnLocalEdit("about to be lost")
	engine.Close()

	time.Sleep(4 * testDebounce)
	assert.Equal(t, 0, rec.writeCount(), "close cancels the scheduled write")
}

func TestSaveFailureIsNonFatal(t *testing.T) {
	rec, mem := newSyncFixture(t)
	seedNote(t, mem, "note_1", "", false)

	failures := make(chan error, 1)
	engine := NewDocumentSync(rec, nil, testDebounce, nil, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	require.NoError(t, engine.Open(context.Background(), "note_1"))
	defer engine.Close()

	waitFor(t, func() bool { return !engine.Locked() }, "not opened")

	rec.mu.Lock()
	rec.fail = true
	rec.mu.Unlock()

	engine.OnLocalEdit("doomed")

	select {
	case err := <-failures:
		var werr *apperror.RemoteWriteError
		assert.ErrorAs(t, err, &werr)
	case <-time.After(2 * time.Second):
		t.Fatal("save failure not surfaced")
	}
}

func TestStats(t *testing.T) {
	engine := NewDocumentSync(memory.New(), nil, testDebounce, nil, nil).(*documentSync)
	engine.localBuffer = "one\ntwo\nthree"

	stats := engine.Stats()
	assert.Equal(t, 13, stats.Characters)
	assert.Equal(t, 3, stats.Lines)

	engine.localBuffer = ""
	stats = engine.Stats()
	assert.Equal(t, 0, stats.Characters)
	assert.Equal(t, 0, stats.Lines)
}
