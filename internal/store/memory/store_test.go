package memory

import (
	"context"
	"testing"
	"time"

	"collab-notes-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, c <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev, ok := <-c:
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return store.Event{}
	}
}

// drainTo waits until an event matching the predicate arrives, skipping
// intermediate snapshots.
func drainTo(t *testing.T, c <-chan store.Event, match func(store.Value) bool) store.Value {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c:
			require.True(t, ok, "subscription channel closed")
			if match(ev.Value) {
				return ev.Value
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching event")
		}
	}
}

func TestWriteAndReadPatchSemantics(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "notes", store.Value{
		"note_1": map[string]interface{}{"name": "Foo", "content": ""},
	}))
	require.NoError(t, s.Write(ctx, "notes/note_1", store.Value{"content": "hello"}))

	val, err := s.Read(ctx, "notes/note_1")
	require.NoError(t, err)
	assert.Equal(t, "Foo", val["name"], "untouched field survives a partial patch")
	assert.Equal(t, "hello", val["content"])
}

func TestNilFieldDeletesChild(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "notes", store.Value{
		"note_1": map[string]interface{}{"name": "Foo"},
		"note_2": map[string]interface{}{"name": "Bar"},
	}))
	require.NoError(t, s.Write(ctx, "notes", store.Value{"note_1": nil}))

	val, err := s.Read(ctx, "notes")
	require.NoError(t, err)
	assert.NotContains(t, val, "note_1")
	assert.Contains(t, val, "note_2")
}

func TestNilPatchDeletesSubtree(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "notes", store.Value{
		"note_1": map[string]interface{}{"name": "Foo"},
	}))
	require.NoError(t, s.Write(ctx, "notes/note_1", nil))

	val, err := s.Read(ctx, "notes/note_1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "notes", store.Value{
		"note_1": map[string]interface{}{"name": "Foo"},
	}))

	sub, err := s.Subscribe(ctx, "notes")
	require.NoError(t, err)
	defer sub.Cancel()

	first := waitEvent(t, sub.C)
	assert.Contains(t, first.Value, "note_1")

	// A write at a child path must notify the collection subscriber.
	require.NoError(t, s.Write(ctx, "notes/note_1", store.Value{"name": "Renamed"}))
	val := drainTo(t, sub.C, func(v store.Value) bool {
		child, _ := v["note_1"].(map[string]interface{})
		return child != nil && child["name"] == "Renamed"
	})
	assert.NotNil(t, val)
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "notes")
	require.NoError(t, err)
	waitEvent(t, sub.C)

	sub.Cancel()
	// The channel closes once the pump goroutine observes cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel did not close after Cancel")
		}
	}
}

func TestDisconnectRemovesArmedEphemeral(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	path := "presence/note_1/anon_a"
	require.NoError(t, s.SetEphemeral(ctx, path, store.Value{
		"uid": "anon_a", "timestamp": int64(1), "status": "active",
	}))
	require.NoError(t, s.OnDisconnectRemove(ctx, path))

	val, err := s.Read(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, val)

	s.SetConnected(false)

	val, err = s.Read(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, val, "armed ephemeral record removed on disconnect")
}

func TestUnarmedEphemeralSurvivesDisconnect(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	path := "presence/note_1/anon_b"
	require.NoError(t, s.SetEphemeral(ctx, path, store.Value{"uid": "anon_b"}))

	s.SetConnected(false)

	val, err := s.Read(ctx, path)
	require.NoError(t, err)
	assert.NotNil(t, val)
}

func TestConnectivityFeed(t *testing.T) {
	s := New()
	defer s.Close()

	sub, err := s.Connectivity(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case connected := <-sub.C:
		assert.True(t, connected, "initial state delivered first")
	case <-time.After(time.Second):
		t.Fatal("no initial connectivity state")
	}

	s.SetConnected(false)
	select {
	case connected := <-sub.C:
		assert.False(t, connected)
	case <-time.After(time.Second):
		t.Fatal("no disconnect notification")
	}
}

func TestReadReturnsCopy(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "notes", store.Value{
		"note_1": map[string]interface{}{"name": "Foo"},
	}))

	val, err := s.Read(ctx, "notes")
	require.NoError(t, err)
	val["note_1"].(map[string]interface{})["name"] = "mutated"

	again, err := s.Read(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "Foo", again["note_1"].(map[string]interface{})["name"])
}
