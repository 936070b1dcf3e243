package service

import (
	"context"
	"testing"
	"time"

	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/store"
	"collab-notes-core/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedIdentity string

func (f fixedIdentity) Current() string { return string(f) }

func newTracker(t *testing.T, s *memory.Store, identity string) *presenceTracker {
	t.Helper()
	tr := NewPresenceTracker(s, fixedIdentity(identity), nil, nil).(*presenceTracker)
	t.Cleanup(tr.Leave)
	return tr
}

func presencePath(noteId, identity string) string {
	return store.JoinPath("presence", noteId, identity)
}

func waitPresence(t *testing.T, s *memory.Store, path string, present bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		val, err := s.Read(context.Background(), path)
		require.NoError(t, err)
		if (val != nil) == present {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnterRegistersPresence(t *testing.T) {
	s := memory.New()
	defer s.Close()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(context.Background(), "note_1"))

	path := presencePath("note_1", "anon_a")
	waitPresence(t, s, path, true, "presence record never written")

	val, err := s.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "anon_a", val["uid"])
	assert.Equal(t, entity.PresenceStatusActive, val["status"])
}

func TestRosterSortedByDescendingTimestamp(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(ctx, "note_1"))
	waitPresence(t, s, presencePath("note_1", "anon_a"), true, "self presence missing")

	// A second viewer with a later heartbeat.
	require.NoError(t, s.SetEphemeral(ctx, presencePath("note_1", "anon_b"), store.Value{
		"uid":       "anon_b",
		"timestamp": time.Now().UnixMilli() + 60_000,
		"status":    "active",
	}))

	waitFor(t, func() bool { return len(tr.Roster()) == 2 }, "roster never reached two viewers")
	roster := tr.Roster()
	assert.Equal(t, "anon_b", roster[0].Identity, "most recent heartbeat first")
	assert.Equal(t, "anon_a", roster[1].Identity)
}

func TestNoDuplicateIdentityInRoster(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(ctx, "note_1"))
	waitFor(t, func() bool { return len(tr.Roster()) == 1 }, "self not in roster")

	// Re-registration refreshes, never duplicates: one record per identity.
	require.NoError(t, s.SetEphemeral(ctx, presencePath("note_1", "anon_a"), store.Value{
		"uid":       "anon_a",
		"timestamp": time.Now().UnixMilli() + 1000,
		"status":    "active",
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, tr.Roster(), 1)
}

func TestGracefulLeaveRemovesOwnRecord(t *testing.T) {
	s := memory.New()
	defer s.Close()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(context.Background(), "note_1"))
	path := presencePath("note_1", "anon_a")
	waitPresence(t, s, path, true, "presence record never written")

	tr.Leave()
	waitPresence(t, s, path, false, "graceful leave did not remove the record")

	// Idempotent.
	tr.Leave()
}

func TestUngracefulDisconnectConverges(t *testing.T) {
	s := memory.New()
	defer s.Close()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(context.Background(), "note_1"))
	path := presencePath("note_1", "anon_a")
	waitPresence(t, s, path, true, "presence record never written")
	waitFor(t, func() bool { return tr.Connected() }, "connectivity not observed")

	// No Leave call: the armed disconnect directive alone must remove it.
	s.SetConnected(false)
	waitPresence(t, s, path, false, "disconnect directive did not remove the record")
	waitFor(t, func() bool { return !tr.Connected() }, "disconnect not observed")
}

func TestReconnectReregistersPresence(t *testing.T) {
	s := memory.New()
	defer s.Close()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(context.Background(), "note_1"))
	path := presencePath("note_1", "anon_a")
	waitPresence(t, s, path, true, "presence record never written")

	s.SetConnected(false)
	waitPresence(t, s, path, false, "record not removed on disconnect")

	// Reconnect: registration and directive are re-issued because the
	// disconnect already wiped them remotely.
	s.SetConnected(true)
	waitPresence(t, s, path, true, "record not re-registered on reconnect")
}

func TestEnterSwitchesNotes(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	tr := newTracker(t, s, "anon_a")
	require.NoError(t, tr.Enter(ctx, "note_1"))
	waitPresence(t, s, presencePath("note_1", "anon_a"), true, "first note presence missing")

	require.NoError(t, tr.Enter(ctx, "note_2"))
	waitPresence(t, s, presencePath("note_1", "anon_a"), false, "old presence not torn down on switch")
	waitPresence(t, s, presencePath("note_2", "anon_a"), true, "new note presence missing")
}

func TestIdentityServiceStableForSession(t *testing.T) {
	svc := NewIdentityService(time.Hour)

	first := svc.Current()
	second := svc.Current()
	assert.Equal(t, first, second)
	assert.Contains(t, first, "anon_")

	other := NewIdentityService(time.Hour)
	assert.NotEqual(t, first, other.Current())
}
