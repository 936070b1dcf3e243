package constant

const (
	// NotesPath is the root of the persisted note collection.
	NotesPath = "notes"

	// PresencePath is the root of the ephemeral presence tree.
	PresencePath = "presence"

	// Event types published to the lifecycle bus.
	EventNoteCreated = "NOTE_CREATED"
	EventNoteRenamed = "NOTE_RENAMED"
	EventNoteLocked  = "NOTE_LOCKED"
	EventNoteDeleted = "NOTE_DELETED"
	EventNotesWiped  = "NOTES_WIPED"
)
