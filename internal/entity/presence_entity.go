package entity

// PresenceStatusActive is the only status in the current design; idle
// detection is reserved for later.
const PresenceStatusActive = "active"

// Presence is the ephemeral per-viewer record stored at
// presence/{noteId}/{identity}. It exists iff that identity currently has
// the note open over a live connection.
type Presence struct {
	Identity  string `json:"uid"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}
