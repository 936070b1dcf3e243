package entity

import "strings"

// Note is a persisted document. Timestamps are milliseconds since epoch to
// stay wire-compatible with the notes/{id} layout of the remote store.
type Note struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	CreatedAt    int64  `json:"createdAt"`
	LastModified int64  `json:"lastModified"`
	Pinned       bool   `json:"pinned"`
	Locked       bool   `json:"locked"`
	PinCode      string `json:"pinCode"`
}

// GhostIdPrefix marks ids produced by an earlier creation defect where the
// record's name ended up equal to its own generated id.
const GhostIdPrefix = "note_"

// Valid reports whether the record survives the reconciliation pass guards.
func (n *Note) Valid() bool {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return false
	}
	if name == n.Id && strings.HasPrefix(n.Id, GhostIdPrefix) {
		return false
	}
	return true
}

// PinProtected reports whether the note is locked behind a non-empty PIN.
// A locked note without a PIN is merely read-only.
func (n *Note) PinProtected() bool {
	return n.Locked && n.PinCode != ""
}

// Expired reports whether the note is eligible for the retention sweep.
// Pinned and locked notes never expire.
func (n *Note) Expired(nowMillis, retentionMillis int64) bool {
	if n.Pinned || n.Locked {
		return false
	}
	return nowMillis-n.CreatedAt > retentionMillis
}
