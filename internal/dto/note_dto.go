package dto

type CreateNoteRequest struct {
	Name string `json:"name" validate:"required"`
}

type RenameNoteRequest struct {
	Id      string `json:"id" validate:"required"`
	NewName string `json:"new_name"`
}

type SetLockRequest struct {
	Id string `json:"id" validate:"required"`
	// Empty locks the note without a PIN (read-only, no challenge).
	PinCode string `json:"pin_code" validate:"omitempty,len=4,number"`
}

type DeleteNotesRequest struct {
	Ids []string `json:"ids" validate:"required,min=1"`
}

// NoteSummary is the list-view projection delivered to observers after each
// reconciliation pass.
type NoteSummary struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	Pinned       bool   `json:"pinned"`
	Locked       bool   `json:"locked"`
	PinProtected bool   `json:"pin_protected"`
	CreatedAt    int64  `json:"created_at"`
	LastModified int64  `json:"last_modified"`
}
