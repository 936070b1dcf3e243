package mapper

import (
	"fmt"
	"time"

	"collab-notes-core/internal/dto"
	"collab-notes-core/internal/entity"
)

// ToNoteSummary projects a reconciled note into the list-view shape.
func ToNoteSummary(n *entity.Note) dto.NoteSummary {
	return dto.NoteSummary{
		Id:           n.Id,
		Name:         n.Name,
		Pinned:       n.Pinned,
		Locked:       n.Locked,
		PinProtected: n.PinProtected(),
		CreatedAt:    n.CreatedAt,
		LastModified: n.LastModified,
	}
}

func ToNoteSummaries(notes []*entity.Note) []dto.NoteSummary {
	out := make([]dto.NoteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, ToNoteSummary(n))
	}
	return out
}

// FormatAge renders a millisecond timestamp relative to now for list rows.
func FormatAge(millis int64, now time.Time) string {
	ts := time.UnixMilli(millis)
	diff := now.Sub(ts)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return ts.Format("1/2/2006")
}
