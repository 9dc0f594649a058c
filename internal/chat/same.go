package chat

import (
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
)

// DedupWindow is how far apart the timestamps of a local send and its
// echo may be for the two to count as one message.
const DedupWindow = 5 * time.Second

// IsSameMessage reports whether a and b are the same logical message:
// the same id, or both sent by self with equal content no more than
// DedupWindow apart.
func IsSameMessage(a, b domain.Message, self domain.UserID) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if self <= 0 || a.SenderID != self || b.SenderID != self {
		return false
	}
	if a.Content != b.Content {
		return false
	}
	if !a.SentAt.Valid || !b.SentAt.Valid {
		return false
	}

	d := a.SentAt.Sub(b.SentAt.Time)
	if d < 0 {
		d = -d
	}
	return d <= DedupWindow
}
