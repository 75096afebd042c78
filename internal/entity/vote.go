package entity

import (
	"time"

	"github.com/google/uuid"
)

// Vote binds one voter identity to one option within one poll. Exactly
// one of UserID or IPAddress identifies the voter for uniqueness
// purposes: authenticated votes are unique per (poll, user), anonymous
// votes per (poll, ip). A vote is immutable once created.
type Vote struct {
	ID        int64     `json:"id"`
	PollID    uuid.UUID `json:"poll_id"`
	OptionID  int64     `json:"option_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
