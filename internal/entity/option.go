package entity

import (
	"time"

	"github.com/google/uuid"
)

// Option is one selectable answer within a poll. Ordinal is the stable
// 1-based position assigned at creation and is the public-facing option
// identifier; the raw storage key never leaves the repo layer.
// VoteCount is owned exclusively by the atomic increment in storage and
// must never be read-modify-written in application code.
type Option struct {
	ID        int64     `json:"-"`
	PollID    uuid.UUID `json:"poll_id"`
	Ordinal   int       `json:"id"`
	Text      string    `json:"text"`
	ImageURL  *string   `json:"image_url,omitempty"`
	VoteCount int64     `json:"vote_count"`
	CreatedAt time.Time `json:"created_at"`
}

// OptionCount is one row of a results snapshot pushed to subscribers.
type OptionCount struct {
	Ordinal   int   `json:"id"`
	VoteCount int64 `json:"vote_count"`
}
