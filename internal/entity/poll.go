package entity

import (
	"time"

	"github.com/google/uuid"
)

type Poll struct {
	ID             uuid.UUID  `json:"id"`
	Question       string     `json:"question"`
	Category       string     `json:"category"`
	CreatorID      int64      `json:"creator_id"`
	OrgID          *uuid.UUID `json:"org_id,omitempty"`
	IsPublic       bool       `json:"is_public"`
	AllowedCountry string     `json:"allowed_country,omitempty"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	IsActive       bool       `json:"is_active"`
	ManuallyClosed bool       `json:"manually_closed"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the poll's voting window has passed. The
// is_active flag can lag a true expiry until the next write touches the
// poll, so callers must check both.
func (p Poll) Expired(now time.Time) bool {
	return now.After(p.EndDate)
}
