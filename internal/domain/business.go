package domain

import "time"

// Business is a business record from the external store. The protection
// fields are the only ones this service mutates.
type Business struct {
	BusinessID  string   `json:"business_id"`
	Name        string   `json:"name"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	Categories  string   `json:"categories,omitempty"`
	Stars       float64  `json:"stars"`
	ReviewCount int      `json:"review_count"`

	RatingProtected  bool       `json:"rating_protected"`
	ProtectionReason string     `json:"protection_reason,omitempty"`
	ProtectedSince   *time.Time `json:"protected_since,omitempty"`
}

// Review status values as stored on review documents.
const (
	ReviewStatusPublished = "published"
	ReviewStatusHeld      = "held"
)

// Review is a review document from the external store. Only the hold
// transition (published -> held) is written by this service.
type Review struct {
	ReviewID    string     `json:"review_id"`
	BusinessID  string     `json:"business_id"`
	UserID      string     `json:"user_id"`
	Stars       float64    `json:"stars"`
	Text        string     `json:"text,omitempty"`
	Date        time.Time  `json:"date"`
	IsSimulated bool       `json:"is_simulated"`
	Status      string     `json:"status"`
	HeldAt      *time.Time `json:"held_at,omitempty"`
	HoldReason  string     `json:"hold_reason,omitempty"`
}
