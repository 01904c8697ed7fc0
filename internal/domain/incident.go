package domain

import (
	"fmt"
	"time"
)

// IncidentStatus represents the lifecycle state of a review-bomb incident.
type IncidentStatus string

const (
	StatusDetected      IncidentStatus = "detected"
	StatusInvestigating IncidentStatus = "investigating"
	StatusConfirmed     IncidentStatus = "confirmed"
	StatusMitigated     IncidentStatus = "mitigated"
	StatusResolved      IncidentStatus = "resolved"
	StatusFalsePositive IncidentStatus = "false_positive"
)

// OpenStatuses are the non-terminal states; incidents in any of these states
// are deduplicated against by the ledger.
var OpenStatuses = []IncidentStatus{
	StatusDetected,
	StatusInvestigating,
	StatusConfirmed,
	StatusMitigated,
}

// IsTerminal reports whether the status ends the incident lifecycle.
func (s IncidentStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Valid reports whether the status is a known lifecycle state.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusInvestigating, StatusConfirmed,
		StatusMitigated, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// IncidentSeverity classifies how severe an attack episode is.
type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// Rank returns a total order over severities (low < medium < high < critical).
func (s IncidentSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether the severity is a known level.
func (s IncidentSeverity) Valid() bool {
	return s.Rank() > 0
}

// IncidentMetrics is the last-known snapshot summary carried on an incident.
// It is overwritten wholesale on every re-detection while the incident is open.
type IncidentMetrics struct {
	ReviewCount      int     `json:"review_count"`
	UniqueAttackers  int     `json:"unique_attacker_estimate"`
	AverageRating    float64 `json:"average_rating"`
	RatingDrop       float64 `json:"rating_drop"`
	ReviewsPerMinute float64 `json:"reviews_per_minute"`
}

// Incident is one detected attack episode against a business.
type Incident struct {
	IncidentID   string           `json:"incident_id"`
	BusinessID   string           `json:"business_id"`
	BusinessName string           `json:"business_name"`

	Status   IncidentStatus   `json:"status"`
	Severity IncidentSeverity `json:"severity"`

	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Description string          `json:"description"`
	Metrics     IncidentMetrics `json:"metrics"`

	Resolution         string     `json:"resolution,omitempty"`
	ResponseActions    []string   `json:"response_actions"`
	ResponseExecutedAt *time.Time `json:"response_executed_at,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}

// IsOpen reports whether the incident participates in dedup lookups.
func (i *Incident) IsOpen() bool {
	return !i.Status.IsTerminal()
}

// IncidentUpdate is a PATCH-style operator override. Nil fields are untouched.
type IncidentUpdate struct {
	Status          *IncidentStatus   `json:"status,omitempty"`
	Severity        *IncidentSeverity `json:"severity,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Notes           *string           `json:"notes,omitempty"`
	ResponseActions []string          `json:"response_actions,omitempty"`
}

// Validate checks that the update only carries known enum values.
func (u *IncidentUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("invalid incident status %q", *u.Status)
	}
	if u.Severity != nil && !u.Severity.Valid() {
		return fmt.Errorf("invalid incident severity %q", *u.Severity)
	}
	return nil
}

// IncidentCreate is the payload for manual incident creation by an operator.
type IncidentCreate struct {
	BusinessID   string           `json:"business_id"`
	BusinessName string           `json:"business_name"`
	Severity     IncidentSeverity `json:"severity"`
	Description  string           `json:"description"`
}

// Validate checks required fields for manual creation.
func (c *IncidentCreate) Validate() error {
	if c.BusinessID == "" {
		return fmt.Errorf("business_id is required")
	}
	if c.BusinessName == "" {
		return fmt.Errorf("business_name is required")
	}
	if c.Severity == "" {
		c.Severity = SeverityMedium
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("invalid incident severity %q", c.Severity)
	}
	return nil
}

// IncidentFilter narrows incident list queries.
type IncidentFilter struct {
	Status     IncidentStatus
	Severity   IncidentSeverity
	BusinessID string
	Page       int
	PageSize   int
}

// IncidentSearchResult is a paginated incident listing.
type IncidentSearchResult struct {
	Incidents []*Incident `json:"incidents"`
	Total     int64       `json:"total"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}
