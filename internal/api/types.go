package api

import "time"

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectRequest triggers a detection sweep. Both fields are optional; an
// empty business_id sweeps every recently active business.
type DetectRequest struct {
	BusinessID string `json:"business_id"`
	Hours      int    `json:"hours"`
}

// ResolveRequest carries the operator's resolution tag.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// AdminStats summarizes the detection environment for operators.
type AdminStats struct {
	IncidentsByStatus   map[string]int64 `json:"incidents_by_status"`
	OpenIncidents       int64            `json:"open_incidents"`
	ProtectedBusinesses int64            `json:"protected_businesses"`
	HeldReviews         int64            `json:"held_reviews"`
}
