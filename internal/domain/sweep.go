package domain

// SweepOutcome tags what the detection loop did for one attacked business.
type SweepOutcome string

const (
	// OutcomeIncidentCreated means a fresh incident was opened this sweep.
	OutcomeIncidentCreated SweepOutcome = "incident_created"
	// OutcomeIncidentReaffirmed means an open incident already existed and
	// mitigations were re-applied to catch newly arrived reviews.
	OutcomeIncidentReaffirmed SweepOutcome = "incident_reaffirmed"
)

// SweepDetail is one attack-positive entry in a sweep report.
type SweepDetail struct {
	BusinessID      string           `json:"business_id"`
	BusinessName    string           `json:"business_name"`
	IncidentID      string           `json:"incident_id"`
	Outcome         SweepOutcome     `json:"outcome"`
	Severity        IncidentSeverity `json:"severity"`
	RecentReviews   int              `json:"recent_reviews"`
	RatingTrend     float64          `json:"rating_trend"`
	ReviewVelocity  float64          `json:"review_velocity"`
	SuspiciousCount int              `json:"suspicious_count"`
	ResponseActions []string         `json:"response_actions,omitempty"`
	ReviewsHeld     int              `json:"reviews_held"`
}

// SweepFailure records a business whose evaluation errored; the sweep
// continues past it.
type SweepFailure struct {
	BusinessID string `json:"business_id"`
	Error      string `json:"error"`
}

// SweepReport summarizes one detection pass.
type SweepReport struct {
	BusinessesChecked int            `json:"businesses_checked"`
	AttacksDetected   int            `json:"attacks_detected"`
	IncidentsCreated  int            `json:"incidents_created"`
	Details           []SweepDetail  `json:"details"`
	Failures          []SweepFailure `json:"failures,omitempty"`
}
