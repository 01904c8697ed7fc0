package domain

import "math"

// BusinessStats is the ephemeral per-evaluation snapshot of review activity
// for one business over two ranges: all-time and a recent lookback window.
// Values are unrounded; callers round only for display (see ForDisplay) so the
// classifier never flaps on rounding boundaries.
type BusinessStats struct {
	BusinessID   string `json:"business_id"`
	BusinessName string `json:"business_name"`

	TotalReviews  int     `json:"total_reviews"`
	AverageRating float64 `json:"average_rating"`

	RecentReviewCount     int     `json:"recent_review_count"`
	RecentAverageRating   float64 `json:"recent_average_rating"`
	RatingTrend           float64 `json:"rating_trend"`
	ReviewVelocity        float64 `json:"review_velocity"`
	SuspiciousReviewCount int     `json:"suspicious_review_count"`
	UniqueReviewers       int     `json:"unique_reviewers"`

	WindowHours   int  `json:"window_hours"`
	IsUnderAttack bool `json:"is_under_attack"`
}

// ForDisplay returns a copy with float fields rounded to two decimals.
func (s BusinessStats) ForDisplay() BusinessStats {
	s.AverageRating = Round2(s.AverageRating)
	s.RecentAverageRating = Round2(s.RecentAverageRating)
	s.RatingTrend = Round2(s.RatingTrend)
	s.ReviewVelocity = Round2(s.ReviewVelocity)
	return s
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
