// Package detect implements the attack-verdict heuristic over a metrics
// snapshot. The thresholds are deliberately simple workshop heuristics, not
// calibrated statistics; the boundary semantics (> vs >=) are the contract.
package detect

import "github.com/reviewguard/reviewguard/internal/domain"

// Thresholds are the tunable attack-detection parameters.
type Thresholds struct {
	// MinRecentReviews gates the verdict: below this, never an attack.
	MinRecentReviews int `yaml:"min_recent_reviews"`
	// TrendDrop is the negative rating-trend trigger (attack if trend < -TrendDrop).
	TrendDrop float64 `yaml:"trend_drop"`
	// VelocityAttack is the reviews/hour trigger (attack if velocity > this).
	VelocityAttack float64 `yaml:"velocity_attack"`
	// SuspiciousAttack is the simulated-review count trigger (attack if count > this).
	SuspiciousAttack float64 `yaml:"suspicious_attack"`

	// Severity ladder, checked critical-first.
	VelocityCritical float64 `yaml:"velocity_critical"`
	CountCritical    int     `yaml:"count_critical"`
	VelocityHigh     float64 `yaml:"velocity_high"`
	CountHigh        int     `yaml:"count_high"`
	TrendHigh        float64 `yaml:"trend_high"`
}

// DefaultThresholds returns the workshop defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRecentReviews: 5,
		TrendDrop:        1.0,
		VelocityAttack:   2.0,
		SuspiciousAttack: 3,
		VelocityCritical: 5.0,
		CountCritical:    20,
		VelocityHigh:     3.0,
		CountHigh:        10,
		TrendHigh:        2.0,
	}
}

// Verdict is the classifier output for one snapshot.
type Verdict struct {
	IsUnderAttack bool
	Severity      domain.IncidentSeverity
}

// Classifier maps snapshots to attack verdicts. It is pure and safe for
// concurrent use.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Classify evaluates a snapshot. A snapshot with zero recent reviews is never
// an attack, regardless of the other fields. Unrounded values must be passed
// in; rounding happens only at the display boundary.
func (c *Classifier) Classify(stats *domain.BusinessStats) Verdict {
	t := c.thresholds

	if stats.RecentReviewCount < t.MinRecentReviews {
		return Verdict{}
	}

	attack := stats.RatingTrend < -t.TrendDrop ||
		stats.ReviewVelocity > t.VelocityAttack ||
		float64(stats.SuspiciousReviewCount) > t.SuspiciousAttack
	if !attack {
		return Verdict{}
	}

	return Verdict{
		IsUnderAttack: true,
		Severity:      c.severity(stats),
	}
}

// severity walks the ladder top-down; first match wins. The LOW fallback is
// unreachable once the attack gate passed, but stays a defined default.
func (c *Classifier) severity(stats *domain.BusinessStats) domain.IncidentSeverity {
	t := c.thresholds

	switch {
	case stats.ReviewVelocity > t.VelocityCritical || stats.RecentReviewCount > t.CountCritical:
		return domain.SeverityCritical
	case stats.ReviewVelocity > t.VelocityHigh ||
		stats.RecentReviewCount > t.CountHigh ||
		stats.RatingTrend < -t.TrendHigh:
		return domain.SeverityHigh
	case stats.RecentReviewCount >= t.MinRecentReviews ||
		float64(stats.SuspiciousReviewCount) > t.SuspiciousAttack:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
