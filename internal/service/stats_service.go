// Package service implements the detection pipeline: metrics snapshots,
// incident lifecycle, mitigation execution, and the sweep driver that ties
// them together.
package service

import (
	"context"
	"fmt"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/elasticsearch"
	"github.com/reviewguard/reviewguard/internal/logger"
)

// StatsStore is the store surface the metrics aggregator reads from.
type StatsStore interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	AggregateReviewMetrics(ctx context.Context, businessID string, windowHours int) (*elasticsearch.ReviewAggregates, error)
}

// StatsService computes per-business review-activity snapshots. It is
// read-only against the store.
type StatsService struct {
	store      StatsStore
	classifier *detect.Classifier
	cfg        config.DetectionConfig
	logger     logger.Logger
}

// NewStatsService creates a new stats service.
func NewStatsService(store StatsStore, classifier *detect.Classifier, cfg config.DetectionConfig, log logger.Logger) *StatsService {
	return &StatsService{
		store:      store,
		classifier: classifier,
		cfg:        cfg,
		logger:     log,
	}
}

// ClampWindow bounds a requested lookback window to the configured range.
// Zero or negative falls back to the default.
func (s *StatsService) ClampWindow(hours int) int {
	if hours <= 0 {
		return s.cfg.DefaultLookbackHours
	}
	if hours > s.cfg.MaxLookbackHours {
		return s.cfg.MaxLookbackHours
	}
	return hours
}

// Snapshot computes the activity snapshot for one business over the given
// lookback window and evaluates the attack verdict. All derived floats stay
// unrounded; ForDisplay rounds at the API boundary.
func (s *StatsService) Snapshot(ctx context.Context, businessID string, windowHours int) (*domain.BusinessStats, error) {
	windowHours = s.ClampWindow(windowHours)

	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	aggs, err := s.store.AggregateReviewMetrics(ctx, businessID, windowHours)
	if err != nil {
		return nil, fmt.Errorf("aggregate metrics for %s: %w", businessID, err)
	}

	stats := &domain.BusinessStats{
		BusinessID:    businessID,
		BusinessName:  business.Name,
		TotalReviews:  aggs.TotalReviews,
		AverageRating: aggs.AverageRating,
		WindowHours:   windowHours,
	}

	// No recent activity zeroes the derived fields; the verdict never fires
	// on an empty window.
	if aggs.RecentCount > 0 {
		stats.RecentReviewCount = aggs.RecentCount
		stats.RecentAverageRating = aggs.RecentAverage
		stats.RatingTrend = aggs.RecentAverage - aggs.AverageRating
		stats.ReviewVelocity = float64(aggs.RecentCount) / float64(windowHours)
		stats.SuspiciousReviewCount = aggs.SuspiciousCount
		stats.UniqueReviewers = aggs.UniqueReviewers
	}

	verdict := s.classifier.Classify(stats)
	stats.IsUnderAttack = verdict.IsUnderAttack

	s.logger.Debug("computed business snapshot",
		logger.String("business_id", businessID),
		logger.Int("window_hours", windowHours),
		logger.Int("recent_reviews", stats.RecentReviewCount),
		logger.Bool("under_attack", stats.IsUnderAttack))

	return stats, nil
}
