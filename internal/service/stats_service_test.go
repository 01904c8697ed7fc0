package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/elasticsearch"
	"github.com/reviewguard/reviewguard/internal/logger"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		Thresholds:           detect.DefaultThresholds(),
		DefaultLookbackHours: 24,
		MaxLookbackHours:     168,
	}
}

func newStatsFixture(store *fakeStore) *StatsService {
	classifier := detect.NewClassifier(detect.DefaultThresholds())
	return NewStatsService(store, classifier, testDetectionConfig(), logger.NewNop())
}

func TestSnapshotComputesDerivedFields(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.aggregates["b1"] = &elasticsearch.ReviewAggregates{
		TotalReviews:    100,
		AverageRating:   4.5,
		RecentCount:     8,
		RecentAverage:   1.0,
		UniqueReviewers: 7,
		SuspiciousCount: 6,
	}
	stats := newStatsFixture(store)

	snapshot, err := stats.Snapshot(context.Background(), "b1", 1)
	require.NoError(t, err)

	assert.Equal(t, "Test Bistro", snapshot.BusinessName)
	assert.Equal(t, 100, snapshot.TotalReviews)
	assert.Equal(t, 8, snapshot.RecentReviewCount)
	assert.InDelta(t, -3.5, snapshot.RatingTrend, 1e-9)
	assert.InDelta(t, 8.0, snapshot.ReviewVelocity, 1e-9)
	assert.Equal(t, 6, snapshot.SuspiciousReviewCount)
	assert.Equal(t, 1, snapshot.WindowHours)
	assert.True(t, snapshot.IsUnderAttack)
}

func TestSnapshotEmptyWindowZeroesDerivedFields(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.aggregates["b1"] = &elasticsearch.ReviewAggregates{
		TotalReviews:  50,
		AverageRating: 4.2,
		RecentCount:   0,
		// A stale non-zero average must not leak into the snapshot.
		RecentAverage: 3.3,
	}
	stats := newStatsFixture(store)

	snapshot, err := stats.Snapshot(context.Background(), "b1", 24)
	require.NoError(t, err)

	assert.Zero(t, snapshot.RecentReviewCount)
	assert.Zero(t, snapshot.RecentAverageRating)
	assert.Zero(t, snapshot.RatingTrend)
	assert.Zero(t, snapshot.ReviewVelocity)
	assert.False(t, snapshot.IsUnderAttack)
}

func TestSnapshotUnknownBusiness(t *testing.T) {
	stats := newStatsFixture(newFakeStore())

	_, err := stats.Snapshot(context.Background(), "ghost", 24)
	assert.ErrorIs(t, err, domain.ErrBusinessNotFound)
}

func TestSnapshotPropagatesQueryFailure(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.aggregateErr = errors.New("search timeout")
	stats := newStatsFixture(store)

	_, err := stats.Snapshot(context.Background(), "b1", 24)
	assert.ErrorContains(t, err, "search timeout")
}

func TestClampWindow(t *testing.T) {
	stats := newStatsFixture(newFakeStore())

	assert.Equal(t, 24, stats.ClampWindow(0))
	assert.Equal(t, 24, stats.ClampWindow(-5))
	assert.Equal(t, 48, stats.ClampWindow(48))
	assert.Equal(t, 168, stats.ClampWindow(168))
	assert.Equal(t, 168, stats.ClampWindow(9000))
}

func TestForDisplayRoundsWithoutMutating(t *testing.T) {
	snapshot := domain.BusinessStats{
		AverageRating:       4.466666,
		RecentAverageRating: 1.333333,
		RatingTrend:         -3.133333,
		ReviewVelocity:      0.333333,
	}

	display := snapshot.ForDisplay()
	assert.InDelta(t, 4.47, display.AverageRating, 1e-9)
	assert.InDelta(t, 1.33, display.RecentAverageRating, 1e-9)
	assert.InDelta(t, -3.13, display.RatingTrend, 1e-9)
	assert.InDelta(t, 0.33, display.ReviewVelocity, 1e-9)

	// The original keeps full precision for the classifier.
	assert.InDelta(t, 4.466666, snapshot.AverageRating, 1e-9)
}
