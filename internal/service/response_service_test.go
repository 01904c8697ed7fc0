package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
)

func testResponseConfig() config.ResponseConfig {
	return config.ResponseConfig{
		HoldWindow:       config.Duration(time.Hour),
		HoldMaxStars:     2.0,
		ProtectionReason: "automated review bomb mitigation",
		HoldReason:       "suspected review bomb",
	}
}

func newResponseFixture(store *fakeStore) (*ResponseService, *LedgerService) {
	ledger := NewLedgerService(store, logger.NewNop())
	return NewResponseService(store, ledger, testResponseConfig(), logger.NewNop()), ledger
}

func openIncident(t *testing.T, store *fakeStore, ledger *LedgerService, businessID string) *domain.Incident {
	t.Helper()
	incident, _, err := ledger.CreateOrUpdate(context.Background(), attackSnapshot(businessID), attackVerdict())
	require.NoError(t, err)
	return incident
}

func TestExecuteAppliesBothMitigations(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.holdReturns = []int{8}
	responses, ledger := newResponseFixture(store)
	incident := openIncident(t, store, ledger, "b1")

	outcome, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)

	assert.True(t, outcome.BusinessProtected)
	assert.Equal(t, 8, outcome.ReviewsHeld)
	assert.Equal(t, []string{"business_protected", "held_8_reviews"}, outcome.Actions)
	assert.Empty(t, outcome.Errors)

	business := store.businesses["b1"]
	assert.True(t, business.RatingProtected)
	assert.Equal(t, "automated review bomb mitigation", business.ProtectionReason)
	require.NotNil(t, business.ProtectedSince)

	stored := store.incidents[incident.IncidentID]
	assert.Equal(t, outcome.Actions, stored.ResponseActions)
	assert.NotNil(t, stored.ResponseExecutedAt)
}

func TestExecuteKeepsProtectedSinceOnRepeat(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.holdReturns = []int{8, 0}
	responses, ledger := newResponseFixture(store)
	incident := openIncident(t, store, ledger, "b1")

	_, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)
	firstSince := *store.businesses["b1"].ProtectedSince

	outcome, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)
	assert.Equal(t, firstSince, *store.businesses["b1"].ProtectedSince)

	// Already-held reviews do not re-qualify on the second pass.
	assert.Equal(t, 0, outcome.ReviewsHeld)
	assert.Contains(t, outcome.Actions, "held_0_reviews")
}

func TestExecuteActionsFailIndependently(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.holdErr = errors.New("update_by_query rejected")
	responses, ledger := newResponseFixture(store)
	incident := openIncident(t, store, ledger, "b1")

	outcome, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)

	// Protection still landed and was recorded despite the hold failing.
	assert.True(t, outcome.BusinessProtected)
	assert.Equal(t, []string{"business_protected"}, outcome.Actions)
	require.Len(t, outcome.Errors, 1)
	assert.ErrorContains(t, outcome.Errors[0], "hold reviews")
	assert.Equal(t, []string{"business_protected"}, store.incidents[incident.IncidentID].ResponseActions)
}

func TestExecuteHoldRunsWhenProtectionFails(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.updateErr = errors.New("patch rejected")
	store.holdReturns = []int{3}
	responses, ledger := newResponseFixture(store)
	incident := openIncident(t, store, ledger, "b1")

	outcome, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)

	assert.False(t, outcome.BusinessProtected)
	assert.Equal(t, 3, outcome.ReviewsHeld)
	assert.Equal(t, []string{"held_3_reviews"}, outcome.Actions)
	require.Len(t, outcome.Errors, 1)
	assert.ErrorContains(t, outcome.Errors[0], "protect business")
}

func TestExecuteAppendsToExistingActions(t *testing.T) {
	store := newFakeStore()
	store.addBusiness("b1", "Test Bistro")
	store.holdReturns = []int{5, 2}
	responses, ledger := newResponseFixture(store)
	incident := openIncident(t, store, ledger, "b1")

	_, err := responses.Execute(context.Background(), incident)
	require.NoError(t, err)
	_, err = responses.Execute(context.Background(), incident)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"business_protected", "held_5_reviews", "business_protected", "held_2_reviews"},
		store.incidents[incident.IncidentID].ResponseActions)
}
