package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/elasticsearch"
	"github.com/reviewguard/reviewguard/internal/logger"
	"github.com/reviewguard/reviewguard/internal/metrics"
	"github.com/reviewguard/reviewguard/internal/service"
	"github.com/reviewguard/reviewguard/internal/sweeper"
)

var testMetrics = metrics.New()

// apiStore is a minimal in-memory store backing the handler tests.
type apiStore struct {
	businesses map[string]*domain.Business
	incidents  map[string]*domain.Incident
	locks      map[string]string
	aggregates map[string]*elasticsearch.ReviewAggregates
	active     []string
	heldOnce   bool
}

func newAPIStore() *apiStore {
	return &apiStore{
		businesses: map[string]*domain.Business{},
		incidents:  map[string]*domain.Incident{},
		locks:      map[string]string{},
		aggregates: map[string]*elasticsearch.ReviewAggregates{},
	}
}

func (s *apiStore) Ping(context.Context) error        { return nil }
func (s *apiStore) HealthCheck(context.Context) error { return nil }

func (s *apiStore) GetBusiness(_ context.Context, id string) (*domain.Business, error) {
	b, ok := s.businesses[id]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *apiStore) UpdateBusiness(_ context.Context, id string, fields map[string]any) error {
	b, ok := s.businesses[id]
	if !ok {
		return domain.ErrBusinessNotFound
	}
	if v, ok := fields["rating_protected"].(bool); ok {
		b.RatingProtected = v
	}
	return nil
}

func (s *apiStore) AggregateReviewMetrics(_ context.Context, id string, _ int) (*elasticsearch.ReviewAggregates, error) {
	if aggs, ok := s.aggregates[id]; ok {
		copied := *aggs
		return &copied, nil
	}
	return &elasticsearch.ReviewAggregates{}, nil
}

func (s *apiStore) FindOpenIncident(_ context.Context, businessID string) (*domain.Incident, error) {
	for _, inc := range s.incidents {
		if inc.BusinessID == businessID && inc.IsOpen() {
			copied := *inc
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *apiStore) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	inc, ok := s.incidents[id]
	if !ok {
		return nil, domain.ErrIncidentNotFound
	}
	copied := *inc
	return &copied, nil
}

func (s *apiStore) IndexIncident(_ context.Context, incident *domain.Incident) error {
	copied := *incident
	s.incidents[incident.IncidentID] = &copied
	return nil
}

func (s *apiStore) UpdateIncident(_ context.Context, id string, fields map[string]any) error {
	inc, ok := s.incidents[id]
	if !ok {
		return domain.ErrIncidentNotFound
	}
	if v, ok := fields["status"].(string); ok {
		inc.Status = domain.IncidentStatus(v)
	}
	if v, ok := fields["severity"].(string); ok {
		inc.Severity = domain.IncidentSeverity(v)
	}
	if v, ok := fields["resolution"].(string); ok {
		inc.Resolution = v
	}
	if v, ok := fields["metrics"].(domain.IncidentMetrics); ok {
		inc.Metrics = v
	}
	if v, ok := fields["response_actions"].([]string); ok {
		inc.ResponseActions = v
	}
	if v, ok := fields["resolved_at"].(time.Time); ok {
		inc.ResolvedAt = &v
	}
	return nil
}

func (s *apiStore) DeleteIncident(_ context.Context, id string) error {
	if _, ok := s.incidents[id]; !ok {
		return domain.ErrIncidentNotFound
	}
	delete(s.incidents, id)
	return nil
}

func (s *apiStore) SearchIncidents(_ context.Context, filter domain.IncidentFilter) (*domain.IncidentSearchResult, error) {
	result := &domain.IncidentSearchResult{Incidents: []*domain.Incident{}, Page: 1, PageSize: 20}
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		copied := *inc
		result.Incidents = append(result.Incidents, &copied)
	}
	result.Total = int64(len(result.Incidents))
	return result, nil
}

func (s *apiStore) AcquireOpenLock(_ context.Context, businessID, incidentID string) error {
	if _, held := s.locks[businessID]; held {
		return domain.ErrLockHeld
	}
	s.locks[businessID] = incidentID
	return nil
}

func (s *apiStore) GetOpenLock(_ context.Context, businessID string) (string, error) {
	return s.locks[businessID], nil
}

func (s *apiStore) ReleaseOpenLock(_ context.Context, businessID string) error {
	delete(s.locks, businessID)
	return nil
}

func (s *apiStore) EnsureIndexes(context.Context) error { return nil }

func (s *apiStore) HoldReviews(_ context.Context, _ string, _ time.Duration, _ float64, _ string) (int, error) {
	if s.heldOnce {
		return 0, nil
	}
	s.heldOnce = true
	return 8, nil
}

func (s *apiStore) BusinessesWithRecentActivity(_ context.Context, _, limit int) ([]string, error) {
	if limit < len(s.active) {
		return s.active[:limit], nil
	}
	return s.active, nil
}

func (s *apiStore) IncidentStatusCounts(context.Context) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, inc := range s.incidents {
		counts[string(inc.Status)]++
	}
	return counts, nil
}

func (s *apiStore) CountProtectedBusinesses(context.Context) (int64, error) {
	var n int64
	for _, b := range s.businesses {
		if b.RatingProtected {
			n++
		}
	}
	return n, nil
}

func (s *apiStore) CountHeldReviews(context.Context) (int64, error) { return 0, nil }

func newTestRouter(t *testing.T, store *apiStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	classifier := detect.NewClassifier(detect.DefaultThresholds())
	detection := config.DetectionConfig{
		Thresholds:           detect.DefaultThresholds(),
		DefaultLookbackHours: 24,
		MaxLookbackHours:     168,
	}
	response := config.ResponseConfig{
		HoldWindow:       config.Duration(time.Hour),
		HoldMaxStars:     2.0,
		ProtectionReason: "automated review bomb mitigation",
		HoldReason:       "suspected review bomb",
	}
	sweep := config.SweepConfig{MaxBusinesses: 100, Workers: 4, Timeout: config.Duration(5 * time.Second)}

	statsService := service.NewStatsService(store, classifier, detection, log)
	ledgerService := service.NewLedgerService(store, log)
	responseService := service.NewResponseService(store, ledgerService, response, log)
	sweepService := service.NewSweepService(
		store, statsService, ledgerService, responseService,
		classifier, sweep, testMetrics, log)
	runner := sweeper.NewRunner(sweepService, time.Hour, log)

	handler := NewHandler(statsService, ledgerService, sweepService, runner, store, "test", log)

	router := gin.New()
	SetupRoutes(router, handler, testMetrics.Handler())
	return router
}

func attackedStore() *apiStore {
	store := newAPIStore()
	store.businesses["b1"] = &domain.Business{BusinessID: "b1", Name: "Test Bistro"}
	store.aggregates["b1"] = &elasticsearch.ReviewAggregates{
		TotalReviews:    100,
		AverageRating:   4.5,
		RecentCount:     8,
		RecentAverage:   1.0,
		UniqueReviewers: 7,
		SuspiciousCount: 6,
	}
	return store
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDetectEndpointRunsSweep(t *testing.T) {
	store := attackedStore()
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodPost, "/api/v1/detect", `{"business_id":"b1","hours":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.BusinessesChecked)
	assert.Equal(t, 1, report.AttacksDetected)
	assert.Equal(t, 1, report.IncidentsCreated)
	require.Len(t, report.Details, 1)
	assert.Equal(t, domain.OutcomeIncidentCreated, report.Details[0].Outcome)
	assert.True(t, store.businesses["b1"].RatingProtected)
}

func TestDetectEndpointReportsPerBusinessFailures(t *testing.T) {
	store := attackedStore()
	store.active = []string{"b1", "ghost"}
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodPost, "/api/v1/detect", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.BusinessesChecked)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "ghost", report.Failures[0].BusinessID)
}

func TestBusinessStatsEndpointIsReadOnly(t *testing.T) {
	store := attackedStore()
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodGet, "/api/v1/businesses/b1/stats?hours=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.BusinessStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.IsUnderAttack)
	assert.InDelta(t, 8.0, stats.ReviewVelocity, 1e-9)

	// Reading stats never opens an incident.
	assert.Empty(t, store.incidents)
}

func TestBusinessStatsEndpointNotFound(t *testing.T) {
	router := newTestRouter(t, newAPIStore())

	rec := doRequest(router, http.MethodGet, "/api/v1/businesses/ghost/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBusinessStatsEndpointRejectsBadHours(t *testing.T) {
	router := newTestRouter(t, attackedStore())

	rec := doRequest(router, http.MethodGet, "/api/v1/businesses/b1/stats?hours=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	store := attackedStore()
	router := newTestRouter(t, store)

	// Detect to open an incident.
	rec := doRequest(router, http.MethodPost, "/api/v1/detect", `{"business_id":"b1","hours":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	incidentID := report.Details[0].IncidentID

	rec = doRequest(router, http.MethodGet, "/api/v1/incidents/"+incidentID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodPatch, "/api/v1/incidents/"+incidentID, `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/v1/incidents/"+incidentID+"/resolve", `{"resolution":"confirmed_attack"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved domain.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, domain.StatusResolved, resolved.Status)

	// Patching a terminal incident conflicts.
	rec = doRequest(router, http.MethodPatch, "/api/v1/incidents/"+incidentID, `{"status":"investigating"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(router, http.MethodDelete, "/api/v1/incidents/"+incidentID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/incidents/"+incidentID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListIncidentsRejectsUnknownStatus(t *testing.T) {
	router := newTestRouter(t, newAPIStore())

	rec := doRequest(router, http.MethodGet, "/api/v1/incidents?status=exploded", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualIncidentCreation(t *testing.T) {
	store := newAPIStore()
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodPost, "/api/v1/incidents",
		`{"business_id":"b9","business_name":"Corner Deli","severity":"high"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// A second create for the same business returns the open incident.
	rec = doRequest(router, http.MethodPost, "/api/v1/incidents",
		`{"business_id":"b9","business_name":"Corner Deli"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/v1/incidents", `{"business_name":"No ID"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweeperControlEndpoints(t *testing.T) {
	router := newTestRouter(t, newAPIStore())

	rec := doRequest(router, http.MethodGet, "/api/v1/sweeper/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status sweeper.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)

	rec = doRequest(router, http.MethodPost, "/api/v1/sweeper/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/sweeper/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)

	rec = doRequest(router, http.MethodPost, "/api/v1/sweeper/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/sweeper/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
}

func TestHealthAndAdminEndpoints(t *testing.T) {
	store := attackedStore()
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	doRequest(router, http.MethodPost, "/api/v1/detect", `{"business_id":"b1","hours":1}`)

	rec = doRequest(router, http.MethodGet, "/api/v1/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats AdminStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.OpenIncidents)
	assert.Equal(t, int64(1), stats.ProtectedBusinesses)
}
