package service

import (
	"context"
	"sync"
	"time"

	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/elasticsearch"
)

// fakeStore is an in-memory stand-in for the Elasticsearch store used across
// the service tests. It implements StatsStore, LedgerStore, ResponseStore,
// and SweepStore.
type fakeStore struct {
	mu sync.Mutex

	businesses map[string]*domain.Business
	incidents  map[string]*domain.Incident
	locks      map[string]string
	aggregates map[string]*elasticsearch.ReviewAggregates
	active     []string

	// hiddenFromSearch simulates near-real-time lag: the incident exists by
	// id but the dedup search does not surface it yet.
	hiddenFromSearch map[string]bool

	// holdReturns feeds successive HoldReviews results; once exhausted the
	// fake returns 0, matching already-held reviews not re-qualifying.
	holdReturns []int
	holdCalls   int

	ensured      bool
	indexMissing bool

	// indexErrs feeds successive IndexIncident failures before the write
	// lands, modeling transient store errors.
	indexErrs []error

	aggregateErr error
	holdErr      error
	businessErr  error
	updateErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		businesses:       map[string]*domain.Business{},
		incidents:        map[string]*domain.Incident{},
		locks:            map[string]string{},
		aggregates:       map[string]*elasticsearch.ReviewAggregates{},
		hiddenFromSearch: map[string]bool{},
	}
}

func (f *fakeStore) addBusiness(id, name string) {
	f.businesses[id] = &domain.Business{BusinessID: id, Name: name}
}

func (f *fakeStore) GetBusiness(_ context.Context, businessID string) (*domain.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.businessErr != nil {
		return nil, f.businessErr
	}
	b, ok := f.businesses[businessID]
	if !ok {
		return nil, domain.ErrBusinessNotFound
	}
	copied := *b
	return &copied, nil
}

func (f *fakeStore) UpdateBusiness(_ context.Context, businessID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	b, ok := f.businesses[businessID]
	if !ok {
		return domain.ErrBusinessNotFound
	}
	if v, ok := fields["rating_protected"].(bool); ok {
		b.RatingProtected = v
	}
	if v, ok := fields["protection_reason"].(string); ok {
		b.ProtectionReason = v
	}
	if v, ok := fields["protected_since"].(time.Time); ok {
		b.ProtectedSince = &v
	}
	return nil
}

func (f *fakeStore) AggregateReviewMetrics(_ context.Context, businessID string, _ int) (*elasticsearch.ReviewAggregates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aggregateErr != nil {
		return nil, f.aggregateErr
	}
	if aggs, ok := f.aggregates[businessID]; ok {
		copied := *aggs
		return &copied, nil
	}
	return &elasticsearch.ReviewAggregates{}, nil
}

func (f *fakeStore) FindOpenIncident(_ context.Context, businessID string) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *domain.Incident
	for _, inc := range f.incidents {
		if inc.BusinessID != businessID || !inc.IsOpen() || f.hiddenFromSearch[inc.IncidentID] {
			continue
		}
		if newest == nil || inc.DetectedAt.After(newest.DetectedAt) {
			newest = inc
		}
	}
	if newest == nil {
		return nil, nil
	}
	copied := *newest
	return &copied, nil
}

func (f *fakeStore) GetIncident(_ context.Context, incidentID string) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[incidentID]
	if !ok {
		return nil, domain.ErrIncidentNotFound
	}
	copied := *inc
	return &copied, nil
}

func (f *fakeStore) IndexIncident(_ context.Context, incident *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexMissing && !f.ensured {
		return domain.ErrIncidentIndexMissing
	}
	if len(f.indexErrs) > 0 {
		err := f.indexErrs[0]
		f.indexErrs = f.indexErrs[1:]
		return err
	}
	copied := *incident
	f.incidents[incident.IncidentID] = &copied
	return nil
}

func (f *fakeStore) UpdateIncident(_ context.Context, incidentID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[incidentID]
	if !ok {
		return domain.ErrIncidentNotFound
	}
	for key, value := range fields {
		switch key {
		case "status":
			inc.Status = domain.IncidentStatus(value.(string))
		case "severity":
			inc.Severity = domain.IncidentSeverity(value.(string))
		case "metrics":
			inc.Metrics = value.(domain.IncidentMetrics)
		case "description":
			inc.Description = value.(string)
		case "notes":
			inc.Notes = value.(string)
		case "resolution":
			inc.Resolution = value.(string)
		case "response_actions":
			inc.ResponseActions = value.([]string)
		case "resolved_at":
			ts := value.(time.Time)
			inc.ResolvedAt = &ts
		case "response_executed_at":
			ts := value.(time.Time)
			inc.ResponseExecutedAt = &ts
		case "last_updated":
			ts := value.(time.Time)
			inc.LastUpdated = &ts
		}
	}
	return nil
}

func (f *fakeStore) DeleteIncident(_ context.Context, incidentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.incidents[incidentID]; !ok {
		return domain.ErrIncidentNotFound
	}
	delete(f.incidents, incidentID)
	return nil
}

func (f *fakeStore) SearchIncidents(_ context.Context, filter domain.IncidentFilter) (*domain.IncidentSearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := &domain.IncidentSearchResult{Incidents: []*domain.Incident{}, Page: 1, PageSize: 20}
	for _, inc := range f.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			continue
		}
		if filter.BusinessID != "" && inc.BusinessID != filter.BusinessID {
			continue
		}
		copied := *inc
		result.Incidents = append(result.Incidents, &copied)
	}
	result.Total = int64(len(result.Incidents))
	return result, nil
}

func (f *fakeStore) AcquireOpenLock(_ context.Context, businessID, incidentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[businessID]; held {
		return domain.ErrLockHeld
	}
	f.locks[businessID] = incidentID
	return nil
}

func (f *fakeStore) GetOpenLock(_ context.Context, businessID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[businessID], nil
}

func (f *fakeStore) ReleaseOpenLock(_ context.Context, businessID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, businessID)
	return nil
}

func (f *fakeStore) EnsureIndexes(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = true
	return nil
}

func (f *fakeStore) HoldReviews(_ context.Context, _ string, _ time.Duration, _ float64, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdErr != nil {
		return 0, f.holdErr
	}
	defer func() { f.holdCalls++ }()
	if f.holdCalls < len(f.holdReturns) {
		return f.holdReturns[f.holdCalls], nil
	}
	return 0, nil
}

func (f *fakeStore) BusinessesWithRecentActivity(_ context.Context, _, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.active) {
		return append([]string{}, f.active[:limit]...), nil
	}
	return append([]string{}, f.active...), nil
}
