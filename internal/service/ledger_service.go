package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
	"github.com/reviewguard/reviewguard/internal/retry"
)

// LedgerStore is the store surface the incident ledger writes through.
type LedgerStore interface {
	FindOpenIncident(ctx context.Context, businessID string) (*domain.Incident, error)
	GetIncident(ctx context.Context, incidentID string) (*domain.Incident, error)
	IndexIncident(ctx context.Context, incident *domain.Incident) error
	UpdateIncident(ctx context.Context, incidentID string, fields map[string]any) error
	DeleteIncident(ctx context.Context, incidentID string) error
	SearchIncidents(ctx context.Context, filter domain.IncidentFilter) (*domain.IncidentSearchResult, error)
	AcquireOpenLock(ctx context.Context, businessID, incidentID string) error
	GetOpenLock(ctx context.Context, businessID string) (string, error)
	ReleaseOpenLock(ctx context.Context, businessID string) error
	EnsureIndexes(ctx context.Context) error
}

// LedgerService manages the incident lifecycle: dedup against open
// incidents, creation, metrics refresh, operator updates, and resolution.
type LedgerService struct {
	store  LedgerStore
	logger logger.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store LedgerStore, log logger.Logger) *LedgerService {
	return &LedgerService{store: store, logger: log}
}

// newIncidentID allocates an opaque incident id.
func newIncidentID() string {
	return "inc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateOrUpdate resolves an attack-positive snapshot to exactly one open
// incident. An existing open incident gets its metrics overwritten in place
// with status and detected_at untouched; otherwise a fresh incident is
// created behind the per-business guard document, so two concurrent sweeps
// cannot open two incidents for the same business.
func (s *LedgerService) CreateOrUpdate(ctx context.Context, stats *domain.BusinessStats, verdict detect.Verdict) (*domain.Incident, bool, error) {
	existing, err := s.store.FindOpenIncident(ctx, stats.BusinessID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return s.refresh(ctx, existing, stats, verdict)
	}

	incident := buildIncident(stats, verdict)

	if err := s.store.AcquireOpenLock(ctx, stats.BusinessID, incident.IncidentID); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return s.adoptWinner(ctx, stats, verdict)
		}
		return nil, false, err
	}

	if err := s.persistNew(ctx, incident); err != nil {
		// Creation failed after the guard was written; release it so the
		// business is not wedged.
		if releaseErr := s.store.ReleaseOpenLock(ctx, stats.BusinessID); releaseErr != nil {
			s.logger.Warn("failed to release guard after aborted incident create",
				logger.String("business_id", stats.BusinessID),
				logger.Error(releaseErr))
		}
		return nil, false, err
	}

	s.logger.Info("incident created",
		logger.String("incident_id", incident.IncidentID),
		logger.String("business_id", incident.BusinessID),
		logger.String("severity", string(incident.Severity)))

	return incident, true, nil
}

// persistNew writes a fresh incident. A transient store failure is retried
// once; a missing incidents index is provisioned and the write repeated.
func (s *LedgerService) persistNew(ctx context.Context, incident *domain.Incident) error {
	err := s.indexIncident(ctx, incident)
	if errors.Is(err, domain.ErrIncidentIndexMissing) {
		if ensureErr := s.store.EnsureIndexes(ctx); ensureErr != nil {
			return fmt.Errorf("provision incidents index: %w", ensureErr)
		}
		err = s.indexIncident(ctx, incident)
	}
	return err
}

// indexIncident runs the incident write with a single retry on transient
// errors. Index-missing and mapping errors return immediately.
func (s *LedgerService) indexIncident(ctx context.Context, incident *domain.Incident) error {
	return retry.Retry(ctx, retry.Config{
		MaxAttempts:  2,
		InitialDelay: 100 * time.Millisecond,
		IsRetryable:  retry.DefaultIsRetryable,
	}, func() error {
		return s.store.IndexIncident(ctx, incident)
	})
}

// adoptWinner resolves a lost guard race to the incident the winning sweep
// created and refreshes its metrics.
func (s *LedgerService) adoptWinner(ctx context.Context, stats *domain.BusinessStats, verdict detect.Verdict) (*domain.Incident, bool, error) {
	winnerID, err := s.store.GetOpenLock(ctx, stats.BusinessID)
	if err != nil {
		return nil, false, err
	}

	if winnerID != "" {
		winner, getErr := s.store.GetIncident(ctx, winnerID)
		if getErr == nil {
			return s.refresh(ctx, winner, stats, verdict)
		}
		if !errors.Is(getErr, domain.ErrIncidentNotFound) {
			return nil, false, getErr
		}
	}

	// Guard exists but its incident does not: the winner crashed mid-create
	// or the incident was resolved meanwhile. Fall back to the dedup lookup.
	existing, err := s.store.FindOpenIncident(ctx, stats.BusinessID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return s.refresh(ctx, existing, stats, verdict)
	}
	return nil, false, fmt.Errorf("open incident guard held for %s but no open incident found", stats.BusinessID)
}

// refresh overwrites an open incident's metrics snapshot. Severity only
// escalates; status and detected_at never change here.
func (s *LedgerService) refresh(ctx context.Context, incident *domain.Incident, stats *domain.BusinessStats, verdict detect.Verdict) (*domain.Incident, bool, error) {
	now := time.Now().UTC()
	metrics := buildMetrics(stats)

	fields := map[string]any{
		"metrics":      metrics,
		"last_updated": now,
	}
	severity := incident.Severity
	if verdict.Severity.Rank() > incident.Severity.Rank() {
		severity = verdict.Severity
		fields["severity"] = string(severity)
	}

	if err := s.store.UpdateIncident(ctx, incident.IncidentID, fields); err != nil {
		return nil, false, fmt.Errorf("refresh incident %s: %w", incident.IncidentID, err)
	}

	incident.Metrics = metrics
	incident.Severity = severity
	incident.LastUpdated = &now
	return incident, false, nil
}

// Create opens an incident manually on behalf of an operator. If the
// business already has an open incident, that one is returned instead.
func (s *LedgerService) Create(ctx context.Context, req *domain.IncidentCreate) (*domain.Incident, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.store.FindOpenIncident(ctx, req.BusinessID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	incident := &domain.Incident{
		IncidentID:      newIncidentID(),
		BusinessID:      req.BusinessID,
		BusinessName:    req.BusinessName,
		Status:          domain.StatusDetected,
		Severity:        req.Severity,
		DetectedAt:      now,
		Description:     req.Description,
		ResponseActions: []string{},
	}
	if incident.Description == "" {
		incident.Description = "Manually opened incident"
	}

	if err := s.store.AcquireOpenLock(ctx, req.BusinessID, incident.IncidentID); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			winnerID, lockErr := s.store.GetOpenLock(ctx, req.BusinessID)
			if lockErr == nil && winnerID != "" {
				if winner, getErr := s.store.GetIncident(ctx, winnerID); getErr == nil {
					return winner, false, nil
				}
			}
			return nil, false, domain.ErrLockHeld
		}
		return nil, false, err
	}

	if err := s.persistNew(ctx, incident); err != nil {
		if releaseErr := s.store.ReleaseOpenLock(ctx, req.BusinessID); releaseErr != nil {
			s.logger.Warn("failed to release guard after aborted manual create",
				logger.String("business_id", req.BusinessID),
				logger.Error(releaseErr))
		}
		return nil, false, err
	}

	s.logger.Info("incident created manually",
		logger.String("incident_id", incident.IncidentID),
		logger.String("business_id", incident.BusinessID))

	return incident, true, nil
}

// Get fetches one incident.
func (s *LedgerService) Get(ctx context.Context, incidentID string) (*domain.Incident, error) {
	return s.store.GetIncident(ctx, incidentID)
}

// List returns incidents matching the filter, newest first.
func (s *LedgerService) List(ctx context.Context, filter domain.IncidentFilter) (*domain.IncidentSearchResult, error) {
	return s.store.SearchIncidents(ctx, filter)
}

// Resolve transitions an incident to resolved and clears the business's
// guard document. Resolving a terminal incident is a no-op success and does
// not move resolved_at.
func (s *LedgerService) Resolve(ctx context.Context, incidentID, resolution string) (*domain.Incident, error) {
	incident, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if incident.Status.IsTerminal() {
		return incident, nil
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"status":       string(domain.StatusResolved),
		"resolved_at":  now,
		"last_updated": now,
	}
	if resolution != "" {
		fields["resolution"] = resolution
	}

	if err := s.store.UpdateIncident(ctx, incidentID, fields); err != nil {
		return nil, fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}

	if err := s.store.ReleaseOpenLock(ctx, incident.BusinessID); err != nil {
		s.logger.Warn("failed to release guard on resolve",
			logger.String("incident_id", incidentID),
			logger.String("business_id", incident.BusinessID),
			logger.Error(err))
	}

	incident.Status = domain.StatusResolved
	incident.ResolvedAt = &now
	incident.LastUpdated = &now
	if resolution != "" {
		incident.Resolution = resolution
	}

	s.logger.Info("incident resolved",
		logger.String("incident_id", incidentID),
		logger.String("resolution", resolution))

	return incident, nil
}

// Update applies an operator PATCH. Terminal incidents reject lifecycle
// edits; detected_at is never writable.
func (s *LedgerService) Update(ctx context.Context, incidentID string, update *domain.IncidentUpdate) (*domain.Incident, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	incident, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, domain.ErrIncidentTerminal
	}

	now := time.Now().UTC()
	fields := map[string]any{"last_updated": now}

	if update.Status != nil {
		fields["status"] = string(*update.Status)
		incident.Status = *update.Status
		if update.Status.IsTerminal() {
			fields["resolved_at"] = now
			incident.ResolvedAt = &now
		}
	}
	if update.Severity != nil {
		fields["severity"] = string(*update.Severity)
		incident.Severity = *update.Severity
	}
	if update.Description != nil {
		fields["description"] = *update.Description
		incident.Description = *update.Description
	}
	if update.Notes != nil {
		fields["notes"] = *update.Notes
		incident.Notes = *update.Notes
	}
	if update.ResponseActions != nil {
		fields["response_actions"] = update.ResponseActions
		incident.ResponseActions = update.ResponseActions
	}

	if err := s.store.UpdateIncident(ctx, incidentID, fields); err != nil {
		return nil, fmt.Errorf("update incident %s: %w", incidentID, err)
	}

	if incident.Status.IsTerminal() {
		if err := s.store.ReleaseOpenLock(ctx, incident.BusinessID); err != nil {
			s.logger.Warn("failed to release guard on terminal update",
				logger.String("incident_id", incidentID),
				logger.Error(err))
		}
	}

	incident.LastUpdated = &now
	return incident, nil
}

// Delete removes an incident. Deleting an open incident also clears the
// guard so the business can be detected against again.
func (s *LedgerService) Delete(ctx context.Context, incidentID string) error {
	incident, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteIncident(ctx, incidentID); err != nil {
		return err
	}

	if incident.IsOpen() {
		if err := s.store.ReleaseOpenLock(ctx, incident.BusinessID); err != nil {
			s.logger.Warn("failed to release guard on delete",
				logger.String("incident_id", incidentID),
				logger.Error(err))
		}
	}
	return nil
}

// AppendResponseActions records executed mitigations on an incident.
func (s *LedgerService) AppendResponseActions(ctx context.Context, incident *domain.Incident, actions []string) error {
	if len(actions) == 0 {
		return nil
	}

	now := time.Now().UTC()
	combined := append(append([]string{}, incident.ResponseActions...), actions...)
	fields := map[string]any{
		"response_actions":     combined,
		"response_executed_at": now,
		"last_updated":         now,
	}

	if err := s.store.UpdateIncident(ctx, incident.IncidentID, fields); err != nil {
		return fmt.Errorf("record response actions on %s: %w", incident.IncidentID, err)
	}

	incident.ResponseActions = combined
	incident.ResponseExecutedAt = &now
	incident.LastUpdated = &now
	return nil
}

// buildIncident assembles a fresh incident from an attack-positive snapshot.
func buildIncident(stats *domain.BusinessStats, verdict detect.Verdict) *domain.Incident {
	return &domain.Incident{
		IncidentID:      newIncidentID(),
		BusinessID:      stats.BusinessID,
		BusinessName:    stats.BusinessName,
		Status:          domain.StatusDetected,
		Severity:        verdict.Severity,
		DetectedAt:      time.Now().UTC(),
		Description:     buildDescription(stats),
		Metrics:         buildMetrics(stats),
		ResponseActions: []string{},
	}
}

// buildMetrics summarizes a snapshot into the persisted incident metrics.
// Values round here because the summary is display-facing.
func buildMetrics(stats *domain.BusinessStats) domain.IncidentMetrics {
	drop := stats.AverageRating - stats.RecentAverageRating
	if drop < 0 {
		drop = 0
	}
	return domain.IncidentMetrics{
		ReviewCount:      stats.RecentReviewCount,
		UniqueAttackers:  stats.UniqueReviewers,
		AverageRating:    domain.Round2(stats.RecentAverageRating),
		RatingDrop:       domain.Round2(drop),
		ReviewsPerMinute: domain.Round2(stats.ReviewVelocity / 60),
	}
}

// buildDescription renders the human-readable synthesis shown to operators.
func buildDescription(stats *domain.BusinessStats) string {
	return fmt.Sprintf(
		"Review bomb detected: %d reviews in %dh (%.1f/hour), rating trend %+.2f, %d suspicious reviews",
		stats.RecentReviewCount,
		stats.WindowHours,
		stats.ReviewVelocity,
		stats.RatingTrend,
		stats.SuspiciousReviewCount,
	)
}
