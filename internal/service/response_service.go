package service

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
)

// ResponseStore is the store surface mitigation actions write through.
type ResponseStore interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	UpdateBusiness(ctx context.Context, businessID string, fields map[string]any) error
	HoldReviews(ctx context.Context, businessID string, window time.Duration, maxStars float64, reason string) (int, error)
}

// ResponseOutcome reports what one mitigation pass did.
type ResponseOutcome struct {
	BusinessProtected bool
	ReviewsHeld       int
	Actions           []string
	// Errors carries per-action failures; actions fail independently.
	Errors []error
}

// ResponseService applies the mitigation actions for a verified attack:
// rating protection on the business and a hold transition on qualifying
// recent reviews. Both actions are idempotent against the store state.
type ResponseService struct {
	store  ResponseStore
	ledger *LedgerService
	cfg    config.ResponseConfig
	logger logger.Logger
}

// NewResponseService creates a new response service.
func NewResponseService(store ResponseStore, ledger *LedgerService, cfg config.ResponseConfig, log logger.Logger) *ResponseService {
	return &ResponseService{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		logger: log,
	}
}

// Execute runs both mitigation actions for the incident's business and
// records the outcomes on the incident. Each action's failure is captured
// and the others still run; only recording the actions can fail the call.
func (s *ResponseService) Execute(ctx context.Context, incident *domain.Incident) (*ResponseOutcome, error) {
	outcome := &ResponseOutcome{}

	if err := s.protectBusiness(ctx, incident.BusinessID); err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Errorf("protect business: %w", err))
		s.logger.Error("rating protection failed",
			logger.String("business_id", incident.BusinessID),
			logger.String("incident_id", incident.IncidentID),
			logger.Error(err))
	} else {
		outcome.BusinessProtected = true
		outcome.Actions = append(outcome.Actions, "business_protected")
	}

	held, err := s.store.HoldReviews(ctx, incident.BusinessID, s.cfg.HoldWindow.Std(), s.cfg.HoldMaxStars, s.cfg.HoldReason)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Errorf("hold reviews: %w", err))
		s.logger.Error("review hold failed",
			logger.String("business_id", incident.BusinessID),
			logger.String("incident_id", incident.IncidentID),
			logger.Error(err))
	} else {
		outcome.ReviewsHeld = held
		outcome.Actions = append(outcome.Actions, fmt.Sprintf("held_%d_reviews", held))
	}

	if len(outcome.Actions) > 0 {
		if err := s.ledger.AppendResponseActions(ctx, incident, outcome.Actions); err != nil {
			return outcome, err
		}
	}

	s.logger.Info("mitigations applied",
		logger.String("business_id", incident.BusinessID),
		logger.String("incident_id", incident.IncidentID),
		logger.Bool("protected", outcome.BusinessProtected),
		logger.Int("reviews_held", outcome.ReviewsHeld))

	return outcome, nil
}

// protectBusiness flags the business as rating-protected. protected_since is
// set only on the first protection, so repeat detections never reset the
// clock.
func (s *ResponseService) protectBusiness(ctx context.Context, businessID string) error {
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return err
	}

	if business.RatingProtected {
		return nil
	}

	fields := map[string]any{
		"rating_protected":  true,
		"protection_reason": s.cfg.ProtectionReason,
		"protected_since":   time.Now().UTC(),
	}
	return s.store.UpdateBusiness(ctx, businessID, fields)
}
