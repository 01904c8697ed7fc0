package service

import (
	"context"
	"sync"
	"time"

	"github.com/reviewguard/reviewguard/internal/config"
	"github.com/reviewguard/reviewguard/internal/detect"
	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
	"github.com/reviewguard/reviewguard/internal/metrics"
)

// SweepStore is the store surface the sweep driver discovers candidates from.
type SweepStore interface {
	BusinessesWithRecentActivity(ctx context.Context, windowHours, limit int) ([]string, error)
}

// SweepService orchestrates the detection pipeline across one business or
// the recently active set. Businesses are evaluated concurrently; within one
// business the steps stay strictly sequential.
type SweepService struct {
	store      SweepStore
	stats      *StatsService
	ledger     *LedgerService
	response   *ResponseService
	classifier *detect.Classifier
	cfg        config.SweepConfig
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// NewSweepService creates a new sweep service.
func NewSweepService(
	store SweepStore,
	stats *StatsService,
	ledger *LedgerService,
	response *ResponseService,
	classifier *detect.Classifier,
	cfg config.SweepConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *SweepService {
	return &SweepService{
		store:      store,
		stats:      stats,
		ledger:     ledger,
		response:   response,
		classifier: classifier,
		cfg:        cfg,
		metrics:    m,
		logger:     log,
	}
}

// Sweep evaluates either the named business or every business with recent
// review activity. One business's failure lands in the report; it never
// aborts the rest. After the sweep deadline in-flight evaluations finish but
// no new ones start.
func (s *SweepService) Sweep(ctx context.Context, businessID string, windowHours int) (*domain.SweepReport, error) {
	start := time.Now()
	windowHours = s.stats.ClampWindow(windowHours)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout.Std())
	defer cancel()

	var candidates []string
	if businessID != "" {
		candidates = []string{businessID}
	} else {
		discovered, err := s.store.BusinessesWithRecentActivity(ctx, windowHours, s.cfg.MaxBusinesses)
		if err != nil {
			return nil, err
		}
		candidates = discovered
	}

	report := &domain.SweepReport{
		Details:  []domain.SweepDetail{},
		Failures: []domain.SweepFailure{},
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Workers)
	)

	for i, id := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("sweep deadline reached, skipping remaining businesses",
				logger.Int("remaining", len(candidates)-i))
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(businessID string) {
			defer wg.Done()
			defer func() { <-sem }()

			detail, err := s.evaluate(ctx, businessID, windowHours)

			mu.Lock()
			defer mu.Unlock()
			report.BusinessesChecked++
			switch {
			case err != nil:
				report.Failures = append(report.Failures, domain.SweepFailure{
					BusinessID: businessID,
					Error:      err.Error(),
				})
				s.metrics.SweepFailures.Inc()
			case detail != nil:
				report.AttacksDetected++
				if detail.Outcome == domain.OutcomeIncidentCreated {
					report.IncidentsCreated++
				}
				report.Details = append(report.Details, *detail)
			}
		}(id)
	}

	wg.Wait()

	s.metrics.SweepsTotal.Inc()
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.metrics.BusinessesChecked.Add(float64(report.BusinessesChecked))

	s.logger.Info("sweep complete",
		logger.Int("businesses_checked", report.BusinessesChecked),
		logger.Int("attacks_detected", report.AttacksDetected),
		logger.Int("incidents_created", report.IncidentsCreated),
		logger.Int("failures", len(report.Failures)),
		logger.Duration("elapsed", time.Since(start)))

	return report, nil
}

// evaluate runs the full pipeline for one business. A nil detail with nil
// error means no attack.
func (s *SweepService) evaluate(ctx context.Context, businessID string, windowHours int) (*domain.SweepDetail, error) {
	stats, err := s.stats.Snapshot(ctx, businessID, windowHours)
	if err != nil {
		return nil, err
	}

	verdict := s.classifier.Classify(stats)
	if !verdict.IsUnderAttack {
		return nil, nil
	}
	s.metrics.AttacksDetected.WithLabelValues(string(verdict.Severity)).Inc()

	incident, isNew, err := s.ledger.CreateOrUpdate(ctx, stats, verdict)
	if err != nil {
		return nil, err
	}
	if isNew {
		s.metrics.IncidentsCreated.Inc()
	}

	outcome, err := s.response.Execute(ctx, incident)
	if err != nil {
		// Mitigations already ran; only the bookkeeping write failed.
		s.logger.Warn("failed to record response actions",
			logger.String("incident_id", incident.IncidentID),
			logger.Error(err))
	}
	if outcome.BusinessProtected {
		s.metrics.BusinessesProtected.Inc()
	}
	s.metrics.ReviewsHeld.Add(float64(outcome.ReviewsHeld))

	outcomeTag := domain.OutcomeIncidentReaffirmed
	if isNew {
		outcomeTag = domain.OutcomeIncidentCreated
	}

	display := stats.ForDisplay()
	return &domain.SweepDetail{
		BusinessID:      businessID,
		BusinessName:    stats.BusinessName,
		IncidentID:      incident.IncidentID,
		Outcome:         outcomeTag,
		Severity:        incident.Severity,
		RecentReviews:   display.RecentReviewCount,
		RatingTrend:     display.RatingTrend,
		ReviewVelocity:  display.ReviewVelocity,
		SuspiciousCount: display.SuspiciousReviewCount,
		ResponseActions: outcome.Actions,
		ReviewsHeld:     outcome.ReviewsHeld,
	}, nil
}
