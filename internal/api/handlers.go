package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reviewguard/reviewguard/internal/domain"
	"github.com/reviewguard/reviewguard/internal/logger"
	"github.com/reviewguard/reviewguard/internal/service"
	"github.com/reviewguard/reviewguard/internal/sweeper"
)

// AdminStore is the store surface the health and admin endpoints read.
type AdminStore interface {
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	IncidentStatusCounts(ctx context.Context) (map[string]int64, error)
	CountProtectedBusinesses(ctx context.Context) (int64, error)
	CountHeldReviews(ctx context.Context) (int64, error)
}

// Handler holds HTTP request handlers.
type Handler struct {
	stats   *service.StatsService
	ledger  *service.LedgerService
	sweeps  *service.SweepService
	runner  *sweeper.Runner
	store   AdminStore
	version string
	logger  logger.Logger
}

// NewHandler creates a new handler instance.
func NewHandler(
	stats *service.StatsService,
	ledger *service.LedgerService,
	sweeps *service.SweepService,
	runner *sweeper.Runner,
	store AdminStore,
	version string,
	log logger.Logger,
) *Handler {
	return &Handler{
		stats:   stats,
		ledger:  ledger,
		sweeps:  sweeps,
		runner:  runner,
		store:   store,
		version: version,
		logger:  log,
	}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	health := &domain.HealthStatus{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: map[string]string{},
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		health.Status = "degraded"
		health.Dependencies["elasticsearch"] = "unreachable: " + err.Error()
	} else {
		health.Dependencies["elasticsearch"] = "ok"
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck handles GET /ready.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if err := h.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Detect handles POST /api/v1/detect. The response is always a sweep report;
// per-business failures are enumerated inside it rather than failing the
// request.
func (h *Handler) Detect(c *gin.Context) {
	var req DetectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	h.logger.Info("detection sweep triggered",
		logger.String("business_id", req.BusinessID),
		logger.Int("hours", req.Hours))

	report, err := h.sweeps.Sweep(c.Request.Context(), req.BusinessID, req.Hours)
	if err != nil {
		h.logger.Error("sweep failed before evaluation", logger.Error(err))
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetBusiness handles GET /api/v1/businesses/:id.
func (h *Handler) GetBusiness(c *gin.Context) {
	business, err := h.store.GetBusiness(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, business)
}

// GetBusinessStats handles GET /api/v1/businesses/:id/stats. Read-only: it
// never opens incidents, that is the detect endpoint's job.
func (h *Handler) GetBusinessStats(c *gin.Context) {
	hours := 0
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(c, errors.New("hours must be an integer"))
			return
		}
		hours = parsed
	}

	stats, err := h.stats.Snapshot(c.Request.Context(), c.Param("id"), hours)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats.ForDisplay())
}

// ListIncidents handles GET /api/v1/incidents.
func (h *Handler) ListIncidents(c *gin.Context) {
	filter := domain.IncidentFilter{
		Status:     domain.IncidentStatus(c.Query("status")),
		Severity:   domain.IncidentSeverity(c.Query("severity")),
		BusinessID: c.Query("business_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.badRequest(c, errors.New("unknown status filter"))
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		h.badRequest(c, errors.New("unknown severity filter"))
		return
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetIncident handles GET /api/v1/incidents/:id.
func (h *Handler) GetIncident(c *gin.Context) {
	incident, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// CreateIncident handles POST /api/v1/incidents (manual operator creation).
func (h *Handler) CreateIncident(c *gin.Context) {
	var req domain.IncidentCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.badRequest(c, err)
		return
	}

	incident, created, err := h.ledger.Create(c.Request.Context(), &req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		// An open incident already existed; return it instead.
		status = http.StatusOK
	}
	c.JSON(status, incident)
}

// UpdateIncident handles PATCH /api/v1/incidents/:id.
func (h *Handler) UpdateIncident(c *gin.Context) {
	var update domain.IncidentUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := update.Validate(); err != nil {
		h.badRequest(c, err)
		return
	}

	incident, err := h.ledger.Update(c.Request.Context(), c.Param("id"), &update)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// ResolveIncident handles POST /api/v1/incidents/:id/resolve.
func (h *Handler) ResolveIncident(c *gin.Context) {
	var req ResolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	incident, err := h.ledger.Resolve(c.Request.Context(), c.Param("id"), req.Resolution)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// DeleteIncident handles DELETE /api/v1/incidents/:id.
func (h *Handler) DeleteIncident(c *gin.Context) {
	if err := h.ledger.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// SweeperStatus handles GET /api/v1/sweeper/status.
func (h *Handler) SweeperStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

// SweeperStart handles POST /api/v1/sweeper/start.
func (h *Handler) SweeperStart(c *gin.Context) {
	started := h.runner.Start(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{
		"started": started,
		"status":  h.runner.Status(),
	})
}

// SweeperStop handles POST /api/v1/sweeper/stop.
func (h *Handler) SweeperStop(c *gin.Context) {
	stopped := h.runner.Stop()
	c.JSON(http.StatusOK, gin.H{
		"stopped": stopped,
		"status":  h.runner.Status(),
	})
}

// GetAdminStats handles GET /api/v1/admin/stats.
func (h *Handler) GetAdminStats(c *gin.Context) {
	ctx := c.Request.Context()

	byStatus, err := h.store.IncidentStatusCounts(ctx)
	if err != nil {
		h.serverError(c, err)
		return
	}
	protected, err := h.store.CountProtectedBusinesses(ctx)
	if err != nil {
		h.serverError(c, err)
		return
	}
	held, err := h.store.CountHeldReviews(ctx)
	if err != nil {
		h.serverError(c, err)
		return
	}

	var open int64
	for _, status := range domain.OpenStatuses {
		open += byStatus[string(status)]
	}

	c.JSON(http.StatusOK, AdminStats{
		IncidentsByStatus:   byStatus,
		OpenIncidents:       open,
		ProtectedBusinesses: protected,
		HeldReviews:         held,
	})
}

// mapError translates sentinel errors to HTTP status codes.
func (h *Handler) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBusinessNotFound), errors.Is(err, domain.ErrIncidentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     err.Error(),
			Code:      "NOT_FOUND",
			Timestamp: time.Now(),
		})
	case errors.Is(err, domain.ErrIncidentTerminal):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     err.Error(),
			Code:      "INCIDENT_TERMINAL",
			Timestamp: time.Now(),
		})
	default:
		h.serverError(c, err)
	}
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     err.Error(),
		Code:      "INVALID_REQUEST",
		Timestamp: time.Now(),
	})
}

func (h *Handler) serverError(c *gin.Context, err error) {
	h.logger.Error("request failed",
		logger.String("path", c.Request.URL.Path),
		logger.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     err.Error(),
		Code:      "INTERNAL_ERROR",
		Timestamp: time.Now(),
	})
}
