package submissions

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
)

// Handler exposes the registry over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers submission routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	subs := rg.Group("/submissions")
	{
		subs.POST("", auth.RequireRole(auth.RoleProducer), h.CreateSubmission)
		subs.GET("", h.ListSubmissions)
		subs.GET("/:id", h.GetSubmission)
	}
}

// CreateSubmissionRequest is the body of POST /submissions.
type CreateSubmissionRequest struct {
	ProjectID   uuid.UUID       `json:"project_id"`
	KWhReported decimal.Decimal `json:"kwh_reported"`
}

// CreateSubmission records energy produced by the calling producer.
func (h *Handler) CreateSubmission(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return
	}

	sub, err := h.service.Create(c.Request.Context(), auth.MustAccountID(c), req.ProjectID, req.KWhReported)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubmission returns one submission.
func (h *Handler) GetSubmission(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id", "code": apperrors.CodeValidation})
		return
	}

	sub, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListSubmissions pages through submissions in creation order.
func (h *Handler) ListSubmissions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseFilter(c *gin.Context) (Filter, error) {
	var filter Filter
	if v := c.Query("status"); v != "" {
		status := Status(v)
		filter.Status = &status
	}
	if v := c.Query("producer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, apperrors.Validation("invalid producer_id")
		}
		filter.ProducerID = &id
	}
	if v := c.Query("after"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, apperrors.Validation("invalid after cursor")
		}
		filter.After = &id
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, apperrors.Validation("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}
