package verification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers verifier routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	subs := rg.Group("/submissions", auth.RequireRole(auth.RoleVerifier))
	{
		subs.POST("/:id/decision", h.Decide)
		subs.POST("/:id/approve", h.decideWith(DecisionApprove))
		subs.POST("/:id/reject", h.decideWith(DecisionReject))
	}
}

type DecisionRequest struct {
	Decision Decision `json:"decision" binding:"required"`
}

// Decide applies the decision named in the request body.
func (h *Handler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return
	}
	h.decide(c, req.Decision)
}

func (h *Handler) decideWith(decision Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.decide(c, decision)
	}
}

func (h *Handler) decide(c *gin.Context, decision Decision) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id", "code": apperrors.CodeValidation})
		return
	}

	sub, err := h.service.Decide(c.Request.Context(), id, auth.MustAccountID(c), decision)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
