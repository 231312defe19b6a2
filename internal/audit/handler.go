package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
)

type Handler struct {
	auditor *Auditor
	logger  *zap.Logger
}

func NewHandler(auditor *Auditor, logger *zap.Logger) *Handler {
	return &Handler{auditor: auditor, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit", auth.RequireRole(auth.RoleVerifier), h.RunAudit)
}

// RunAudit runs the full supply audit on demand.
func (h *Handler) RunAudit(c *gin.Context) {
	report, err := h.auditor.Run(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": report.OK(), "report": report})
}
