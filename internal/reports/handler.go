package reports

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

// Handler serves exports and certificates
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.GET("/trades", h.exportTrades)
		reports.GET("/mints", h.exportMints)
		reports.GET("/retirements/:id/certificate", h.getCertificate)
	}
}

// exportTrades handles GET /api/v1/reports/trades?format=csv|xlsx
func (h *Handler) exportTrades(c *gin.Context) {
	artifact, err := h.service.ExportTrades(c.Request.Context(), Format(c.DefaultQuery("format", string(FormatCSV))))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.send(c, artifact)
}

// exportMints handles GET /api/v1/reports/mints?format=csv|xlsx
func (h *Handler) exportMints(c *gin.Context) {
	artifact, err := h.service.ExportMints(c.Request.Context(), Format(c.DefaultQuery("format", string(FormatCSV))))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.send(c, artifact)
}

// getCertificate handles GET /api/v1/reports/retirements/:id/certificate
func (h *Handler) getCertificate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid retirement id", "code": apperrors.CodeValidation})
		return
	}
	artifact, err := h.service.Certificate(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	h.send(c, artifact)
}

func (h *Handler) send(c *gin.Context, a *Artifact) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	c.Data(http.StatusOK, a.ContentType, a.Data)
}
