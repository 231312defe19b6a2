package marketplace

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

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers marketplace routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	listings := rg.Group("/marketplace/listings")
	{
		listings.POST("", auth.RequireRole(auth.RoleProducer), h.CreateListing)
		listings.GET("", h.BrowseListings)
		listings.GET("/:id", h.GetListing)
		listings.POST("/:id/buy", h.BuyListing)
		listings.POST("/:id/cancel", auth.RequireRole(auth.RoleProducer), h.CancelListing)
	}
	rg.GET("/marketplace/trades", h.ListTrades)
}

// CreateListingRequest is the body of POST /marketplace/listings.
type CreateListingRequest struct {
	ProjectID            uuid.UUID              `json:"project_id"`
	Name                 string                 `json:"name"`
	Location             string                 `json:"location"`
	CO2OffsetTons        decimal.Decimal        `json:"co2_offset_tons"`
	Price                decimal.Decimal        `json:"price"`
	VerificationStandard string                 `json:"verification_standard"`
	EnergyType           EnergyType             `json:"energy_type"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// CreateListing escrows the caller's credits behind a new listing.
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return
	}

	listing, err := h.service.List(c.Request.Context(), ListRequest{
		SellerID:             auth.MustAccountID(c),
		ProjectID:            req.ProjectID,
		Name:                 req.Name,
		Location:             req.Location,
		CO2OffsetTons:        req.CO2OffsetTons,
		Price:                req.Price,
		VerificationStandard: req.VerificationStandard,
		EnergyType:           req.EnergyType,
		Metadata:             req.Metadata,
	})
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (h *Handler) BrowseListings(c *gin.Context) {
	var filter Filter
	if v := c.Query("energy_type"); v != "" {
		et := EnergyType(v)
		filter.EnergyType = &et
	}
	if v := c.Query("status"); v != "" {
		status := ListingStatus(v)
		filter.Status = &status
	}
	if v := c.Query("seller_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.Respond(c, h.logger, apperrors.Validation("invalid seller_id"))
			return
		}
		filter.SellerID = &id
	}
	if v := c.Query("after"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.Respond(c, h.logger, apperrors.Validation("invalid after cursor"))
			return
		}
		filter.After = &id
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			apperrors.Respond(c, h.logger, apperrors.Validation("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	listings, err := h.service.Browse(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": listings})
}

func (h *Handler) GetListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	listing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// BuyListing settles a listing for the caller.
func (h *Handler) BuyListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	trade, err := h.service.Buy(c.Request.Context(), id, auth.MustAccountID(c))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (h *Handler) CancelListing(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}
	listing, err := h.service.Cancel(c.Request.Context(), id, auth.MustAccountID(c))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) ListTrades(c *gin.Context) {
	limit, err := pageLimit(c.Query("limit"), DefaultBrowseSize, MaxBrowseSize)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	trades, err := h.service.ListTrades(c.Request.Context(), limit)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": trades})
}

// pageLimit parses a limit query value, capping it at max.
func pageLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.Validation("invalid limit")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func listingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id", "code": apperrors.CodeValidation})
		return uuid.Nil, false
	}
	return id, true
}
