package ledger

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

// RegisterRoutes registers ledger routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/submissions/:id/mint", auth.RequireRole(auth.RoleVerifier), h.Mint)
	rg.GET("/accounts/:id/balance", h.GetBalance)

	ledger := rg.Group("/ledger")
	{
		ledger.POST("/transfers", h.Transfer)
		ledger.POST("/energy-credits", auth.RequireRole(auth.RoleVerifier), h.CreditEnergy)
		ledger.POST("/deposits", auth.RequireRole(auth.RoleTreasury), h.Deposit)
		ledger.POST("/retirements", h.Retire)
		ledger.GET("/retirements/:id", h.GetRetirement)
		ledger.GET("/mints", h.ListMints)
		ledger.GET("/audit", auth.RequireRole(auth.RoleVerifier), h.Audit)
	}
}

// Mint converts an approved submission into credit tokens.
func (h *Handler) Mint(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, err := h.service.Mint(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// GetBalance returns balances for an account id, or for the caller when the
// id is "me".
func (h *Handler) GetBalance(c *gin.Context) {
	var id uuid.UUID
	if c.Param("id") == "me" {
		id = auth.MustAccountID(c)
	} else {
		var ok bool
		if id, ok = pathID(c, "id"); !ok {
			return
		}
	}

	balance, err := h.service.BalanceOf(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type TransferRequest struct {
	ToAccountID uuid.UUID `json:"to_account_id"`
	Amount      int64     `json:"amount"`
	Kind        string    `json:"kind" binding:"required"`
}

// Transfer moves tokens from the caller to another account.
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !bind(c, &req) {
		return
	}
	kind, err := ParseTokenKind(req.Kind)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}

	transfer, err := h.service.Transfer(c.Request.Context(), auth.MustAccountID(c), req.ToAccountID, req.Amount, kind)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

type EnergyCreditRequest struct {
	ProducerID uuid.UUID `json:"producer_id"`
	Amount     int64     `json:"amount"`
}

// CreditEnergy issues energy tokens to a producer.
func (h *Handler) CreditEnergy(c *gin.Context) {
	var req EnergyCreditRequest
	if !bind(c, &req) {
		return
	}
	balance, err := h.service.CreditEnergyTokens(c.Request.Context(), req.ProducerID, req.Amount)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type DepositRequest struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Deposit funds an account's payment balance.
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if !bind(c, &req) {
		return
	}
	balance, err := h.service.Deposit(c.Request.Context(), req.AccountID, req.Amount)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type RetireRequest struct {
	CreditTokens int64  `json:"credit_tokens"`
	Beneficiary  string `json:"beneficiary"`
}

// Retire burns the caller's credit tokens.
func (h *Handler) Retire(c *gin.Context) {
	var req RetireRequest
	if !bind(c, &req) {
		return
	}
	retirement, err := h.service.Retire(c.Request.Context(), auth.MustAccountID(c), req.CreditTokens, req.Beneficiary)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, retirement)
}

func (h *Handler) GetRetirement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	retirement, err := h.service.GetRetirement(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, retirement)
}

// Mint record pages served over HTTP.
const (
	DefaultMintPage = 100
	MaxMintPage     = 500
)

func (h *Handler) ListMints(c *gin.Context) {
	limit, err := pageLimit(c.Query("limit"), DefaultMintPage, MaxMintPage)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	records, err := h.service.ListMintRecords(c.Request.Context(), limit)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records})
}

func pageLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.Validation("invalid limit")
	}
	return min(n, max), nil
}

// Audit runs the ledger consistency checks on demand.
func (h *Handler) Audit(c *gin.Context) {
	report, err := h.service.Audit(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": report.OK(), "report": report})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": apperrors.CodeValidation})
		return uuid.Nil, false
	}
	return id, true
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return false
	}
	return true
}
