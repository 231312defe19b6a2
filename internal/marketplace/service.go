package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/pkg/workflows"
)

const (
	maxNameLength     = 200
	maxStandardLength = 64
	DefaultBrowseSize = 100
	MaxBrowseSize     = 500
)

// Service lists credits for sale and settles purchases. Seller credit
// tokens are escrowed in the ledger while a listing is available.
type Service struct {
	db        *gorm.DB
	repo      Repository
	ledger    ledger.Repository
	policy    *calculation.Policy
	states    *workflows.StateMachine
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, repo Repository, ledgerRepo ledger.Repository, policy *calculation.Policy, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		ledger:    ledgerRepo,
		policy:    policy,
		states:    workflows.NewListingStateMachine(),
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List escrows the seller's credit tokens and opens an available listing.
func (s *Service) List(ctx context.Context, req ListRequest) (*CreditListing, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	tokens, err := s.policy.ListingTokens(req.CO2OffsetTons)
	if err != nil {
		return nil, err
	}
	if tokens <= 0 {
		return nil, apperrors.Validation("co2_offset_tons is too small to back a credit token")
	}
	units, err := s.policy.PaymentUnits(req.Price)
	if err != nil {
		return nil, err
	}
	id, err := ledger.NewID()
	if err != nil {
		return nil, err
	}

	listing := &CreditListing{
		ID:                   id,
		SellerID:             req.SellerID,
		ProjectID:            req.ProjectID,
		Name:                 req.Name,
		Location:             req.Location,
		CO2OffsetTons:        req.CO2OffsetTons,
		CreditTokens:         tokens,
		Price:                req.Price,
		PriceUnits:           units,
		VerificationStandard: req.VerificationStandard,
		EnergyType:           req.EnergyType,
		Status:               StatusAvailable,
		Metadata:             req.Metadata,
	}

	err = s.inTx(ctx, "list", func(tx *gorm.DB) error {
		ledgerRepo := s.ledger.WithTx(tx)
		if err := ledgerRepo.Debit(ctx, req.SellerID, ledger.KindCredit, tokens, ledger.ReasonListingEscrow, &id); err != nil {
			return insufficientIfMissing(err, "seller %s holds no credit tokens", req.SellerID)
		}
		if err := s.repo.WithTx(tx).CreateListing(ctx, listing); err != nil {
			return err
		}
		return ledger.VerifyPostings(ctx, ledgerRepo, id, map[ledger.TokenKind]int64{ledger.KindCredit: -tokens})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listing created",
		zap.String("listing_id", id.String()),
		zap.String("seller_id", req.SellerID.String()),
		zap.Int64("credit_tokens", tokens),
		zap.Int64("price_units", units))
	s.publisher.Publish(ctx, events.New(events.TypeListingCreated, id, map[string]interface{}{
		"seller_id":       req.SellerID.String(),
		"credit_tokens":   tokens,
		"co2_offset_tons": req.CO2OffsetTons.String(),
		"price_units":     units,
		"energy_type":     string(req.EnergyType),
	}))
	return listing, nil
}

// Browse returns listings in creation order. Without a status filter only
// available listings are returned.
func (s *Service) Browse(ctx context.Context, filter Filter) ([]CreditListing, error) {
	if filter.EnergyType != nil && !filter.EnergyType.Valid() {
		return nil, apperrors.Validation("unknown energy_type %q", *filter.EnergyType)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.Validation("unknown status %q", *filter.Status)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultBrowseSize
	case filter.Limit > MaxBrowseSize:
		filter.Limit = MaxBrowseSize
	}
	return s.repo.Browse(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CreditListing, error) {
	return s.repo.GetListing(ctx, id)
}

// Buy settles a listing for the buyer. The listing is sold at most once:
// the status compare-and-set and the unique trade row both reject a second
// buyer, and a failed payment rolls the sale back.
func (s *Service) Buy(ctx context.Context, listingID, buyerID uuid.UUID) (*Trade, error) {
	if buyerID == uuid.Nil {
		return nil, apperrors.Validation("buyer is required")
	}

	var trade *Trade
	err := s.inTx(ctx, "buy", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ledgerRepo := s.ledger.WithTx(tx)

		listing, err := repo.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID == buyerID {
			return apperrors.Validation("cannot buy your own listing")
		}
		if listing.Status != StatusAvailable {
			return apperrors.New(apperrors.CodeListingUnavailable, "listing %s is %s", listingID, listing.Status)
		}
		if !s.states.CanTransition(string(listing.Status), string(StatusSold)) {
			return apperrors.InvalidStateTransition("listing %s cannot move from %s to %s", listingID, listing.Status, StatusSold)
		}

		soldAt := s.now()
		won, err := repo.CompareAndSetStatus(ctx, listingID, StatusAvailable, StatusSold, map[string]interface{}{
			"buyer_id": buyerID,
			"sold_at":  soldAt,
		})
		if err != nil {
			return err
		}
		if !won {
			return apperrors.New(apperrors.CodeListingUnavailable, "listing %s was sold concurrently", listingID)
		}

		if err := ledgerRepo.LockAccounts(ctx, buyerID, listing.SellerID); err != nil {
			return err
		}
		if err := ledgerRepo.Debit(ctx, buyerID, ledger.KindPayment, listing.PriceUnits, ledger.ReasonTradePayment, &listingID); err != nil {
			return insufficientIfMissing(err, "buyer %s has no payment balance", buyerID)
		}
		if err := ledgerRepo.Credit(ctx, listing.SellerID, ledger.KindPayment, listing.PriceUnits, ledger.ReasonTradeProceeds, &listingID); err != nil {
			return err
		}
		if err := ledgerRepo.Credit(ctx, buyerID, ledger.KindCredit, listing.CreditTokens, ledger.ReasonTradeDelivery, &listingID); err != nil {
			return err
		}

		t := &Trade{
			ListingID:     listingID,
			BuyerID:       buyerID,
			SellerID:      listing.SellerID,
			PriceUnits:    listing.PriceUnits,
			CreditTokens:  listing.CreditTokens,
			CO2OffsetTons: listing.CO2OffsetTons,
			SettledAt:     soldAt,
		}
		if err := repo.CreateTrade(ctx, t); err != nil {
			return err
		}

		// Escrow out at list time plus delivery here nets to zero.
		if err := ledger.VerifyPostings(ctx, ledgerRepo, listingID, map[ledger.TokenKind]int64{
			ledger.KindCredit:  0,
			ledger.KindPayment: 0,
		}); err != nil {
			return err
		}
		trade = t
		return nil
	})
	if err != nil {
		if apperrors.IsConcurrencyLoss(err) {
			metrics.LostRacesTotal.WithLabelValues("buy").Inc()
			s.logger.Debug("Purchase rejected",
				zap.String("listing_id", listingID.String()),
				zap.String("buyer_id", buyerID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	metrics.TradesTotal.Inc()
	s.logger.Info("Trade settled",
		zap.String("trade_id", trade.ID.String()),
		zap.String("listing_id", listingID.String()),
		zap.String("buyer_id", buyerID.String()),
		zap.String("seller_id", trade.SellerID.String()),
		zap.Int64("price_units", trade.PriceUnits))
	s.publisher.Publish(ctx, events.New(events.TypeTradeSettled, listingID, map[string]interface{}{
		"trade_id":        trade.ID.String(),
		"buyer_id":        buyerID.String(),
		"seller_id":       trade.SellerID.String(),
		"credit_tokens":   trade.CreditTokens,
		"co2_offset_tons": trade.CO2OffsetTons.String(),
		"price_units":     trade.PriceUnits,
	}))
	return trade, nil
}

// Cancel withdraws an available listing and refunds the escrow to its seller.
func (s *Service) Cancel(ctx context.Context, listingID, sellerID uuid.UUID) (*CreditListing, error) {
	var listing *CreditListing
	err := s.inTx(ctx, "cancel", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ledgerRepo := s.ledger.WithTx(tx)

		l, err := repo.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if l.SellerID != sellerID {
			return apperrors.Validation("only the seller can cancel listing %s", listingID)
		}
		if l.Status != StatusAvailable {
			return apperrors.New(apperrors.CodeListingUnavailable, "listing %s is %s", listingID, l.Status)
		}

		won, err := repo.CompareAndSetStatus(ctx, listingID, StatusAvailable, StatusCancelled, nil)
		if err != nil {
			return err
		}
		if !won {
			return apperrors.New(apperrors.CodeListingUnavailable, "listing %s changed concurrently", listingID)
		}
		if err := ledgerRepo.Credit(ctx, sellerID, ledger.KindCredit, l.CreditTokens, ledger.ReasonListingRefund, &listingID); err != nil {
			return err
		}
		if err := ledger.VerifyPostings(ctx, ledgerRepo, listingID, map[ledger.TokenKind]int64{ledger.KindCredit: 0}); err != nil {
			return err
		}

		l.Status = StatusCancelled
		listing = l
		return nil
	})
	if err != nil {
		if apperrors.IsConcurrencyLoss(err) {
			metrics.LostRacesTotal.WithLabelValues("cancel").Inc()
		}
		return nil, err
	}

	s.logger.Info("Listing cancelled",
		zap.String("listing_id", listingID.String()),
		zap.String("seller_id", sellerID.String()),
		zap.Int64("credit_tokens", listing.CreditTokens))
	s.publisher.Publish(ctx, events.New(events.TypeListingCancelled, listingID, map[string]interface{}{
		"seller_id":     sellerID.String(),
		"credit_tokens": listing.CreditTokens,
	}))
	return listing, nil
}

// ListTrades returns settled trades in settlement order.
func (s *Service) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	return s.repo.ListTrades(ctx, limit)
}

func (s *Service) validate(req *ListRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	req.VerificationStandard = strings.TrimSpace(req.VerificationStandard)

	if req.SellerID == uuid.Nil {
		return apperrors.Validation("seller is required")
	}
	if req.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if req.Name == "" {
		return apperrors.Validation("name is required")
	}
	if len(req.Name) > maxNameLength || len(req.Location) > maxNameLength {
		return apperrors.Validation("name and location must be at most %d characters", maxNameLength)
	}
	if err := s.policy.ValidateListingTons(req.CO2OffsetTons); err != nil {
		return err
	}
	if !req.Price.GreaterThan(decimal.Zero) {
		return apperrors.Validation("price must be positive")
	}
	if req.VerificationStandard == "" {
		return apperrors.Validation("verification_standard is required")
	}
	if len(req.VerificationStandard) > maxStandardLength {
		return apperrors.Validation("verification_standard must be at most %d characters", maxStandardLength)
	}
	if !req.EnergyType.Valid() {
		return apperrors.Validation("unknown energy_type %q", req.EnergyType)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil && errors.Is(err, apperrors.ErrInvariantViolation) {
		metrics.InvariantViolationsTotal.WithLabelValues(op).Inc()
		s.logger.Error("Marketplace invariant violated, transaction rolled back",
			zap.String("operation", op),
			zap.Error(err))
	}
	return err
}

// insufficientIfMissing reports a debit against an account that was never
// opened as an insufficient balance.
func insufficientIfMissing(err error, format string, args ...interface{}) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.CodeInsufficientBalance, format, args...)
	}
	return err
}
