package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
)

// Snapshot is the dashboard summary. Every field is derived from the
// submission, ledger and marketplace tables at ComputedAt.
type Snapshot struct {
	TotalVerified      int64           `json:"total_verified"`
	TotalCO2Verified   decimal.Decimal `json:"total_co2_verified_kg"`
	PendingSubmissions int64           `json:"pending_submissions"`
	CreditsMinted      int64           `json:"credits_minted"`
	CreditsAvailable   int64           `json:"credits_available"`
	CreditsRetired     int64           `json:"credits_retired"`
	EnergyTokensIssued int64           `json:"energy_tokens_issued"`
	TradesSettled      int64           `json:"trades_settled"`
	TonsTraded         decimal.Decimal `json:"tons_traded"`
	ComputedAt         time.Time       `json:"computed_at"`
}

// Service recomputes snapshots on demand. It holds no state of its own.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot aggregates all stores inside one read transaction so the figures
// are mutually consistent.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var co2 decimal.Decimal
		err := tx.Model(&submissions.Submission{}).
			Select("COUNT(*), COALESCE(SUM(co2_kg_computed), 0)").
			Where("status IN ?", []submissions.Status{submissions.StatusApproved, submissions.StatusMinted}).
			Row().Scan(&snap.TotalVerified, &co2)
		if err != nil {
			return fmt.Errorf("verified submissions: %w", err)
		}
		snap.TotalCO2Verified = co2.Round(8)

		err = tx.Model(&submissions.Submission{}).
			Where("status = ?", submissions.StatusPending).
			Count(&snap.PendingSubmissions).Error
		if err != nil {
			return fmt.Errorf("pending submissions: %w", err)
		}

		if err := sumInto(tx.Model(&ledger.MintRecord{}), "credit_tokens_minted", &snap.CreditsMinted); err != nil {
			return fmt.Errorf("credits minted: %w", err)
		}
		if err := sumInto(tx.Model(&ledger.Retirement{}), "credit_tokens", &snap.CreditsRetired); err != nil {
			return fmt.Errorf("credits retired: %w", err)
		}
		energy := tx.Model(&ledger.Entry{}).
			Where("kind = ? AND reason = ?", ledger.KindEnergy, ledger.ReasonEnergyIssuance)
		if err := sumInto(energy, "delta", &snap.EnergyTokensIssued); err != nil {
			return fmt.Errorf("energy tokens: %w", err)
		}

		available := tx.Model(&marketplace.CreditListing{}).
			Where("status = ?", marketplace.StatusAvailable)
		if err := sumInto(available, "credit_tokens", &snap.CreditsAvailable); err != nil {
			return fmt.Errorf("credits available: %w", err)
		}

		var tons decimal.Decimal
		err = tx.Model(&marketplace.Trade{}).
			Select("COUNT(*), COALESCE(SUM(co2_offset_tons), 0)").
			Row().Scan(&snap.TradesSettled, &tons)
		if err != nil {
			return fmt.Errorf("trades: %w", err)
		}
		snap.TonsTraded = tons.Round(6)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to compute stats snapshot", zap.Error(err))
		return nil, err
	}

	snap.ComputedAt = s.now()
	return snap, nil
}

func sumInto(query *gorm.DB, column string, dest *int64) error {
	return query.Select("COALESCE(SUM(" + column + "), 0)").Scan(dest).Error
}
