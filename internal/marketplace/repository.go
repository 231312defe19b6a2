package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateListing(ctx context.Context, listing *CreditListing) error
	GetListing(ctx context.Context, id uuid.UUID) (*CreditListing, error)
	Browse(ctx context.Context, filter Filter) ([]CreditListing, error)

	// CompareAndSetStatus changes a listing's status only if it still equals
	// from, applying the extra column values in the same statement.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to ListingStatus, fields map[string]interface{}) (bool, error)

	CreateTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]Trade, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) CreateListing(ctx context.Context, listing *CreditListing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *gormRepository) GetListing(ctx context.Context, id uuid.UUID) (*CreditListing, error) {
	var listing CreditListing
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("listing", id)
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *gormRepository) Browse(ctx context.Context, filter Filter) ([]CreditListing, error) {
	status := StatusAvailable
	if filter.Status != nil {
		status = *filter.Status
	}
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if filter.EnergyType != nil {
		query = query.Where("energy_type = ?", *filter.EnergyType)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.After != nil {
		query = query.Where("id > ?", *filter.After)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var listings []CreditListing
	err := query.Order("id ASC").Find(&listings).Error
	return listings, err
}

func (r *gormRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to ListingStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&CreditListing{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *gormRepository) CreateTrade(ctx context.Context, trade *Trade) error {
	err := r.db.WithContext(ctx).Create(trade).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.New(apperrors.CodeListingUnavailable, "listing %s already has a trade", trade.ListingID)
	}
	return err
}

func (r *gormRepository) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	query := r.db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var trades []Trade
	err := query.Find(&trades).Error
	return trades, err
}
