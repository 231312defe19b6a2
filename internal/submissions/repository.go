package submissions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
)

// Repository persists submissions. Status changes only go through
// CompareAndSetStatus.
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	List(ctx context.Context, filter Filter) ([]Submission, error)

	// CompareAndSetStatus moves a submission from one status to another and
	// applies the extra column values, only if the stored status still equals
	// from. It reports whether the row was updated.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, fields map[string]interface{}) (bool, error)

	// WithTx returns a repository bound to an open transaction.
	WithTx(tx *gorm.DB) Repository
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

func (r *gormRepository) Create(ctx context.Context, s *Submission) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	var s Submission
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("submission", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) List(ctx context.Context, filter Filter) ([]Submission, error) {
	query := r.db.WithContext(ctx).Model(&Submission{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ProducerID != nil {
		query = query.Where("producer_id = ?", *filter.ProducerID)
	}
	if filter.After != nil {
		query = query.Where("id > ?", *filter.After)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []Submission
	if err := query.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gormRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&Submission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
