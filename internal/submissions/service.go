package submissions

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
)

// AccountProvisioner opens a ledger account if it does not exist yet.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, accountID uuid.UUID) error
}

// Service is the submission registry.
type Service struct {
	repo     Repository
	policy   *calculation.Policy
	accounts AccountProvisioner
	logger   *zap.Logger
}

func NewService(repo Repository, policy *calculation.Policy, accounts AccountProvisioner, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		policy:   policy,
		accounts: accounts,
		logger:   logger,
	}
}

// Create records a pending submission with its CO2 figure computed once.
func (s *Service) Create(ctx context.Context, producerID, projectID uuid.UUID, kwhReported decimal.Decimal) (*Submission, error) {
	if producerID == uuid.Nil {
		return nil, apperrors.Validation("producer_id is required")
	}
	if projectID == uuid.Nil {
		return nil, apperrors.Validation("project_id is required")
	}
	if err := s.policy.ValidateKWh(kwhReported); err != nil {
		return nil, err
	}

	if s.accounts != nil {
		if err := s.accounts.EnsureAccount(ctx, producerID); err != nil {
			return nil, err
		}
	}

	sub := &Submission{
		ProducerID:    producerID,
		ProjectID:     projectID,
		KWhReported:   kwhReported,
		CO2KgComputed: s.policy.CO2Kg(kwhReported),
		Status:        StatusPending,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	metrics.SubmissionsTotal.Inc()
	s.logger.Info("Submission created",
		zap.String("submission_id", sub.ID.String()),
		zap.String("producer_id", producerID.String()),
		zap.String("kwh_reported", kwhReported.String()),
		zap.String("co2_kg", sub.CO2KgComputed.String()))
	return sub, nil
}

// Get returns one submission.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns submissions in creation order, one page at a time.
func (s *Service) List(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.Validation("unknown status %q", *filter.Status)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultPageSize
	case filter.Limit > MaxPageSize:
		filter.Limit = MaxPageSize
	}

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	if len(items) == filter.Limit {
		last := items[len(items)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}
