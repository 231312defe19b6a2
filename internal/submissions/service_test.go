package submissions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, s *Submission) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Submission), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter Filter) ([]Submission, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]Submission), args.Error(1)
}

func (m *MockRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, fields map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, from, to, fields)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) WithTx(tx *gorm.DB) Repository {
	return m
}

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) EnsureAccount(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func TestService_Create(t *testing.T) {
	repo := new(MockRepository)
	accounts := new(MockProvisioner)
	service := NewService(repo, calculation.DefaultPolicy(), accounts, zap.NewNop())

	ctx := context.Background()
	producer, project := uuid.New(), uuid.New()

	accounts.On("EnsureAccount", ctx, producer).Return(nil)
	repo.On("Create", ctx, mock.AnythingOfType("*submissions.Submission")).Return(nil)

	sub, err := service.Create(ctx, producer, project, decimal.RequireFromString("1247.5"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, producer, sub.ProducerID)
	assert.Equal(t, project, sub.ProjectID)
	assert.Equal(t, "543.1615", sub.CO2KgComputed.String())
	assert.Nil(t, sub.VerifierID)
	assert.Nil(t, sub.DecidedAt)
	repo.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

func TestService_Create_Validation(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, calculation.DefaultPolicy(), nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name     string
		producer uuid.UUID
		project  uuid.UUID
		kwh      string
	}{
		{"zero kwh", uuid.New(), uuid.New(), "0"},
		{"negative kwh", uuid.New(), uuid.New(), "-12.5"},
		{"too precise", uuid.New(), uuid.New(), "1.123456"},
		{"missing producer", uuid.Nil, uuid.New(), "10"},
		{"missing project", uuid.New(), uuid.Nil, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(ctx, tt.producer, tt.project, decimal.RequireFromString(tt.kwh))
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Create_ProvisionerFailure(t *testing.T) {
	repo := new(MockRepository)
	accounts := new(MockProvisioner)
	service := NewService(repo, calculation.DefaultPolicy(), accounts, zap.NewNop())

	accounts.On("EnsureAccount", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := service.Create(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(5))
	assert.EqualError(t, err, "db down")
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_List_PageSizeAndCursor(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, calculation.DefaultPolicy(), nil, zap.NewNop())
	ctx := context.Background()

	items := []Submission{{ID: uuid.New()}, {ID: uuid.New()}}
	repo.On("List", ctx, Filter{Limit: 2}).Return(items, nil)
	repo.On("List", ctx, Filter{Limit: DefaultPageSize}).Return(items, nil)
	repo.On("List", ctx, Filter{Limit: MaxPageSize}).Return(items, nil)

	page, err := service.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, items[1].ID, *page.NextCursor)

	page, err = service.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Nil(t, page.NextCursor)

	_, err = service.List(ctx, Filter{Limit: 10_000})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_List_UnknownStatus(t *testing.T) {
	service := NewService(new(MockRepository), calculation.DefaultPolicy(), nil, zap.NewNop())
	status := Status("archived")

	_, err := service.List(context.Background(), Filter{Status: &status})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
