package audit

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

	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database/dbtest"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
)

type fixture struct {
	db      *gorm.DB
	subs    submissions.Repository
	ledger  *ledger.Service
	market  *marketplace.Service
	auditor *Auditor
}

func newFixture(t *testing.T) *fixture {
	db := dbtest.New(t, submissions.Migrate, ledger.Migrate, marketplace.Migrate)
	policy := calculation.DefaultPolicy()
	subs := submissions.NewRepository(db)
	repo := ledger.NewRepository(db)
	ledgerService := ledger.NewService(db, repo, subs, policy, events.NopPublisher{}, zap.NewNop())
	return &fixture{
		db:      db,
		subs:    subs,
		ledger:  ledgerService,
		market:  marketplace.NewService(db, marketplace.NewRepository(db), repo, policy, events.NopPublisher{}, zap.NewNop()),
		auditor: NewAuditor(db, ledgerService, repo, zap.NewNop()),
	}
}

func (f *fixture) mint(t *testing.T, producer uuid.UUID, kwh string) {
	t.Helper()
	ctx := context.Background()
	registry := submissions.NewService(f.subs, calculation.DefaultPolicy(), f.ledger, zap.NewNop())
	sub, err := registry.Create(ctx, producer, uuid.New(), decimal.RequireFromString(kwh))
	require.NoError(t, err)
	ok, err := f.subs.CompareAndSetStatus(ctx, sub.ID, submissions.StatusPending, submissions.StatusApproved, nil)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.ledger.Mint(ctx, sub.ID)
	require.NoError(t, err)
}

func (f *fixture) list(t *testing.T, seller uuid.UUID, tons string) *marketplace.CreditListing {
	t.Helper()
	listing, err := f.market.List(context.Background(), marketplace.ListRequest{
		SellerID:             seller,
		ProjectID:            uuid.New(),
		Name:                 "Geo Plant",
		CO2OffsetTons:        decimal.RequireFromString(tons),
		Price:                decimal.NewFromInt(1),
		VerificationStandard: "Verra VCS",
		EnergyType:           marketplace.EnergyGeothermal,
	})
	require.NoError(t, err)
	return listing
}

func TestRun_CleanAfterFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	producer := uuid.New()
	buyer := uuid.New()

	f.mint(t, producer, "1247.5")
	sold := f.list(t, producer, "0.2")
	f.list(t, producer, "0.1")
	cancelled := f.list(t, producer, "0.1")

	_, err := f.ledger.Deposit(ctx, buyer, decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = f.market.Buy(ctx, sold.ID, buyer)
	require.NoError(t, err)
	_, err = f.market.Cancel(ctx, cancelled.ID, producer)
	require.NoError(t, err)
	_, err = f.ledger.Retire(ctx, buyer, 5, "Harbor School")
	require.NoError(t, err)

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Violations)
	assert.Equal(t, int64(54), report.CreditTokensMinted)
	assert.Equal(t, int64(10), report.CreditsEscrowed)
	assert.Equal(t, int64(5), report.CreditsRetired)
	assert.Equal(t, int64(39), report.CreditTokensHeld)
}

func TestRun_DetectsEscrowLeak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	producer := uuid.New()
	f.mint(t, producer, "1247.5")
	listing := f.list(t, producer, "0.2")

	require.NoError(t, f.db.Model(&marketplace.CreditListing{}).
		Where("id = ?", listing.ID).
		Update("status", marketplace.StatusCancelled).Error)

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Violations, 2)
	assert.Contains(t, report.Violations[0], "credit supply")
	assert.Contains(t, report.Violations[1], listing.ID.String())
}

type MockLedgerAuditor struct {
	mock.Mock
}

func (m *MockLedgerAuditor) Audit(ctx context.Context) (*ledger.AuditReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.AuditReport), args.Error(1)
}

func TestRun_CarriesLedgerViolationsAndErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failing := new(MockLedgerAuditor)
	failing.On("Audit", mock.Anything).Return(nil, errors.New("connection reset")).Once()
	_, err := NewAuditor(f.db, failing, ledger.NewRepository(f.db), zap.NewNop()).Run(ctx)
	assert.ErrorContains(t, err, "connection reset")

	reporting := new(MockLedgerAuditor)
	reporting.On("Audit", mock.Anything).Return(&ledger.AuditReport{
		AccountsChecked: 3,
		Violations:      []string{"account x credit balance 5 does not match journal 0"},
	}, nil).Once()
	report, err := NewAuditor(f.db, reporting, ledger.NewRepository(f.db), zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.AccountsChecked)
	assert.Len(t, report.Violations, 1)

	failing.AssertExpectations(t)
	reporting.AssertExpectations(t)
}
