package marketplace

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
)

// staleListings loses every status compare-and-set, as if another buyer or
// the seller committed between the read and the update.
type staleListings struct {
	Repository
}

func (r staleListings) WithTx(tx *gorm.DB) Repository {
	return staleListings{r.Repository.WithTx(tx)}
}

func (staleListings) CompareAndSetStatus(context.Context, uuid.UUID, ListingStatus, ListingStatus, map[string]interface{}) (bool, error) {
	return false, nil
}

func (f *fixture) serviceWith(repo Repository) *Service {
	return NewService(f.db, repo, ledger.NewRepository(f.db), calculation.DefaultPolicy(), events.NopPublisher{}, zap.NewNop())
}

func TestBuy_LostStatusRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t)
	buyer := f.buyer(t, "2")
	listing := f.list(t, seller, "0.2", "1")

	_, err := f.serviceWith(staleListings{NewRepository(f.db)}).Buy(ctx, listing.ID, buyer)
	assert.ErrorIs(t, err, apperrors.ErrListingUnavailable)
	assert.True(t, apperrors.IsConcurrencyLoss(err))

	assert.Equal(t, int64(2_000_000), f.payment(t, buyer))
	assert.Equal(t, int64(0), f.credits(t, buyer))
	f.assertConserved(t)
}

func TestCancel_LostStatusRace(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t)
	listing := f.list(t, seller, "0.2", "1")

	_, err := f.serviceWith(staleListings{NewRepository(f.db)}).Cancel(context.Background(), listing.ID, seller)
	assert.ErrorIs(t, err, apperrors.ErrListingUnavailable)
	assert.Equal(t, int64(34), f.credits(t, seller))
	f.assertConserved(t)
}

func TestBuy_ExistingTradeRollsBackSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t)
	buyer := f.buyer(t, "2")
	listing := f.list(t, seller, "0.2", "1")

	// A trade row left behind for the listing trips the unique index.
	require.NoError(t, f.db.Create(&Trade{
		ListingID:     listing.ID,
		BuyerID:       uuid.New(),
		SellerID:      seller,
		CO2OffsetTons: decimal.Zero,
		SettledAt:     time.Now().UTC(),
	}).Error)

	_, err := f.service.Buy(ctx, listing.ID, buyer)
	assert.ErrorIs(t, err, apperrors.ErrListingUnavailable)

	still, err := f.service.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, still.Status)
	assert.Equal(t, int64(2_000_000), f.payment(t, buyer))
	assert.Equal(t, int64(0), f.credits(t, buyer))
}

func TestCreateTrade_UniqueListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepository(f.db)
	listingID := uuid.New()

	trade := func() *Trade {
		return &Trade{ListingID: listingID, BuyerID: uuid.New(), SellerID: uuid.New(), CO2OffsetTons: decimal.Zero, SettledAt: time.Now().UTC()}
	}
	require.NoError(t, repo.CreateTrade(ctx, trade()))
	err := repo.CreateTrade(ctx, trade())
	assert.Equal(t, apperrors.CodeListingUnavailable, apperrors.CodeOf(err))
}

func TestBuy_LocksBothAccountsBeforePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t)
	buyer := f.buyer(t, "2")
	listing := f.list(t, seller, "0.2", "1")

	var (
		mu    sync.Mutex
		steps []string
	)
	record := func(step string) {
		mu.Lock()
		steps = append(steps, step)
		mu.Unlock()
	}
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("trace:account_locks", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; ok && tx.Statement.Table == "ledger_accounts" {
			record("lock " + tx.Statement.SQL.String())
		}
	}))
	require.NoError(t, f.db.Callback().Update().After("gorm:update").Register("trace:account_updates", func(tx *gorm.DB) {
		if tx.Statement.Table == "ledger_accounts" {
			record("update")
		}
	}))

	_, err := f.service.Buy(ctx, listing.ID, buyer)
	require.NoError(t, err)

	require.Len(t, steps, 4)
	assert.True(t, strings.HasPrefix(steps[0], "lock "), steps[0])
	assert.Contains(t, steps[0], "ORDER BY id")
	assert.Equal(t, []string{"update", "update", "update"}, steps[1:])
}

func TestBuy_CrossingTradesSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.seller(t), f.seller(t)
	for _, account := range []uuid.UUID{alice, bob} {
		_, err := f.ledger.Deposit(ctx, account, decimal.NewFromInt(5))
		require.NoError(t, err)
	}
	fromAlice := f.list(t, alice, "0.2", "1")
	fromBob := f.list(t, bob, "0.2", "1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.service.Buy(ctx, fromAlice.ID, bob)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.service.Buy(ctx, fromBob.ID, alice)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	for _, account := range []uuid.UUID{alice, bob} {
		assert.Equal(t, int64(54), f.credits(t, account))
		assert.Equal(t, int64(5_000_000), f.payment(t, account))
	}
	f.assertConserved(t)
}
