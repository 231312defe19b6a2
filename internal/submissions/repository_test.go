package submissions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database/dbtest"
)

func newPending(producer uuid.UUID) *Submission {
	return &Submission{
		ProducerID:    producer,
		ProjectID:     uuid.New(),
		KWhReported:   decimal.RequireFromString("100.25"),
		CO2KgComputed: decimal.RequireFromString("43.64885"),
		Status:        StatusPending,
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := NewRepository(dbtest.New(t, Migrate))
	ctx := context.Background()

	sub := newPending(uuid.New())
	require.NoError(t, repo.Create(ctx, sub))
	require.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, uuid.Version(7), sub.ID.Version())

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ProducerID, got.ProducerID)
	assert.True(t, got.KWhReported.Equal(sub.KWhReported))
	assert.True(t, got.CO2KgComputed.Equal(sub.CO2KgComputed))
	assert.Equal(t, StatusPending, got.Status)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRepository_ListIsCreationOrderedAndPaged(t *testing.T) {
	repo := NewRepository(dbtest.New(t, Migrate))
	ctx := context.Background()

	producer := uuid.New()
	var created []uuid.UUID
	for i := 0; i < 5; i++ {
		sub := newPending(producer)
		require.NoError(t, repo.Create(ctx, sub))
		created = append(created, sub.ID)
	}
	require.NoError(t, repo.Create(ctx, newPending(uuid.New())))

	first, err := repo.List(ctx, Filter{ProducerID: &producer, Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)

	after := first[2].ID
	rest, err := repo.List(ctx, Filter{ProducerID: &producer, After: &after, Limit: 3})
	require.NoError(t, err)
	require.Len(t, rest, 2)

	var ids []uuid.UUID
	for _, s := range append(first, rest...) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, created, ids)

	approved := StatusApproved
	none, err := repo.List(ctx, Filter{Status: &approved})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_CompareAndSetStatus(t *testing.T) {
	repo := NewRepository(dbtest.New(t, Migrate))
	ctx := context.Background()

	sub := newPending(uuid.New())
	require.NoError(t, repo.Create(ctx, sub))

	verifier := uuid.New()
	decidedAt := time.Now().UTC()
	ok, err := repo.CompareAndSetStatus(ctx, sub.ID, StatusPending, StatusApproved, map[string]interface{}{
		"verifier_id": verifier,
		"decided_at":  decidedAt,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSetStatus(ctx, sub.ID, StatusPending, StatusRejected, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.NotNil(t, got.VerifierID)
	assert.Equal(t, verifier, *got.VerifierID)
	require.NotNil(t, got.DecidedAt)
}

func TestRepository_CompareAndSetStatus_SingleWinner(t *testing.T) {
	repo := NewRepository(dbtest.New(t, Migrate))
	ctx := context.Background()

	sub := newPending(uuid.New())
	require.NoError(t, repo.Create(ctx, sub))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := StatusApproved
			if i%2 == 1 {
				to = StatusRejected
			}
			ok, err := repo.CompareAndSetStatus(ctx, sub.ID, StatusPending, to, nil)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
