package verification

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/apperrors"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database/dbtest"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	repo      submissions.Repository
	registry  *submissions.Service
	service   *Service
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	db := dbtest.New(t, submissions.Migrate)
	repo := submissions.NewRepository(db)
	publisher := &capturePublisher{}
	return &fixture{
		repo:      repo,
		registry:  submissions.NewService(repo, calculation.DefaultPolicy(), nil, zap.NewNop()),
		service:   NewService(repo, publisher, zap.NewNop()),
		publisher: publisher,
	}
}

func (f *fixture) submit(t *testing.T) *submissions.Submission {
	t.Helper()
	sub, err := f.registry.Create(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("1247.5"))
	require.NoError(t, err)
	return sub
}

func TestApprove_RecordsVerifierAndTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)
	verifier := uuid.New()

	decided, err := f.service.Approve(ctx, sub.ID, verifier)
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusApproved, decided.Status)
	require.NotNil(t, decided.VerifierID)
	assert.Equal(t, verifier, *decided.VerifierID)
	require.NotNil(t, decided.DecidedAt)

	stored, err := f.repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusApproved, stored.Status)
	assert.Equal(t, verifier, *stored.VerifierID)
	assert.True(t, stored.CO2KgComputed.Equal(sub.CO2KgComputed))

	require.Equal(t, 1, f.publisher.count())
	assert.Equal(t, events.TypeSubmissionDecided, f.publisher.events[0].Type)
	assert.Equal(t, sub.ID, f.publisher.events[0].AggregateID)
}

func TestReject_ThenApproveIsAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)

	decided, err := f.service.Reject(ctx, sub.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusRejected, decided.Status)

	_, err = f.service.Approve(ctx, sub.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)

	_, err = f.service.Reject(ctx, sub.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
}

func TestDecide_MintedIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)

	_, err := f.service.Approve(ctx, sub.ID, uuid.New())
	require.NoError(t, err)
	ok, err := f.repo.CompareAndSetStatus(ctx, sub.ID, submissions.StatusApproved, submissions.StatusMinted, nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.service.Reject(ctx, sub.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

func TestDecide_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)

	_, err := f.service.Decide(ctx, sub.ID, uuid.New(), Decision("maybe"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.Approve(ctx, sub.ID, uuid.Nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.Approve(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDecide_ConcurrentVerifiersSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)

	const verifiers = 8
	results := make([]error, verifiers)
	decisions := make([]Decision, verifiers)

	var wg sync.WaitGroup
	for i := 0; i < verifiers; i++ {
		decisions[i] = DecisionApprove
		if i%2 == 1 {
			decisions[i] = DecisionReject
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.service.Decide(ctx, sub.ID, uuid.New(), decisions[i])
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range results {
		if err == nil {
			require.Equal(t, -1, winner, "more than one verifier succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
	}
	require.NotEqual(t, -1, winner)

	stored, err := f.repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	want, _ := decisions[winner].target()
	assert.Equal(t, want, stored.Status)
	assert.Equal(t, 1, f.publisher.count())
}

// staleRepository loses every status compare-and-set, as if another verifier
// committed between the read and the update.
type staleRepository struct {
	submissions.Repository
}

func (staleRepository) CompareAndSetStatus(context.Context, uuid.UUID, submissions.Status, submissions.Status, map[string]interface{}) (bool, error) {
	return false, nil
}

func TestDecide_LostRaceIsAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t)
	lost := metrics.LostRacesTotal.WithLabelValues("decide")
	before := testutil.ToFloat64(lost)

	_, err := NewService(staleRepository{f.repo}, f.publisher, zap.NewNop()).Approve(ctx, sub.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
	assert.Equal(t, before+1, testutil.ToFloat64(lost))
	assert.Equal(t, 0, f.publisher.count())

	stored, err := f.repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submissions.StatusPending, stored.Status)
	assert.Nil(t, stored.VerifierID)
}
