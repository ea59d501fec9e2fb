package handshake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/store"
)

type fixture struct {
	store     *store.MemStore
	engine    *Engine
	owner     string
	requester string
	serviceID string
}

func newFixture(t *testing.T, requesterBalance float64) *fixture {
	t.Helper()
	s := store.NewMemStore()
	ctx := context.Background()

	owner := &models.User{
		ID:        uuid.New().String(),
		Email:     "owner@example.com",
		Balance:   0,
		CreatedAt: time.Now(),
	}
	requester := &models.User{
		ID:        uuid.New().String(),
		Email:     "requester@example.com",
		Balance:   requesterBalance,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateUser(ctx, owner))
	require.NoError(t, s.CreateUser(ctx, requester))

	svc := &models.Service{
		ID:              uuid.New().String(),
		OwnerID:         owner.ID,
		Title:           "garden help",
		Kind:            models.ServiceOffer,
		DurationHours:   2,
		MaxParticipants: 1,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.CreateService(ctx, svc))

	return &fixture{
		store:     s,
		engine:    NewEngine(s, ranking.New(s), 24),
		owner:     owner.ID,
		requester: requester.ID,
		serviceID: svc.ID,
	}
}

func TestProposeValidation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.engine.Propose(ctx, f.serviceID, f.requester, 0)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.engine.Propose(ctx, f.serviceID, f.requester, -1)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.engine.Propose(ctx, f.serviceID, f.requester, 100)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.engine.Propose(ctx, f.serviceID, f.owner, 2)
	require.ErrorIs(t, err, ErrSelfDealing)

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)
	require.Equal(t, models.HandshakePending, h.Status)
	require.False(t, h.ProviderInitiated)
	require.False(t, h.RequesterInitiated)
	require.Equal(t, f.owner, h.ProviderID)
}

func TestCompleteRequiresAcceptedAndBothConfirmed(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)

	// Completing from pending is an illegal transition.
	_, err = f.engine.Complete(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.engine.Accept(ctx, h.ID, f.owner)
	require.NoError(t, err)

	// Accepted but not mutually confirmed yet.
	_, err = f.engine.Complete(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{})
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.requester, Terms{})
	require.NoError(t, err)
	done, err := f.engine.Complete(ctx, h.ID, f.requester)
	require.NoError(t, err)
	require.Equal(t, models.HandshakeCompleted, done.Status)
}

func TestHappyPathSettlement(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, h.ID, f.owner)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{})
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.requester, Terms{})
	require.NoError(t, err)

	done, err := f.engine.Complete(ctx, h.ID, f.requester)
	require.NoError(t, err)
	require.Equal(t, models.HandshakeCompleted, done.Status)

	requester, _ := f.store.GetUser(ctx, f.requester)
	owner, _ := f.store.GetUser(ctx, f.owner)
	require.Equal(t, 3.0, requester.Balance)
	require.Equal(t, 2.0, owner.Balance)

	// Terminal: a second complete is rejected and balances are untouched.
	_, err = f.engine.Complete(ctx, h.ID, f.owner)
	require.ErrorIs(t, err, ErrInvalidState)
	requester, _ = f.store.GetUser(ctx, f.requester)
	require.Equal(t, 3.0, requester.Balance)
}

func TestCompleteInsufficientBalanceKeepsAccepted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, h.ID, f.owner)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{})
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.requester, Terms{})
	require.NoError(t, err)

	_, err = f.engine.Complete(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	got, err := f.store.GetHandshake(ctx, h.ID)
	require.NoError(t, err)
	require.Equal(t, models.HandshakeAccepted, got.Status, "no partial completion")
	requester, _ := f.store.GetUser(ctx, f.requester)
	require.Equal(t, 1.0, requester.Balance)
}

func TestAcceptAuthorization(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)

	_, err = f.engine.Accept(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrUnauthorized)

	accepted, err := f.engine.Accept(ctx, h.ID, f.owner)
	require.NoError(t, err)
	require.Equal(t, models.HandshakeAccepted, accepted.Status)

	_, err = f.engine.Accept(ctx, h.ID, f.owner)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDenyOwnerOnlyFromPending(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)

	_, err = f.engine.Deny(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrUnauthorized)

	denied, err := f.engine.Deny(ctx, h.ID, f.owner)
	require.NoError(t, err)
	require.Equal(t, models.HandshakeDenied, denied.Status)

	// Terminal.
	_, err = f.engine.Cancel(ctx, h.ID, f.requester)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmTermsMergesAndGuards(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)

	_, err = f.engine.ConfirmTerms(ctx, h.ID, "someone-else", Terms{})
	require.ErrorIs(t, err, ErrUnauthorized)

	loc := "community garden"
	dur := 2.5
	when := time.Now().Add(48 * time.Hour)
	got, err := f.engine.ConfirmTerms(ctx, h.ID, f.requester, Terms{
		ExactLocation: &loc,
		ExactDuration: &dur,
		ScheduledTime: &when,
	})
	require.NoError(t, err)
	require.True(t, got.RequesterInitiated)
	require.False(t, got.ProviderInitiated)
	require.Equal(t, "community garden", got.ExactLocation)
	require.Equal(t, 2.5, got.ExactDuration)

	// Last writer wins per field; untouched fields survive.
	loc2 := "tool library"
	got, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{ExactLocation: &loc2})
	require.NoError(t, err)
	require.True(t, got.ProviderInitiated)
	require.Equal(t, "tool library", got.ExactLocation)
	require.Equal(t, 2.5, got.ExactDuration)

	// Not allowed once terminal.
	_, err = f.engine.Cancel(ctx, h.ID, f.requester)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentAcceptCancelSerialized(t *testing.T) {
	ctx := context.Background()

	// The first to commit wins; the loser must observe ErrInvalidState.
	// Run several rounds to give both interleavings a chance.
	for round := 0; round < 20; round++ {
		f := newFixture(t, 5)
		h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var acceptErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.engine.Accept(ctx, h.ID, f.owner)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.engine.Cancel(ctx, h.ID, f.requester)
		}()
		wg.Wait()

		got, err := f.store.GetHandshake(ctx, h.ID)
		require.NoError(t, err)

		switch {
		case acceptErr == nil && cancelErr == nil:
			// Accept then cancel is a legal sequence (cancel is allowed
			// from accepted); the end state must be cancelled.
			require.Equal(t, models.HandshakeCancelled, got.Status)
		case acceptErr == nil:
			require.ErrorIs(t, cancelErr, ErrInvalidState)
			require.Equal(t, models.HandshakeAccepted, got.Status)
		case cancelErr == nil:
			require.ErrorIs(t, acceptErr, ErrInvalidState)
			require.Equal(t, models.HandshakeCancelled, got.Status)
		default:
			t.Fatalf("both transitions failed: accept=%v cancel=%v", acceptErr, cancelErr)
		}
	}
}

func TestConcurrentCompleteSettlesOnce(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	h, err := f.engine.Propose(ctx, f.serviceID, f.requester, 2)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, h.ID, f.owner)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.owner, Terms{})
	require.NoError(t, err)
	_, err = f.engine.ConfirmTerms(ctx, h.ID, f.requester, Terms{})
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Complete(ctx, h.ID, f.requester)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrInvalidState)
		}
	}
	require.Equal(t, 1, wins, "exactly one completion must settle")

	requester, _ := f.store.GetUser(ctx, f.requester)
	owner, _ := f.store.GetUser(ctx, f.owner)
	require.Equal(t, 3.0, requester.Balance)
	require.Equal(t, 2.0, owner.Balance)
}
