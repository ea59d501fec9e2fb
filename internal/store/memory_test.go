package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/open-hours/timebank/internal/models"
)

func seedUser(t *testing.T, s *MemStore, balance float64) *models.User {
	t.Helper()
	u := &models.User{
		ID:        uuid.New().String(),
		Name:      "user",
		Email:     uuid.New().String() + "@example.com",
		Balance:   balance,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestTransferConservationUnderConcurrency(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	const nUsers = 8
	const perUser = 100.0
	users := make([]*models.User, nUsers)
	for i := range users {
		users[i] = seedUser(t, s, perUser)
	}

	// Hammer transfers between random-ish pairs; some will fail with
	// insufficient balance, which is fine. The invariants are that the
	// total is conserved and no balance ever goes negative.
	var wg sync.WaitGroup
	for i := 0; i < nUsers; i++ {
		for j := 0; j < nUsers; j++ {
			if i == j {
				continue
			}
			wg.Add(1)
			go func(from, to string) {
				defer wg.Done()
				for k := 0; k < 25; k++ {
					_ = s.Transfer(ctx, from, to, 1.5, "stress")
				}
			}(users[i].ID, users[j].ID)
		}
	}
	wg.Wait()

	total := 0.0
	for _, u := range users {
		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.Balance, 0.0, "balance went negative for %s", u.ID)
		total += got.Balance
	}
	require.InDelta(t, nUsers*perUser, total, 1e-6, "hours were created or destroyed")
}

func TestTransferInsufficientBalance(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	a := seedUser(t, s, 1)
	b := seedUser(t, s, 0)

	err := s.Transfer(ctx, a.ID, b.ID, 2, "ref")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved, nothing logged.
	gotA, _ := s.GetUser(ctx, a.ID)
	gotB, _ := s.GetUser(ctx, b.ID)
	require.Equal(t, 1.0, gotA.Balance)
	require.Equal(t, 0.0, gotB.Balance)
	entries, err := s.ListTransfers(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTransferWritesAuditEntries(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	a := seedUser(t, s, 5)
	b := seedUser(t, s, 1)

	require.NoError(t, s.Transfer(ctx, a.ID, b.ID, 2, "hs-1"))

	debits, err := s.ListTransfers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	require.Equal(t, -2.0, debits[0].Change)
	require.Equal(t, 3.0, debits[0].BalanceAfter)
	require.Equal(t, models.TransferDebit, debits[0].Kind)
	require.Equal(t, "hs-1", debits[0].Reference)

	credits, err := s.ListTransfers(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	require.Equal(t, 2.0, credits[0].Change)
	require.Equal(t, 3.0, credits[0].BalanceAfter)
	require.Equal(t, models.TransferCredit, credits[0].Kind)
}

func TestInsertReputationDuplicateIsAtomic(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	giver := seedUser(t, s, 0)
	receiver := seedUser(t, s, 0)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertReputation(ctx, &models.ReputationRep{
				ID:          uuid.New().String(),
				HandshakeID: "hs-1",
				GiverID:     giver.ID,
				ReceiverID:  receiver.ID,
				OnTime:      true,
				Satisfied:   true,
				CreatedAt:   time.Now(),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrDuplicateReputation)
		}
	}
	require.Equal(t, 1, wins, "exactly one submission must win")

	// Karma applied exactly once: two true flags, one record.
	got, err := s.GetUser(ctx, receiver.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Karma)
}

func TestListServicesOrdersByHotScore(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	owner := seedUser(t, s, 0)

	ids := make([]string, 3)
	for i := range ids {
		svc := &models.Service{
			ID:              uuid.New().String(),
			OwnerID:         owner.ID,
			Title:           fmt.Sprintf("service %d", i),
			Kind:            models.ServiceOffer,
			DurationHours:   1,
			MaxParticipants: 1,
			CreatedAt:       time.Now(),
		}
		require.NoError(t, s.CreateService(ctx, svc))
		ids[i] = svc.ID
	}
	require.NoError(t, s.SetHotScore(ctx, ids[1], 10))
	require.NoError(t, s.SetHotScore(ctx, ids[2], 5))

	list, err := s.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ids[1], list[0].ID)
	require.Equal(t, ids[2], list[1].ID)
}
