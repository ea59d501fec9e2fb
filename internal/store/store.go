// Package store defines the durable-state boundary for the timebank core.
// Engines validate and serialize; the store enforces the same invariants at
// the write path as a backstop.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/open-hours/timebank/internal/models"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses to an invariant check,
	// e.g. a duplicate email or a settle on a non-accepted handshake.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientBalance is returned by Transfer and SettleHandshake
	// when the payer cannot cover the amount. Balances never go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateReputation is returned by InsertReputation when a rep
	// already exists for the same (handshake, giver) pair.
	ErrDuplicateReputation = errors.New("duplicate reputation")
)

// ActivityStats is the snapshot HotScoreRanker recomputes from.
type ActivityStats struct {
	CompletedHandshakes int
	ReputationVolume    int
	CommentCount        int
	LastCommentAt       time.Time
}

// Store is the opaque durable store backing the engines. All multi-entity
// writes (Transfer, SettleHandshake, InsertReputation) are atomic units:
// both sides visible together or not at all.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// UpdateUser applies fn to the current row under the store's write lock.
	UpdateUser(ctx context.Context, id string, fn func(*models.User) error) error

	// CreateService persists the service and its chat room as one unit.
	CreateService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	// ListServices returns services ordered by hot score, highest first.
	ListServices(ctx context.Context) ([]*models.Service, error)
	// SetHotScore stores a recomputed score, last writer wins.
	SetHotScore(ctx context.Context, serviceID string, score float64) error

	CreateHandshake(ctx context.Context, h *models.Handshake) error
	GetHandshake(ctx context.Context, id string) (*models.Handshake, error)
	ListHandshakesByUser(ctx context.Context, userID string) ([]*models.Handshake, error)
	ListHandshakesByService(ctx context.Context, serviceID string) ([]*models.Handshake, error)
	// UpdateHandshake applies fn to the current row under the store's
	// write lock; fn returning an error aborts the update untouched.
	UpdateHandshake(ctx context.Context, id string, fn func(*models.Handshake) error) error

	// Transfer atomically debits from and credits to, writing both audit
	// entries in the same unit. Fails ErrInsufficientBalance on shortfall.
	Transfer(ctx context.Context, fromID, toID string, amount float64, reference string) error
	ListTransfers(ctx context.Context, userID string) ([]*models.TransferEntry, error)

	// SettleHandshake marks the handshake completed and moves amount from
	// requester to provider as a single unit. Fails ErrConflict if the
	// handshake is not accepted, ErrInsufficientBalance on shortfall; in
	// either case the status is untouched.
	SettleHandshake(ctx context.Context, handshakeID string) error

	// InsertReputation stores the rep and applies its karma delta to the
	// receiver as one unit. The duplicate check is atomic with the insert.
	InsertReputation(ctx context.Context, r *models.ReputationRep) error
	ListReputationByReceiver(ctx context.Context, userID string) ([]*models.ReputationRep, error)

	AppendMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the room log in append order; zero since means
	// the full log.
	ListMessages(ctx context.Context, serviceID string, since time.Time) ([]*models.Message, error)

	ServiceActivity(ctx context.Context, serviceID string) (ActivityStats, error)
}
