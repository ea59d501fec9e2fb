// Package reputation validates and records post-completion reputation
// entries: one per (handshake, giver), score effects applied exactly once.
package reputation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/store"
)

var (
	// ErrNotCompleted rejects a submission before the handshake settled.
	ErrNotCompleted = errors.New("handshake is not completed")
	// ErrNotParticipant rejects givers/receivers outside the handshake.
	ErrNotParticipant = errors.New("not a participant in this handshake")
	// ErrSelfReputation rejects rating yourself.
	ErrSelfReputation = errors.New("giver and receiver must differ")
	// ErrDuplicateReputation rejects a second entry for the same
	// (handshake, giver) pair.
	ErrDuplicateReputation = store.ErrDuplicateReputation
)

// Flags are the boolean quality marks a giver can set. Each true flag adds
// one karma point to the receiver; the comment has no numeric effect.
type Flags struct {
	OnTime    bool `json:"on_time"`
	Kind      bool `json:"kind"`
	Satisfied bool `json:"satisfied"`
}

type Gate struct {
	store  store.Store
	ranker *ranking.Ranker
}

func NewGate(s store.Store, r *ranking.Ranker) *Gate {
	return &Gate{store: s, ranker: r}
}

// Submit validates and records one reputation entry. The duplicate check is
// atomic with the insert, so concurrent submissions for the same
// (handshake, giver) key store exactly one record and apply the karma delta
// exactly once.
func (g *Gate) Submit(ctx context.Context, handshakeID, giverID, receiverID string, flags Flags, comment string) (*models.ReputationRep, error) {
	h, err := g.store.GetHandshake(ctx, handshakeID)
	if err != nil {
		return nil, err
	}
	if h.Status != models.HandshakeCompleted {
		return nil, ErrNotCompleted
	}
	if !h.Participant(giverID) || !h.Participant(receiverID) {
		return nil, ErrNotParticipant
	}
	if giverID == receiverID {
		return nil, ErrSelfReputation
	}

	rep := &models.ReputationRep{
		ID:          uuid.New().String(),
		HandshakeID: handshakeID,
		GiverID:     giverID,
		ReceiverID:  receiverID,
		OnTime:      flags.OnTime,
		Kind:        flags.Kind,
		Satisfied:   flags.Satisfied,
		Comment:     comment,
		CreatedAt:   time.Now(),
	}
	if err := g.store.InsertReputation(ctx, rep); err != nil {
		return nil, err
	}

	g.ranker.Signal(h.ServiceID)
	return rep, nil
}
