// Package handshake implements the negotiation state machine between a
// service owner (provider) and a requester:
//
//	pending -> accepted -> completed
//	pending|accepted -> cancelled
//	pending -> denied
//
// completed/cancelled/denied are terminal. Completion settles the
// provisioned hours from requester to provider atomically with the status
// change.
package handshake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/store"
)

var (
	// ErrInvalidState rejects an illegal transition.
	ErrInvalidState = errors.New("invalid handshake state")
	// ErrUnauthorized rejects an actor without rights for the action.
	ErrUnauthorized = errors.New("not authorized for this handshake")
	// ErrInvalidDuration rejects non-positive or over-cap provisioned hours.
	ErrInvalidDuration = errors.New("invalid provisioned hours")
	// ErrSelfDealing rejects a handshake against the requester's own service.
	ErrSelfDealing = errors.New("cannot request your own service")
	// ErrInsufficientBalance surfaces a settlement shortfall; the
	// handshake stays accepted.
	ErrInsufficientBalance = store.ErrInsufficientBalance
)

// Terms carries the agreed-detail fields of confirmTerms. Nil fields are
// left untouched; supplied fields merge last-writer-wins while the
// handshake is not completed.
type Terms struct {
	ExactLocation *string    `json:"exact_location"`
	ExactDuration *float64   `json:"exact_duration"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

// Engine serializes transitions per handshake: a keyed mutex gives each
// handshake a single writer at a time, so racing accept/cancel/complete
// calls commit in some order and the loser observes ErrInvalidState.
type Engine struct {
	store    store.Store
	ranker   *ranking.Ranker
	maxHours float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(s store.Store, r *ranking.Ranker, maxHours float64) *Engine {
	return &Engine{
		store:    s,
		ranker:   r,
		maxHours: maxHours,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lock(handshakeID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[handshakeID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[handshakeID] = l
	}
	return l
}

// Propose creates a pending handshake from requester against a service.
func (e *Engine) Propose(ctx context.Context, serviceID, requesterID string, hours float64) (*models.Handshake, error) {
	if hours <= 0 || hours > e.maxHours {
		return nil, ErrInvalidDuration
	}
	svc, err := e.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.OwnerID == requesterID {
		return nil, ErrSelfDealing
	}

	now := time.Now()
	h := &models.Handshake{
		ID:               uuid.New().String(),
		ServiceID:        serviceID,
		RequesterID:      requesterID,
		ProviderID:       svc.OwnerID,
		Status:           models.HandshakePending,
		ProvisionedHours: hours,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.CreateHandshake(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// ConfirmTerms marks the actor's side of the agreement confirmed and merges
// any supplied agreed-detail fields. Allowed only while pending or accepted.
func (e *Engine) ConfirmTerms(ctx context.Context, handshakeID, actorID string, terms Terms) (*models.Handshake, error) {
	l := e.lock(handshakeID)
	l.Lock()
	defer l.Unlock()

	err := e.store.UpdateHandshake(ctx, handshakeID, func(h *models.Handshake) error {
		if !h.Participant(actorID) {
			return ErrUnauthorized
		}
		if h.Status != models.HandshakePending && h.Status != models.HandshakeAccepted {
			return ErrInvalidState
		}
		if actorID == h.ProviderID {
			h.ProviderInitiated = true
		} else {
			h.RequesterInitiated = true
		}
		if terms.ExactLocation != nil {
			h.ExactLocation = *terms.ExactLocation
		}
		if terms.ExactDuration != nil {
			h.ExactDuration = *terms.ExactDuration
		}
		if terms.ScheduledTime != nil {
			h.ScheduledTime = terms.ScheduledTime
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetHandshake(ctx, handshakeID)
}

// Accept moves pending to accepted. Owner only.
func (e *Engine) Accept(ctx context.Context, handshakeID, actorID string) (*models.Handshake, error) {
	l := e.lock(handshakeID)
	l.Lock()
	defer l.Unlock()

	err := e.store.UpdateHandshake(ctx, handshakeID, func(h *models.Handshake) error {
		if actorID != h.ProviderID {
			return ErrUnauthorized
		}
		if h.Status != models.HandshakePending {
			return ErrInvalidState
		}
		h.Status = models.HandshakeAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetHandshake(ctx, handshakeID)
}

// Complete settles the handshake: requires accepted status with both sides
// confirmed, then moves the provisioned hours requester -> provider
// atomically with the transition to completed. A shortfall leaves the
// handshake accepted with no partial effect.
func (e *Engine) Complete(ctx context.Context, handshakeID, actorID string) (*models.Handshake, error) {
	l := e.lock(handshakeID)
	l.Lock()
	defer l.Unlock()

	h, err := e.store.GetHandshake(ctx, handshakeID)
	if err != nil {
		return nil, err
	}
	if !h.Participant(actorID) {
		return nil, ErrUnauthorized
	}
	if h.Status != models.HandshakeAccepted {
		return nil, ErrInvalidState
	}
	if !h.ProviderInitiated || !h.RequesterInitiated {
		return nil, ErrInvalidState
	}

	if err := e.store.SettleHandshake(ctx, handshakeID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	// Completion unlocks reputation for both parties (the gate keys off
	// the completed status) and feeds the ranking signal.
	e.ranker.Signal(h.ServiceID)
	return e.store.GetHandshake(ctx, handshakeID)
}

// Cancel terminates from pending or accepted. Either party. No balance
// effect.
func (e *Engine) Cancel(ctx context.Context, handshakeID, actorID string) (*models.Handshake, error) {
	l := e.lock(handshakeID)
	l.Lock()
	defer l.Unlock()

	err := e.store.UpdateHandshake(ctx, handshakeID, func(h *models.Handshake) error {
		if !h.Participant(actorID) {
			return ErrUnauthorized
		}
		if h.Status != models.HandshakePending && h.Status != models.HandshakeAccepted {
			return ErrInvalidState
		}
		h.Status = models.HandshakeCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetHandshake(ctx, handshakeID)
}

// Deny terminates from pending. Owner only. No balance effect.
func (e *Engine) Deny(ctx context.Context, handshakeID, actorID string) (*models.Handshake, error) {
	l := e.lock(handshakeID)
	l.Lock()
	defer l.Unlock()

	err := e.store.UpdateHandshake(ctx, handshakeID, func(h *models.Handshake) error {
		if actorID != h.ProviderID {
			return ErrUnauthorized
		}
		if h.Status != models.HandshakePending {
			return ErrInvalidState
		}
		h.Status = models.HandshakeDenied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetHandshake(ctx, handshakeID)
}
