package auth

import (
	"context"
	"errors"
	"time"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/store"
)

// ErrAccountLocked is returned while a lockout window is active, regardless
// of credential correctness.
var ErrAccountLocked = errors.New("account locked")

// LockoutGuard tracks consecutive authentication failures per account and
// enforces a temporary lockout once the threshold is reached.
type LockoutGuard struct {
	store     store.Store
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewLockoutGuard(s store.Store, threshold int, window time.Duration) *LockoutGuard {
	return &LockoutGuard{store: s, threshold: threshold, window: window, now: time.Now}
}

// Check fails with ErrAccountLocked while the user's lockout is active.
func (g *LockoutGuard) Check(u *models.User) error {
	if u.LockedUntil != nil && g.now().Before(*u.LockedUntil) {
		return ErrAccountLocked
	}
	return nil
}

// RecordFailure increments the failure counter; reaching the threshold sets
// the lockout expiry and resets the counter for the next window.
func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) error {
	return g.store.UpdateUser(ctx, userID, func(u *models.User) error {
		u.FailedLogins++
		if u.FailedLogins >= g.threshold {
			until := g.now().Add(g.window)
			u.LockedUntil = &until
			u.FailedLogins = 0
		}
		return nil
	})
}

// RecordSuccess resets the failure counter and clears any expired lockout.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, userID string) error {
	return g.store.UpdateUser(ctx, userID, func(u *models.User) error {
		u.FailedLogins = 0
		u.LockedUntil = nil
		return nil
	})
}
