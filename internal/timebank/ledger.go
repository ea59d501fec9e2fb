// Package timebank is the hour-balance accounting system backing
// settlement.
package timebank

import (
	"context"
	"errors"

	"github.com/open-hours/timebank/internal/store"
)

var (
	// ErrInsufficientBalance is the ledger shortfall failure. No
	// overdraft: balances never go negative.
	ErrInsufficientBalance = store.ErrInsufficientBalance
	// ErrInvalidAmount rejects zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	// ErrSameAccount rejects a transfer with one user on both ends.
	ErrSameAccount = errors.New("cannot transfer to self")
)

// Ledger is the atomic hour-transfer primitive over user accounts. The
// debit and credit are a single unit: no interleaving transfer observes an
// intermediate state, and the sum of balances is conserved.
type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Transfer moves amount hours from one user to another, recording both
// audit entries under reference.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount float64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return ErrSameAccount
	}
	return l.store.Transfer(ctx, fromID, toID, amount, reference)
}

// History returns a user's transfer log in chronological order.
func (l *Ledger) History(ctx context.Context, userID string) ([]LedgerEntry, error) {
	entries, err := l.store.ListTransfers(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntry{
			ID:           e.ID,
			Change:       e.Change,
			BalanceAfter: e.BalanceAfter,
			Kind:         e.Kind,
			Reference:    e.Reference,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out, nil
}
