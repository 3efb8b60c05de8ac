// Package allowance tracks how much a spender may move on an owner's behalf.
package allowance

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/shared"
)

type Recorder interface {
	Record(ctx context.Context, rec audit.Record) (audit.Record, error)
}

// Book stores allowances keyed by owner and spender. The maximum value is
// treated as unlimited and never decremented.
type Book struct {
	mu         sync.Mutex
	allowances map[audit.AllowanceKey]*uint256.Int
	audit      Recorder
}

func NewBook(rec Recorder) *Book {
	return &Book{allowances: make(map[audit.AllowanceKey]*uint256.Int), audit: rec}
}

// RestoreBook rebuilds a book from replayed entries.
func RestoreBook(entries map[audit.AllowanceKey]*uint256.Int, rec Recorder) *Book {
	b := NewBook(rec)
	for key, amount := range entries {
		if amount != nil && !amount.IsZero() {
			b.allowances[key] = shared.CloneAmount(amount)
		}
	}
	return b
}

// Allowance returns a copy of the current allowance.
func (b *Book) Allowance(owner, spender shared.Identity) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return shared.CloneAmount(b.allowances[audit.AllowanceKey{Owner: owner, Spender: spender}])
}

// Approve replaces the allowance. Zero clears it.
func (b *Book) Approve(ctx context.Context, owner, spender shared.Identity, amount *uint256.Int) error {
	if owner.IsNull() || spender.IsNull() {
		return fmt.Errorf("allowance: approve: %w: null identity", shared.ErrInvalidArgument)
	}
	amount = shared.CloneAmount(amount)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.audit.Record(ctx, audit.Record{Kind: audit.KindApproved, Actor: owner, From: owner, To: spender, Amount: amount}); err != nil {
		return err
	}
	key := audit.AllowanceKey{Owner: owner, Spender: spender}
	if amount.IsZero() {
		delete(b.allowances, key)
	} else {
		b.allowances[key] = amount
	}
	return nil
}

// SpendWith deducts amount from the allowance once fn succeeds. The book stays
// locked while fn runs, so concurrent spends cannot both pass the check.
func (b *Book) SpendWith(owner, spender shared.Identity, amount *uint256.Int, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := audit.AllowanceKey{Owner: owner, Spender: spender}
	current := shared.CloneAmount(b.allowances[key])
	if current.Lt(amount) {
		return fmt.Errorf("allowance: %w: %s may spend %s of %s, needs %s", shared.ErrUnauthorized, spender, current.Dec(), owner, amount.Dec())
	}
	if err := fn(); err != nil {
		return err
	}
	if audit.IsUnlimited(current) {
		return nil
	}
	next := new(uint256.Int).Sub(current, amount)
	if next.IsZero() {
		delete(b.allowances, key)
	} else {
		b.allowances[key] = next
	}
	return nil
}
