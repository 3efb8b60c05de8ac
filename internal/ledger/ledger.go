// Package ledger holds balances and total supply for a capped token.
//
// Every mutating operation takes, in order, the pause gate read lock, the role
// registry read lock, the ledger lock and, for allowance spends, the allowance
// book lock. Checks run in the order arguments, authorization, pause state,
// balances and cap, so a rejected call reports the first rule it breaks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/shared"
)

// Metadata describes the token.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Config fixes the token metadata and supply cap for the ledger lifetime.
type Config struct {
	Metadata
	MaxSupply *uint256.Int
}

// Roles exposes a locked view of role membership.
type Roles interface {
	Read(fn func(rbac.View) error) error
}

// Gate exposes the pause state for the duration of fn.
type Gate interface {
	Hold(fn func(paused bool) error) error
}

type Allowances interface {
	Allowance(owner, spender shared.Identity) *uint256.Int
	SpendWith(owner, spender shared.Identity, amount *uint256.Int, fn func() error) error
}

type Recorder interface {
	Record(ctx context.Context, rec audit.Record) (audit.Record, error)
}

// Observer receives operation outcomes and supply changes. Optional.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveSupply(total *uint256.Int)
}

// Dependencies wires the ledger to its collaborators.
type Dependencies struct {
	Roles      Roles
	Gate       Gate
	Allowances Allowances
	Audit      Recorder
	Observer   Observer
}

// Ledger is safe for concurrent use.
type Ledger struct {
	cfg  Config
	deps Dependencies

	mu       sync.RWMutex
	balances map[shared.Identity]*uint256.Int
	supply   *uint256.Int
}

// New returns an empty ledger.
func New(cfg Config, deps Dependencies) (*Ledger, error) {
	return Restore(cfg, deps, nil)
}

// Restore returns a ledger holding the given balances.
func Restore(cfg Config, deps Dependencies, balances map[shared.Identity]*uint256.Int) (*Ledger, error) {
	if cfg.MaxSupply == nil || cfg.MaxSupply.IsZero() {
		return nil, fmt.Errorf("ledger: %w: max supply must be positive", shared.ErrInvalidArgument)
	}
	if deps.Roles == nil || deps.Gate == nil || deps.Allowances == nil || deps.Audit == nil {
		return nil, errors.New("ledger: dependencies not configured")
	}
	l := &Ledger{
		cfg:      Config{Metadata: cfg.Metadata, MaxSupply: shared.CloneAmount(cfg.MaxSupply)},
		deps:     deps,
		balances: make(map[shared.Identity]*uint256.Int),
		supply:   new(uint256.Int),
	}
	for id, bal := range balances {
		if bal == nil || bal.IsZero() {
			continue
		}
		if id.IsNull() {
			return nil, fmt.Errorf("ledger: restore: %w: null identity holds a balance", shared.ErrInvalidArgument)
		}
		next, overflow := new(uint256.Int).AddOverflow(l.supply, bal)
		if overflow {
			return nil, fmt.Errorf("ledger: restore: %w", shared.ErrOverflow)
		}
		l.supply = next
		l.balances[id] = shared.CloneAmount(bal)
	}
	if l.supply.Gt(l.cfg.MaxSupply) {
		return nil, fmt.Errorf("ledger: restore: %w: supply %s above cap %s", shared.ErrCapacityExceeded, l.supply.Dec(), l.cfg.MaxSupply.Dec())
	}
	l.observeSupply()
	return l, nil
}

func (l *Ledger) Metadata() Metadata { return l.cfg.Metadata }

// MaxSupply returns a copy of the cap.
func (l *Ledger) MaxSupply() *uint256.Int { return shared.CloneAmount(l.cfg.MaxSupply) }

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return shared.CloneAmount(l.supply)
}

func (l *Ledger) BalanceOf(id shared.Identity) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return shared.CloneAmount(l.balances[id])
}

// Snapshot copies every non-zero balance and the total supply under one read
// lock, with the audit sequence number they correspond to. Ledger records are
// appended under the write lock, so no balance change can fall between the
// copy and the sequence read. seq is zero when the recorder has no head.
func (l *Ledger) Snapshot() (balances map[shared.Identity]*uint256.Int, supply *uint256.Int, seq uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balances = make(map[shared.Identity]*uint256.Int, len(l.balances))
	for id, bal := range l.balances {
		balances[id] = shared.CloneAmount(bal)
	}
	if h, ok := l.deps.Audit.(interface{ Head() (uint64, common.Hash) }); ok {
		seq, _ = h.Head()
	}
	return balances, shared.CloneAmount(l.supply), seq
}

// Mint creates amount new units for to. Caller must hold MINTER.
func (l *Ledger) Mint(ctx context.Context, caller, to shared.Identity, amount *uint256.Int) (err error) {
	defer func() { l.observe("mint", err) }()
	if to.IsNull() {
		return fmt.Errorf("ledger: mint: %w: recipient is the null identity", shared.ErrInvalidArgument)
	}
	if err := requirePositive("mint", amount); err != nil {
		return err
	}
	return l.deps.Gate.Hold(func(paused bool) error {
		return l.deps.Roles.Read(func(roles rbac.View) error {
			if !roles.HasRole(shared.RoleMinter, caller) {
				return fmt.Errorf("ledger: mint: %w: %s is not MINTER", shared.ErrUnauthorized, caller)
			}
			if paused {
				return fmt.Errorf("ledger: mint: %w", shared.ErrPaused)
			}

			l.mu.Lock()
			defer l.mu.Unlock()
			supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
			if overflow {
				return fmt.Errorf("ledger: mint: %w: total supply", shared.ErrOverflow)
			}
			if supply.Gt(l.cfg.MaxSupply) {
				return fmt.Errorf("ledger: mint: %w: %s + %s above cap %s", shared.ErrCapacityExceeded, l.supply.Dec(), amount.Dec(), l.cfg.MaxSupply.Dec())
			}
			balance, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(to), amount)
			if overflow {
				return fmt.Errorf("ledger: mint: %w: balance of %s", shared.ErrOverflow, to)
			}
			if _, err := l.deps.Audit.Record(ctx, audit.Record{Kind: audit.KindMinted, Actor: caller, To: to, Amount: amount}); err != nil {
				return err
			}
			l.supply = supply
			l.balances[to] = balance
			return nil
		})
	})
}

// Burn destroys amount of the caller's own balance.
func (l *Ledger) Burn(ctx context.Context, caller shared.Identity, amount *uint256.Int) (err error) {
	defer func() { l.observe("burn", err) }()
	if err := requirePositive("burn", amount); err != nil {
		return err
	}
	return l.deps.Gate.Hold(func(paused bool) error {
		if paused {
			return fmt.Errorf("ledger: burn: %w", shared.ErrPaused)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.burnLocked(ctx, caller, caller, amount, false)
	})
}

// BurnFrom destroys amount of owner's balance. BURNER holders and the owner
// itself need no allowance; anyone else spends the owner's allowance.
func (l *Ledger) BurnFrom(ctx context.Context, caller, owner shared.Identity, amount *uint256.Int) (err error) {
	defer func() { l.observe("burn_from", err) }()
	if owner.IsNull() {
		return fmt.Errorf("ledger: burn from: %w: owner is the null identity", shared.ErrInvalidArgument)
	}
	if err := requirePositive("burn from", amount); err != nil {
		return err
	}
	return l.deps.Gate.Hold(func(paused bool) error {
		return l.deps.Roles.Read(func(roles rbac.View) error {
			privileged := caller == owner || roles.HasRole(shared.RoleBurner, caller)
			if !privileged && l.deps.Allowances.Allowance(owner, caller).Lt(amount) {
				return fmt.Errorf("ledger: burn from: %w: %s is not BURNER and lacks allowance", shared.ErrUnauthorized, caller)
			}
			if paused {
				return fmt.Errorf("ledger: burn from: %w", shared.ErrPaused)
			}

			l.mu.Lock()
			defer l.mu.Unlock()
			if privileged {
				return l.burnLocked(ctx, caller, owner, amount, false)
			}
			if err := l.requireBalanceLocked("burn from", owner, amount); err != nil {
				return err
			}
			return l.deps.Allowances.SpendWith(owner, caller, amount, func() error {
				return l.burnLocked(ctx, caller, owner, amount, true)
			})
		})
	})
}

// Transfer moves amount from the caller to to.
func (l *Ledger) Transfer(ctx context.Context, caller, to shared.Identity, amount *uint256.Int) (err error) {
	defer func() { l.observe("transfer", err) }()
	if to.IsNull() {
		return fmt.Errorf("ledger: transfer: %w: recipient is the null identity", shared.ErrInvalidArgument)
	}
	if err := requirePositive("transfer", amount); err != nil {
		return err
	}
	return l.deps.Gate.Hold(func(paused bool) error {
		if paused {
			return fmt.Errorf("ledger: transfer: %w", shared.ErrPaused)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.transferLocked(ctx, caller, caller, to, amount, false)
	})
}

// TransferFrom moves amount from owner to to, spending the caller's allowance
// unless the caller is the owner.
func (l *Ledger) TransferFrom(ctx context.Context, caller, owner, to shared.Identity, amount *uint256.Int) (err error) {
	defer func() { l.observe("transfer_from", err) }()
	if owner.IsNull() || to.IsNull() {
		return fmt.Errorf("ledger: transfer from: %w: null identity", shared.ErrInvalidArgument)
	}
	if err := requirePositive("transfer from", amount); err != nil {
		return err
	}
	self := caller == owner
	return l.deps.Gate.Hold(func(paused bool) error {
		if !self && l.deps.Allowances.Allowance(owner, caller).Lt(amount) {
			return fmt.Errorf("ledger: transfer from: %w: %s lacks allowance", shared.ErrUnauthorized, caller)
		}
		if paused {
			return fmt.Errorf("ledger: transfer from: %w", shared.ErrPaused)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if self {
			return l.transferLocked(ctx, caller, owner, to, amount, false)
		}
		if err := l.requireBalanceLocked("transfer from", owner, amount); err != nil {
			return err
		}
		return l.deps.Allowances.SpendWith(owner, caller, amount, func() error {
			return l.transferLocked(ctx, caller, owner, to, amount, true)
		})
	})
}

func (l *Ledger) burnLocked(ctx context.Context, caller, from shared.Identity, amount *uint256.Int, spent bool) error {
	if err := l.requireBalanceLocked("burn", from, amount); err != nil {
		return err
	}
	supply, underflow := new(uint256.Int).SubOverflow(l.supply, amount)
	if underflow {
		return fmt.Errorf("ledger: burn: %w: total supply", shared.ErrOverflow)
	}
	if _, err := l.deps.Audit.Record(ctx, audit.Record{Kind: audit.KindBurned, Actor: caller, From: from, Amount: amount, AllowanceSpent: spent}); err != nil {
		return err
	}
	l.supply = supply
	l.setBalanceLocked(from, new(uint256.Int).Sub(l.balanceLocked(from), amount))
	return nil
}

func (l *Ledger) transferLocked(ctx context.Context, caller, from, to shared.Identity, amount *uint256.Int, spent bool) error {
	if err := l.requireBalanceLocked("transfer", from, amount); err != nil {
		return err
	}
	debited := new(uint256.Int).Sub(l.balanceLocked(from), amount)
	credited := l.balanceLocked(to)
	if from != to {
		var overflow bool
		if credited, overflow = new(uint256.Int).AddOverflow(credited, amount); overflow {
			return fmt.Errorf("ledger: transfer: %w: balance of %s", shared.ErrOverflow, to)
		}
	}
	if _, err := l.deps.Audit.Record(ctx, audit.Record{Kind: audit.KindTransferred, Actor: caller, From: from, To: to, Amount: amount, AllowanceSpent: spent}); err != nil {
		return err
	}
	if from != to {
		l.setBalanceLocked(from, debited)
		l.setBalanceLocked(to, credited)
	}
	return nil
}

func (l *Ledger) requireBalanceLocked(op string, id shared.Identity, amount *uint256.Int) error {
	if bal := l.balanceLocked(id); bal.Lt(amount) {
		return fmt.Errorf("ledger: %s: %w: %s holds %s, needs %s", op, shared.ErrInsufficientBalance, id, bal.Dec(), amount.Dec())
	}
	return nil
}

func (l *Ledger) balanceLocked(id shared.Identity) *uint256.Int {
	if bal, ok := l.balances[id]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalanceLocked(id shared.Identity, bal *uint256.Int) {
	if bal.IsZero() {
		delete(l.balances, id)
		return
	}
	l.balances[id] = bal
}

func (l *Ledger) observe(op string, err error) {
	if l.deps.Observer == nil {
		return
	}
	l.deps.Observer.ObserveOperation(op, err)
	if err == nil {
		l.observeSupply()
	}
}

func (l *Ledger) observeSupply() {
	if l.deps.Observer != nil {
		l.deps.Observer.ObserveSupply(l.TotalSupply())
	}
}

func requirePositive(op string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("ledger: %s: %w: amount must be greater than zero", op, shared.ErrInvalidArgument)
	}
	return nil
}
