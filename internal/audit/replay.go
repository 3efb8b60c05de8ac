package audit

import (
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/shared"
)

var (
	// ErrChainBroken reports a record whose sequence or hash does not follow its predecessor.
	ErrChainBroken = errors.New("audit: chain broken")
	// ErrGenesisIncomplete reports a log that never reached its token.deployed record.
	ErrGenesisIncomplete = errors.New("audit: genesis incomplete")
	// ErrGenesisMismatch reports configuration that disagrees with the recorded genesis.
	ErrGenesisMismatch = errors.New("audit: configuration differs from genesis")
)

// Genesis is the token definition fixed by the token.deployed record.
type Genesis struct {
	Name      string
	Symbol    string
	Decimals  uint8
	MaxSupply *uint256.Int
	Seq       uint64
}

// AllowanceKey identifies an owner/spender pair.
type AllowanceKey struct {
	Owner   shared.Identity
	Spender shared.Identity
}

// State is the ledger state reconstructed from an audit stream.
type State struct {
	Balances    map[shared.Identity]*uint256.Int
	TotalSupply *uint256.Int
	Roles       map[shared.Role]map[shared.Identity]struct{}
	Allowances  map[AllowanceKey]*uint256.Int
	Paused      bool
	Seq         uint64
	Head        common.Hash
	// Genesis is nil until the token.deployed record has been applied.
	Genesis     *Genesis
}

func NewState() *State {
	return &State{
		Balances:    make(map[shared.Identity]*uint256.Int),
		TotalSupply: new(uint256.Int),
		Roles:       make(map[shared.Role]map[shared.Identity]struct{}),
		Allowances:  make(map[AllowanceKey]*uint256.Int),
	}
}

// Replay folds records into a fresh State, verifying the hash chain as it goes.
func Replay(records iter.Seq[Record]) (*State, error) {
	st := NewState()
	for rec := range records {
		if err := st.Apply(rec); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Apply verifies rec against the chain head and folds it into the state.
func (s *State) Apply(rec Record) error {
	if rec.Seq != s.Seq+1 {
		return fmt.Errorf("%w: expected seq %d, got %d", ErrChainBroken, s.Seq+1, rec.Seq)
	}
	if rec.PrevHash != s.Head {
		return fmt.Errorf("%w: seq %d does not link to %s", ErrChainBroken, rec.Seq, s.Head.Hex())
	}
	if got := rec.ComputeHash(); got != rec.Hash {
		return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, rec.Seq)
	}
	if err := s.fold(rec); err != nil {
		return fmt.Errorf("audit: apply seq %d: %w", rec.Seq, err)
	}
	s.Seq = rec.Seq
	s.Head = rec.Hash
	return nil
}

func (s *State) fold(rec Record) error {
	amount := shared.CloneAmount(rec.Amount)
	switch rec.Kind {
	case KindRoleGranted:
		holders := s.Roles[rec.Role]
		if holders == nil {
			holders = make(map[shared.Identity]struct{})
			s.Roles[rec.Role] = holders
		}
		holders[rec.Account] = struct{}{}
	case KindRoleRevoked:
		delete(s.Roles[rec.Role], rec.Account)
	case KindMinted:
		supply, overflow := new(uint256.Int).AddOverflow(s.TotalSupply, amount)
		if overflow {
			return shared.ErrOverflow
		}
		if s.Genesis != nil && supply.Gt(s.Genesis.MaxSupply) {
			return fmt.Errorf("%w: supply %s above cap %s", shared.ErrCapacityExceeded, supply.Dec(), s.Genesis.MaxSupply.Dec())
		}
		s.TotalSupply = supply
		s.credit(rec.To, amount)
	case KindBurned:
		if err := s.debit(rec.From, amount); err != nil {
			return err
		}
		if rec.AllowanceSpent {
			if err := s.spend(rec.From, rec.Actor, amount); err != nil {
				return err
			}
		}
		s.TotalSupply = new(uint256.Int).Sub(s.TotalSupply, amount)
	case KindTransferred:
		if err := s.debit(rec.From, amount); err != nil {
			return err
		}
		if rec.AllowanceSpent {
			if err := s.spend(rec.From, rec.Actor, amount); err != nil {
				return err
			}
		}
		s.credit(rec.To, amount)
	case KindApproved:
		key := AllowanceKey{Owner: rec.From, Spender: rec.To}
		if amount.IsZero() {
			delete(s.Allowances, key)
		} else {
			s.Allowances[key] = amount
		}
	case KindPaused:
		s.Paused = true
	case KindUnpaused:
		s.Paused = false
	case KindDeployed:
		if s.Genesis != nil {
			return fmt.Errorf("%w: genesis already recorded at seq %d", shared.ErrInvalidOperation, s.Genesis.Seq)
		}
		if amount.IsZero() || s.TotalSupply.Gt(amount) {
			return fmt.Errorf("%w: cap %s with supply %s", shared.ErrCapacityExceeded, amount.Dec(), s.TotalSupply.Dec())
		}
		s.Genesis = &Genesis{Name: rec.Name, Symbol: rec.Symbol, Decimals: rec.Decimals, MaxSupply: amount, Seq: rec.Seq}
	default:
		return fmt.Errorf("%w: unknown kind %q", shared.ErrInvalidArgument, rec.Kind)
	}
	return nil
}

func (s *State) credit(id shared.Identity, amount *uint256.Int) {
	s.Balances[id] = new(uint256.Int).Add(s.BalanceOf(id), amount)
}

func (s *State) debit(id shared.Identity, amount *uint256.Int) error {
	bal := s.BalanceOf(id)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s", shared.ErrInsufficientBalance, id)
	}
	next := new(uint256.Int).Sub(bal, amount)
	if next.IsZero() {
		delete(s.Balances, id)
	} else {
		s.Balances[id] = next
	}
	return nil
}

func (s *State) spend(owner, spender shared.Identity, amount *uint256.Int) error {
	key := AllowanceKey{Owner: owner, Spender: spender}
	current := shared.CloneAmount(s.Allowances[key])
	if IsUnlimited(current) {
		return nil
	}
	if current.Lt(amount) {
		return fmt.Errorf("%w: allowance of %s for %s", shared.ErrUnauthorized, spender, owner)
	}
	next := new(uint256.Int).Sub(current, amount)
	if next.IsZero() {
		delete(s.Allowances, key)
	} else {
		s.Allowances[key] = next
	}
	return nil
}

// IsUnlimited reports whether an allowance is the maximum value, which is never decremented.
func IsUnlimited(v *uint256.Int) bool {
	return v != nil && v.Eq(maxAllowance)
}

var maxAllowance = new(uint256.Int).SetAllOne()

// Unlimited returns a fresh copy of the unlimited allowance value.
func Unlimited() *uint256.Int { return new(uint256.Int).Set(maxAllowance) }

func (s *State) BalanceOf(id shared.Identity) *uint256.Int {
	return shared.CloneAmount(s.Balances[id])
}

func (s *State) HasRole(role shared.Role, id shared.Identity) bool {
	_, ok := s.Roles[role][id]
	return ok
}

// Members lists holders of role in byte order.
func (s *State) Members(role shared.Role) []shared.Identity {
	out := make([]shared.Identity, 0, len(s.Roles[role]))
	for id := range s.Roles[role] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return shared.CompareIdentity(out[i], out[j]) < 0 })
	return out
}

// MaxSupply returns the recorded cap, or nil before genesis.
func (s *State) MaxSupply() *uint256.Int {
	if s.Genesis == nil {
		return nil
	}
	return shared.CloneAmount(s.Genesis.MaxSupply)
}

// RequireGenesis fails when records exist but genesis was never completed.
func (s *State) RequireGenesis() error {
	if s.Seq > 0 && s.Genesis == nil {
		return fmt.Errorf("%w: %d records without token.deployed", ErrGenesisIncomplete, s.Seq)
	}
	return nil
}

// Verify checks the ledger invariants: balances sum to supply, supply within
// the cap, and at least one ADMIN once any record exists. The recorded cap
// wins; a non-nil maxSupply must equal it.
func (s *State) Verify(maxSupply *uint256.Int) error {
	if s.Genesis != nil {
		if maxSupply != nil && !maxSupply.Eq(s.Genesis.MaxSupply) {
			return fmt.Errorf("%w: cap %s, recorded %s", ErrGenesisMismatch, maxSupply.Dec(), s.Genesis.MaxSupply.Dec())
		}
		maxSupply = s.Genesis.MaxSupply
	}
	sum := new(uint256.Int)
	for id, bal := range s.Balances {
		if id.IsNull() {
			return fmt.Errorf("audit: null identity holds %s", bal.Dec())
		}
		var overflow bool
		if sum, overflow = new(uint256.Int).AddOverflow(sum, bal); overflow {
			return fmt.Errorf("audit: balance sum overflows: %w", shared.ErrOverflow)
		}
	}
	if !sum.Eq(s.TotalSupply) {
		return fmt.Errorf("audit: balances sum %s, supply %s", sum.Dec(), s.TotalSupply.Dec())
	}
	if maxSupply != nil && s.TotalSupply.Gt(maxSupply) {
		return fmt.Errorf("audit: supply %s exceeds cap %s: %w", s.TotalSupply.Dec(), maxSupply.Dec(), shared.ErrCapacityExceeded)
	}
	if s.Seq > 0 && len(s.Roles[shared.RoleAdmin]) == 0 {
		return fmt.Errorf("audit: no ADMIN holder: %w", shared.ErrInvalidOperation)
	}
	return nil
}
