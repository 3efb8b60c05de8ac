package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatospin/potatospin/internal/allowance"
	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/pause"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/shared"
)

var (
	admin  = shared.MustIdentity("0x00000000000000000000000000000000000000d1")
	minter = shared.MustIdentity("0x00000000000000000000000000000000000000d2")
	alice  = shared.MustIdentity("0x00000000000000000000000000000000000000d3")
	bob    = shared.MustIdentity("0x00000000000000000000000000000000000000d4")
	burner = shared.MustIdentity("0x00000000000000000000000000000000000000d5")
)

type switchSink struct {
	*audit.MemorySink
	down atomic.Bool
}

func (s *switchSink) Append(ctx context.Context, rec audit.Record) error {
	if s.down.Load() {
		return errors.New("sink offline")
	}
	return s.MemorySink.Append(ctx, rec)
}

type fixture struct {
	ledger *Ledger
	roles  *rbac.Registry
	gate   *pause.Gate
	book   *allowance.Book
	sink   *switchSink
}

func newFixture(t *testing.T, maxSupply *uint256.Int) *fixture {
	t.Helper()
	ctx := context.Background()
	sink := &switchSink{MemorySink: audit.NewMemorySink()}
	emitter := audit.NewEmitter(sink)
	roles, err := rbac.NewRegistry(ctx, admin, emitter)
	require.NoError(t, err)
	require.NoError(t, roles.GrantRole(ctx, admin, shared.RoleMinter, minter))
	require.NoError(t, roles.GrantRole(ctx, admin, shared.RolePauser, admin))
	require.NoError(t, roles.GrantRole(ctx, admin, shared.RoleBurner, burner))
	gate := pause.NewGate(roles, emitter)
	book := allowance.NewBook(emitter)
	l, err := New(Config{
		Metadata:  Metadata{Name: "Potato Token", Symbol: "POTATO", Decimals: 18},
		MaxSupply: maxSupply,
	}, Dependencies{Roles: roles, Gate: gate, Allowances: book, Audit: emitter})
	require.NoError(t, err)
	return &fixture{ledger: l, roles: roles, gate: gate, book: book, sink: sink}
}

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMintRequiresMinter(t *testing.T) {
	f := newFixture(t, n(1_000_000_000))
	ctx := context.Background()

	require.ErrorIs(t, f.ledger.Mint(ctx, alice, alice, n(10)), shared.ErrUnauthorized)
	require.NoError(t, f.roles.GrantRole(ctx, admin, shared.RoleMinter, alice))
	require.NoError(t, f.ledger.Mint(ctx, alice, bob, n(10)))
	assert.Equal(t, uint64(10), f.ledger.BalanceOf(bob).Uint64())

	assert.ErrorIs(t, f.ledger.Mint(ctx, minter, shared.NullIdentity, n(1)), shared.ErrInvalidArgument)
	assert.ErrorIs(t, f.ledger.Mint(ctx, minter, bob, n(0)), shared.ErrInvalidArgument)
}

func TestMintCap(t *testing.T) {
	f := newFixture(t, n(1_000_000_000))
	ctx := context.Background()

	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(999_999_999)))
	require.ErrorIs(t, f.ledger.Mint(ctx, minter, bob, n(2)), shared.ErrCapacityExceeded)
	assert.True(t, f.ledger.BalanceOf(bob).IsZero())

	require.NoError(t, f.ledger.Mint(ctx, minter, bob, n(1)))
	assert.Equal(t, uint64(1_000_000_000), f.ledger.TotalSupply().Uint64())
}

func TestMintOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	f := newFixture(t, max)
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, max))
	assert.ErrorIs(t, f.ledger.Mint(ctx, minter, bob, n(1)), shared.ErrOverflow)
}

func TestConcurrentMintsNeverExceedCap(t *testing.T) {
	f := newFixture(t, n(1000))
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		capped   atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.ledger.Mint(ctx, minter, alice, n(30))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, shared.ErrCapacityExceeded):
				capped.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(33), accepted.Load())
	assert.Equal(t, int64(31), capped.Load())
	assert.Equal(t, uint64(990), f.ledger.TotalSupply().Uint64())
	assertSupplyMatchesBalances(t, f.ledger)
}

func TestBurn(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(1000)))

	require.NoError(t, f.ledger.Burn(ctx, alice, n(500)))
	assert.Equal(t, uint64(500), f.ledger.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(500), f.ledger.TotalSupply().Uint64())

	assert.ErrorIs(t, f.ledger.Burn(ctx, alice, n(0)), shared.ErrInvalidArgument)
	assert.ErrorIs(t, f.ledger.Burn(ctx, alice, n(501)), shared.ErrInsufficientBalance)
}

func TestBurnFrom(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(1000)))

	// BURNER needs no allowance.
	require.NoError(t, f.ledger.BurnFrom(ctx, burner, alice, n(100)))

	// Others need one.
	require.ErrorIs(t, f.ledger.BurnFrom(ctx, bob, alice, n(50)), shared.ErrUnauthorized)
	require.NoError(t, f.book.Approve(ctx, alice, bob, n(80)))
	require.NoError(t, f.ledger.BurnFrom(ctx, bob, alice, n(50)))
	assert.Equal(t, uint64(30), f.book.Allowance(alice, bob).Uint64())
	require.ErrorIs(t, f.ledger.BurnFrom(ctx, bob, alice, n(31)), shared.ErrUnauthorized)

	// Allowance is untouched when the owner is short.
	require.NoError(t, f.book.Approve(ctx, alice, bob, n(5000)))
	require.ErrorIs(t, f.ledger.BurnFrom(ctx, bob, alice, n(5000)), shared.ErrInsufficientBalance)
	assert.Equal(t, uint64(5000), f.book.Allowance(alice, bob).Uint64())

	assert.Equal(t, uint64(850), f.ledger.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(850), f.ledger.TotalSupply().Uint64())
	assert.ErrorIs(t, f.ledger.BurnFrom(ctx, burner, shared.NullIdentity, n(1)), shared.ErrInvalidArgument)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(100)))

	require.NoError(t, f.ledger.Transfer(ctx, alice, bob, n(40)))
	assert.Equal(t, uint64(60), f.ledger.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(40), f.ledger.BalanceOf(bob).Uint64())

	require.NoError(t, f.ledger.Transfer(ctx, alice, alice, n(60)))
	assert.Equal(t, uint64(60), f.ledger.BalanceOf(alice).Uint64())

	assert.ErrorIs(t, f.ledger.Transfer(ctx, alice, bob, n(61)), shared.ErrInsufficientBalance)
	assert.ErrorIs(t, f.ledger.Transfer(ctx, alice, shared.NullIdentity, n(1)), shared.ErrInvalidArgument)
	assert.ErrorIs(t, f.ledger.Transfer(ctx, alice, bob, n(0)), shared.ErrInvalidArgument)
	assertSupplyMatchesBalances(t, f.ledger)
}

func TestTransferFrom(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(100)))

	require.ErrorIs(t, f.ledger.TransferFrom(ctx, bob, alice, bob, n(10)), shared.ErrUnauthorized)
	require.NoError(t, f.book.Approve(ctx, alice, bob, n(25)))
	require.NoError(t, f.ledger.TransferFrom(ctx, bob, alice, burner, n(25)))
	assert.Equal(t, uint64(25), f.ledger.BalanceOf(burner).Uint64())
	assert.True(t, f.book.Allowance(alice, bob).IsZero())
}

func TestPausedLedger(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(100)))
	require.NoError(t, f.book.Approve(ctx, alice, bob, n(10)))
	require.NoError(t, f.gate.Pause(ctx, admin))

	assert.ErrorIs(t, f.ledger.Mint(ctx, minter, alice, n(1)), shared.ErrPaused)
	assert.ErrorIs(t, f.ledger.Burn(ctx, alice, n(1)), shared.ErrPaused)
	assert.ErrorIs(t, f.ledger.BurnFrom(ctx, burner, alice, n(1)), shared.ErrPaused)
	assert.ErrorIs(t, f.ledger.BurnFrom(ctx, bob, alice, n(1)), shared.ErrPaused)
	assert.ErrorIs(t, f.ledger.Transfer(ctx, alice, bob, n(1)), shared.ErrPaused)
	assert.ErrorIs(t, f.ledger.TransferFrom(ctx, bob, alice, bob, n(1)), shared.ErrPaused)

	// Authorization is reported ahead of the pause.
	assert.ErrorIs(t, f.ledger.Mint(ctx, alice, alice, n(1)), shared.ErrUnauthorized)

	// Administration stays live.
	require.NoError(t, f.roles.GrantRole(ctx, admin, shared.RoleMinter, bob))
	require.NoError(t, f.roles.RevokeRole(ctx, admin, shared.RoleMinter, bob))
	assert.Equal(t, uint64(100), f.ledger.BalanceOf(alice).Uint64())
	assert.ErrorIs(t, f.gate.Pause(ctx, admin), shared.ErrInvalidOperation)

	require.NoError(t, f.gate.Unpause(ctx, admin))
	require.NoError(t, f.ledger.Transfer(ctx, alice, bob, n(1)))
}

func TestAuditFailureRollsBack(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(100)))
	require.NoError(t, f.book.Approve(ctx, alice, bob, n(50)))

	f.sink.down.Store(true)
	assert.ErrorIs(t, f.ledger.Mint(ctx, minter, alice, n(1)), shared.ErrAuditUnavailable)
	assert.ErrorIs(t, f.ledger.Transfer(ctx, alice, bob, n(1)), shared.ErrAuditUnavailable)
	assert.ErrorIs(t, f.ledger.BurnFrom(ctx, bob, alice, n(10)), shared.ErrAuditUnavailable)

	assert.Equal(t, uint64(100), f.ledger.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(100), f.ledger.TotalSupply().Uint64())
	assert.Equal(t, uint64(50), f.book.Allowance(alice, bob).Uint64())

	f.sink.down.Store(false)
	require.NoError(t, f.ledger.Transfer(ctx, alice, bob, n(1)))
}

func TestReplayMatchesLiveState(t *testing.T) {
	f := newFixture(t, n(1_000_000))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, minter, alice, n(1000)))
	require.NoError(t, f.ledger.Transfer(ctx, alice, bob, n(300)))
	require.NoError(t, f.book.Approve(ctx, bob, alice, n(100)))
	require.NoError(t, f.ledger.BurnFrom(ctx, alice, bob, n(60)))
	require.NoError(t, f.ledger.Burn(ctx, alice, n(200)))
	require.NoError(t, f.ledger.BurnFrom(ctx, burner, bob, n(40)))
	require.NoError(t, f.roles.RevokeRole(ctx, admin, shared.RoleBurner, burner))

	st, err := audit.Replay(f.sink.All())
	require.NoError(t, err)
	require.NoError(t, st.Verify(f.ledger.MaxSupply()))

	balances, supply, seq := f.ledger.Snapshot()
	assert.Equal(t, st.Seq, seq)
	assert.True(t, supply.Eq(st.TotalSupply))
	require.Len(t, st.Balances, len(balances))
	for id, bal := range balances {
		assert.True(t, bal.Eq(st.BalanceOf(id)), id.String())
	}
	for _, role := range shared.Roles() {
		assert.Equal(t, f.roles.Members(role), st.Members(role), role)
	}
	assert.Equal(t, uint64(40), st.Allowances[audit.AllowanceKey{Owner: bob, Spender: alice}].Uint64())
}

func TestRestoreRejectsSupplyAboveCap(t *testing.T) {
	f := newFixture(t, n(10))
	_, err := Restore(Config{MaxSupply: n(10)}, f.ledger.deps, map[shared.Identity]*uint256.Int{alice: n(11)})
	assert.ErrorIs(t, err, shared.ErrCapacityExceeded)
}

func assertSupplyMatchesBalances(t *testing.T, l *Ledger) {
	t.Helper()
	balances, supply, _ := l.Snapshot()
	sum := new(uint256.Int)
	for _, bal := range balances {
		sum.Add(sum, bal)
	}
	assert.True(t, sum.Eq(supply), "sum %s supply %s", sum.Dec(), supply.Dec())
	assert.False(t, supply.Gt(l.MaxSupply()))
}
