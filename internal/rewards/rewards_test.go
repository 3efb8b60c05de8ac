package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/ledger"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/internal/token"
)

var (
	owner      = shared.MustIdentity("0x00000000000000000000000000000000000000c1")
	gameIssuer = shared.MustIdentity("0x00000000000000000000000000000000000000c2")
	player     = shared.MustIdentity("0x00000000000000000000000000000000000000c3")
)

func deploy(t *testing.T) *token.Token {
	t.Helper()
	tok, err := token.Deploy(context.Background(), token.Params{
		Config: ledger.Config{
			Metadata:  ledger.Metadata{Name: "Potato Token", Symbol: "POTATO", Decimals: 0},
			MaxSupply: uint256.NewInt(1000),
		},
		Owner: owner,
		Sink:  audit.NewMemorySink(),
	})
	require.NoError(t, err)
	require.NoError(t, tok.As(owner).GrantRole(context.Background(), shared.RoleMinter, gameIssuer))
	return tok
}

func TestRewardMintsOncePerClaim(t *testing.T) {
	tok := deploy(t)
	claims := NewMemoryClaims()
	var outcomes []string
	iss, err := NewIssuer(KindGame, gameIssuer, tok.As(gameIssuer), claims,
		WithObserver(func(kind, outcome string) { outcomes = append(outcomes, kind+":"+outcome) }))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := iss.Reward(ctx, "spin-1", player, uint256.NewInt(25))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMinted, out)

	out, err = iss.Reward(ctx, "spin-1", player, uint256.NewInt(25))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	assert.Equal(t, "25", tok.Ledger.BalanceOf(player).Dec())
	status, ok, err := claims.Status(ctx, "spin-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ClaimMinted, status)
	assert.Equal(t, []string{"game:minted", "game:duplicate"}, outcomes)
}

func TestRejectedMintReleasesClaim(t *testing.T) {
	tok := deploy(t)
	claims := NewMemoryClaims()
	iss, err := NewIssuer(KindGame, gameIssuer, tok.As(gameIssuer), claims)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := iss.Reward(ctx, "spin-2", player, uint256.NewInt(5000))
	assert.ErrorIs(t, err, shared.ErrCapacityExceeded)
	assert.Equal(t, OutcomeRejected, out)
	status, _, _ := claims.Status(ctx, "spin-2")
	assert.Equal(t, ClaimReleased, status)

	out, err = iss.Reward(ctx, "spin-2", player, uint256.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMinted, out)
	assert.Equal(t, "50", tok.Ledger.TotalSupply().Dec())
}

func TestIssuerWithoutMinterRoleIsRejected(t *testing.T) {
	tok := deploy(t)
	stranger := shared.MustIdentity("0x00000000000000000000000000000000000000c9")
	iss, err := NewIssuer(KindReferral, stranger, tok.As(stranger), NewMemoryClaims())
	require.NoError(t, err)

	out, err := iss.Reward(context.Background(), "ref-1", player, uint256.NewInt(1))
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	assert.Equal(t, OutcomeRejected, out)
}

func TestRewardValidation(t *testing.T) {
	tok := deploy(t)
	iss, err := NewIssuer(KindTasks, gameIssuer, tok.As(gameIssuer), NewMemoryClaims())
	require.NoError(t, err)

	_, err = iss.Reward(context.Background(), " ", player, uint256.NewInt(1))
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = iss.Reward(context.Background(), "task-1", player, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = NewIssuer("lottery", gameIssuer, tok.As(gameIssuer), NewMemoryClaims())
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = NewIssuer(KindGame, shared.NullIdentity, tok.As(gameIssuer), NewMemoryClaims())
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

type flakyMinter struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyMinter) Mint(context.Context, shared.Identity, *uint256.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("connection reset")
}

func TestTransportFailureIsNotRejection(t *testing.T) {
	claims := NewMemoryClaims()
	iss, err := NewIssuer(KindGame, gameIssuer, &flakyMinter{}, claims)
	require.NoError(t, err)

	out, err := iss.Reward(context.Background(), "spin-9", player, uint256.NewInt(1))
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	status, _, _ := claims.Status(context.Background(), "spin-9")
	assert.Equal(t, ClaimReleased, status)
}

func TestConcurrentDeliveriesMintOnce(t *testing.T) {
	tok := deploy(t)
	iss, err := NewIssuer(KindGame, gameIssuer, tok.As(gameIssuer), NewMemoryClaims())
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := iss.Reward(context.Background(), "spin-race", player, uint256.NewInt(3))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, "3", tok.Ledger.BalanceOf(player).Dec())
}

func TestIssuersLookup(t *testing.T) {
	set := Issuers{}
	_, err := set.Lookup(KindGame)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	k, err := ParseKind(" Referral ")
	require.NoError(t, err)
	assert.Equal(t, KindReferral, k)
	assert.Len(t, Kinds(), 3)
}
