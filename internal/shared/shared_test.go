package shared

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", id.String())
	assert.False(t, id.IsNull())

	_, err = ParseIdentity("0x1234")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	null, err := ParseIdentity("0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, null.IsNull())
}

func TestIdentityTextRoundTrip(t *testing.T) {
	id := MustIdentity("0x00000000000000000000000000000000000000aa")
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back Identity
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
	assert.Equal(t, -1, CompareIdentity(NullIdentity, id))
}

func TestRoleIDs(t *testing.T) {
	assert.Equal(t, common.Hash{}, RoleAdmin.ID())
	// keccak256("MINTER_ROLE")
	assert.Equal(t, "0x9f2df0fed2c77648de5860a4cc508cd0818c85b8b8a1ab4ceeef8d981c8956a6", RoleMinter.ID().Hex())

	for _, raw := range []string{"minter", "MINTER_ROLE", RoleMinter.ID().Hex()} {
		role, err := ParseRole(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, RoleMinter, role)
	}
	role, err := ParseRole("DEFAULT_ADMIN_ROLE")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("OWNER")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.Dec())
	assert.Equal(t, "1.5", FormatUnits(v, 18))

	assert.Equal(t, "0.000000000000000001", FormatUnits(Units(1, 0), 18))
	assert.Equal(t, "1000000000", FormatUnits(Units(1_000_000_000, 18), 18))

	_, err = ParseUnits("1.0000000000000000001", 18)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseUnits("abc", 18)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseAmountOverflow(t *testing.T) {
	_, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639936")
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "Paused", KindOf(fmt.Errorf("ledger: mint: %w", ErrPaused)))
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, "", KindOf(context.Canceled))
}

func TestCallerContext(t *testing.T) {
	_, ok := CallerFromContext(context.Background())
	assert.False(t, ok)

	id := MustIdentity("0x00000000000000000000000000000000000000bb")
	got, ok := CallerFromContext(ContextWithCaller(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
