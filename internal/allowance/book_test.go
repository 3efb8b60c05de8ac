package allowance

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/shared"
)

var (
	holder  = shared.MustIdentity("0x00000000000000000000000000000000000000c1")
	spender = shared.MustIdentity("0x00000000000000000000000000000000000000c2")
)

type stubRecorder struct{ records []audit.Record }

func (s *stubRecorder) Record(_ context.Context, rec audit.Record) (audit.Record, error) {
	s.records = append(s.records, rec)
	return rec, nil
}

func TestApproveAndSpend(t *testing.T) {
	rec := &stubRecorder{}
	book := NewBook(rec)
	ctx := context.Background()

	require.NoError(t, book.Approve(ctx, holder, spender, uint256.NewInt(100)))
	assert.Equal(t, uint64(100), book.Allowance(holder, spender).Uint64())
	require.Len(t, rec.records, 1)
	assert.Equal(t, audit.KindApproved, rec.records[0].Kind)

	ran := false
	require.NoError(t, book.SpendWith(holder, spender, uint256.NewInt(30), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Equal(t, uint64(70), book.Allowance(holder, spender).Uint64())

	err := book.SpendWith(holder, spender, uint256.NewInt(71), func() error {
		t.Fatal("fn must not run when allowance is short")
		return nil
	})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestSpendFailureKeepsAllowance(t *testing.T) {
	book := RestoreBook(map[audit.AllowanceKey]*uint256.Int{{Owner: holder, Spender: spender}: uint256.NewInt(50)}, &stubRecorder{})
	boom := errors.New("boom")
	err := book.SpendWith(holder, spender, uint256.NewInt(50), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(50), book.Allowance(holder, spender).Uint64())
}

func TestUnlimitedAllowanceIsNotDecremented(t *testing.T) {
	book := NewBook(&stubRecorder{})
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, book.Approve(context.Background(), holder, spender, max))
	require.NoError(t, book.SpendWith(holder, spender, uint256.NewInt(1_000_000), func() error { return nil }))
	assert.True(t, book.Allowance(holder, spender).Eq(max))
}

func TestApproveZeroClears(t *testing.T) {
	book := NewBook(&stubRecorder{})
	ctx := context.Background()
	require.NoError(t, book.Approve(ctx, holder, spender, uint256.NewInt(5)))
	require.NoError(t, book.Approve(ctx, holder, spender, new(uint256.Int)))
	assert.True(t, book.Allowance(holder, spender).IsZero())
	assert.ErrorIs(t, book.Approve(ctx, shared.NullIdentity, spender, uint256.NewInt(1)), shared.ErrInvalidArgument)
}
