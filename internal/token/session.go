package token

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/shared"
)

// Client is the caller-bound ledger contract. Session serves it in process and
// the HTTP client serves it remotely.
type Client interface {
	Mint(ctx context.Context, to shared.Identity, amount *uint256.Int) error
	Burn(ctx context.Context, amount *uint256.Int) error
	BurnFrom(ctx context.Context, owner shared.Identity, amount *uint256.Int) error
	Transfer(ctx context.Context, to shared.Identity, amount *uint256.Int) error
	TransferFrom(ctx context.Context, owner, to shared.Identity, amount *uint256.Int) error
	Approve(ctx context.Context, spender shared.Identity, amount *uint256.Int) error
	GrantRole(ctx context.Context, role shared.Role, account shared.Identity) error
	RevokeRole(ctx context.Context, role shared.Role, account shared.Identity) error
	RenounceRole(ctx context.Context, role shared.Role) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	HasRole(ctx context.Context, role shared.Role, account shared.Identity) (bool, error)
	BalanceOf(ctx context.Context, account shared.Identity) (*uint256.Int, error)
}

// Session acts on a token as one caller.
type Session struct {
	token  *Token
	caller shared.Identity
}

var _ Client = (*Session)(nil)

// As binds caller to the token.
func (t *Token) As(caller shared.Identity) *Session {
	return &Session{token: t, caller: caller}
}

func (s *Session) Caller() shared.Identity { return s.caller }

func (s *Session) Mint(ctx context.Context, to shared.Identity, amount *uint256.Int) error {
	return s.token.Ledger.Mint(ctx, s.caller, to, amount)
}

func (s *Session) Burn(ctx context.Context, amount *uint256.Int) error {
	return s.token.Ledger.Burn(ctx, s.caller, amount)
}

func (s *Session) BurnFrom(ctx context.Context, owner shared.Identity, amount *uint256.Int) error {
	return s.token.Ledger.BurnFrom(ctx, s.caller, owner, amount)
}

func (s *Session) Transfer(ctx context.Context, to shared.Identity, amount *uint256.Int) error {
	return s.token.Ledger.Transfer(ctx, s.caller, to, amount)
}

func (s *Session) TransferFrom(ctx context.Context, owner, to shared.Identity, amount *uint256.Int) error {
	return s.token.Ledger.TransferFrom(ctx, s.caller, owner, to, amount)
}

func (s *Session) Approve(ctx context.Context, spender shared.Identity, amount *uint256.Int) error {
	return s.token.Allowances.Approve(ctx, s.caller, spender, amount)
}

func (s *Session) GrantRole(ctx context.Context, role shared.Role, account shared.Identity) error {
	return s.token.Roles.GrantRole(ctx, s.caller, role, account)
}

func (s *Session) RevokeRole(ctx context.Context, role shared.Role, account shared.Identity) error {
	return s.token.Roles.RevokeRole(ctx, s.caller, role, account)
}

func (s *Session) RenounceRole(ctx context.Context, role shared.Role) error {
	return s.token.Roles.RenounceRole(ctx, s.caller, role)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.token.Gate.Pause(ctx, s.caller)
}

func (s *Session) Unpause(ctx context.Context) error {
	return s.token.Gate.Unpause(ctx, s.caller)
}

func (s *Session) HasRole(_ context.Context, role shared.Role, account shared.Identity) (bool, error) {
	return s.token.Roles.HasRole(role, account), nil
}

func (s *Session) BalanceOf(_ context.Context, account shared.Identity) (*uint256.Int, error) {
	return s.token.Ledger.BalanceOf(account), nil
}
