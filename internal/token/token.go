// Package token assembles the role registry, pause gate, allowance book and
// supply ledger around one audit emitter.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/allowance"
	"github.com/potatospin/potatospin/internal/audit"
	"github.com/potatospin/potatospin/internal/ledger"
	"github.com/potatospin/potatospin/internal/pause"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/shared"
)

// Params configures a token instance.
type Params struct {
	Config        ledger.Config
	Owner         shared.Identity
	InitialSupply *uint256.Int
	Sink          audit.Sink
	Observer      ledger.Observer
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Token is a running ledger with its collaborators.
type Token struct {
	Roles      *rbac.Registry
	Gate       *pause.Gate
	Allowances *allowance.Book
	Ledger     *ledger.Ledger
	Audit      *audit.Emitter
}

// Deploy starts a fresh ledger. The owner becomes ADMIN, MINTER and PAUSER and
// receives the initial supply. A token.deployed record closes the genesis and
// fixes the metadata and cap for every later restore.
func Deploy(ctx context.Context, p Params) (*Token, error) {
	if p.Owner.IsNull() {
		return nil, fmt.Errorf("token: deploy: %w: owner is the null identity", shared.ErrInvalidArgument)
	}
	if p.InitialSupply != nil && p.Config.MaxSupply != nil && p.InitialSupply.Gt(p.Config.MaxSupply) {
		return nil, fmt.Errorf("token: deploy: %w: initial supply above cap", shared.ErrCapacityExceeded)
	}
	emitter := newEmitter(p)
	roles, err := rbac.NewRegistry(ctx, p.Owner, emitter)
	if err != nil {
		return nil, fmt.Errorf("token: deploy: %w", err)
	}
	t, err := assemble(p, emitter, roles, pause.NewGate(roles, emitter), allowance.NewBook(emitter), nil)
	if err != nil {
		return nil, err
	}
	if err := completeGenesis(ctx, p, t); err != nil {
		return nil, err
	}
	logger(p).Info("token deployed",
		slog.String("symbol", p.Config.Symbol),
		slog.String("owner", p.Owner.String()),
		slog.String("initial_supply", shared.FormatUnits(p.InitialSupply, p.Config.Decimals)))
	return t, nil
}

// completeGenesis runs the deployment steps that are not yet in the log. Each
// step is skipped when replay shows it already happened.
func completeGenesis(ctx context.Context, p Params, t *Token) error {
	for _, role := range []shared.Role{shared.RoleMinter, shared.RolePauser} {
		if err := t.Roles.GrantRole(ctx, p.Owner, role, p.Owner); err != nil {
			return fmt.Errorf("token: deploy: grant %s: %w", role, err)
		}
	}
	if p.InitialSupply != nil && !p.InitialSupply.IsZero() && t.Ledger.TotalSupply().IsZero() {
		if err := t.Ledger.Mint(ctx, p.Owner, p.Owner, p.InitialSupply); err != nil {
			return fmt.Errorf("token: deploy: initial mint: %w", err)
		}
	}
	_, err := t.Audit.Record(ctx, audit.Record{
		Kind:     audit.KindDeployed,
		Actor:    p.Owner,
		Amount:   p.Config.MaxSupply,
		Name:     p.Config.Name,
		Symbol:   p.Config.Symbol,
		Decimals: p.Config.Decimals,
	})
	if err != nil {
		return fmt.Errorf("token: deploy: %w", err)
	}
	return nil
}

// Restore rebuilds a ledger by replaying records. The chain and the supply
// invariants are checked before anything is served. The cap and metadata come
// from the genesis record; a configuration that disagrees is refused. A log
// cut short during deployment is completed with the configured parameters.
func Restore(ctx context.Context, p Params, records []audit.Record) (*Token, error) {
	st, err := audit.Replay(audit.Sequence(records))
	if err != nil {
		return nil, fmt.Errorf("token: restore: %w", err)
	}
	if err := st.Verify(p.Config.MaxSupply); err != nil {
		return nil, fmt.Errorf("token: restore: %w", err)
	}
	resume := st.Genesis == nil
	if resume {
		if err := resumable(p, records); err != nil {
			return nil, fmt.Errorf("token: restore: %w", err)
		}
	} else {
		g := st.Genesis
		if g.Name != p.Config.Name || g.Symbol != p.Config.Symbol || g.Decimals != p.Config.Decimals {
			return nil, fmt.Errorf("token: restore: %w: deployed as %s %q with %d decimals",
				audit.ErrGenesisMismatch, g.Symbol, g.Name, g.Decimals)
		}
		p.Config.MaxSupply = g.MaxSupply
	}

	emitter := newEmitter(p, audit.ResumeAt(st.Seq, st.Head))
	roles, err := rbac.RestoreRegistry(st.Roles, emitter)
	if err != nil {
		return nil, fmt.Errorf("token: restore: %w", err)
	}
	t, err := assemble(p, emitter, roles,
		pause.RestoreGate(st.Paused, roles, emitter),
		allowance.RestoreBook(st.Allowances, emitter),
		st.Balances)
	if err != nil {
		return nil, err
	}
	if resume {
		logger(p).Warn("completing interrupted deployment", slog.Uint64("seq", st.Seq))
		if err := completeGenesis(ctx, p, t); err != nil {
			return nil, err
		}
	}
	if !p.Owner.IsNull() && !roles.HasRole(shared.RoleAdmin, p.Owner) {
		logger(p).Warn("configured owner no longer holds ADMIN", slog.String("owner", p.Owner.String()))
	}
	logger(p).Info("token restored",
		slog.Uint64("seq", st.Seq),
		slog.Bool("paused", st.Paused),
		slog.String("total_supply", shared.FormatUnits(st.TotalSupply, p.Config.Decimals)))
	return t, nil
}

// resumable accepts a log without a genesis record only when it holds nothing
// but the owner's deployment steps.
func resumable(p Params, records []audit.Record) error {
	if p.Owner.IsNull() {
		return fmt.Errorf("%w: no owner configured", audit.ErrGenesisIncomplete)
	}
	if p.Config.MaxSupply == nil {
		return fmt.Errorf("%w: no cap configured", audit.ErrGenesisIncomplete)
	}
	for _, rec := range records {
		if rec.Actor != p.Owner {
			return fmt.Errorf("%w: seq %d by %s, deployed by another owner", audit.ErrGenesisMismatch, rec.Seq, rec.Actor)
		}
		switch {
		case rec.Kind == audit.KindRoleGranted && rec.Account == p.Owner:
		case rec.Kind == audit.KindMinted && rec.To == p.Owner && rec.Seq == uint64(len(records)):
		default:
			return fmt.Errorf("%w: seq %d (%s) is not a deployment step", audit.ErrGenesisIncomplete, rec.Seq, rec.Kind)
		}
	}
	return nil
}

// Open restores from src when it holds records and deploys otherwise. The
// boolean reports whether this call completed a deployment.
func Open(ctx context.Context, p Params, src audit.Source) (*Token, bool, error) {
	records, err := src.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("token: load audit log: %w", err)
	}
	if len(records) == 0 {
		t, err := Deploy(ctx, p)
		return t, true, err
	}
	fresh := !hasGenesis(records)
	t, err := Restore(ctx, p, records)
	return t, fresh, err
}

func hasGenesis(records []audit.Record) bool {
	for _, rec := range records {
		if rec.Kind == audit.KindDeployed {
			return true
		}
	}
	return false
}

func assemble(p Params, emitter *audit.Emitter, roles *rbac.Registry, gate *pause.Gate, book *allowance.Book, balances map[shared.Identity]*uint256.Int) (*Token, error) {
	l, err := ledger.Restore(p.Config, ledger.Dependencies{
		Roles:      roles,
		Gate:       gate,
		Allowances: book,
		Audit:      emitter,
		Observer:   p.Observer,
	}, balances)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return &Token{Roles: roles, Gate: gate, Allowances: book, Ledger: l, Audit: emitter}, nil
}

func newEmitter(p Params, opts ...audit.Option) *audit.Emitter {
	opts = append(opts, audit.WithLogger(p.Logger))
	if p.Clock != nil {
		opts = append(opts, audit.WithClock(p.Clock))
	}
	return audit.NewEmitter(p.Sink, opts...)
}

func logger(p Params) *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
