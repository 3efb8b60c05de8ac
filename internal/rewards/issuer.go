// Package rewards mints game, task and referral rewards on behalf of issuer
// identities that hold MINTER on the ledger.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/shared"
)

// Kind names a reward issuer.
type Kind string

const (
	KindGame     Kind = "game"
	KindTasks    Kind = "tasks"
	KindReferral Kind = "referral"
)

// Kinds returns the issuers in pool order.
func Kinds() []Kind { return []Kind{KindGame, KindTasks, KindReferral} }

func (k Kind) Valid() bool {
	switch k {
	case KindGame, KindTasks, KindReferral:
		return true
	}
	return false
}

// ParseKind accepts an issuer name in any case.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown reward issuer %q", shared.ErrInvalidArgument, raw)
	}
	return k, nil
}

// Outcome of a single reward attempt.
type Outcome string

const (
	OutcomeMinted    Outcome = "minted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Minter is the slice of the ledger client an issuer needs.
type Minter interface {
	Mint(ctx context.Context, to shared.Identity, amount *uint256.Int) error
}

// Claim is one reward delivery keyed by an externally supplied id.
type Claim struct {
	ID     string
	Kind   Kind
	To     shared.Identity
	Amount *uint256.Int
}

// Issuer mints rewards exactly once per claim id.
type Issuer struct {
	kind     Kind
	identity shared.Identity
	minter   Minter
	claims   ClaimStore
	logger   *slog.Logger
	observe  func(kind, outcome string)
}

// Option configures an Issuer.
type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithObserver is called once per Reward with the issuer kind and outcome.
func WithObserver(fn func(kind, outcome string)) Option {
	return func(i *Issuer) { i.observe = fn }
}

// NewIssuer binds an issuer identity to its minting client. minter must act as identity.
func NewIssuer(kind Kind, identity shared.Identity, minter Minter, claims ClaimStore, opts ...Option) (*Issuer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("rewards: %w: unknown issuer %q", shared.ErrInvalidArgument, kind)
	}
	if identity.IsNull() {
		return nil, fmt.Errorf("rewards: %w: %s issuer has no identity", shared.ErrInvalidArgument, kind)
	}
	if minter == nil || claims == nil {
		return nil, errors.New("rewards: minter and claim store are required")
	}
	i := &Issuer{kind: kind, identity: identity, minter: minter, claims: claims, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Issuer) Kind() Kind                { return i.kind }
func (i *Issuer) Identity() shared.Identity { return i.identity }

// Reward mints amount to to under claimID. A claim id already minted or in
// flight returns OutcomeDuplicate with a nil error. A mint the ledger rejects
// releases the claim so a corrected retry can succeed.
func (i *Issuer) Reward(ctx context.Context, claimID string, to shared.Identity, amount *uint256.Int) (outcome Outcome, err error) {
	defer func() {
		if i.observe != nil {
			i.observe(string(i.kind), string(outcome))
		}
	}()
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return OutcomeRejected, fmt.Errorf("rewards: %w: claim id required", shared.ErrInvalidArgument)
	}
	if amount == nil || amount.IsZero() {
		return OutcomeRejected, fmt.Errorf("rewards: %w: reward amount must be positive", shared.ErrInvalidArgument)
	}
	claim := Claim{ID: claimID, Kind: i.kind, To: to, Amount: amount}
	if err := i.claims.Reserve(ctx, claim); err != nil {
		if errors.Is(err, ErrClaimConflict) {
			i.logger.Info("reward already claimed", slog.String("issuer", string(i.kind)), slog.String("claim", claimID))
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}

	if err := i.minter.Mint(ctx, to, amount); err != nil {
		if relErr := i.claims.Release(ctx, claimID); relErr != nil {
			i.logger.Error("release reward claim", slog.String("claim", claimID), slog.Any("error", relErr))
		}
		outcome = OutcomeFailed
		if shared.KindOf(err) != "" && !errors.Is(err, shared.ErrAuditUnavailable) {
			outcome = OutcomeRejected
		}
		return outcome, fmt.Errorf("rewards: %s mint for claim %s: %w", i.kind, claimID, err)
	}

	if err := i.claims.Complete(ctx, claimID); err != nil {
		i.logger.Error("complete reward claim", slog.String("claim", claimID), slog.Any("error", err))
	}
	i.logger.Info("reward minted",
		slog.String("issuer", string(i.kind)),
		slog.String("claim", claimID),
		slog.String("to", to.String()),
		slog.String("amount", amount.Dec()))
	return OutcomeMinted, nil
}

// Issuers routes rewards by kind.
type Issuers map[Kind]*Issuer

func (s Issuers) Lookup(kind Kind) (*Issuer, error) {
	iss, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("rewards: %w: issuer %q not configured", shared.ErrNotFound, kind)
	}
	return iss, nil
}
