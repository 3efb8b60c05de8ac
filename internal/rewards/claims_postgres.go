package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/potatospin/potatospin/internal/platform/db"
)

const claimsSchema = `
CREATE TABLE IF NOT EXISTS reward_claims (
	id         TEXT PRIMARY KEY,
	issuer     TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	amount     TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reward_claims_status_idx ON reward_claims (status, updated_at);
`

// ClaimsDB is satisfied by *pgxpool.Pool.
type ClaimsDB interface {
	db.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresClaims persists claim ids in reward_claims.
type PostgresClaims struct {
	db  ClaimsDB
	now func() time.Time
}

// NewPostgresClaims constructs the store.
func NewPostgresClaims(pool ClaimsDB) *PostgresClaims {
	return &PostgresClaims{db: pool, now: time.Now}
}

// EnsureSchema creates the claims table when missing.
func (s *PostgresClaims) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, claimsSchema); err != nil {
		return fmt.Errorf("rewards: ensure schema: %w", err)
	}
	return nil
}

// Reserve inserts the claim, or revives a released one, in one transaction.
func (s *PostgresClaims) Reserve(ctx context.Context, claim Claim) error {
	if s == nil {
		return errors.New("rewards: claim store not initialised")
	}
	now := s.now()
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM reward_claims WHERE id=$1 FOR UPDATE`, claim.ID).Scan(&status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx, `INSERT INTO reward_claims (id, issuer, recipient, amount, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $6)`,
				claim.ID, string(claim.Kind), claim.To.String(), claim.Amount.Dec(), string(ClaimReserved), now)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return ErrClaimConflict
				}
				return fmt.Errorf("rewards: insert claim: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("rewards: lookup claim: %w", err)
		case ClaimStatus(status) != ClaimReleased:
			return ErrClaimConflict
		}
		_, err = tx.Exec(ctx, `UPDATE reward_claims SET issuer=$2, recipient=$3, amount=$4, status=$5, updated_at=$6 WHERE id=$1`,
			claim.ID, string(claim.Kind), claim.To.String(), claim.Amount.Dec(), string(ClaimReserved), now)
		if err != nil {
			return fmt.Errorf("rewards: revive claim: %w", err)
		}
		return nil
	})
}

func (s *PostgresClaims) Complete(ctx context.Context, id string) error {
	return s.set(ctx, id, ClaimMinted)
}

// Release marks a claim as retryable after a rejected mint.
func (s *PostgresClaims) Release(ctx context.Context, id string) error {
	return s.set(ctx, id, ClaimReleased)
}

func (s *PostgresClaims) Status(ctx context.Context, id string) (ClaimStatus, bool, error) {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM reward_claims WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rewards: claim status: %w", err)
	}
	return ClaimStatus(status), true, nil
}

// Cleanup removes released claims older than retention.
func (s *PostgresClaims) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := s.now().Add(-olderThan)
	_, err := s.db.Exec(ctx, `DELETE FROM reward_claims WHERE status=$1 AND updated_at < $2`, string(ClaimReleased), cutoff)
	return err
}

func (s *PostgresClaims) set(ctx context.Context, id string, status ClaimStatus) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE reward_claims SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), s.now())
	if err != nil {
		return fmt.Errorf("rewards: set claim %s %s: %w", id, status, err)
	}
	return nil
}
