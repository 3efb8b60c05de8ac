package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/potatospin/potatospin/internal/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	seq             BIGINT PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	kind            TEXT NOT NULL,
	actor           TEXT NOT NULL,
	account         TEXT NOT NULL,
	from_id         TEXT NOT NULL,
	to_id           TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT '',
	amount          TEXT,
	allowance_spent BOOLEAN NOT NULL DEFAULT FALSE,
	token_name      TEXT NOT NULL DEFAULT '',
	token_symbol    TEXT NOT NULL DEFAULT '',
	token_decimals  SMALLINT NOT NULL DEFAULT 0,
	occurred_at     TIMESTAMPTZ NOT NULL,
	prev_hash       BYTEA NOT NULL,
	hash            BYTEA NOT NULL,
	published_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ledger_events_unpublished_idx ON ledger_events (seq) WHERE published_at IS NULL;
CREATE INDEX IF NOT EXISTS ledger_events_kind_idx ON ledger_events (kind, seq);
`

const selectColumns = `seq, id, kind, actor, account, from_id, to_id, role, amount, allowance_spent,
	token_name, token_symbol, token_decimals, occurred_at, prev_hash, hash`

// Querier is the subset of pgxpool.Pool used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists records in ledger_events. Rows with a null
// published_at form the relay outbox.
type PostgresStore struct {
	db Querier
}

func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	var amount *string
	if rec.Amount != nil {
		v := rec.Amount.Dec()
		amount = &v
	}
	_, err := s.db.Exec(ctx, `INSERT INTO ledger_events (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		int64(rec.Seq), rec.ID.String(), string(rec.Kind),
		rec.Actor.String(), rec.Account.String(), rec.From.String(), rec.To.String(),
		string(rec.Role), amount, rec.AllowanceSpent,
		rec.Name, rec.Symbol, int16(rec.Decimals), rec.At,
		rec.PrevHash.Bytes(), rec.Hash.Bytes(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// A retried insert of a record that already committed is not a conflict.
			if same, confirmErr := s.Confirm(ctx, rec); confirmErr == nil && same {
				return nil
			}
			return fmt.Errorf("audit: seq %d already stored: %w", rec.Seq, err)
		}
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// Confirm reports whether rec is stored with the same hash.
func (s *PostgresStore) Confirm(ctx context.Context, rec Record) (bool, error) {
	rows, err := s.query(ctx, `SELECT `+selectColumns+` FROM ledger_events WHERE seq = $1`, int64(rec.Seq))
	if err != nil {
		return false, err
	}
	return len(rows) == 1 && rows[0].Hash == rec.Hash, nil
}

// Retract deletes rec if it is still the newest stored record.
func (s *PostgresStore) Retract(ctx context.Context, rec Record) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM ledger_events
		WHERE seq = $1 AND hash = $2 AND seq = (SELECT max(seq) FROM ledger_events)`,
		int64(rec.Seq), rec.Hash.Bytes())
	if err != nil {
		return fmt.Errorf("audit: retract seq %d: %w", rec.Seq, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("audit: retract seq %d: record is no longer the chain head", rec.Seq)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM ledger_events ORDER BY seq`)
}

// Window applies filters in SQL and returns at most limit rows after offset.
func (s *PostgresStore) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.Kind != "" {
		where = append(where, "kind = "+arg(string(filters.Kind)))
	}
	if filters.AfterSeq > 0 {
		where = append(where, "seq > "+arg(int64(filters.AfterSeq)))
	}
	if !filters.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(filters.Since))
	}
	if !filters.Until.IsZero() {
		where = append(where, "occurred_at < "+arg(filters.Until))
	}
	if filters.Party != nil {
		p := arg(filters.Party.String())
		where = append(where, fmt.Sprintf("(actor = %[1]s OR account = %[1]s OR from_id = %[1]s OR to_id = %[1]s)", p))
	}
	sql := `SELECT ` + selectColumns + ` FROM ledger_events`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY seq OFFSET " + arg(offset) + " LIMIT " + arg(limit)
	return s.query(ctx, sql, args...)
}

// Pending returns unpublished records, oldest first.
func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM ledger_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
}

func (s *PostgresStore) MarkPublished(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	ids := make([]int64, len(seqs))
	for i, seq := range seqs {
		ids[i] = int64(seq)
	}
	if _, err := s.db.Exec(ctx, `UPDATE ledger_events SET published_at = $1 WHERE seq = ANY($2)`, time.Now().UTC(), ids); err != nil {
		return fmt.Errorf("audit: mark published: %w", err)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		seq                      int64
		id, kind                 string
		actor, account, from, to string
		role                     string
		amount                   *string
		spent                    bool
		name, symbol             string
		decimals                 int16
		at                       time.Time
		prevHash, hash           []byte
	)
	if err := row.Scan(&seq, &id, &kind, &actor, &account, &from, &to, &role, &amount, &spent,
		&name, &symbol, &decimals, &at, &prevHash, &hash); err != nil {
		return Record{}, fmt.Errorf("audit: scan record: %w", err)
	}
	rec := Record{
		Seq:            uint64(seq),
		Kind:           Kind(kind),
		Role:           shared.Role(role),
		AllowanceSpent: spent,
		Name:           name,
		Symbol:         symbol,
		Decimals:       uint8(decimals),
		At:             at.UTC(),
		PrevHash:       common.BytesToHash(prevHash),
		Hash:           common.BytesToHash(hash),
	}
	var err error
	if rec.ID, err = uuid.Parse(id); err != nil {
		return Record{}, fmt.Errorf("audit: record %d id: %w", seq, err)
	}
	for _, f := range []struct {
		dst *shared.Identity
		raw string
	}{{&rec.Actor, actor}, {&rec.Account, account}, {&rec.From, from}, {&rec.To, to}} {
		if *f.dst, err = shared.ParseIdentity(f.raw); err != nil {
			return Record{}, fmt.Errorf("audit: record %d: %w", seq, err)
		}
	}
	if amount != nil {
		if rec.Amount, err = shared.ParseAmount(*amount); err != nil {
			return Record{}, fmt.Errorf("audit: record %d amount: %w", seq, err)
		}
	}
	return rec, nil
}
