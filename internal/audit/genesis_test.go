package audit

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatospin/potatospin/internal/shared"
)

func deployedRecord(cap uint64) Record {
	return Record{Kind: KindDeployed, Actor: owner, Amount: uint256.NewInt(cap), Name: "Potato Token", Symbol: "POTATO", Decimals: 18}
}

func TestReplayTakesCapFromGenesis(t *testing.T) {
	sink := NewMemorySink()
	e := NewEmitter(sink, WithClock(fixedClock()))
	genesis(t, e)
	_, err := e.Record(context.Background(), deployedRecord(1000))
	require.NoError(t, err)

	st, err := Replay(sink.All())
	require.NoError(t, err)
	require.NotNil(t, st.Genesis)
	assert.Equal(t, "POTATO", st.Genesis.Symbol)
	assert.Equal(t, uint8(18), st.Genesis.Decimals)
	assert.Equal(t, uint64(4), st.Genesis.Seq)
	assert.Equal(t, uint64(1000), st.MaxSupply().Uint64())
	require.NoError(t, st.RequireGenesis())

	require.NoError(t, st.Verify(nil))
	require.NoError(t, st.Verify(uint256.NewInt(1000)))
	assert.ErrorIs(t, st.Verify(uint256.NewInt(2000)), ErrGenesisMismatch)
}

func TestReplayRejectsMintAboveRecordedCap(t *testing.T) {
	sink := NewMemorySink()
	e := NewEmitter(sink, WithClock(fixedClock()))
	genesis(t, e)
	ctx := context.Background()
	_, err := e.Record(ctx, deployedRecord(1000))
	require.NoError(t, err)
	_, err = e.Record(ctx, Record{Kind: KindMinted, Actor: owner, To: bob, Amount: uint256.NewInt(1)})
	require.NoError(t, err)

	_, err = Replay(sink.All())
	assert.ErrorIs(t, err, shared.ErrCapacityExceeded)
}

func TestReplayRejectsSecondGenesis(t *testing.T) {
	sink := NewMemorySink()
	e := NewEmitter(sink, WithClock(fixedClock()))
	genesis(t, e)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := e.Record(ctx, deployedRecord(5000))
		require.NoError(t, err)
	}
	_, err := Replay(sink.All())
	assert.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestRequireGenesisOnPartialLog(t *testing.T) {
	sink := NewMemorySink()
	genesis(t, NewEmitter(sink, WithClock(fixedClock())))
	st, err := Replay(sink.All())
	require.NoError(t, err)
	assert.ErrorIs(t, st.RequireGenesis(), ErrGenesisIncomplete)
	require.NoError(t, NewState().RequireGenesis())
}

func TestGenesisFieldsAreHashed(t *testing.T) {
	rec := deployedRecord(1000)
	base := rec.ComputeHash()
	rec.Decimals = 6
	assert.NotEqual(t, base, rec.ComputeHash())
}

// committingSink stores every record but may report an error afterwards, like
// a connection that drops after commit.
type committingSink struct {
	*MemorySink
	appendErr  error
	confirmErr error
	retracted  []uint64
}

func (s *committingSink) Append(ctx context.Context, rec Record) error {
	if err := s.MemorySink.Append(ctx, rec); err != nil {
		return err
	}
	return s.appendErr
}

func (s *committingSink) Confirm(_ context.Context, rec Record) (bool, error) {
	if s.confirmErr != nil {
		return false, s.confirmErr
	}
	for _, stored := range s.Records() {
		if stored.Seq == rec.Seq {
			return stored.Hash == rec.Hash, nil
		}
	}
	return false, nil
}

func (s *committingSink) Retract(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := len(s.records) - 1
	if last < 0 || s.records[last].Hash != rec.Hash {
		return errors.New("not the head")
	}
	s.records = s.records[:last]
	s.retracted = append(s.retracted, rec.Seq)
	return nil
}

func TestEmitterAcceptsStoredRecordDespiteAppendError(t *testing.T) {
	sink := &committingSink{MemorySink: NewMemorySink(), appendErr: errors.New("connection reset")}
	e := NewEmitter(sink, WithClock(fixedClock()))

	rec, err := e.Record(context.Background(), Record{Kind: KindRoleGranted, Actor: owner, Account: owner, Role: shared.RoleAdmin})
	require.NoError(t, err)
	seq, head := e.Head()
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, rec.Hash, head)
}

func TestEmitterRetractsRecordWithUnknownOutcome(t *testing.T) {
	sink := &committingSink{
		MemorySink: NewMemorySink(),
		appendErr:  errors.New("connection reset"),
		confirmErr: errors.New("database unreachable"),
	}
	e := NewEmitter(sink, WithClock(fixedClock()))
	ctx := context.Background()

	_, err := e.Record(ctx, Record{Kind: KindRoleGranted, Actor: owner, Account: owner, Role: shared.RoleAdmin})
	assert.ErrorIs(t, err, shared.ErrAuditUnavailable)

	// Still unreachable: appends stay refused.
	_, err = e.Record(ctx, Record{Kind: KindPaused, Actor: owner})
	assert.ErrorIs(t, err, shared.ErrAuditUnavailable)
	assert.Equal(t, 1, sink.Len())

	sink.appendErr, sink.confirmErr = nil, nil
	rec, err := e.Record(ctx, Record{Kind: KindRoleGranted, Actor: owner, Account: alice, Role: shared.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, []uint64{1}, sink.retracted)

	st, err := Replay(sink.All())
	require.NoError(t, err)
	assert.True(t, st.HasRole(shared.RoleAdmin, alice))
	assert.False(t, st.HasRole(shared.RoleAdmin, owner))
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos-1], nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

// fakeDB holds at most one stored row and fails inserts with insertErr.
type fakeDB struct {
	stored    *Record
	insertErr error
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if strings.HasPrefix(sql, "INSERT") {
		return pgconn.CommandTag{}, db.insertErr
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if db.stored == nil {
		return &fakeRows{}, nil
	}
	rec := *db.stored
	var amount *string
	if rec.Amount != nil {
		v := rec.Amount.Dec()
		amount = &v
	}
	return &fakeRows{rows: [][]any{{
		int64(rec.Seq), rec.ID.String(), string(rec.Kind),
		rec.Actor.String(), rec.Account.String(), rec.From.String(), rec.To.String(),
		string(rec.Role), amount, rec.AllowanceSpent,
		rec.Name, rec.Symbol, int16(rec.Decimals), rec.At,
		rec.PrevHash.Bytes(), rec.Hash.Bytes(),
	}}}, nil
}

func TestPostgresAppendTreatsCommittedDuplicateAsStored(t *testing.T) {
	sink := NewMemorySink()
	e := NewEmitter(sink, WithClock(fixedClock()))
	rec, err := e.Record(context.Background(), deployedRecord(1000))
	require.NoError(t, err)

	db := &fakeDB{stored: &rec, insertErr: &pgconn.PgError{Code: "23505"}}
	store := NewPostgresStore(db)
	require.NoError(t, store.Append(context.Background(), rec))

	ok, err := store.Confirm(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, ok)

	other := rec
	other.Symbol = "SPUD"
	other.Hash = other.ComputeHash()
	err = store.Append(context.Background(), other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already stored")
}
