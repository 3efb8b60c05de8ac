package audit

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/potatospin/potatospin/internal/shared"
)

// Sink persists audit records in order.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Source yields every persisted record in sequence order.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
}

// Store is a sink that can be read back.
type Store interface {
	Sink
	Source
}

// Confirmer is implemented by sinks whose Append can fail after the record was
// durably stored, such as a database that loses the connection after commit.
// Confirm reports whether rec is stored with the same hash. Retract removes it
// when it is the last stored record.
type Confirmer interface {
	Confirm(ctx context.Context, rec Record) (bool, error)
	Retract(ctx context.Context, rec Record) error
}

const confirmTimeout = 5 * time.Second

// Emitter stamps records with sequence, id, time and chain hash before handing
// them to the sink. A record the sink refuses does not advance the chain.
type Emitter struct {
	mu     sync.Mutex
	sink   Sink
	seq    uint64
	head   common.Hash
	now    func() time.Time
	logger *slog.Logger

	// unresolved is a record whose append failed with an unknown outcome.
	unresolved *Record
}

// Option customises an Emitter.
type Option func(*Emitter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// ResumeAt continues an existing chain whose last record has the given seq and hash.
func ResumeAt(seq uint64, head common.Hash) Option {
	return func(e *Emitter) {
		e.seq = seq
		e.head = head
	}
}

// NewEmitter builds an emitter writing to sink.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{sink: sink, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record appends rec and returns it as persisted. Callers hold their own
// component lock so that records reach the sink in the order state changes.
func (e *Emitter) Record(ctx context.Context, rec Record) (Record, error) {
	if !rec.Kind.Valid() {
		return Record{}, fmt.Errorf("audit: %w: unknown kind %q", shared.ErrInvalidArgument, rec.Kind)
	}
	if rec.Amount != nil {
		rec.Amount = shared.CloneAmount(rec.Amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.resolveLocked(ctx); err != nil {
		return Record{}, err
	}

	rec.Seq = e.seq + 1
	rec.ID = uuid.New()
	// Postgres keeps microseconds; truncating here keeps hashes stable across stores.
	rec.At = e.now().UTC().Truncate(time.Microsecond)
	rec.PrevHash = e.head
	rec.Hash = rec.ComputeHash()

	if err := e.sink.Append(ctx, rec); err != nil {
		stored, confirmErr := e.confirm(ctx, rec)
		switch {
		case confirmErr == nil && stored:
			e.logger.Warn("audit append reported failure but the record was stored",
				slog.Uint64("seq", rec.Seq), slog.Any("error", err))
		case confirmErr != nil:
			e.unresolved = &rec
			e.logger.Error("audit append outcome unknown", slog.Uint64("seq", rec.Seq),
				slog.Any("error", err), slog.Any("confirm_error", confirmErr))
			return Record{}, fmt.Errorf("audit: append seq %d: %w: %v", rec.Seq, shared.ErrAuditUnavailable, err)
		default:
			e.logger.Error("audit append failed", slog.Uint64("seq", rec.Seq), slog.String("kind", string(rec.Kind)), slog.Any("error", err))
			return Record{}, fmt.Errorf("audit: append seq %d: %w: %v", rec.Seq, shared.ErrAuditUnavailable, err)
		}
	}
	e.seq = rec.Seq
	e.head = rec.Hash
	return rec, nil
}

func (e *Emitter) confirm(ctx context.Context, rec Record) (bool, error) {
	c, ok := e.sink.(Confirmer)
	if !ok {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()
	return c.Confirm(ctx, rec)
}

// resolveLocked settles a previous append whose outcome was unknown. The caller
// of that append was told it failed, so a record that did land is retracted.
// Until that succeeds every append is refused.
func (e *Emitter) resolveLocked(ctx context.Context) error {
	if e.unresolved == nil {
		return nil
	}
	rec := *e.unresolved
	c := e.sink.(Confirmer)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()
	stored, err := c.Confirm(ctx, rec)
	if err == nil && stored {
		err = c.Retract(ctx, rec)
		if err == nil {
			e.logger.Warn("retracted audit record from a failed append", slog.Uint64("seq", rec.Seq))
		}
	}
	if err != nil {
		return fmt.Errorf("audit: seq %d unresolved: %w: %v", rec.Seq, shared.ErrAuditUnavailable, err)
	}
	e.unresolved = nil
	return nil
}

// Head reports the sequence number and hash of the last appended record.
func (e *Emitter) Head() (uint64, common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq, e.head
}

// Sequence adapts a loaded record slice into an iterator.
func Sequence(records []Record) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, rec := range records {
			if !yield(rec) {
				return
			}
		}
	}
}
