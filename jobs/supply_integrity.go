package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/holiman/uint256"

	"github.com/potatospin/potatospin/internal/audit"
	jobmetrics "github.com/potatospin/potatospin/internal/jobs"
	"github.com/potatospin/potatospin/internal/shared"
)

// ErrLedgerDrift reports a live ledger that disagrees with its audit log.
var ErrLedgerDrift = errors.New("jobs: ledger drifted from audit log")

// LiveLedger exposes the in-memory balances and the audit sequence number they
// reflect. A zero seq compares against the whole log. Optional.
type LiveLedger interface {
	Snapshot() (balances map[shared.Identity]*uint256.Int, supply *uint256.Int, seq uint64)
}

// SupplyIntegrityJob replays the audit log, verifies the chain and the supply
// invariants, and compares the result against the running ledger when one is attached.
type SupplyIntegrityJob struct {
	Source    audit.Source
	MaxSupply *uint256.Int
	Live      LiveLedger
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewSupplyIntegrityJob constructs the integrity handler.
func NewSupplyIntegrityJob(src audit.Source, maxSupply *uint256.Int, live LiveLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *SupplyIntegrityJob {
	return &SupplyIntegrityJob{
		Source:    src,
		MaxSupply: maxSupply,
		Live:      live,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one integrity pass. Integrity failures are not retried.
func (j *SupplyIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("jobs: integrity source not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	started := j.now()
	state, err := j.Check(ctx)
	logger := j.logger().With(slog.Time("started_at", started))
	if err != nil {
		if errors.Is(err, audit.ErrChainBroken) || errors.Is(err, ErrLedgerDrift) {
			logger.Error("ledger integrity failed", slog.Any("error", err))
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	}
	logger.Info("ledger integrity verified",
		slog.Uint64("seq", state.Seq),
		slog.String("head", state.Head.Hex()),
		slog.String("total_supply", state.TotalSupply.Dec()),
		slog.Duration("took", j.now().Sub(started)))
	return nil
}

// Check replays the log and returns the reconstructed state. The live ledger
// is read before the log is loaded and compared at the sequence number it
// reported, so operations that land in between are not mistaken for drift.
func (j *SupplyIntegrityJob) Check(ctx context.Context) (*audit.State, error) {
	var (
		live     map[shared.Identity]*uint256.Int
		liveSeq  uint64
		liveSum  *uint256.Int
		compared bool
	)
	if j.Live != nil {
		live, liveSum, liveSeq = j.Live.Snapshot()
	}
	records, err := j.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: load audit log: %w", err)
	}
	state := audit.NewState()
	for _, rec := range records {
		if err := state.Apply(rec); err != nil {
			return nil, err
		}
		if live != nil && state.Seq == liveSeq {
			if err := compareLive(state, live, liveSum); err != nil {
				return nil, err
			}
			compared = true
		}
	}
	if err := state.RequireGenesis(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerDrift, err)
	}
	if err := state.Verify(j.MaxSupply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerDrift, err)
	}
	if live == nil || compared {
		return state, nil
	}
	if liveSeq > state.Seq {
		return nil, fmt.Errorf("%w: live ledger at seq %d, log ends at %d", ErrLedgerDrift, liveSeq, state.Seq)
	}
	if err := compareLive(state, live, liveSum); err != nil {
		return nil, err
	}
	return state, nil
}

func compareLive(state *audit.State, balances map[shared.Identity]*uint256.Int, total *uint256.Int) error {
	if !total.Eq(state.TotalSupply) {
		return fmt.Errorf("%w: live supply %s, replayed %s at seq %d", ErrLedgerDrift, total.Dec(), state.TotalSupply.Dec(), state.Seq)
	}
	if len(balances) != len(state.Balances) {
		return fmt.Errorf("%w: live holders %d, replayed %d at seq %d", ErrLedgerDrift, len(balances), len(state.Balances), state.Seq)
	}
	for id, bal := range balances {
		if want := state.BalanceOf(id); !want.Eq(bal) {
			return fmt.Errorf("%w: %s holds %s, replayed %s at seq %d", ErrLedgerDrift, id, bal.Dec(), want.Dec(), state.Seq)
		}
	}
	return nil
}

func (j *SupplyIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *SupplyIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
