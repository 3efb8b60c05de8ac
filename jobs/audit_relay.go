package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/potatospin/potatospin/internal/jobs"
)

// Drainer publishes one batch of pending audit records.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// AuditRelayJob pushes unpublished audit records onto the event stream.
type AuditRelayJob struct {
	Relay   Drainer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// MaxBatches bounds one run so a large backlog cannot hold the worker.
	MaxBatches int
}

// NewAuditRelayJob initialises the relay handler.
func NewAuditRelayJob(relay Drainer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRelayJob {
	return &AuditRelayJob{Relay: relay, Logger: logger, Metrics: metrics, MaxBatches: 20}
}

// Handle drains batches until the outbox is empty or MaxBatches is reached.
func (j *AuditRelayJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Relay == nil {
		return errors.New("jobs: audit relay not configured")
	}
	tracker := j.Metrics.Track(TaskAuditRelay)
	defer func() { err = tracker.End(err) }()

	total := 0
	for i := 0; i < j.maxBatches(); i++ {
		n, drainErr := j.Relay.Drain(ctx)
		total += n
		j.Metrics.AddRelayed(n)
		if drainErr != nil {
			j.logger().Warn("audit relay interrupted", slog.Int("relayed", total), slog.Any("error", drainErr))
			return drainErr
		}
		if n == 0 {
			break
		}
	}
	if total > 0 {
		j.logger().Info("audit relay completed", slog.Int("relayed", total))
	}
	return nil
}

func (j *AuditRelayJob) maxBatches() int {
	if j.MaxBatches <= 0 {
		return 1
	}
	return j.MaxBatches
}

func (j *AuditRelayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
