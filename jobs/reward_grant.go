package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/potatospin/potatospin/internal/jobs"
	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
)

// RewardGrantJob delivers queued rewards through the matching issuer.
type RewardGrantJob struct {
	Issuers rewards.Issuers
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRewardGrantJob wires the reward handler.
func NewRewardGrantJob(issuers rewards.Issuers, logger *slog.Logger, metrics *jobmetrics.Metrics) *RewardGrantJob {
	return &RewardGrantJob{Issuers: issuers, Logger: logger, Metrics: metrics}
}

// Handle decodes the payload and mints through the issuer. Malformed payloads
// and ledger rejections skip retry; transport and audit failures are retried.
func (j *RewardGrantJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("jobs: reward grant not configured")
	}
	tracker := j.Metrics.Track(TaskRewardGrant)
	defer func() { err = tracker.End(err) }()

	var payload RewardGrantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %v", asynq.SkipRetry, err)
	}
	kind, err := rewards.ParseKind(payload.Issuer)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	issuer, err := j.Issuers.Lookup(kind)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	to, err := shared.ParseIdentity(payload.To)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	amount, err := shared.ParseAmount(payload.Amount)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	logger := j.logger().With(
		slog.String("issuer", string(kind)),
		slog.String("claim_id", payload.ClaimID),
		slog.String("to", to.String()),
	)
	outcome, err := issuer.Reward(ctx, payload.ClaimID, to, amount)
	j.Metrics.AddReward(string(kind), string(outcome))
	switch outcome {
	case rewards.OutcomeMinted:
		logger.Debug("reward granted", slog.String("amount", amount.Dec()))
		return nil
	case rewards.OutcomeDuplicate:
		logger.Debug("reward already granted")
		return nil
	case rewards.OutcomeRejected:
		logger.Warn("reward rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		logger.Warn("reward delivery failed", slog.Any("error", err))
		return err
	}
}

func (j *RewardGrantJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
