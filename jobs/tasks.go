package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueRewards carries reward grants so a relay backlog never delays payouts.
	QueueRewards = "rewards"

	// TaskAuditRelay publishes unpublished audit records to the event stream.
	TaskAuditRelay = "audit:relay"
	// TaskLedgerIntegrity replays the audit log and checks the supply invariants.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskRewardGrant mints one reward through its issuer.
	TaskRewardGrant = "reward:grant"
)

// RewardGrantPayload describes a single reward delivery. Amount is in base units.
type RewardGrantPayload struct {
	ClaimID string `json:"claim_id"`
	Issuer  string `json:"issuer"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

// ScheduledPayload carries scheduling metadata for periodic jobs.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewRewardGrantTask constructs an Asynq task. The claim id doubles as the
// task id so duplicate enqueues collapse while the first is retained.
func NewRewardGrantTask(payload RewardGrantPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRewardGrant, body,
		asynq.Queue(QueueRewards),
		asynq.TaskID("reward:"+payload.Issuer+":"+payload.ClaimID),
		asynq.MaxRetry(10),
	), nil
}

// NewAuditRelayTask constructs a relay task.
func NewAuditRelayTask(at time.Time) (*asynq.Task, error) {
	return scheduledTask(TaskAuditRelay, at)
}

// NewLedgerIntegrityTask constructs an integrity check task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	return scheduledTask(TaskLedgerIntegrity, at)
}

func scheduledTask(typ string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
