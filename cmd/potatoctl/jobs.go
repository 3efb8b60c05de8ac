package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
	"github.com/potatospin/potatospin/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: --redis-addr or $REDIS_ADDR required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	return errors.Join(c.inspector.Close(), c.client.Close())
}

// Trigger enqueues a maintenance job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	switch name {
	case "relay", jobs.TaskAuditRelay:
		return c.client.EnqueueAuditRelay(ctx)
	case "integrity", jobs.TaskLedgerIntegrity:
		return c.client.EnqueueLedgerIntegrity(ctx)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the metrics of both queues.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueDefault, jobs.QueueRewards} {
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("jobs cli: queue %s: %w", queue, err)
		}
		out = append(out, QueueStats{
			Queue:     queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		})
	}
	return out, nil
}

var jobsRedisAddr string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue background jobs and inspect queues",
}

func withJobs(fn func(cmd *cobra.Command, args []string, c *JobsCLI) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := NewJobsCLI(jobsRedisAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, args, c)
	}
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <relay|integrity>",
	Short: "Enqueue an audit relay or integrity check now",
	Args:  cobra.ExactArgs(1),
	RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		info, err := c.Trigger(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"id": info.ID, "queue": info.Queue}, "enqueued "+info.ID)
	}),
}

var (
	grantIssuer string
	grantClaim  string
)

var jobsGrantCmd = &cobra.Command{
	Use:   "grant <to> <amount>",
	Short: "Queue a reward grant; amount is in base units",
	Args:  cobra.ExactArgs(2),
	RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		kind, err := rewards.ParseKind(grantIssuer)
		if err != nil {
			return err
		}
		to, err := shared.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		amount, err := shared.ParseAmount(args[1])
		if err != nil {
			return err
		}
		if grantClaim == "" {
			return errors.New("--claim is required")
		}
		info, err := c.client.EnqueueRewardGrant(ctx, jobs.RewardGrantPayload{
			ClaimID: grantClaim,
			Issuer:  string(kind),
			To:      to.String(),
			Amount:  amount.Dec(),
		})
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return emit(cmd.OutOrStdout(), map[string]string{"status": "duplicate"}, "claim already queued")
		}
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]string{"id": info.ID, "queue": info.Queue}, "enqueued "+info.ID)
	}),
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth",
	Args:  cobra.NoArgs,
	RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
		stats, err := c.InspectQueues()
		if err != nil {
			return err
		}
		p := printer()
		text := ""
		for _, s := range stats {
			text += p.Sprintf("%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return emit(cmd.OutOrStdout(), stats, text)
	}),
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsRedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address used by asynq")
	jobsGrantCmd.Flags().StringVar(&grantIssuer, "issuer", string(rewards.KindGame), "issuer kind: game|tasks|referral")
	jobsGrantCmd.Flags().StringVar(&grantClaim, "claim", "", "claim id; one mint per issuer and claim")
	jobsCmd.AddCommand(jobsTriggerCmd, jobsGrantCmd, jobsStatsCmd)
}
