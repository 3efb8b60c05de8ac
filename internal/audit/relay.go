package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream records are relayed to.
const DefaultStream = "potato:ledger-events"

// Outbox exposes records not yet relayed.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, seqs []uint64) error
}

// Relay copies outbox records onto a Redis stream in seq order. Delivery is
// at least once; consumers dedupe on the id field.
type Relay struct {
	outbox Outbox
	client redis.Cmdable
	stream string
	batch  int
	logger *slog.Logger
}

func NewRelay(outbox Outbox, client redis.Cmdable, stream string, batch int, logger *slog.Logger) *Relay {
	if stream == "" {
		stream = DefaultStream
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{outbox: outbox, client: client, stream: stream, batch: batch, logger: logger}
}

// Drain publishes one batch and returns how many records were relayed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("audit: load pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	published := make([]uint64, 0, len(pending))
	var pubErr error
	for _, rec := range pending {
		payload, err := json.Marshal(rec)
		if err != nil {
			pubErr = fmt.Errorf("audit: encode seq %d: %w", rec.Seq, err)
			break
		}
		err = r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"id":      rec.ID.String(),
				"seq":     strconv.FormatUint(rec.Seq, 10),
				"kind":    string(rec.Kind),
				"payload": string(payload),
			},
		}).Err()
		if err != nil {
			pubErr = fmt.Errorf("audit: publish seq %d: %w", rec.Seq, err)
			break
		}
		published = append(published, rec.Seq)
	}
	if len(published) > 0 {
		if err := r.outbox.MarkPublished(ctx, published); err != nil {
			return 0, fmt.Errorf("audit: mark published: %w", err)
		}
		r.logger.Debug("audit records relayed", slog.Int("count", len(published)), slog.String("stream", r.stream))
	}
	return len(published), pubErr
}
