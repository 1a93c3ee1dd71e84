package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/rs/zerolog"
)

// Replayer pops due DLQ jobs on a schedule and retries delivery. Run by a
// single cron instance - concurrent replayers are disallowed by
// configuration, not by locking, matching the ordering guarantee that a
// DLQ job is popped at most once per replay cycle.
type Replayer struct {
	dlq      *DLQ
	channels map[string]Channel
	log      zerolog.Logger
}

// NewReplayer builds a Replayer over a DLQ and the channel set it may
// retry delivery through.
func NewReplayer(dlq *DLQ, channels map[string]Channel, log zerolog.Logger) *Replayer {
	return &Replayer{dlq: dlq, channels: channels, log: log.With().Str("component", "dlq_replayer").Logger()}
}

// RunOnce processes every currently-due job exactly once each.
func (r *Replayer) RunOnce(ctx context.Context) (delivered, retried, failed int, err error) {
	now := time.Now().UTC()
	jobs, err := r.dlq.duePendingJobs(ctx, now)
	if err != nil {
		return 0, 0, 0, apperrors.Fatal("notify", "replay", err)
	}

	for _, job := range jobs {
		var payload dlqPayload
		if err := json.Unmarshal([]byte(job.payload), &payload); err != nil {
			r.log.Error().Err(err).Str("job_id", job.id).Msg("malformed dlq payload, marking failed")
			_ = r.dlq.markRetried(ctx, job.id, maxDLQRetries, "malformed payload: "+err.Error())
			failed++
			continue
		}

		channel, ok := r.channels[payload.Channel]
		if !ok {
			r.log.Error().Str("job_id", job.id).Str("channel", payload.Channel).Msg("unknown channel, marking failed")
			_ = r.dlq.markRetried(ctx, job.id, maxDLQRetries, "unknown channel "+payload.Channel)
			failed++
			continue
		}

		if err := channel.Deliver(ctx, payload.Notification); err != nil {
			newCount := job.retryCount + 1
			if err := r.dlq.markRetried(ctx, job.id, newCount, err.Error()); err != nil {
				r.log.Error().Err(err).Str("job_id", job.id).Msg("failed to update dlq job after retry failure")
			}
			if newCount >= maxDLQRetries {
				failed++
			} else {
				retried++
			}
			continue
		}

		if err := r.dlq.markDelivered(ctx, job.id); err != nil {
			r.log.Error().Err(err).Str("job_id", job.id).Msg("failed to mark dlq job delivered")
			continue
		}
		delivered++
	}

	return delivered, retried, failed, nil
}
