package orchestrator

import (
	"context"

	"github.com/aristath/truthspine/internal/notify"
	"github.com/rs/zerolog"
)

// ReplayJob is the hourly cron entry that pops due DLQ jobs. Its own
// failure is logged, never escalated - a replay cycle missing a beat is
// not worth paging anyone over.
type ReplayJob struct {
	replayer *notify.Replayer
	log      zerolog.Logger
}

// NewReplayJob builds a ReplayJob over a notify.Replayer.
func NewReplayJob(replayer *notify.Replayer, log zerolog.Logger) *ReplayJob {
	return &ReplayJob{replayer: replayer, log: log.With().Str("component", "dlq_replay_job").Logger()}
}

// Run pops and retries every currently-due DLQ job once.
func (j *ReplayJob) Run(ctx context.Context) {
	delivered, retried, failed, err := j.replayer.RunOnce(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("dlq replay cycle failed")
		return
	}
	j.log.Info().Int("delivered", delivered).Int("retried", retried).Int("failed", failed).Msg("dlq replay cycle completed")
}
