package notify

import (
	"context"
	"time"

	"github.com/aristath/truthspine/internal/alerts"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
)

// Dispatcher delivers a Firing to every channel its alert enabled,
// enqueuing to the DLQ on failure rather than retrying inline.
type Dispatcher struct {
	channels map[string]Channel
	dlq      *DLQ
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher over the named channel set.
func NewDispatcher(channels map[string]Channel, dlq *DLQ, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, dlq: dlq, log: log.With().Str("component", "notify_dispatcher").Logger()}
}

// Dispatch delivers f through every channel flagged on its alert. Returns
// the set of channel names that required DLQ enqueue.
func (d *Dispatcher) Dispatch(ctx context.Context, f alerts.Firing, now time.Time) []string {
	var enqueued []string

	deliverVia := func(channelName string) {
		channel, ok := d.channels[channelName]
		if !ok {
			return
		}
		n := NewNotification(f.Alert.UserID, f.Alert.ID, channelName, f.Message, playbookFor(f.Alert.Condition), now)
		if err := channel.Deliver(ctx, n); err != nil {
			d.log.Warn().Err(err).Str("alert_id", f.Alert.ID).Str("channel", channelName).Msg("delivery failed, enqueueing to dlq")
			if dlqErr := d.dlq.Enqueue(ctx, n, channelName, err); dlqErr != nil {
				d.log.Error().Err(dlqErr).Str("alert_id", f.Alert.ID).Msg("dlq enqueue itself failed")
			}
			enqueued = append(enqueued, channelName)
		}
	}

	if f.Alert.ChannelInApp {
		deliverVia("in_app")
	}
	if f.Alert.ChannelEmail {
		deliverVia("email")
	}

	return enqueued
}

// playbookFor composes an actionable suggestion for conditions where one
// makes sense; empty for condition types with no standard remediation.
func playbookFor(c domain.Condition) string {
	switch c.Type {
	case domain.ConditionMetric:
		return "Review the portfolio's latest metrics run and compare against its benchmark."
	case domain.ConditionPrice:
		return "Check the security's latest pricing pack entry and recent news."
	default:
		return ""
	}
}
