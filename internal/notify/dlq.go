package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// dlqBackoff is the fixed replay schedule by retry_count: 1m, 5m, 30m.
// After three failed retries (retry_count reaches len(dlqBackoff)) the job
// transitions to failed and stops being popped.
var dlqBackoff = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

const maxDLQRetries = 3

// dlqPayload is what's serialized into DLQJob.Payload: the notification
// plus which channel it was meant for.
type dlqPayload struct {
	Notification domain.Notification `json:"notification"`
	Channel      string               `json:"channel"`
}

// DLQ owns the failed-delivery queue in the alerts database.
type DLQ struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDLQ builds a DLQ over the alerts database.
func NewDLQ(db *sql.DB, log zerolog.Logger) *DLQ {
	return &DLQ{db: db, log: log.With().Str("component", "dlq").Logger()}
}

// Enqueue records a failed delivery attempt for later replay.
func (d *DLQ) Enqueue(ctx context.Context, n domain.Notification, channel string, deliveryErr error) error {
	payload, err := json.Marshal(dlqPayload{Notification: n, Channel: channel})
	if err != nil {
		return apperrors.Fatal("notify", "dlq_enqueue", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO dlq_jobs (id, payload, error, retry_count, status, created_at, last_attempt)
		VALUES (?, ?, ?, 0, 'pending', ?, ?)`,
		uuid.NewString(), string(payload), deliveryErr.Error(), time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return apperrors.Fatal("notify", "dlq_enqueue", err)
	}
	return nil
}

// duePendingJobs returns pending jobs whose time-since-last-attempt
// exceeds the backoff for their current retry_count.
func (d *DLQ) duePendingJobs(ctx context.Context, now time.Time) ([]dlqJobRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, payload, retry_count, last_attempt
		FROM dlq_jobs WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []dlqJobRow
	for rows.Next() {
		var j dlqJobRow
		if err := rows.Scan(&j.id, &j.payload, &j.retryCount, &j.lastAttempt); err != nil {
			return nil, err
		}
		if j.retryCount >= len(dlqBackoff) {
			continue // guarded again defensively; Replay also marks these failed
		}
		if now.Sub(j.lastAttempt) >= dlqBackoff[j.retryCount] {
			due = append(due, j)
		}
	}
	return due, rows.Err()
}

type dlqJobRow struct {
	id          string
	payload     string
	retryCount  int
	lastAttempt time.Time
}

func (d *DLQ) markDelivered(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE dlq_jobs SET status = 'delivered', last_attempt = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (d *DLQ) markRetried(ctx context.Context, id string, newRetryCount int, errMsg string) error {
	status := "pending"
	if newRetryCount >= maxDLQRetries {
		status = "failed"
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE dlq_jobs SET retry_count = ?, status = ?, error = ?, last_attempt = ? WHERE id = ?`,
		newRetryCount, status, errMsg, time.Now().UTC(), id)
	return err
}
