// Package notify delivers alert firings through in-app and email channels,
// deduplicating by (user, alert, day), and queues failed deliveries to a
// Dead Letter Queue for backoff replay.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"net/smtp"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/config"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/google/uuid"
)

// Channel delivers one Notification. Implementations never retry
// internally - retry on failure is the DLQ's job.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

// InAppChannel delivers by inserting a row into the alerts database,
// relying on its unique (user_id, alert_id, day) index for dedup.
type InAppChannel struct {
	db *sql.DB
}

// NewInAppChannel builds an InAppChannel over the alerts database.
func NewInAppChannel(db *sql.DB) *InAppChannel { return &InAppChannel{db: db} }

func (c *InAppChannel) Name() string { return "in_app" }

// Deliver inserts n, treating a unique-constraint violation as a no-op:
// re-delivering the same notification must be silent, not an error.
func (c *InAppChannel) Deliver(ctx context.Context, n domain.Notification) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (id, user_id, alert_id, channel, message, playbook, delivered_at, day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.AlertID, c.Name(), n.Message, n.Playbook, n.DeliveredAt, n.Day)
	if err != nil {
		return apperrors.Transient("notify", "in_app_deliver", err)
	}
	return nil
}

// EmailChannel delivers by SMTP. net/smtp is a deliberate standard-library
// choice - no third-party SMTP client is used anywhere else in this
// codebase's lineage.
type EmailChannel struct {
	cfg *config.Config
}

// NewEmailChannel builds an EmailChannel from SMTP configuration.
func NewEmailChannel(cfg *config.Config) *EmailChannel { return &EmailChannel{cfg: cfg} }

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, n domain.Notification) error {
	if !c.cfg.EmailEnabled() {
		return apperrors.Validation("notify", "email_deliver", fmt.Errorf("email delivery is not configured"))
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	msg := buildMessage(c.cfg.SMTPFrom, n)

	deadline := time.Now().Add(config.SMTPTimeout)
	done := make(chan error, 1)

	go func() {
		var auth smtp.Auth
		if c.cfg.SMTPUser != "" {
			auth = smtp.PlainAuth("", c.cfg.SMTPUser, c.cfg.SMTPPassword, c.cfg.SMTPHost)
		}
		done <- smtp.SendMail(addr, auth, c.cfg.SMTPFrom, []string{n.UserID}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.Transient("notify", "email_deliver", err)
		}
		return nil
	case <-ctx.Done():
		return apperrors.Transient("notify", "email_deliver", ctx.Err())
	case <-time.After(time.Until(deadline)):
		return apperrors.Transient("notify", "email_deliver", fmt.Errorf("smtp send timed out after %s", config.SMTPTimeout))
	}
}

func buildMessage(from string, n domain.Notification) []byte {
	subject := "Truth Spine alert"
	body := n.Message
	if n.Playbook != "" {
		body += "\n\nSuggested action: " + n.Playbook
	}
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, n.UserID, subject, body))
}

// NewNotification builds a Notification ready for delivery, stamping a
// fresh ID and the current day for dedup purposes.
func NewNotification(userID, alertID, channel, message, playbook string, now time.Time) domain.Notification {
	return domain.Notification{
		ID:          uuid.NewString(),
		UserID:      userID,
		AlertID:     alertID,
		Channel:     channel,
		Message:     message,
		Playbook:    playbook,
		DeliveredAt: now,
		Day:         now.Format("2006-01-02"),
	}
}
