package notify

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/aristath/truthspine/internal/config"
	_ "modernc.org/sqlite"
)

func TestNewNotificationStampsDay(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	n := NewNotification("user-1", "alert-1", "in_app", "msg", "playbook", now)

	if n.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if n.Day != "2026-07-30" {
		t.Errorf("Day = %q, want 2026-07-30", n.Day)
	}
	if n.Channel != "in_app" || n.UserID != "user-1" || n.AlertID != "alert-1" {
		t.Error("fields not carried through")
	}
}

func TestBuildMessageIncludesPlaybook(t *testing.T) {
	n := NewNotification("user-1", "alert-1", "email", "drawdown exceeded", "rebalance now", time.Now().UTC())
	msg := string(buildMessage("noreply@example.com", n))

	if !strings.Contains(msg, "drawdown exceeded") {
		t.Error("expected message body in output")
	}
	if !strings.Contains(msg, "rebalance now") {
		t.Error("expected playbook suggestion in output")
	}
	if !strings.Contains(msg, "noreply@example.com") {
		t.Error("expected From header")
	}
}

func TestBuildMessageOmitsEmptyPlaybook(t *testing.T) {
	n := NewNotification("user-1", "alert-1", "email", "price alert", "", time.Now().UTC())
	msg := string(buildMessage("noreply@example.com", n))

	if strings.Contains(msg, "Suggested action") {
		t.Error("expected no suggested-action section when playbook is empty")
	}
}

func setupNotificationsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			message TEXT NOT NULL,
			playbook TEXT,
			delivered_at TEXT NOT NULL,
			day TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_notifications_dedup ON notifications(user_id, alert_id, day);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestInAppChannelDeliverDedupsSilently(t *testing.T) {
	db := setupNotificationsDB(t)
	ch := NewInAppChannel(db)
	ctx := context.Background()

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	n := NewNotification("user-1", "alert-1", "in_app", "msg one", "", now)

	if err := ch.Deliver(ctx, n); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	// Same user/alert/day, different ID: must be a silent no-op, not an error.
	dup := NewNotification("user-1", "alert-1", "in_app", "msg two", "", now)
	if err := ch.Deliver(ctx, dup); err != nil {
		t.Fatalf("duplicate deliver should be silent, got: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND alert_id = ?`, "user-1", "alert-1").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 row after dedup, got %d", count)
	}
}

func TestEmailChannelDeliverRejectsUnconfigured(t *testing.T) {
	ch := NewEmailChannel(&config.Config{})
	n := NewNotification("user-1", "alert-1", "email", "msg", "", time.Now().UTC())

	if err := ch.Deliver(context.Background(), n); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}
