package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
)

func TestRunOnceDeliversDueJob(t *testing.T) {
	db := setupDLQDB(t)
	dlq := NewDLQ(db, zerolog.Nop())
	ch := &stubChannel{name: "in_app"}

	n := NewNotification("user-1", "alert-1", "in_app", "msg", "", time.Now().UTC())
	if err := dlq.Enqueue(context.Background(), n, "in_app", errors.New("initial failure")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// The job was just created with last_attempt = now, so it isn't due yet
	// under the 1-minute first-tier backoff; back-date it to make it due.
	if _, err := db.Exec(`UPDATE dlq_jobs SET last_attempt = ?`, time.Now().UTC().Add(-2*time.Minute)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	r := NewReplayer(dlq, map[string]Channel{"in_app": ch}, zerolog.Nop())
	delivered, retried, failed, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if delivered != 1 || retried != 0 || failed != 0 {
		t.Fatalf("got delivered=%d retried=%d failed=%d, want 1/0/0", delivered, retried, failed)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM dlq_jobs`).Scan(&status); err != nil {
		t.Fatalf("status query: %v", err)
	}
	if status != string(domain.DLQDelivered) {
		t.Errorf("status = %q, want delivered", status)
	}
}

func TestRunOnceRetriesThenFails(t *testing.T) {
	db := setupDLQDB(t)
	dlq := NewDLQ(db, zerolog.Nop())
	ch := &stubChannel{name: "in_app", fail: true}

	n := NewNotification("user-1", "alert-1", "in_app", "msg", "", time.Now().UTC())
	if err := dlq.Enqueue(context.Background(), n, "in_app", errors.New("initial failure")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := NewReplayer(dlq, map[string]Channel{"in_app": ch}, zerolog.Nop())

	backdateAndRun := func() (delivered, retried, failed int) {
		if _, err := db.Exec(`UPDATE dlq_jobs SET last_attempt = ?`, time.Now().UTC().Add(-1*time.Hour)); err != nil {
			t.Fatalf("backdate: %v", err)
		}
		d, rt, f, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		return d, rt, f
	}

	for i := 0; i < maxDLQRetries; i++ {
		delivered, retried, failed := backdateAndRun()
		if delivered != 0 {
			t.Fatalf("round %d: unexpected delivery", i)
		}
		if i < maxDLQRetries-1 {
			if retried != 1 || failed != 0 {
				t.Fatalf("round %d: got retried=%d failed=%d, want 1/0", i, retried, failed)
			}
		} else {
			if failed != 1 {
				t.Fatalf("final round: got failed=%d, want 1", failed)
			}
		}
	}

	var status string
	var retryCount int
	if err := db.QueryRow(`SELECT status, retry_count FROM dlq_jobs`).Scan(&status, &retryCount); err != nil {
		t.Fatalf("status query: %v", err)
	}
	if status != string(domain.DLQFailed) {
		t.Errorf("status = %q, want failed", status)
	}
	if retryCount != maxDLQRetries {
		t.Errorf("retry_count = %d, want %d", retryCount, maxDLQRetries)
	}
}

func TestRunOnceMarksUnknownChannelFailed(t *testing.T) {
	db := setupDLQDB(t)
	dlq := NewDLQ(db, zerolog.Nop())

	n := NewNotification("user-1", "alert-1", "sms", "msg", "", time.Now().UTC())
	if err := dlq.Enqueue(context.Background(), n, "sms", errors.New("no sms channel")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := db.Exec(`UPDATE dlq_jobs SET last_attempt = ?`, time.Now().UTC().Add(-2*time.Minute)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	r := NewReplayer(dlq, map[string]Channel{"in_app": &stubChannel{name: "in_app"}}, zerolog.Nop())
	_, _, failed, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected unknown channel to be marked failed immediately, got failed=%d", failed)
	}
}
