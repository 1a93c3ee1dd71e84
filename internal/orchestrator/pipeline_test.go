package orchestrator

import (
	"errors"
	"testing"

	"github.com/aristath/truthspine/internal/ledger"
	"github.com/rs/zerolog"
)

func newTestPipeline() *Pipeline {
	return NewPipeline(Config{Log: zerolog.Nop()})
}

func TestStepBlockingFailureStopsRun(t *testing.T) {
	p := newTestPipeline()
	report := &RunReport{Success: true}

	ok := p.step(report, "build_pricing_pack", func() error { return errors.New("provider outage") }, true)

	if ok {
		t.Fatal("expected blocking failure to return false")
	}
	if report.Success {
		t.Error("expected report.Success to flip false on blocking failure")
	}
	if report.BlockedAt != "build_pricing_pack" {
		t.Errorf("BlockedAt = %q, want build_pricing_pack", report.BlockedAt)
	}
	if len(report.Steps) != 1 || report.Steps[0].Success {
		t.Fatalf("expected one failed step recorded, got %+v", report.Steps)
	}
}

func TestStepNonBlockingFailureContinues(t *testing.T) {
	p := newTestPipeline()
	report := &RunReport{Success: true}

	ok := p.step(report, "prewarm_ratings", func() error { return errors.New("rsi feed down") }, false)

	if !ok {
		t.Fatal("expected non-blocking failure to still return true")
	}
	if !report.Success {
		t.Error("non-blocking failure must not flip report.Success")
	}
	if report.BlockedAt != "" {
		t.Errorf("BlockedAt = %q, want empty for a non-blocking step", report.BlockedAt)
	}
}

func TestStepSuccessRecordsDuration(t *testing.T) {
	p := newTestPipeline()
	report := &RunReport{Success: true}

	ok := p.step(report, "mark_pack_fresh", func() error { return nil }, true)

	if !ok {
		t.Fatal("expected success")
	}
	if len(report.Steps) != 1 || !report.Steps[0].Success {
		t.Fatalf("expected one successful step, got %+v", report.Steps)
	}
	if report.Steps[0].Err != "" {
		t.Errorf("expected empty error string on success, got %q", report.Steps[0].Err)
	}
}

func TestReconciliationFailedMessage(t *testing.T) {
	rep := &ledger.Report{
		MaxResidualBP: 4.2,
		Breaks: []ledger.Break{
			{Kind: ledger.BreakQuantityMismatch, Account: "acct-1", Details: "qty off by 2"},
		},
	}
	err := reconciliationFailed(rep)
	if err == nil {
		t.Fatal("expected a non-nil error")
	}
}
