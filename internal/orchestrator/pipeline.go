// Package orchestrator runs the nightly sacred order: build the pricing
// pack, reconcile it against the ledger, compute derived metrics, pre-warm
// factor exposures and ratings, mark the pack fresh, and evaluate alerts.
// Steps 1, 2, and 6 block the remainder of the run on failure; steps 3, 4,
// 5, and 7 are non-blocking and only ever warn.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/truthspine/internal/alerts"
	"github.com/aristath/truthspine/internal/ledger"
	"github.com/aristath/truthspine/internal/metrics"
	"github.com/aristath/truthspine/internal/notify"
	"github.com/aristath/truthspine/internal/pricingpack"
	"github.com/aristath/truthspine/internal/ratings"
	"github.com/rs/zerolog"
)

// StepResult is one line of the run report.
type StepResult struct {
	Name     string
	Success  bool
	Duration time.Duration
	Err      string
}

// RunReport summarizes one execution of the sacred order.
type RunReport struct {
	AsOfDate  time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Success   bool
	BlockedAt string
	Steps     []StepResult
}

// Config wires every collaborator the pipeline's seven steps call into.
type Config struct {
	Log zerolog.Logger

	Builder          *pricingpack.Builder
	Reconciler       *ledger.Reconciler
	MetricsEngine    *metrics.Engine
	FactorPrewarmer  *metrics.FactorPrewarmer
	RatingsPrewarmer *ratings.Prewarmer
	Evaluator        *alerts.Evaluator
	Dispatcher       *notify.Dispatcher

	LedgerPath           string
	PricingPolicy        string
	BenchmarkPortfolioID string

	// Broadcaster, if set, receives every StepResult as it completes so a
	// connected observer (the websocket stream) can watch a run live. Nil
	// is fine: publish on a nil *Broadcaster is a no-op.
	Broadcaster *Broadcaster
}

// Pipeline runs the sacred order on demand or on a cron trigger.
type Pipeline struct {
	log zerolog.Logger
	cfg Config
}

// NewPipeline builds a Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{log: cfg.Log.With().Str("component", "nightly_orchestrator").Logger(), cfg: cfg}
}

// Run executes the seven-step sacred order for asOfDate, serially, in
// order, regardless of what else in the process is running concurrently.
func (p *Pipeline) Run(ctx context.Context, asOfDate time.Time) *RunReport {
	report := &RunReport{AsOfDate: asOfDate, StartedAt: time.Now().UTC(), Success: true}

	var packID string

	// Step 1: build pricing pack — blocking.
	ok := p.step(report, "build_pricing_pack", func() error {
		id, err := p.cfg.Builder.Build(ctx, asOfDate, p.cfg.PricingPolicy, "")
		packID = id
		return err
	}, true)
	if !ok {
		return p.finish(report)
	}

	// Step 2: reconcile ledger — blocking.
	ok = p.step(report, "reconcile_ledger", func() error {
		snapshot, err := ledger.Parse(p.cfg.LedgerPath)
		if err != nil {
			return err
		}
		rep, err := p.cfg.Reconciler.Reconcile(ctx, packID, snapshot)
		if err != nil {
			return err
		}
		if !rep.Passed {
			return reconciliationFailed(rep)
		}
		return nil
	}, true)
	if !ok {
		_ = p.cfg.Builder.MarkError(ctx, packID)
		return p.finish(report)
	}

	// Step 3: compute daily metrics — non-blocking.
	p.step(report, "compute_daily_metrics", func() error {
		_, err := p.cfg.MetricsEngine.Run(ctx, asOfDate, packID, p.cfg.BenchmarkPortfolioID)
		return err
	}, false)

	// Step 4: pre-warm factor exposures — non-blocking.
	p.step(report, "prewarm_factor_exposures", func() error {
		_, err := p.cfg.FactorPrewarmer.Run(ctx, asOfDate, packID, p.cfg.BenchmarkPortfolioID)
		return err
	}, false)

	// Step 5: pre-warm ratings — non-blocking.
	p.step(report, "prewarm_ratings", func() error {
		_, err := p.cfg.RatingsPrewarmer.Run(ctx, asOfDate, packID)
		return err
	}, false)

	// Step 6: mark pack fresh — blocking. Without this the executor stays
	// closed regardless of how well steps 3-5 went.
	ok = p.step(report, "mark_pack_fresh", func() error {
		return p.cfg.Builder.MarkFresh(ctx, packID)
	}, true)
	if !ok {
		return p.finish(report)
	}

	// Step 7: evaluate alerts — non-blocking.
	p.step(report, "evaluate_alerts", func() error {
		return p.evaluateAndDispatch(ctx, asOfDate)
	}, false)

	return p.finish(report)
}

func (p *Pipeline) evaluateAndDispatch(ctx context.Context, asOfDate time.Time) error {
	now := time.Now().UTC()
	firings, err := p.cfg.Evaluator.Evaluate(ctx, asOfDate, now)
	if err != nil {
		return err
	}
	for _, f := range firings {
		p.cfg.Dispatcher.Dispatch(ctx, f, now)
	}
	return nil
}

// step runs fn, timing it and recording a StepResult. blocking steps
// return ok=false on failure so the caller stops the sacred order;
// non-blocking steps always return ok=true and only log a warning.
func (p *Pipeline) step(report *RunReport, name string, fn func() error, blocking bool) bool {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	result := StepResult{Name: name, Success: err == nil, Duration: duration}
	if err != nil {
		result.Err = err.Error()
		p.log.Error().Err(err).Str("step", name).Bool("blocking", blocking).Msg("step failed")
	} else {
		p.log.Info().Str("step", name).Dur("duration", duration).Msg("step completed")
	}
	report.Steps = append(report.Steps, result)
	p.cfg.Broadcaster.publish(result)

	if err != nil && blocking {
		report.Success = false
		report.BlockedAt = name
		return false
	}
	if err != nil {
		p.log.Warn().Str("step", name).Msg("non-blocking step failed, continuing sacred order")
	}
	return true
}

func (p *Pipeline) finish(report *RunReport) *RunReport {
	report.EndedAt = time.Now().UTC()
	report.Duration = report.EndedAt.Sub(report.StartedAt)
	return report
}

// reconciliationFailed composes a single error summarizing a failed
// reconciliation report, enough to populate the report's step error string
// without requiring callers to reach back into the ledger package.
func reconciliationFailed(rep *ledger.Report) error {
	return fmt.Errorf("ledger reconciliation failed: %d break(s), max residual %.2f bp", len(rep.Breaks), rep.MaxResidualBP)
}
