package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aristath/truthspine/internal/alerts"
	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
)

// Engine computes and persists the per-portfolio derived metrics: TWR, MWR,
// volatility, Sharpe, alpha/beta against a benchmark portfolio (when one is
// configured), and max drawdown. It reads portfolio_daily_values (already
// populated by the valuation step that precedes this package) and cash_flows,
// both from the portfolio database. Sharpe's risk-free rate comes from the
// most recent macro_observations reading at or before the as-of date, via
// the same reader the alert evaluator uses over the pricing database.
type Engine struct {
	portfolioDB    *sql.DB
	macro          *alerts.MacroReader
	riskFreeSeries string
	log            zerolog.Logger
}

// NewEngine builds an Engine over the portfolio and pricing databases.
// riskFreeSeries names the macro_observations series Sharpe reads its
// risk-free rate from; empty falls back to 0.0.
func NewEngine(portfolioDB, pricingDB *sql.DB, riskFreeSeries string, log zerolog.Logger) *Engine {
	return &Engine{
		portfolioDB:    portfolioDB,
		macro:          alerts.NewMacroReader(pricingDB),
		riskFreeSeries: riskFreeSeries,
		log:            log.With().Str("component", "metrics_engine").Logger(),
	}
}

// riskFreeRate looks up the risk-free rate as of asOfDate, falling back to
// 0.0 when no series is configured or no observation exists yet.
func (e *Engine) riskFreeRate(ctx context.Context, asOfDate time.Time) float64 {
	if e.riskFreeSeries == "" {
		return 0.0
	}
	rate, ok, err := e.macro.Read(ctx, e.riskFreeSeries, "", asOfDate)
	if err != nil || !ok {
		return 0.0
	}
	return rate
}

// Run computes and persists metrics for every active portfolio as of
// asOfDate under pricingPackID. benchmarkPortfolioID may be empty, in which
// case alpha/beta/tracking-error/information-ratio are left nil.
func (e *Engine) Run(ctx context.Context, asOfDate time.Time, pricingPackID, benchmarkPortfolioID string) (int, error) {
	portfolioIDs, err := e.activePortfolios(ctx)
	if err != nil {
		return 0, apperrors.Fatal("metrics", "run", err)
	}

	var benchmarkReturns []float64
	if benchmarkPortfolioID != "" {
		benchmarkReturns, err = e.dailyReturns(ctx, benchmarkPortfolioID, asOfDate)
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to load benchmark return series, alpha/beta will be skipped")
			benchmarkReturns = nil
		}
	}

	computed := 0
	for _, portfolioID := range portfolioIDs {
		m, err := e.computeOne(ctx, portfolioID, asOfDate, pricingPackID, benchmarkReturns)
		if err != nil {
			e.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("metrics computation failed for portfolio")
			continue
		}
		if err := e.persist(ctx, m); err != nil {
			e.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("failed to persist portfolio metrics")
			continue
		}
		computed++
	}
	return computed, nil
}

func (e *Engine) computeOne(ctx context.Context, portfolioID string, asOfDate time.Time, pricingPackID string, benchmarkReturns []float64) (*domain.PortfolioMetrics, error) {
	returns, err := e.dailyReturns(ctx, portfolioID, asOfDate)
	if err != nil {
		return nil, err
	}

	m := &domain.PortfolioMetrics{
		PortfolioID:   portfolioID,
		AsOfDate:      asOfDate,
		PricingPackID: pricingPackID,
		TWR:           TWRWindows(returns),
		Volatility:    VolatilityWindows(returns),
		Sharpe:        SharpeWindows(returns, e.riskFreeRate(ctx, asOfDate)),
		MaxDrawdown:   MaxDrawdown(returns),
	}

	mwr, err := e.computeMWR(ctx, portfolioID, asOfDate)
	if err != nil {
		e.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("MWR computation failed, leaving nil")
	} else {
		m.MWR = mwr
	}

	if ab := ComputeAlphaBeta(returns, benchmarkReturns, len(returns)); ab != nil {
		m.Alpha = &ab.Alpha
		m.Beta = &ab.Beta
		m.TrackingError = &ab.TrackingError
		m.InformationRatio = &ab.InformationRatio
	}

	return m, nil
}

// computeMWR solves IRR over the portfolio's cash flows plus its ending
// valuation as the terminal flow, reported under the TWR window name
// inception_ann. Only the since-inception window is computed; no 3y or 5y
// MWR is produced.
func (e *Engine) computeMWR(ctx context.Context, portfolioID string, asOfDate time.Time) (map[string]*float64, error) {
	flows, err := e.cashFlowEvents(ctx, portfolioID, asOfDate)
	if err != nil {
		return nil, err
	}
	if len(flows) < 2 {
		return map[string]*float64{}, nil
	}
	irr, ok := SolveIRR(flows)
	if !ok {
		return map[string]*float64{}, nil
	}
	result := irr
	return map[string]*float64{WindowInceptionAnn: &result}, nil
}

func (e *Engine) cashFlowEvents(ctx context.Context, portfolioID string, asOfDate time.Time) ([]CashFlowEvent, error) {
	rows, err := e.portfolioDB.QueryContext(ctx, `
		SELECT date, amount FROM cash_flows
		WHERE portfolio_id = ? AND date <= ?
		ORDER BY date ASC`,
		portfolioID, asOfDate.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var firstDate time.Time
	var events []CashFlowEvent
	for rows.Next() {
		var dateStr string
		var amount float64
		if err := rows.Scan(&dateStr, &amount); err != nil {
			return nil, err
		}
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if firstDate.IsZero() {
			firstDate = d
		}
		// cash_flows records inflows as positive; CashFlowEvent wants them negative.
		events = append(events, CashFlowEvent{DaysFromStart: int(d.Sub(firstDate).Hours() / 24), Amount: -amount})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	endValue, err := e.baseValueOn(ctx, portfolioID, asOfDate)
	if err != nil || endValue == 0 {
		return events, nil
	}
	terminalDays := 0
	if !firstDate.IsZero() {
		terminalDays = int(asOfDate.Sub(firstDate).Hours() / 24)
	}
	events = append(events, CashFlowEvent{DaysFromStart: terminalDays, Amount: endValue})
	return events, nil
}

func (e *Engine) baseValueOn(ctx context.Context, portfolioID string, asOfDate time.Time) (float64, error) {
	var v float64
	err := e.portfolioDB.QueryRowContext(ctx, `
		SELECT base_value FROM portfolio_daily_values
		WHERE portfolio_id = ? AND as_of_date <= ?
		ORDER BY as_of_date DESC LIMIT 1`,
		portfolioID, asOfDate.Format("2006-01-02")).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func (e *Engine) dailyReturns(ctx context.Context, portfolioID string, asOfDate time.Time) ([]float64, error) {
	rows, err := e.portfolioDB.QueryContext(ctx, `
		SELECT daily_return FROM portfolio_daily_values
		WHERE portfolio_id = ? AND as_of_date <= ?
		ORDER BY as_of_date ASC`,
		portfolioID, asOfDate.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var returns []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	return returns, rows.Err()
}

func (e *Engine) activePortfolios(ctx context.Context) ([]string, error) {
	rows, err := e.portfolioDB.QueryContext(ctx, `SELECT id FROM portfolios WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (e *Engine) persist(ctx context.Context, m *domain.PortfolioMetrics) error {
	twrJSON, err := json.Marshal(m.TWR)
	if err != nil {
		return err
	}
	mwrJSON, err := json.Marshal(m.MWR)
	if err != nil {
		return err
	}
	volJSON, err := json.Marshal(m.Volatility)
	if err != nil {
		return err
	}
	sharpeJSON, err := json.Marshal(m.Sharpe)
	if err != nil {
		return err
	}

	_, err = e.portfolioDB.ExecContext(ctx, `
		INSERT INTO portfolio_metrics (
			portfolio_id, as_of_date, pricing_pack_id,
			twr_json, mwr_json, volatility_json, sharpe_json,
			alpha, beta, tracking_error, information_ratio, max_drawdown
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio_id, as_of_date, pricing_pack_id) DO UPDATE SET
			twr_json = excluded.twr_json,
			mwr_json = excluded.mwr_json,
			volatility_json = excluded.volatility_json,
			sharpe_json = excluded.sharpe_json,
			alpha = excluded.alpha,
			beta = excluded.beta,
			tracking_error = excluded.tracking_error,
			information_ratio = excluded.information_ratio,
			max_drawdown = excluded.max_drawdown`,
		m.PortfolioID, m.AsOfDate.Format("2006-01-02"), m.PricingPackID,
		string(twrJSON), string(mwrJSON), string(volJSON), string(sharpeJSON),
		m.Alpha, m.Beta, m.TrackingError, m.InformationRatio, m.MaxDrawdown)
	return err
}
