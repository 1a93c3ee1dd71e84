package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
)

// minFactorHistory mirrors minFactorObservations; the prewarmer won't even
// attempt a regression below this many aligned daily points.
const minFactorHistory = minFactorObservations

// FactorPrewarmer wires ComputeFactorExposures to persisted daily-return
// history: the portfolio's own series is the response, a benchmark
// portfolio's series stands in for the market factor, and two named macro
// series (size_factor, value_factor) supply the remaining factors - the
// same macro_observations table the alert evaluator's MacroReader reads.
type FactorPrewarmer struct {
	portfolioDB *sql.DB
	pricingDB   *sql.DB
	log         zerolog.Logger
}

// NewFactorPrewarmer builds a FactorPrewarmer.
func NewFactorPrewarmer(portfolioDB, pricingDB *sql.DB, log zerolog.Logger) *FactorPrewarmer {
	return &FactorPrewarmer{portfolioDB: portfolioDB, pricingDB: pricingDB, log: log.With().Str("component", "factor_prewarm").Logger()}
}

// Run computes and persists factor exposures for every active portfolio,
// skipping (and logging) any portfolio with insufficient aligned history.
func (f *FactorPrewarmer) Run(ctx context.Context, asOfDate time.Time, pricingPackID, benchmarkPortfolioID string) (int, error) {
	portfolioIDs, err := f.activePortfolios(ctx)
	if err != nil {
		return 0, apperrors.Fatal("metrics", "factor_prewarm", err)
	}
	if benchmarkPortfolioID == "" {
		f.log.Warn().Msg("no benchmark portfolio configured, skipping factor prewarm")
		return 0, nil
	}

	marketReturns, err := f.seriesByDate(ctx, benchmarkPortfolioID, asOfDate)
	if err != nil {
		return 0, apperrors.Fatal("metrics", "factor_prewarm", err)
	}
	sizeReturns, err := f.macroSeriesByDate(ctx, "size_factor", asOfDate)
	if err != nil {
		f.log.Warn().Err(err).Msg("size_factor series unavailable, treating as flat")
	}
	valueReturns, err := f.macroSeriesByDate(ctx, "value_factor", asOfDate)
	if err != nil {
		f.log.Warn().Err(err).Msg("value_factor series unavailable, treating as flat")
	}

	prewarmed := 0
	for _, portfolioID := range portfolioIDs {
		portfolioReturns, err := f.seriesByDate(ctx, portfolioID, asOfDate)
		if err != nil {
			f.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("failed to load portfolio series")
			continue
		}

		obs := alignObservations(portfolioReturns, marketReturns, sizeReturns, valueReturns)
		if len(obs) < minFactorHistory {
			f.log.Warn().Str("portfolio_id", portfolioID).Int("observations", len(obs)).Msg("insufficient aligned history, skipping factor prewarm")
			continue
		}

		exposures := ComputeFactorExposures(obs, portfolioID, asOfDate, pricingPackID)
		if len(exposures) == 0 {
			continue
		}
		if err := f.persist(ctx, exposures); err != nil {
			f.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("failed to persist factor exposures")
			continue
		}
		prewarmed++
	}
	return prewarmed, nil
}

// alignObservations inner-joins the portfolio and market series on date;
// size and value returns missing on a date default to zero (a flat,
// no-information factor).
func alignObservations(portfolio, market, size, value map[string]float64) []FactorObservation {
	var obs []FactorObservation
	for date, pr := range portfolio {
		mr, ok := market[date]
		if !ok {
			continue
		}
		obs = append(obs, FactorObservation{
			PortfolioReturn: pr,
			MarketReturn:    mr,
			SizeReturn:      size[date],
			ValueReturn:     value[date],
		})
	}
	return obs
}

func (f *FactorPrewarmer) seriesByDate(ctx context.Context, portfolioID string, asOfDate time.Time) (map[string]float64, error) {
	rows, err := f.portfolioDB.QueryContext(ctx, `
		SELECT as_of_date, daily_return FROM portfolio_daily_values
		WHERE portfolio_id = ? AND as_of_date <= ?`,
		portfolioID, asOfDate.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var r float64
		if err := rows.Scan(&date, &r); err != nil {
			return nil, err
		}
		out[date] = r
	}
	return out, rows.Err()
}

func (f *FactorPrewarmer) macroSeriesByDate(ctx context.Context, seriesName string, asOfDate time.Time) (map[string]float64, error) {
	rows, err := f.pricingDB.QueryContext(ctx, `
		SELECT as_of_date, value FROM macro_observations
		WHERE series_name = ? AND as_of_date <= ?`,
		seriesName, asOfDate.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var v float64
		if err := rows.Scan(&date, &v); err != nil {
			return nil, err
		}
		out[date] = v
	}
	return out, rows.Err()
}

func (f *FactorPrewarmer) activePortfolios(ctx context.Context) ([]string, error) {
	rows, err := f.portfolioDB.QueryContext(ctx, `SELECT id FROM portfolios WHERE active = 1`)
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

func (f *FactorPrewarmer) persist(ctx context.Context, exposures []domain.FactorExposure) error {
	for _, e := range exposures {
		_, err := f.portfolioDB.ExecContext(ctx, `
			INSERT INTO factor_exposures (portfolio_id, as_of_date, pricing_pack_id, factor, exposure, r_squared)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (portfolio_id, as_of_date, pricing_pack_id, factor) DO UPDATE SET
				exposure = excluded.exposure,
				r_squared = excluded.r_squared`,
			e.PortfolioID, e.AsOfDate.Format("2006-01-02"), e.PricingPackID, e.Factor, e.Exposure, e.RSquared)
		if err != nil {
			return err
		}
	}
	return nil
}
