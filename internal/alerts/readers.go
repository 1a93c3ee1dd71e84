package alerts

import (
	"context"
	"database/sql"
	"time"
)

// MetricReader reads a named portfolio_metrics column for a portfolio,
// e.g. "alpha" or "beta". metric must be one of the flat scalar columns
// (alpha, beta, tracking_error, information_ratio, max_drawdown); the
// figures portfolio_metrics stores behind JSON blobs (TWR/MWR/volatility/
// Sharpe windows) are not read, and any other metric reads as not found.
type MetricReader struct {
	portfolioDB *sql.DB
}

// NewMetricReader builds a MetricReader over the portfolio database.
func NewMetricReader(portfolioDB *sql.DB) *MetricReader {
	return &MetricReader{portfolioDB: portfolioDB}
}

func (r *MetricReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	switch metric {
	case "alpha", "beta", "tracking_error", "information_ratio", "max_drawdown":
		query := `SELECT ` + metric + ` FROM portfolio_metrics WHERE portfolio_id = ? AND as_of_date = ?`
		var v sql.NullFloat64
		if err := r.portfolioDB.QueryRowContext(ctx, query, entity, asOf).Scan(&v); err != nil {
			if err == sql.ErrNoRows {
				return 0, false, nil
			}
			return 0, false, err
		}
		return v.Float64, v.Valid, nil
	default:
		return 0, false, nil
	}
}

// PriceReader reads a security's latest close, or its percent change
// versus the prior pack when metric is "pct_change".
type PriceReader struct {
	pricingDB *sql.DB
}

// NewPriceReader builds a PriceReader over the pricing database.
func NewPriceReader(pricingDB *sql.DB) *PriceReader {
	return &PriceReader{pricingDB: pricingDB}
}

func (r *PriceReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	closes, err := r.recentCloses(ctx, entity, asOf, 2)
	if err != nil {
		return 0, false, err
	}
	if len(closes) == 0 {
		return 0, false, nil
	}

	switch metric {
	case "pct_change":
		if len(closes) < 2 || closes[1] == 0 {
			return 0, false, nil
		}
		return (closes[0] - closes[1]) / closes[1], true, nil
	default: // "close" or unspecified
		return closes[0], true, nil
	}
}

// recentCloses returns up to n closes for securityID, packs as-of-date
// descending from asOf, most recent first.
func (r *PriceReader) recentCloses(ctx context.Context, securityID string, asOf time.Time, n int) ([]float64, error) {
	rows, err := r.pricingDB.QueryContext(ctx, `
		SELECT pr.close
		FROM prices pr
		JOIN pricing_packs pk ON pk.id = pr.pricing_pack_id
		WHERE pr.security_id = ? AND pk.as_of_date <= ?
		ORDER BY pk.as_of_date DESC
		LIMIT ?`, securityID, asOf, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RatingReader reads a security's pre-warmed quality score.
type RatingReader struct {
	portfolioDB *sql.DB
}

// NewRatingReader builds a RatingReader over the portfolio database, where
// rating_prewarm is persisted.
func NewRatingReader(portfolioDB *sql.DB) *RatingReader {
	return &RatingReader{portfolioDB: portfolioDB}
}

func (r *RatingReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	var v sql.NullFloat64
	column := "score"
	if metric == "rsi" {
		column = "rsi"
	}
	query := `SELECT ` + column + ` FROM rating_prewarm WHERE security_id = ? AND as_of_date = ?`
	if err := r.portfolioDB.QueryRowContext(ctx, query, entity, asOf).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

// MacroReader reads the most recent observation of a named macro series at
// or before the as-of date.
type MacroReader struct {
	pricingDB *sql.DB
}

// NewMacroReader builds a MacroReader over the pricing database.
func NewMacroReader(pricingDB *sql.DB) *MacroReader {
	return &MacroReader{pricingDB: pricingDB}
}

func (r *MacroReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	var v sql.NullFloat64
	err := r.pricingDB.QueryRowContext(ctx, `
		SELECT value FROM macro_observations
		WHERE series_name = ? AND as_of_date <= ?
		ORDER BY as_of_date DESC
		LIMIT 1`, entity, asOf).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

// NewsSentimentReader reads a security's sentiment score for the pack
// current as of asOf.
type NewsSentimentReader struct {
	pricingDB *sql.DB
}

// NewNewsSentimentReader builds a NewsSentimentReader over the pricing
// database.
func NewNewsSentimentReader(pricingDB *sql.DB) *NewsSentimentReader {
	return &NewsSentimentReader{pricingDB: pricingDB}
}

func (r *NewsSentimentReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	var v sql.NullFloat64
	err := r.pricingDB.QueryRowContext(ctx, `
		SELECT ns.score
		FROM news_sentiment ns
		JOIN pricing_packs pk ON pk.id = ns.pricing_pack_id
		WHERE ns.security_id = ? AND pk.as_of_date <= ?
		ORDER BY pk.as_of_date DESC
		LIMIT 1`, entity, asOf).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}
