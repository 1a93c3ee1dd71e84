// Package agents provides the concrete capability implementations the
// pattern orchestrator invokes through the capability runtime. Each agent
// bundles a set of named, read-only capabilities over the derived tables
// the nightly orchestrator populates.
package agents

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/runtime"
)

// PortfolioAgent exposes capabilities that read pack-pinned prices and
// portfolio-pinned metrics/ratings. Every capability is scoped to the
// request's pricing pack ID (rc.PricingPackID), never "latest" - that
// pinning is exactly what makes the capability's result provenance
// meaningful across the lifetime of one request.
type PortfolioAgent struct {
	pricingDB   *sql.DB
	portfolioDB *sql.DB
}

// NewPortfolioAgent builds a PortfolioAgent over the pricing and portfolio
// databases.
func NewPortfolioAgent(pricingDB, portfolioDB *sql.DB) *PortfolioAgent {
	return &PortfolioAgent{pricingDB: pricingDB, portfolioDB: portfolioDB}
}

func (a *PortfolioAgent) Name() string { return "portfolio_agent" }

func (a *PortfolioAgent) Capabilities() map[string]runtime.Capability {
	return map[string]runtime.Capability{
		"get_price":  a.getPrice,
		"get_metric": a.getMetric,
		"get_rating": a.getRating,
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", apperrors.Validation("portfolio_agent", key, fmt.Errorf("missing required argument %q", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", apperrors.Validation("portfolio_agent", key, fmt.Errorf("argument %q must be a string", key))
	}
	return s, nil
}

// getPrice returns the close for args["security_id"] under the request's
// pinned pricing pack.
func (a *PortfolioAgent) getPrice(ctx context.Context, rc runtime.RequestContext, state, args map[string]any) (runtime.Result, error) {
	securityID, err := stringArg(args, "security_id")
	if err != nil {
		return runtime.Result{}, err
	}

	var closePrice float64
	err = a.pricingDB.QueryRowContext(ctx, `
		SELECT close FROM prices WHERE pricing_pack_id = ? AND security_id = ?`,
		rc.PricingPackID, securityID).Scan(&closePrice)
	if err == sql.ErrNoRows {
		return runtime.Result{}, apperrors.Validation("portfolio_agent", "get_price", fmt.Errorf("no price for %s under pack %s", securityID, rc.PricingPackID))
	}
	if err != nil {
		return runtime.Result{}, apperrors.Transient("portfolio_agent", "get_price", err)
	}

	return runtime.Result{
		Value:    closePrice,
		Source:   "pricing_pack:" + rc.PricingPackID,
		AsOfDate: rc.PricingPackID,
	}, nil
}

// getMetric returns one named scalar from portfolio_metrics for
// args["portfolio_id"] under the request's pinned pack.
func (a *PortfolioAgent) getMetric(ctx context.Context, rc runtime.RequestContext, state, args map[string]any) (runtime.Result, error) {
	portfolioID, err := stringArg(args, "portfolio_id")
	if err != nil {
		return runtime.Result{}, err
	}
	metric, err := stringArg(args, "metric")
	if err != nil {
		return runtime.Result{}, err
	}

	column, ok := allowedMetricColumns[metric]
	if !ok {
		return runtime.Result{}, apperrors.Validation("portfolio_agent", "get_metric", fmt.Errorf("unknown metric %q", metric))
	}

	query := fmt.Sprintf(`SELECT %s FROM portfolio_metrics WHERE portfolio_id = ? AND pricing_pack_id = ?`, column)
	var value sql.NullFloat64
	err = a.portfolioDB.QueryRowContext(ctx, query, portfolioID, rc.PricingPackID).Scan(&value)
	if err == sql.ErrNoRows {
		return runtime.Result{}, apperrors.Validation("portfolio_agent", "get_metric", fmt.Errorf("no metrics for %s under pack %s", portfolioID, rc.PricingPackID))
	}
	if err != nil {
		return runtime.Result{}, apperrors.Transient("portfolio_agent", "get_metric", err)
	}
	if !value.Valid {
		return runtime.Result{}, apperrors.Validation("portfolio_agent", "get_metric", fmt.Errorf("metric %q not computed for %s", metric, portfolioID))
	}

	return runtime.Result{
		Value:    value.Float64,
		Source:   "pricing_pack:" + rc.PricingPackID,
		AsOfDate: rc.PricingPackID,
	}, nil
}

// allowedMetricColumns is a closed set, exactly as alerts.MetricReader
// uses, so a column name never reaches the query built from untrusted
// input.
var allowedMetricColumns = map[string]string{
	"alpha":             "alpha",
	"beta":              "beta",
	"tracking_error":    "tracking_error",
	"information_ratio": "information_ratio",
	"max_drawdown":      "max_drawdown",
}

// getRating returns the prewarmed quality score for args["security_id"]
// under the request's pinned pack.
func (a *PortfolioAgent) getRating(ctx context.Context, rc runtime.RequestContext, state, args map[string]any) (runtime.Result, error) {
	securityID, err := stringArg(args, "security_id")
	if err != nil {
		return runtime.Result{}, err
	}

	var score float64
	err = a.portfolioDB.QueryRowContext(ctx, `
		SELECT score FROM rating_prewarm WHERE security_id = ? AND pricing_pack_id = ?`,
		securityID, rc.PricingPackID).Scan(&score)
	if err == sql.ErrNoRows {
		return runtime.Result{}, apperrors.Validation("portfolio_agent", "get_rating", fmt.Errorf("no rating for %s under pack %s", securityID, rc.PricingPackID))
	}
	if err != nil {
		return runtime.Result{}, apperrors.Transient("portfolio_agent", "get_rating", err)
	}

	return runtime.Result{
		Value:    score,
		Source:   "pricing_pack:" + rc.PricingPackID,
		AsOfDate: rc.PricingPackID,
	}, nil
}
