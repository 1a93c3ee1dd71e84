package domain

import "time"

// PortfolioDailyValue is the persisted base-currency valuation of a
// portfolio on a given as-of date under a given pack. Keyed by
// (portfolio, asof_date, pack); written with UPSERT semantics.
type PortfolioDailyValue struct {
	PortfolioID   string
	AsOfDate      time.Time
	PricingPackID string
	BaseValue     float64
	DailyReturn   float64
}

// PortfolioMetrics is the persisted set of return/risk metrics for a
// portfolio on a given as-of date under a given pack.
type PortfolioMetrics struct {
	PortfolioID   string
	AsOfDate      time.Time
	PricingPackID string

	TWR map[string]*float64 // window -> time-weighted return, nil = insufficient history
	MWR map[string]*float64 // window -> money-weighted return (IRR)

	Volatility map[string]*float64
	Sharpe     map[string]*float64

	Alpha             *float64
	Beta              *float64
	TrackingError     *float64
	InformationRatio  *float64
	MaxDrawdown       *float64
}

// CurrencyAttribution decomposes a base-currency return into local, FX, and
// interaction components for one position (or the whole portfolio when
// SecurityID is empty).
type CurrencyAttribution struct {
	PortfolioID   string
	SecurityID    string // empty string = portfolio-level aggregate
	AsOfDate      time.Time
	PricingPackID string

	RLocal       float64
	RFX          float64
	RInteraction float64
	RBase        float64
	Weight       float64
}

// IdentityResidualBP returns |computed - actual| in basis points: how far
// (1+RLocal)(1+RFX)-1 drifts from the reported total return, the
// currency-attribution identity check.
func (c CurrencyAttribution) IdentityResidualBP(actual float64) float64 {
	computed := (1+c.RLocal)*(1+c.RFX) - 1
	diff := computed - actual
	if diff < 0 {
		diff = -diff
	}
	return diff * 10000
}

// FactorExposure is the pre-warmed per-portfolio factor regression result.
type FactorExposure struct {
	PortfolioID   string
	AsOfDate      time.Time
	PricingPackID string
	Factor        string // e.g. "market_beta", "size", "value"
	Exposure      float64
	RSquared      float64
}

// RatingPrewarm is the pre-warmed per-security quality score: a blend of
// momentum (RSI) and a return-volatility risk component, refreshed nightly
// so rating lookups never compute on the request path.
type RatingPrewarm struct {
	SecurityID    string
	AsOfDate      time.Time
	PricingPackID string
	Score         float64 // bounded [0, 100]
	RSI           float64
}
