package metrics

import (
	"time"

	"github.com/aristath/truthspine/internal/domain"
)

// PositionValuation is the local-currency value of one lot at the start and
// end of an attribution window, plus any local-currency cash flow in
// between (contributions/withdrawals, which would otherwise masquerade as
// return).
type PositionValuation struct {
	SecurityID  string
	Currency    string
	ValueStart  float64 // local currency, start of window
	ValueEnd    float64 // local currency, end of window
	FlowsLocal  float64 // local currency, net flow during window
	FXRateStart float64 // base currency per unit of local currency, start
	FXRateEnd   float64 // base currency per unit of local currency, end
	Weight      float64 // portfolio weight at window start
}

// ComputePositionAttribution decomposes one position's base-currency return
// into local, FX, and interaction components:
//
//	r_local = (V_end - V_start - flows) / V_start
//	r_fx    = (fxEnd / fxStart) - 1
//	r_base  = (1 + r_local)(1 + r_fx) - 1
func ComputePositionAttribution(pv PositionValuation, portfolioID string, asOf time.Time, pricingPackID string) (domain.CurrencyAttribution, bool) {
	if pv.ValueStart == 0 || pv.FXRateStart == 0 {
		return domain.CurrencyAttribution{}, false
	}

	rLocal := (pv.ValueEnd - pv.ValueStart - pv.FlowsLocal) / pv.ValueStart
	rFX := (pv.FXRateEnd / pv.FXRateStart) - 1
	rBase := (1+rLocal)*(1+rFX) - 1

	return domain.CurrencyAttribution{
		PortfolioID:   portfolioID,
		SecurityID:    pv.SecurityID,
		AsOfDate:      asOf,
		PricingPackID: pricingPackID,
		RLocal:        rLocal,
		RFX:           rFX,
		RInteraction:  rLocal * rFX,
		RBase:         rBase,
		Weight:        pv.Weight,
	}, true
}

// AggregatePortfolioAttribution weight-sums position-level attributions into
// one portfolio-level row (SecurityID left empty to mark the aggregate).
// Positions must carry weights that sum to ~1; callers are expected to have
// normalized by total portfolio value.
func AggregatePortfolioAttribution(positions []domain.CurrencyAttribution, portfolioID string, asOf time.Time, pricingPackID string) domain.CurrencyAttribution {
	var local, fx, interaction, total float64
	for _, p := range positions {
		local += p.Weight * p.RLocal
		fx += p.Weight * p.RFX
		interaction += p.Weight * p.RInteraction
		total += p.Weight * p.RBase
	}
	return domain.CurrencyAttribution{
		PortfolioID:   portfolioID,
		AsOfDate:      asOf,
		PricingPackID: pricingPackID,
		RLocal:        local,
		RFX:           fx,
		RInteraction:  interaction,
		RBase:         total,
		Weight:        1.0,
	}
}
