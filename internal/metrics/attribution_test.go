package metrics

import (
	"testing"
	"time"

	"github.com/aristath/truthspine/internal/domain"
)

func TestComputePositionAttributionIdentity(t *testing.T) {
	pv := PositionValuation{
		SecurityID:  "AAPL",
		Currency:    "USD",
		ValueStart:  10000,
		ValueEnd:    10150,
		FlowsLocal:  0,
		FXRateStart: 1.35,
		FXRateEnd:   1.3466, // local currency weakens slightly against base
		Weight:      1.0,
	}
	attr, ok := ComputePositionAttribution(pv, "p1", time.Now(), "pack1")
	if !ok {
		t.Fatal("expected attribution to compute")
	}

	actual := (1 + attr.RLocal) * (1 + attr.RFX) - 1
	if residualBP := attr.IdentityResidualBP(actual); residualBP > 0.1 {
		t.Fatalf("identity residual %.4fbp exceeds 0.1bp tolerance", residualBP)
	}
}

func TestComputePositionAttributionZeroStart(t *testing.T) {
	pv := PositionValuation{ValueStart: 0, FXRateStart: 1.0}
	if _, ok := ComputePositionAttribution(pv, "p1", time.Now(), "pack1"); ok {
		t.Fatal("expected failure with zero starting value")
	}
}

func TestAggregatePortfolioAttribution(t *testing.T) {
	now := time.Now()
	positions := []domain.CurrencyAttribution{
		{SecurityID: "AAPL", RLocal: 0.01, RFX: -0.002, RInteraction: 0.01 * -0.002, RBase: (1.01)*(1-0.002) - 1, Weight: 0.6},
		{SecurityID: "ASML", RLocal: 0.02, RFX: 0.001, RInteraction: 0.02 * 0.001, RBase: (1.02)*(1.001) - 1, Weight: 0.4},
	}

	agg := AggregatePortfolioAttribution(positions, "p1", now, "pack1")

	wantLocal := 0.01*0.6 + 0.02*0.4
	approxEqual(t, agg.RLocal, wantLocal, 1e-12)
	if agg.SecurityID != "" {
		t.Fatal("expected portfolio-level aggregate to have an empty SecurityID")
	}
}
