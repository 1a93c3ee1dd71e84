package metrics

import (
	"math"
	"testing"
)

func approxEqual(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("got %.10f, want %.10f (tol %.10f)", got, want, tol)
	}
}

func TestCumulativeReturn(t *testing.T) {
	cum, ok := CumulativeReturn([]float64{0.01, 0.02, -0.01})
	if !ok {
		t.Fatal("expected ok")
	}
	want := 1.01*1.02*0.99 - 1
	approxEqual(t, cum, want, 1e-12)
}

func TestCumulativeReturnEmpty(t *testing.T) {
	if _, ok := CumulativeReturn(nil); ok {
		t.Fatal("expected not ok for empty slice")
	}
}

func TestAnnualize(t *testing.T) {
	ann, ok := Annualize(0.10, 365)
	if !ok {
		t.Fatal("expected ok")
	}
	approxEqual(t, ann, 0.10, 1e-9)

	if _, ok := Annualize(0.10, 0); ok {
		t.Fatal("expected not ok for zero days")
	}
}

func TestTWRWindows(t *testing.T) {
	returns := make([]float64, 300)
	for i := range returns {
		returns[i] = 0.0005
	}
	windows := TWRWindows(returns)

	if windows[Window1D] == nil || *windows[Window1D] != 0.0005 {
		t.Fatalf("expected 1d window to equal last return")
	}
	if windows[Window1Y] == nil {
		t.Fatal("expected 1y window present with 300 days of data")
	}
	if windows[Window3YAnn] != nil {
		t.Fatal("expected 3y window absent with only 300 days of data")
	}
	if windows[WindowInceptionAnn] == nil {
		t.Fatal("expected inception window always present")
	}
}

func TestTWRCalendarWindows(t *testing.T) {
	returns := []float64{0.01, 0.01, 0.01, 0.01, 0.01}
	out := make(map[string]*float64)
	TWRCalendarWindows(returns, 3, 0, 5, out)

	if out[WindowMTD] == nil {
		t.Fatal("expected mtd window present")
	}
	if out[WindowQTD] != nil {
		t.Fatal("expected qtd window absent for zero days")
	}
	if out[WindowYTD] == nil {
		t.Fatal("expected ytd window present")
	}
}

func TestVolatilityWindows(t *testing.T) {
	returns := make([]float64, 252)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.01
		} else {
			returns[i] = -0.01
		}
	}
	vol := VolatilityWindows(returns)
	if vol["30d"] == nil {
		t.Fatal("expected 30d volatility present")
	}
	if *vol["30d"] <= 0 {
		t.Fatal("expected positive volatility for an oscillating series")
	}
}

func TestSharpeWindowsZeroVolatility(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.001 // flat series: zero volatility
	}
	sharpe := SharpeWindows(returns, 0.02)
	if _, ok := sharpe["30d"]; ok {
		t.Fatal("expected no sharpe entry when volatility is zero")
	}
}

func TestMaxDrawdown(t *testing.T) {
	returns := []float64{0.10, -0.20, 0.05}
	dd := MaxDrawdown(returns)
	if dd == nil {
		t.Fatal("expected drawdown result")
	}
	// wealth: 1.10 -> 0.88 -> 0.924, peak 1.10, trough 0.88
	want := (1.10 - 0.88) / 1.10
	approxEqual(t, *dd, want, 1e-9)
}
