// Package metrics computes the derived return and risk figures the nightly
// run writes for every portfolio once a pack is fresh: TWR, MWR/IRR,
// volatility, Sharpe, alpha/beta, tracking error, information ratio, max
// drawdown, currency attribution, and factor exposure pre-warm.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// window names used as map keys on domain.PortfolioMetrics.
const (
	Window1D           = "1d"
	WindowMTD          = "mtd"
	WindowQTD          = "qtd"
	WindowYTD          = "ytd"
	Window1Y           = "1y"
	Window3YAnn        = "3y_ann"
	Window5YAnn        = "5y_ann"
	WindowInceptionAnn = "inception_ann"
)

// CumulativeReturn geometrically links a slice of per-period returns:
// (1+r1)(1+r2)...(1+rN) - 1. Returns (0, false) for an empty slice.
func CumulativeReturn(returns []float64) (float64, bool) {
	if len(returns) == 0 {
		return 0, false
	}
	product := 1.0
	for _, r := range returns {
		product *= 1 + r
	}
	return product - 1, true
}

// Annualize converts a cumulative return over numDays into a 365-day
// annualized figure.
func Annualize(cumReturn float64, numDays int) (float64, bool) {
	if numDays <= 0 {
		return 0, false
	}
	return math.Pow(1+cumReturn, 365.0/float64(numDays)) - 1, true
}

// TWRWindows computes the full TWR ladder (1d through inception) from a
// chronologically-ordered slice of daily returns, the most recent last.
func TWRWindows(returns []float64) map[string]*float64 {
	out := make(map[string]*float64)
	if len(returns) == 0 {
		return out
	}

	last := returns[len(returns)-1]
	out[Window1D] = &last

	setCumulative := func(key string, n int) {
		if len(returns) < n {
			return
		}
		if r, ok := CumulativeReturn(returns[len(returns)-n:]); ok {
			out[key] = &r
		}
	}

	setAnnualized := func(key string, n int) {
		if len(returns) < n {
			return
		}
		cum, ok := CumulativeReturn(returns[len(returns)-n:])
		if !ok {
			return
		}
		ann, ok := Annualize(cum, n)
		if !ok {
			return
		}
		out[key] = &ann
	}

	setCumulative(Window1Y, 252)
	setAnnualized(Window3YAnn, 756)
	setAnnualized(Window5YAnn, 1260)

	if cum, ok := CumulativeReturn(returns); ok {
		if ann, ok := Annualize(cum, len(returns)); ok {
			out[WindowInceptionAnn] = &ann
		}
	}

	return out
}

// TWRCalendarWindows adds MTD/QTD/YTD to the ladder; daysMTD/daysQTD/daysYTD give the
// number of trailing trading days each period spans as of the run date.
func TWRCalendarWindows(returns []float64, daysMTD, daysQTD, daysYTD int, out map[string]*float64) {
	add := func(key string, n int) {
		if n <= 0 || len(returns) < n {
			return
		}
		if r, ok := CumulativeReturn(returns[len(returns)-n:]); ok {
			out[key] = &r
		}
	}
	add(WindowMTD, daysMTD)
	add(WindowQTD, daysQTD)
	add(WindowYTD, daysYTD)
}

// annualizedVol returns the sample standard deviation of returns scaled to
// an annual figure by sqrt(252) trading days, or nil with too few points.
func annualizedVol(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	sd := stat.StdDev(returns, nil)
	v := sd * math.Sqrt(252)
	return &v
}

// VolatilityWindows computes trailing annualized volatility for the
// standard 30d/60d/90d/1y windows.
func VolatilityWindows(returns []float64) map[string]*float64 {
	out := make(map[string]*float64)
	windows := map[string]int{"30d": 30, "60d": 60, "90d": 90, Window1Y: 252}
	for key, n := range windows {
		if len(returns) >= n {
			if v := annualizedVol(returns[len(returns)-n:]); v != nil {
				out[key] = v
			}
		}
	}
	return out
}

// SharpeWindows computes (annualized return - risk-free rate) / annualized
// volatility for the same windows as VolatilityWindows.
func SharpeWindows(returns []float64, riskFreeRate float64) map[string]*float64 {
	out := make(map[string]*float64)
	windows := map[string]int{"30d": 30, "60d": 60, "90d": 90, Window1Y: 252}
	for key, n := range windows {
		if len(returns) < n || n < 2 {
			continue
		}
		window := returns[len(returns)-n:]
		cum, ok := CumulativeReturn(window)
		if !ok {
			continue
		}
		annRet, ok := Annualize(cum, n)
		if !ok {
			continue
		}
		vol := annualizedVol(window)
		if vol == nil || *vol == 0 {
			continue
		}
		sharpe := (annRet - riskFreeRate) / *vol
		out[key] = &sharpe
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline in cumulative
// wealth over the return series, as a positive fraction (0.25 = 25% DD).
func MaxDrawdown(returns []float64) *float64 {
	if len(returns) == 0 {
		return nil
	}

	wealth := 1.0
	runningMax := 1.0
	maxDD := 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > runningMax {
			runningMax = wealth
		}
		dd := (runningMax - wealth) / runningMax
		if dd > maxDD {
			maxDD = dd
		}
	}
	return &maxDD
}
