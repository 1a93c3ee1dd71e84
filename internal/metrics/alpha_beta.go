package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// AlphaBeta is the result of regressing portfolio returns against a
// benchmark series over one trailing window.
type AlphaBeta struct {
	Alpha            float64
	Beta             float64
	TrackingError    float64
	InformationRatio float64
}

// minRegressionPoints is the minimum aligned-window length before alpha/
// beta is considered statistically meaningful.
const minRegressionPoints = 30

// ComputeAlphaBeta regresses portfolioReturns on benchmarkReturns over
// their common trailing window, annualizing both return series to numDays.
// Alpha is the excess of annualized portfolio return over beta-weighted
// benchmark return (no risk-free term: the benchmark leg already carries
// whatever risk-free drift it has). Beta falls back to 1.0 when benchmark
// variance is zero (a flat benchmark can't identify a slope). Returns nil
// if fewer than 30 aligned points are available.
func ComputeAlphaBeta(portfolioReturns, benchmarkReturns []float64, numDays int) *AlphaBeta {
	n := min(len(portfolioReturns), len(benchmarkReturns))
	if n < minRegressionPoints {
		return nil
	}

	p := portfolioReturns[len(portfolioReturns)-n:]
	b := benchmarkReturns[len(benchmarkReturns)-n:]

	covariance := stat.Covariance(p, b, nil)
	benchmarkVar := stat.Variance(b, nil)

	beta := 1.0
	if benchmarkVar != 0 {
		beta = covariance / benchmarkVar
	}

	pCum, _ := CumulativeReturn(p)
	bCum, _ := CumulativeReturn(b)
	pAnn, _ := Annualize(pCum, numDays)
	bAnn, _ := Annualize(bCum, numDays)

	alpha := pAnn - beta*bAnn

	active := make([]float64, n)
	for i := range p {
		active[i] = p[i] - b[i]
	}
	trackingError := stat.StdDev(active, nil) * math.Sqrt(252)

	var informationRatio float64
	if trackingError != 0 {
		informationRatio = alpha / trackingError
	}

	return &AlphaBeta{
		Alpha:            alpha,
		Beta:             beta,
		TrackingError:    trackingError,
		InformationRatio: informationRatio,
	}
}
