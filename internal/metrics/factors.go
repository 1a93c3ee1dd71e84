package metrics

import (
	"time"

	"github.com/aristath/truthspine/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// FactorObservation is one trading day's aligned return data for a factor
// regression: the portfolio's return plus the return of each named factor
// proxy on that same day (market, size, value).
type FactorObservation struct {
	PortfolioReturn float64
	MarketReturn    float64
	SizeReturn      float64 // small-minus-big proxy return
	ValueReturn     float64 // high-minus-low proxy return
}

const minFactorObservations = 30

// ComputeFactorExposures fits portfolio returns against market/size/value
// factor proxies by ordinary least squares (gonum/mat), one coefficient per
// factor plus an intercept. Returns one FactorExposure per named factor
// with its loading and the regression's overall R-squared; nil if fewer
// than minFactorObservations aligned points are available.
func ComputeFactorExposures(obs []FactorObservation, portfolioID string, asOf time.Time, pricingPackID string) []domain.FactorExposure {
	n := len(obs)
	if n < minFactorObservations {
		return nil
	}

	const numFactors = 3 // market, size, value
	design := mat.NewDense(n, numFactors+1, nil)
	response := mat.NewVecDense(n, nil)

	for i, o := range obs {
		design.Set(i, 0, 1.0) // intercept
		design.Set(i, 1, o.MarketReturn)
		design.Set(i, 2, o.SizeReturn)
		design.Set(i, 3, o.ValueReturn)
		response.SetVec(i, o.PortfolioReturn)
	}

	var qr mat.QR
	qr.Factorize(design)

	var coeffs mat.VecDense
	if err := qr.SolveVecTo(&coeffs, false, response); err != nil {
		return nil
	}

	rSquared := computeRSquared(design, response, &coeffs)

	names := []string{"market_beta", "size", "value"}
	out := make([]domain.FactorExposure, 0, numFactors)
	for i, name := range names {
		out = append(out, domain.FactorExposure{
			PortfolioID:   portfolioID,
			AsOfDate:      asOf,
			PricingPackID: pricingPackID,
			Factor:        name,
			Exposure:      coeffs.AtVec(i + 1), // skip the intercept
			RSquared:      rSquared,
		})
	}
	return out
}

// computeRSquared returns 1 - SS_res/SS_tot for a fitted OLS model.
func computeRSquared(design mat.Matrix, response *mat.VecDense, coeffs *mat.VecDense) float64 {
	n, _ := design.Dims()

	var fitted mat.VecDense
	fitted.MulVec(design, coeffs)

	mean := 0.0
	for i := 0; i < n; i++ {
		mean += response.AtVec(i)
	}
	mean /= float64(n)

	ssRes, ssTot := 0.0, 0.0
	for i := 0; i < n; i++ {
		resid := response.AtVec(i) - fitted.AtVec(i)
		ssRes += resid * resid
		dev := response.AtVec(i) - mean
		ssTot += dev * dev
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
