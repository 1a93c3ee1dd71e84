// Package ratings computes a bounded [0,100] quality pre-warm score per
// security from pack-relative price technicals. It supplies a concrete,
// bounded implementation of the scoring Open Question rather than leaving a
// placeholder, scoped to what a pricing pack actually gives us: a closing
// price series and the return/volatility figures the metrics engine already
// derives from it. Full fundamentals-driven scoring (FCF coverage, payout
// ratio, moat strength) is out of scope here - there is no fundamentals
// feed in this pipeline.
package ratings

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const rsiPeriod = 14

// Prewarmer computes and persists RatingPrewarm rows for every active
// security once a pack's prices are available, ahead of any user request -
// a non-blocking nightly step that never holds up the freshness gate.
type Prewarmer struct {
	pricingDB *sql.DB
	portfoDB  *sql.DB
	log       zerolog.Logger
}

// NewPrewarmer builds a Prewarmer. pricingDB supplies closing price history
// across packs for one security; portfoDB supplies rating_prewarm's sibling
// table in the portfolio database.
func NewPrewarmer(pricingDB, portfoDB *sql.DB, log zerolog.Logger) *Prewarmer {
	return &Prewarmer{pricingDB: pricingDB, portfoDB: portfoDB, log: log.With().Str("component", "ratings_prewarm").Logger()}
}

// Run computes a quality score for every security priced in pricingPackID
// and upserts it into rating_prewarm. Failures for one security are logged
// and skipped; Run only returns an error when it cannot read the pack's
// universe at all, since this step is non-blocking by design.
func (p *Prewarmer) Run(ctx context.Context, asOfDate time.Time, pricingPackID string) (int, error) {
	securityIDs, err := p.packSecurities(ctx, pricingPackID)
	if err != nil {
		return 0, apperrors.Fatal("ratings", "pack_securities", err)
	}

	warmed := 0
	for _, secID := range securityIDs {
		closes, err := p.closeHistory(ctx, secID, pricingPackID, rsiPeriod*5)
		if err != nil {
			p.log.Warn().Err(err).Str("security_id", secID).Msg("close history lookup failed, skipping rating prewarm")
			continue
		}
		rating := compute(secID, asOfDate, pricingPackID, closes)
		if rating == nil {
			continue
		}
		if err := p.persist(ctx, *rating); err != nil {
			p.log.Warn().Err(err).Str("security_id", secID).Msg("rating prewarm persist failed")
			continue
		}
		warmed++
	}
	return warmed, nil
}

// compute derives a bounded [0,100] score from the security's RSI and its
// trailing return volatility: RSI closer to 50 (neither overbought nor
// oversold) and lower volatility both score higher, an intentionally simple
// stand-in for the fuller fundamentals rubric.
func compute(secID string, asOf time.Time, pricingPackID string, closes []float64) *domain.RatingPrewarm {
	if len(closes) < rsiPeriod+1 {
		return nil
	}

	rsiSeries := talib.Rsi(closes, rsiPeriod)
	var rsi float64
	if n := len(rsiSeries); n > 0 && !isNaN(rsiSeries[n-1]) {
		rsi = rsiSeries[n-1]
	} else {
		return nil
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}

	var vol float64
	if len(returns) >= 2 {
		vol = stat.StdDev(returns, nil)
	}

	// RSI component: 100 at RSI=50, decaying linearly to 0 at the extremes.
	rsiScore := 100 - absF(rsi-50)*2

	// Volatility component: an annualized daily vol of 0 scores 100,
	// scores decay to 0 by 60% annualized vol (a generous ceiling for
	// single-name equities).
	annVol := vol * math.Sqrt(252)
	volScore := 100 - (annVol/0.60)*100
	if volScore < 0 {
		volScore = 0
	}
	if volScore > 100 {
		volScore = 100
	}

	score := 0.6*rsiScore + 0.4*volScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &domain.RatingPrewarm{
		SecurityID:    secID,
		AsOfDate:      asOf,
		PricingPackID: pricingPackID,
		Score:         score,
		RSI:           rsi,
	}
}

func (p *Prewarmer) packSecurities(ctx context.Context, pricingPackID string) ([]string, error) {
	rows, err := p.pricingDB.QueryContext(ctx, `SELECT DISTINCT security_id FROM prices WHERE pricing_pack_id = ?`, pricingPackID)
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

// closeHistory returns up to `limit` trailing closes for secID across the
// most recent packs, oldest first.
func (p *Prewarmer) closeHistory(ctx context.Context, secID, pricingPackID string, limit int) ([]float64, error) {
	rows, err := p.pricingDB.QueryContext(ctx, `
		SELECT pr.close
		FROM prices pr
		JOIN pricing_packs pk ON pk.id = pr.pricing_pack_id
		WHERE pr.security_id = ? AND pk.as_of_date <= (
			SELECT as_of_date FROM pricing_packs WHERE id = ?
		)
		ORDER BY pk.as_of_date DESC
		LIMIT ?`, secID, pricingPackID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		closes = append(closes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(closes)-1; i < j; i, j = i+1, j-1 {
		closes[i], closes[j] = closes[j], closes[i]
	}
	return closes, nil
}

func (p *Prewarmer) persist(ctx context.Context, r domain.RatingPrewarm) error {
	_, err := p.portfoDB.ExecContext(ctx, `
		INSERT OR REPLACE INTO rating_prewarm (security_id, as_of_date, pricing_pack_id, score, rsi)
		VALUES (?, ?, ?, ?, ?)`, r.SecurityID, r.AsOfDate, r.PricingPackID, r.Score, r.RSI)
	return err
}

func isNaN(f float64) bool { return f != f }

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

