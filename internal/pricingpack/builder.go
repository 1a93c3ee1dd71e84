// Package pricingpack builds the immutable, content-addressed pricing pack:
// the closing prices and FX rates a nightly run prices every portfolio
// against. See internal/domain for the PricingPack, Price, and FXRate
// shapes this package persists.
package pricingpack

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/aristath/truthspine/internal/providers/macro"
	"github.com/aristath/truthspine/internal/providers/prices"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fixingPairs lists the currency pairs the WM4PM_USD policy fixes. A real
// deployment would derive this from the distinct currencies on active
// securities and portfolios; fixed here because the nightly run's universe
// of base currencies changes rarely enough not to warrant a discovery pass.
var fixingPairs = [][2]string{
	{"EUR", "USD"}, {"GBP", "USD"}, {"JPY", "USD"}, {"CHF", "USD"}, {"CAD", "USD"},
}

// Builder constructs pricing packs from the primary/secondary price
// providers and the macro FX provider.
type Builder struct {
	db        *sql.DB
	primary   prices.Client
	secondary prices.Client
	fx        *macro.FXClient
	archiver  *Archiver
	log       zerolog.Logger
}

// NewBuilder wires a Builder. archiver may be nil (archival disabled).
func NewBuilder(db *sql.DB, primary, secondary prices.Client, fx *macro.FXClient, archiver *Archiver, log zerolog.Logger) *Builder {
	return &Builder{
		db:        db,
		primary:   primary,
		secondary: secondary,
		fx:        fx,
		archiver:  archiver,
		log:       log.With().Str("component", "pricing_pack_builder").Logger(),
	}
}

// PriceRow and FXRow are the canonical-form rows hashed into the pack hash.
type priceRow struct {
	SecurityID string `json:"security_id"`
	Close      string `json:"close"`
	Currency   string `json:"currency"`
}

type fxRow struct {
	BaseCcy  string `json:"base_ccy"`
	QuoteCcy string `json:"quote_ccy"`
	Rate     string `json:"rate"`
}

// Build runs the pack-building algorithm: fetch active securities, price
// each (primary, falling back to secondary), fix the policy's FX pairs,
// hash the canonical form, and insert the pack in "warming" status. A
// total provider outage (zero prices fetched for a non-empty universe) is
// fatal; a partial miss on some securities is a logged warning and the
// pack still commits.
//
// If restatementReason is non-empty and a fresh pack already exists for
// (asOfDate, policy), the new pack supersedes it.
func (b *Builder) Build(ctx context.Context, asOfDate time.Time, policy string, restatementReason string) (string, error) {
	dateStr := asOfDate.Format("2006-01-02")
	log := b.log.With().Str("as_of_date", dateStr).Str("policy", policy).Logger()

	existingID, existingSuperseded, err := b.existingPack(dateStr, policy)
	if err != nil {
		return "", apperrors.Fatal("pricing_pack_builder", "existing_pack", err)
	}
	if existingID != "" && !existingSuperseded && restatementReason == "" {
		log.Warn().Str("pack_id", existingID).Msg("pack already exists for date/policy")
		return existingID, nil
	}

	securities, err := b.activeSecurities()
	if err != nil {
		return "", apperrors.Fatal("pricing_pack_builder", "active_securities", err)
	}

	priceRows, sources, err := b.fetchPrices(ctx, securities)
	if err != nil {
		return "", err
	}
	if len(securities) > 0 && len(priceRows) == 0 {
		return "", apperrors.Fatalf("pricing_pack_builder", "fetch_prices", "total provider outage: 0 of %d securities priced", len(securities))
	}

	fxRows, err := b.fetchFX(ctx)
	if err != nil {
		return "", err
	}

	hash := computeHash(priceRows, fxRows)
	sourcesJSON, _ := json.Marshal(sources)

	packID := uuid.NewString()
	now := time.Now().UTC()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", apperrors.Fatal("pricing_pack_builder", "begin_tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pricing_packs (id, as_of_date, policy, hash, status, prewarm_done, sources_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'warming', 0, ?, ?, ?)`,
		packID, dateStr, policy, hash, string(sourcesJSON), now, now)
	if err != nil {
		return "", apperrors.Fatal("pricing_pack_builder", "insert_pack", err)
	}

	for _, p := range priceRows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prices (security_id, pricing_pack_id, close, currency, source) VALUES (?, ?, ?, ?, ?)`,
			p.row.SecurityID, packID, p.close, p.row.Currency, p.source); err != nil {
			return "", apperrors.Fatal("pricing_pack_builder", "insert_price", err)
		}
	}
	for _, f := range fxRows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fx_rates (base_ccy, quote_ccy, pricing_pack_id, rate, source, as_of_ts) VALUES (?, ?, ?, ?, ?, ?)`,
			f.row.BaseCcy, f.row.QuoteCcy, packID, f.rate, "macro_fx_provider", now); err != nil {
			return "", apperrors.Fatal("pricing_pack_builder", "insert_fx_rate", err)
		}
	}

	if restatementReason != "" && existingID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE pricing_packs SET superseded_by = ? WHERE id = ?`, packID, existingID); err != nil {
			return "", apperrors.Fatal("pricing_pack_builder", "supersede", err)
		}
		log.Warn().Str("old_pack_id", existingID).Str("reason", restatementReason).Msg("pack restated, superseding prior pack")
	}

	if err := tx.Commit(); err != nil {
		return "", apperrors.Fatal("pricing_pack_builder", "commit", err)
	}

	if b.archiver != nil {
		manifest := archiveManifest{PackID: packID, AsOfDate: dateStr, Policy: policy, Hash: hash, Sources: string(sourcesJSON), CreatedAt: now}
		if err := b.archiver.Archive(ctx, manifest); err != nil {
			log.Warn().Err(err).Msg("pack archival failed, continuing without it")
		}
	}

	log.Info().Str("pack_id", packID).Str("hash", hash[:12]).Int("prices", len(priceRows)).Int("fx_rates", len(fxRows)).Msg("pricing pack built")
	return packID, nil
}

type pricedRow struct {
	row    priceRow
	close  float64
	source string
}

type fixedRow struct {
	row  fxRow
	rate float64
}

func (b *Builder) fetchPrices(ctx context.Context, securities []domain.Security) ([]pricedRow, map[string]string, error) {
	sources := make(map[string]string)
	var rows []pricedRow

	for _, sec := range securities {
		q, err := b.primary.GetClose(ctx, sec.ID)
		source := b.primary.Name()
		if err != nil {
			if b.secondary != nil {
				q, err = b.secondary.GetClose(ctx, sec.ID)
				source = b.secondary.Name()
			}
		}
		if err != nil {
			b.log.Warn().Err(err).Str("security_id", sec.ID).Msg("missing price, skipping security for this pack")
			continue
		}

		rows = append(rows, pricedRow{
			row:    priceRow{SecurityID: sec.ID, Close: formatDecimal(q.Close), Currency: q.Currency},
			close:  q.Close,
			source: source,
		})
		sources[sec.ID] = source
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].row.SecurityID < rows[j].row.SecurityID })
	return rows, sources, nil
}

func (b *Builder) fetchFX(ctx context.Context) ([]fixedRow, error) {
	var rows []fixedRow
	for _, pair := range fixingPairs {
		rate, err := b.fx.GetRate(ctx, pair[0], pair[1])
		if err != nil {
			return nil, apperrors.Transient("pricing_pack_builder", "fetch_fx", err)
		}
		rows = append(rows, fixedRow{row: fxRow{BaseCcy: pair[0], QuoteCcy: pair[1], Rate: formatDecimal(rate)}, rate: rate})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].row.BaseCcy != rows[j].row.BaseCcy {
			return rows[i].row.BaseCcy < rows[j].row.BaseCcy
		}
		return rows[i].row.QuoteCcy < rows[j].row.QuoteCcy
	})
	return rows, nil
}

func (b *Builder) activeSecurities() ([]domain.Security, error) {
	rows, err := b.db.Query(`SELECT id, symbol, currency, exchange FROM securities WHERE active = 1 ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		var s domain.Security
		s.Active = true
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Currency, &s.Exchange); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *Builder) existingPack(dateStr, policy string) (id string, superseded bool, err error) {
	var supersededBy sql.NullString
	row := b.db.QueryRow(`
		SELECT id, superseded_by FROM pricing_packs
		WHERE as_of_date = ? AND policy = ?
		ORDER BY created_at DESC LIMIT 1`, dateStr, policy)
	err = row.Scan(&id, &supersededBy)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, supersededBy.Valid, nil
}

// computeHash is the pure function of a pack's prices and rates: sort,
// serialize to a canonical form (sorted keys, decimal strings), and hash
// with SHA-256.
func computeHash(priced []pricedRow, fixed []fixedRow) string {
	priceRows := make([]priceRow, len(priced))
	for i, p := range priced {
		priceRows[i] = p.row
	}
	fxRows := make([]fxRow, len(fixed))
	for i, f := range fixed {
		fxRows[i] = f.row
	}

	canonical := struct {
		Prices []priceRow `json:"prices"`
		FX     []fxRow    `json:"fx_rates"`
	}{Prices: priceRows, FX: fxRows}

	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func formatDecimal(v float64) string {
	return fmt.Sprintf("%.8f", v)
}

// MarkFresh transitions a pack from "warming" to "fresh" once the
// reconciler has passed and pre-warm has finished. It is a one-shot
// transition: calling it again on an already-fresh pack is a no-op.
func (b *Builder) MarkFresh(ctx context.Context, packID string) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE pricing_packs SET status = 'fresh', prewarm_done = 1, updated_at = ?
		WHERE id = ? AND status = 'warming'`, time.Now().UTC(), packID)
	if err != nil {
		return apperrors.Fatal("pricing_pack_builder", "mark_fresh", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		b.log.Debug().Str("pack_id", packID).Msg("mark_fresh no-op: pack already fresh or missing")
	}
	return nil
}

// MarkError transitions a pack to "error" status, used when reconciliation
// fails hard and the pack must not be promoted.
func (b *Builder) MarkError(ctx context.Context, packID string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE pricing_packs SET status = 'error', updated_at = ? WHERE id = ?`, time.Now().UTC(), packID)
	if err != nil {
		return apperrors.Fatal("pricing_pack_builder", "mark_error", err)
	}
	return nil
}
