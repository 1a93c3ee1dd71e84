package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BreakKind enumerates the reconciliation discrepancy taxonomy.
type BreakKind string

const (
	BreakQuantityMismatch  BreakKind = "QUANTITY_MISMATCH"
	BreakCostMismatch      BreakKind = "COST_MISMATCH"
	BreakCashMismatch      BreakKind = "CASH_MISMATCH"
	BreakValuationMismatch BreakKind = "VALUATION_MISMATCH"
	BreakMissingPosition   BreakKind = "MISSING_POSITION"
	BreakSystem            BreakKind = "SYSTEM"
)

// Break is a single reconciliation discrepancy.
type Break struct {
	Kind       BreakKind `json:"kind"`
	Account    string    `json:"account"`
	SecurityID string    `json:"security_id,omitempty"`
	ErrorBP    float64   `json:"error_bp,omitempty"`
	Details    string    `json:"details"`
}

// Report is the outcome of reconciling one pricing pack against one
// ledger snapshot.
type Report struct {
	PricingPackID string
	LedgerCommit  string
	Passed        bool
	MaxResidualBP float64
	Breaks        []Break
}

// toleranceBP is the reconciliation tolerance: one basis point.
const toleranceBP = 1.0

// costTolerance is the absolute-dollar tolerance for cost-basis and cash
// comparisons, where a basis-point framing doesn't apply.
const costTolerance = 0.01

// dbHolding is the database's view of one lot aggregated by (account-ish
// portfolio/security) key, shaped to compare against a LedgerHolding.
type dbHolding struct {
	PortfolioID string
	SecurityID  string
	Quantity    float64
	CostBasis   float64
	Currency    string
	MarketValue float64
}

// Reconciler compares the portfolio database against a parsed ledger
// snapshot, and persists its findings to the ledger database.
type Reconciler struct {
	portfolioDB *sql.DB
	pricingDB   *sql.DB
	ledgerDB    *sql.DB
	log         zerolog.Logger
}

// NewReconciler builds a Reconciler. portfolioDB supplies lots and cash
// flows, pricingDB supplies the pack's closes (a separate SQLite file, so
// the two are joined in Go rather than in SQL), and ledgerDB is where
// snapshots and reports are persisted.
func NewReconciler(portfolioDB, pricingDB, ledgerDB *sql.DB, log zerolog.Logger) *Reconciler {
	return &Reconciler{portfolioDB: portfolioDB, pricingDB: pricingDB, ledgerDB: ledgerDB, log: log.With().Str("component", "reconciler").Logger()}
}

// Reconcile compares every open lot's (quantity, cost basis, market value)
// against the corresponding ledger holding for pricingPackID, using the
// pack's prices to value the database's quantities. Any QUANTITY_MISMATCH,
// COST_MISMATCH, or VALUATION_MISMATCH beyond tolerance is a Break; the
// report fails (Passed=false) if any Break is present, which blocks the
// pack from being promoted to "fresh".
func (r *Reconciler) Reconcile(ctx context.Context, pricingPackID string, snapshot *domain.LedgerSnapshot) (*Report, error) {
	report := &Report{PricingPackID: pricingPackID, LedgerCommit: snapshot.CommitHash, Passed: true}

	closes, err := r.packCloses(ctx, pricingPackID)
	if err != nil {
		return nil, apperrors.Fatal("reconciler", "pack_closes", err)
	}

	dbHoldings, err := r.dbHoldings(ctx, closes)
	if err != nil {
		return nil, apperrors.Fatal("reconciler", "db_holdings", err)
	}

	ledgerBySecurity := make(map[string]domain.LedgerHolding, len(snapshot.Holdings))
	for _, h := range snapshot.Holdings {
		ledgerBySecurity[h.SecurityID] = h
	}

	seen := make(map[string]bool)
	for _, db := range dbHoldings {
		seen[db.SecurityID] = true
		lh, ok := ledgerBySecurity[db.SecurityID]
		if !ok {
			report.addBreak(Break{
				Kind: BreakMissingPosition, SecurityID: db.SecurityID,
				Details: fmt.Sprintf("database holds %s but ledger has no matching position", db.SecurityID),
			})
			continue
		}

		if absDiff(db.Quantity, lh.Quantity) > 1e-6 {
			report.addBreak(Break{
				Kind: BreakQuantityMismatch, SecurityID: db.SecurityID,
				Details: fmt.Sprintf("quantity mismatch: db=%.4f ledger=%.4f", db.Quantity, lh.Quantity),
			})
		}

		if absDiff(db.CostBasis, lh.CostPerUnit*lh.Quantity) > costTolerance {
			report.addBreak(Break{
				Kind: BreakCostMismatch, SecurityID: db.SecurityID,
				Details: fmt.Sprintf("cost basis mismatch: db=%.2f ledger=%.2f", db.CostBasis, lh.CostPerUnit*lh.Quantity),
			})
		}

		// Value both sides off the pack's close so a VALUATION_MISMATCH can
		// only mean a holding discrepancy, never unrealized gain/loss.
		ledgerValue := lh.Quantity * closes[db.SecurityID]
		if ledgerValue != 0 {
			errorBP := absDiff(db.MarketValue, ledgerValue) / absOrOne(ledgerValue) * 10000
			if errorBP > toleranceBP {
				report.addBreak(Break{
					Kind: BreakValuationMismatch, SecurityID: db.SecurityID, ErrorBP: errorBP,
					Details: fmt.Sprintf("valuation error %.2fbp: db=%.2f ledger=%.2f", errorBP, db.MarketValue, ledgerValue),
				})
			}
			if errorBP > report.MaxResidualBP {
				report.MaxResidualBP = errorBP
			}
		}
	}

	for secID := range ledgerBySecurity {
		if !seen[secID] {
			report.addBreak(Break{
				Kind: BreakMissingPosition, SecurityID: secID,
				Details: fmt.Sprintf("ledger holds %s but database has no matching lot", secID),
			})
		}
	}

	for account, ledgerCash := range snapshot.Cash {
		dbCash, err := r.dbCash(ctx, account)
		if err != nil {
			report.addBreak(Break{Kind: BreakSystem, Account: account, Details: err.Error()})
			continue
		}
		for ccy, ledgerAmt := range ledgerCash {
			if absDiff(dbCash[ccy], ledgerAmt) > costTolerance {
				report.addBreak(Break{
					Kind: BreakCashMismatch, Account: account,
					Details: fmt.Sprintf("cash mismatch in %s: db=%.2f ledger=%.2f", ccy, dbCash[ccy], ledgerAmt),
				})
			}
		}
	}

	if err := r.persist(ctx, report, snapshot); err != nil {
		return nil, apperrors.Fatal("reconciler", "persist", err)
	}

	return report, nil
}

func (report *Report) addBreak(b Break) {
	report.Breaks = append(report.Breaks, b)
	report.Passed = false
}

func (r *Reconciler) dbHoldings(ctx context.Context, closes map[string]float64) ([]dbHolding, error) {
	rows, err := r.portfolioDB.QueryContext(ctx, `
		SELECT portfolio_id, security_id, SUM(quantity_open), SUM(cost_basis), cost_currency
		FROM lots
		WHERE quantity_open > 0
		GROUP BY portfolio_id, security_id, cost_currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dbHolding
	for rows.Next() {
		var h dbHolding
		if err := rows.Scan(&h.PortfolioID, &h.SecurityID, &h.Quantity, &h.CostBasis, &h.Currency); err != nil {
			return nil, err
		}
		h.MarketValue = h.Quantity * closes[h.SecurityID]
		out = append(out, h)
	}
	return out, rows.Err()
}

// packCloses returns security_id -> close for every priced row in a pack.
func (r *Reconciler) packCloses(ctx context.Context, pricingPackID string) (map[string]float64, error) {
	rows, err := r.pricingDB.QueryContext(ctx, `SELECT security_id, close FROM prices WHERE pricing_pack_id = ?`, pricingPackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var secID string
		var close float64
		if err := rows.Scan(&secID, &close); err != nil {
			return nil, err
		}
		out[secID] = close
	}
	return out, rows.Err()
}

func (r *Reconciler) dbCash(ctx context.Context, account string) (map[string]float64, error) {
	rows, err := r.portfolioDB.QueryContext(ctx, `
		SELECT currency, SUM(amount) FROM cash_flows WHERE portfolio_id = ? GROUP BY currency`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var ccy string
		var amt float64
		if err := rows.Scan(&ccy, &amt); err != nil {
			return nil, err
		}
		out[ccy] = amt
	}
	return out, rows.Err()
}

func (r *Reconciler) persist(ctx context.Context, report *Report, snapshot *domain.LedgerSnapshot) error {
	holdingsJSON, _ := json.Marshal(snapshot.Holdings)
	cashJSON, _ := json.Marshal(snapshot.Cash)

	_, err := r.ledgerDB.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_snapshots (commit_hash, taken_at, holdings_json, cash_json)
		VALUES (?, ?, ?, ?)`, snapshot.CommitHash, snapshot.Timestamp, string(holdingsJSON), string(cashJSON))
	if err != nil {
		return err
	}

	breaksJSON, _ := json.Marshal(report.Breaks)
	_, err = r.ledgerDB.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (id, pricing_pack_id, ledger_commit, passed, max_residual_bp, breaks_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), report.PricingPackID, report.LedgerCommit, report.Passed, report.MaxResidualBP, string(breaksJSON), time.Now().UTC())
	return err
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func absOrOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	if v < 0 {
		return -v
	}
	return v
}
