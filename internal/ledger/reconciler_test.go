package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func setupPortfolioDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE lots (
			id TEXT PRIMARY KEY, portfolio_id TEXT NOT NULL, security_id TEXT NOT NULL,
			quantity_original REAL NOT NULL, quantity_open REAL NOT NULL,
			cost_basis REAL NOT NULL, cost_currency TEXT NOT NULL, opened_at TEXT NOT NULL
		);
		CREATE TABLE cash_flows (portfolio_id TEXT NOT NULL, date TEXT NOT NULL, amount REAL NOT NULL, currency TEXT NOT NULL);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func setupPricingDBForReconciler(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE prices (
			security_id TEXT NOT NULL, pricing_pack_id TEXT NOT NULL, close REAL NOT NULL,
			currency TEXT NOT NULL, source TEXT NOT NULL,
			PRIMARY KEY (security_id, pricing_pack_id)
		);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func setupLedgerDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE ledger_snapshots (commit_hash TEXT PRIMARY KEY, taken_at TEXT NOT NULL, holdings_json TEXT NOT NULL, cash_json TEXT NOT NULL);
		CREATE TABLE reconciliation_reports (
			id TEXT PRIMARY KEY, pricing_pack_id TEXT NOT NULL, ledger_commit TEXT NOT NULL,
			passed INTEGER NOT NULL, max_residual_bp REAL NOT NULL, breaks_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func insertLot(t *testing.T, db *sql.DB, id, portfolioID, securityID string, qty, costBasis float64, costCurrency string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO lots (id, portfolio_id, security_id, quantity_original, quantity_open, cost_basis, cost_currency, opened_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, portfolioID, securityID, qty, qty, costBasis, costCurrency, "2026-01-01")
	if err != nil {
		t.Fatalf("insert lot: %v", err)
	}
}

func insertClose(t *testing.T, db *sql.DB, securityID, packID string, close float64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO prices (security_id, pricing_pack_id, close, currency, source) VALUES (?, ?, ?, 'USD', 'test')`,
		securityID, packID, close)
	if err != nil {
		t.Fatalf("insert price: %v", err)
	}
}

func baseSnapshot() *domain.LedgerSnapshot {
	return &domain.LedgerSnapshot{
		CommitHash: "abc123",
		Timestamp:  time.Now().UTC(),
		Cash:       map[string]map[string]float64{},
	}
}

// TestReconcileUnrealizedGainProducesNoValuationMismatch is the regression
// test for the bug where the ledger side was valued at historical cost basis
// instead of the pack's close: a holding whose database cost basis differs
// sharply from the pack's close, but whose quantity and ledger holding
// otherwise match, must reconcile cleanly.
func TestReconcileUnrealizedGainProducesNoValuationMismatch(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 500, "USD") // cost basis $50/share
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)                // pack closes at $180/share

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "AAPL", Quantity: 10, CostPerUnit: 50, CostCurrency: "USD"},
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Passed {
		t.Fatalf("expected a clean reconciliation despite unrealized gain, got breaks: %+v", report.Breaks)
	}
	for _, b := range report.Breaks {
		if b.Kind == BreakValuationMismatch {
			t.Fatalf("unexpected VALUATION_MISMATCH from unrealized gain/loss: %+v", b)
		}
	}
}

func TestReconcileValuationMismatchBeyondTolerance(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	// The database holds 10 shares and the ledger 9, both valued at the
	// pack's close of 180: 1800 vs 1620, a gap far beyond 1bp, alongside
	// the quantity break itself.
	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 500, "USD")
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "AAPL", Quantity: 9, CostPerUnit: 50, CostCurrency: "USD"},
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Passed {
		t.Fatal("expected reconciliation to fail on a quantity-driven valuation gap")
	}
	var sawQuantity, sawValuation bool
	for _, b := range report.Breaks {
		if b.Kind == BreakQuantityMismatch {
			sawQuantity = true
		}
		if b.Kind == BreakValuationMismatch {
			sawValuation = true
		}
	}
	if !sawQuantity {
		t.Error("expected a QUANTITY_MISMATCH break")
	}
	if !sawValuation {
		t.Error("expected a VALUATION_MISMATCH break from the quantity gap")
	}
}

func TestReconcileWithinToleranceBoundaryPasses(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	// db market value = 10 * 180 = 1800. A ledger quantity of 1800.05/180
	// values at 1800.05, a gap of 0.05 (about 0.28bp), which stays under
	// the 1bp valuation tolerance and must not raise a VALUATION_MISMATCH.
	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 1000, "USD")
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "AAPL", Quantity: 1800.05 / 180, CostPerUnit: 100, CostCurrency: "USD"},
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, b := range report.Breaks {
		if b.Kind == BreakValuationMismatch {
			t.Fatalf("expected the sub-1bp gap to stay within tolerance, got: %+v", b)
		}
	}
}

func TestReconcileCostMismatch(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 500, "USD") // db cost basis $500 total
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "AAPL", Quantity: 10, CostPerUnit: 80, CostCurrency: "USD"}, // ledger: $800 total
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	var sawCost bool
	for _, b := range report.Breaks {
		if b.Kind == BreakCostMismatch {
			sawCost = true
		}
	}
	if !sawCost {
		t.Error("expected a COST_MISMATCH break")
	}
}

func TestReconcileCashMismatch(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	if _, err := portfolioDB.Exec(`INSERT INTO cash_flows (portfolio_id, date, amount, currency) VALUES ('p1', '2026-01-01', 1000, 'USD')`); err != nil {
		t.Fatalf("insert cash flow: %v", err)
	}

	snapshot := baseSnapshot()
	snapshot.Cash = map[string]map[string]float64{"p1": {"USD": 500}}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	var sawCash bool
	for _, b := range report.Breaks {
		if b.Kind == BreakCashMismatch {
			sawCash = true
		}
	}
	if !sawCash {
		t.Error("expected a CASH_MISMATCH break")
	}
}

func TestReconcileMissingPositionBothDirections(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 500, "USD")
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)
	insertClose(t, pricingDB, "MSFT", "pack-1", 300)

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "MSFT", Quantity: 5, CostPerUnit: 200, CostCurrency: "USD"},
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	report, err := r.Reconcile(context.Background(), "pack-1", snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Passed {
		t.Fatal("expected reconciliation to fail on mismatched positions")
	}

	var dbOnly, ledgerOnly bool
	for _, b := range report.Breaks {
		if b.Kind != BreakMissingPosition {
			continue
		}
		switch b.SecurityID {
		case "AAPL":
			dbOnly = true
		case "MSFT":
			ledgerOnly = true
		}
	}
	if !dbOnly {
		t.Error("expected a MISSING_POSITION break for the db-only AAPL holding")
	}
	if !ledgerOnly {
		t.Error("expected a MISSING_POSITION break for the ledger-only MSFT holding")
	}
}

func TestReconcilePersistsSnapshotAndReport(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDBForReconciler(t)
	ledgerDB := setupLedgerDB(t)

	insertLot(t, portfolioDB, "lot-1", "p1", "AAPL", 10, 500, "USD")
	insertClose(t, pricingDB, "AAPL", "pack-1", 180)

	snapshot := baseSnapshot()
	snapshot.Holdings = []domain.LedgerHolding{
		{Account: "p1", SecurityID: "AAPL", Quantity: 10, CostPerUnit: 50, CostCurrency: "USD"},
	}

	r := NewReconciler(portfolioDB, pricingDB, ledgerDB, zerolog.Nop())
	if _, err := r.Reconcile(context.Background(), "pack-1", snapshot); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	var snapshotCount int
	if err := ledgerDB.QueryRow(`SELECT COUNT(*) FROM ledger_snapshots WHERE commit_hash = ?`, snapshot.CommitHash).Scan(&snapshotCount); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if snapshotCount != 1 {
		t.Errorf("expected 1 persisted ledger snapshot, got %d", snapshotCount)
	}

	var reportCount int
	if err := ledgerDB.QueryRow(`SELECT COUNT(*) FROM reconciliation_reports WHERE pricing_pack_id = 'pack-1'`).Scan(&reportCount); err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if reportCount != 1 {
		t.Errorf("expected 1 persisted reconciliation report, got %d", reportCount)
	}
}
