package metrics

import (
	"context"
	"database/sql"
	"testing"
	"time"

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
		CREATE TABLE portfolios (id TEXT PRIMARY KEY, name TEXT, base_currency TEXT, active INTEGER NOT NULL DEFAULT 1);
		CREATE TABLE cash_flows (portfolio_id TEXT, date TEXT, amount REAL, currency TEXT);
		CREATE TABLE portfolio_daily_values (
			portfolio_id TEXT NOT NULL, as_of_date TEXT NOT NULL, pricing_pack_id TEXT NOT NULL,
			base_value REAL NOT NULL, daily_return REAL NOT NULL,
			PRIMARY KEY (portfolio_id, as_of_date, pricing_pack_id)
		);
		CREATE TABLE portfolio_metrics (
			portfolio_id TEXT NOT NULL, as_of_date TEXT NOT NULL, pricing_pack_id TEXT NOT NULL,
			twr_json TEXT NOT NULL DEFAULT '{}', mwr_json TEXT NOT NULL DEFAULT '{}',
			volatility_json TEXT NOT NULL DEFAULT '{}', sharpe_json TEXT NOT NULL DEFAULT '{}',
			alpha REAL, beta REAL, tracking_error REAL, information_ratio REAL, max_drawdown REAL,
			PRIMARY KEY (portfolio_id, as_of_date, pricing_pack_id)
		);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func setupPricingDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE macro_observations (
			series_name TEXT NOT NULL, as_of_date TEXT NOT NULL, value REAL NOT NULL, source TEXT NOT NULL,
			PRIMARY KEY (series_name, as_of_date)
		);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestEngineRunPersistsMetrics(t *testing.T) {
	db := setupPortfolioDB(t)
	pricingDB := setupPricingDB(t)
	ctx := context.Background()
	asOf := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	if _, err := db.Exec(`INSERT INTO portfolios (id, name, base_currency, active) VALUES ('p1', 'Main', 'USD', 1)`); err != nil {
		t.Fatalf("insert portfolio: %v", err)
	}

	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	value := 100000.0
	for i := 0; i < 20; i++ {
		ret := 0.001 * float64(i%3-1)
		value *= 1 + ret
		d := day.AddDate(0, 0, i)
		if _, err := db.Exec(`INSERT INTO portfolio_daily_values (portfolio_id, as_of_date, pricing_pack_id, base_value, daily_return) VALUES (?, ?, ?, ?, ?)`,
			"p1", d.Format("2006-01-02"), "pack-1", value, ret); err != nil {
			t.Fatalf("insert daily value: %v", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO cash_flows (portfolio_id, date, amount, currency) VALUES ('p1', ?, 100000, 'USD')`, day.Format("2006-01-02")); err != nil {
		t.Fatalf("insert cash flow: %v", err)
	}

	eng := NewEngine(db, pricingDB, "", zerolog.Nop())
	n, err := eng.Run(ctx, asOf, "pack-1", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 portfolio computed, got %d", n)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM portfolio_metrics WHERE portfolio_id = 'p1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted metrics row, got %d", count)
	}
}

func TestEngineRiskFreeRateReadsConfiguredSeries(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDB(t)

	if _, err := pricingDB.Exec(`INSERT INTO macro_observations (series_name, as_of_date, value, source) VALUES ('UST_3M', '2026-07-28', 0.045, 'fred')`); err != nil {
		t.Fatalf("insert macro observation: %v", err)
	}

	eng := NewEngine(portfolioDB, pricingDB, "UST_3M", zerolog.Nop())
	asOf := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	if got := eng.riskFreeRate(context.Background(), asOf); got != 0.045 {
		t.Fatalf("expected risk-free rate 0.045 from the most recent observation at or before as-of, got %v", got)
	}
}

func TestEngineRiskFreeRateFallsBackToZeroWithNoSeriesConfigured(t *testing.T) {
	portfolioDB := setupPortfolioDB(t)
	pricingDB := setupPricingDB(t)

	eng := NewEngine(portfolioDB, pricingDB, "", zerolog.Nop())
	if got := eng.riskFreeRate(context.Background(), time.Now().UTC()); got != 0.0 {
		t.Fatalf("expected 0.0 with no risk-free series configured, got %v", got)
	}
}

func TestEngineRunSkipsInactivePortfolios(t *testing.T) {
	db := setupPortfolioDB(t)
	pricingDB := setupPricingDB(t)
	if _, err := db.Exec(`INSERT INTO portfolios (id, name, base_currency, active) VALUES ('p2', 'Inactive', 'USD', 0)`); err != nil {
		t.Fatalf("insert portfolio: %v", err)
	}

	eng := NewEngine(db, pricingDB, "", zerolog.Nop())
	n, err := eng.Run(context.Background(), time.Now().UTC(), "pack-1", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 computed for an all-inactive portfolio set, got %d", n)
	}
}
