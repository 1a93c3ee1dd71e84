package domain

import "time"

// TransactionType enumerates the typed events a portfolio can record.
type TransactionType string

const (
	TxBuy            TransactionType = "buy"
	TxSell           TransactionType = "sell"
	TxDividend       TransactionType = "dividend"
	TxSplit          TransactionType = "split"
	TxWithholdingTax TransactionType = "withholding_tax"
)

// Portfolio is the top-level account that owns lots and transactions.
type Portfolio struct {
	ID           string
	Name         string
	BaseCurrency string
	Active       bool
}

// Lot is an open-quantity position with cost basis.
// Invariant: QuantityOpen <= QuantityOriginal, CostBasis >= 0, and an open
// lot has QuantityOpen > 0.
type Lot struct {
	ID               string
	PortfolioID      string
	SecurityID       string
	QuantityOriginal float64
	QuantityOpen     float64
	CostBasis        float64
	CostCurrency     string
	OpenedAt         time.Time
}

// Valid reports whether the lot satisfies its data-model invariants.
func (l *Lot) Valid() bool {
	return l.QuantityOpen <= l.QuantityOriginal && l.CostBasis >= 0
}

// IsOpen reports whether the lot still carries an open quantity.
func (l *Lot) IsOpen() bool {
	return l.QuantityOpen > 0
}

// Transaction is a typed portfolio event.
type Transaction struct {
	ID          string
	PortfolioID string
	SecurityID  string
	Type        TransactionType
	Quantity    float64
	Price       float64
	Currency    string
	// FXRateAtPayDate must be populated for cross-currency dividends; the
	// rate observed at the pay date, never the ex-date.
	FXRateAtPayDate float64
	TradeDate       time.Time
	PayDate         *time.Time
}

// CashFlow is a signed external cash movement derived from transactions by
// the daily-valuation job, feeding the money-weighted-return calculation.
type CashFlow struct {
	PortfolioID string
	Date        time.Time
	Amount      float64 // positive = inflow to the portfolio, negative = outflow
	Currency    string
}
