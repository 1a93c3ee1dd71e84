package domain

import "time"

// LedgerHolding is one account+security position parsed from the external
// book of record.
type LedgerHolding struct {
	Account      string
	SecurityID   string
	Quantity     float64
	CostPerUnit  float64
	CostCurrency string
}

// LedgerSnapshot is the external book of record pinned at a commit hash.
// It is the ground truth for reconciliation and for the ledger_commit_hash
// pinned in every capability request.
type LedgerSnapshot struct {
	CommitHash string
	Timestamp  time.Time
	Holdings   []LedgerHolding
	// Cash maps account -> currency -> balance.
	Cash map[string]map[string]float64
}
