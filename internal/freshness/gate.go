// Package freshness implements the single decision every online request
// passes through before it may reach the pattern orchestrator: is there a
// fresh, non-superseded pricing pack matching the caller's policy?
package freshness

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
)

// Decision is the gate's verdict: either the request may proceed pinned to
// PricingPackID/LedgerCommit, or it's rejected with an estimated readiness
// time.
type Decision struct {
	Allowed         bool
	PricingPackID   string
	LedgerCommit    string
	AsOfDate        time.Time
	RejectionReason string
	EstimatedReady  time.Time
}

// Gate is the only entry point into the executor. DevOverride, if true,
// bypasses the freshness check entirely; it must be set explicitly by the
// caller of Check, never defaulted on.
type Gate struct {
	pricingDB *sql.DB
	ledgerDB  *sql.DB
}

// NewGate builds a Gate over the pricing and ledger databases.
func NewGate(pricingDB, ledgerDB *sql.DB) *Gate {
	return &Gate{pricingDB: pricingDB, ledgerDB: ledgerDB}
}

// Check is the gate's single decision point. policy names the pricing
// policy the caller requires (e.g. "close_of_business"); devOverride, when
// true, bypasses the freshness requirement for explicit development use.
func (g *Gate) Check(ctx context.Context, policy string, devOverride bool) (*Decision, error) {
	pack, err := g.latestPack(ctx, policy)
	if err != nil {
		return nil, apperrors.Fatal("freshness", "check", err)
	}

	if pack == nil {
		return &Decision{
			Allowed:         devOverride,
			RejectionReason: "no pricing pack exists for policy " + policy,
		}, nil
	}

	if pack.status != "fresh" && !devOverride {
		return &Decision{
			Allowed:         false,
			RejectionReason: "latest pack for policy " + policy + " is not fresh (status=" + pack.status + ")",
			EstimatedReady:  estimateReadiness(),
		}, nil
	}

	commit, err := g.latestLedgerCommit(ctx)
	if err != nil {
		return nil, apperrors.Fatal("freshness", "ledger_commit", err)
	}

	return &Decision{
		Allowed:       true,
		PricingPackID: pack.id,
		LedgerCommit:  commit,
		AsOfDate:      pack.asOfDate,
	}, nil
}

type packRow struct {
	id       string
	asOfDate time.Time
	status   string
}

// latestPack returns the most recent non-superseded pack for policy, or
// nil if none exists.
func (g *Gate) latestPack(ctx context.Context, policy string) (*packRow, error) {
	row := g.pricingDB.QueryRowContext(ctx, `
		SELECT id, as_of_date, status
		FROM pricing_packs
		WHERE policy = ? AND superseded_by IS NULL
		ORDER BY as_of_date DESC
		LIMIT 1`, policy)

	var p packRow
	if err := row.Scan(&p.id, &p.asOfDate, &p.status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (g *Gate) latestLedgerCommit(ctx context.Context) (string, error) {
	row := g.ledgerDB.QueryRowContext(ctx, `
		SELECT commit_hash FROM ledger_snapshots ORDER BY taken_at DESC LIMIT 1`)

	var commit string
	if err := row.Scan(&commit); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return commit, nil
}

// estimateReadiness gives callers a rough ETA for the next nightly run
// completing, used only as advisory information in a rejection.
func estimateReadiness() time.Time {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 5, 30, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
