// Package ledger parses the external book of record (a Beancount-style,
// line-oriented plain-text ledger) and reconciles it against the pricing
// database to within one basis point. The ledger itself is owned by an
// outside system; this package only ever reads it.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
)

// Parse reads a Beancount-style ledger file and returns a LedgerSnapshot.
// Supported directive shapes, one per line, whitespace-separated:
//
//	2026-07-29 open Assets:Portfolio:main:AAPL
//	2026-07-29 * "buy"
//	  Assets:Portfolio:main:AAPL   10 AAPL {150.00 USD}
//	  Assets:Portfolio:main:Cash  -1500.00 USD
//
// Only posting lines (two leading spaces) inside a transaction are used to
// build holdings; everything else is accepted but ignored, matching a
// permissive reader of a format we do not own.
func Parse(path string) (*domain.LedgerSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Fatal("ledger", "parse", fmt.Errorf("open ledger %s: %w", path, err))
	}
	defer f.Close()

	holdingsByKey := make(map[string]*domain.LedgerHolding)
	cash := make(map[string]map[string]float64)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if !strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "\t") {
			// Directive line (open/close/transaction header) - not a posting.
			continue
		}

		posting, err := parsePosting(trimmed)
		if err != nil {
			continue // tolerate directives we don't model (pad, balance, etc.)
		}

		if posting.currency == posting.costCurrency && posting.costPerUnit == 0 {
			// Plain cash posting: Account  Amount Currency
			if cash[posting.account] == nil {
				cash[posting.account] = make(map[string]float64)
			}
			cash[posting.account][posting.currency] += posting.quantity
			continue
		}

		key := posting.account + "|" + posting.currency
		h, ok := holdingsByKey[key]
		if !ok {
			h = &domain.LedgerHolding{
				Account:      posting.account,
				SecurityID:   lastSegment(posting.account),
				CostCurrency: posting.costCurrency,
			}
			holdingsByKey[key] = h
		}
		h.Quantity += posting.quantity
		if posting.costPerUnit > 0 {
			h.CostPerUnit = posting.costPerUnit
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Fatal("ledger", "parse", err)
	}

	holdings := make([]domain.LedgerHolding, 0, len(holdingsByKey))
	for _, h := range holdingsByKey {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Account < holdings[j].Account })

	commitHash := contentHash(path)

	return &domain.LedgerSnapshot{
		CommitHash: commitHash,
		Timestamp:  time.Now().UTC(),
		Holdings:   holdings,
		Cash:       cash,
	}, nil
}

type rawPosting struct {
	account      string
	quantity     float64
	currency     string
	costPerUnit  float64
	costCurrency string
}

// parsePosting parses "Account  Amount Currency {CostPerUnit CostCurrency}".
func parsePosting(line string) (rawPosting, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return rawPosting{}, fmt.Errorf("not a posting")
	}

	account := fields[0]
	if !strings.Contains(account, ":") {
		return rawPosting{}, fmt.Errorf("not an account")
	}

	qty, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return rawPosting{}, fmt.Errorf("not a quantity")
	}
	currency := fields[2]

	p := rawPosting{account: account, quantity: qty, currency: currency, costCurrency: currency}

	if len(fields) >= 5 && strings.HasPrefix(fields[3], "{") {
		costStr := strings.TrimPrefix(fields[3], "{")
		if cost, err := strconv.ParseFloat(costStr, 64); err == nil {
			p.costPerUnit = cost
			p.costCurrency = strings.TrimSuffix(fields[4], "}")
		}
	}

	return p, nil
}

func lastSegment(account string) string {
	parts := strings.Split(account, ":")
	return parts[len(parts)-1]
}

// contentHash pins the snapshot to the ledger file's content, standing in
// for a commit hash when the ledger is a plain working-tree file rather
// than a Git-backed repository.
func contentHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
