package ledger

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLedger(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.ledger")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write ledger: %v", err)
	}
	return path
}

const sampleLedger = `; comment line, ignored
2026-07-29 open Assets:Portfolio:main:AAPL

2026-07-29 * "buy"
  Assets:Portfolio:main:AAPL   10 AAPL {150.00 USD}
  Assets:Portfolio:main:Cash  -1500.00 USD

2026-07-30 * "buy more"
  Assets:Portfolio:main:AAPL   5 AAPL {160.00 USD}
  Assets:Portfolio:main:Cash  -800.00 USD
`

func TestParseCostBasisHoldingsAggregate(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	snapshot, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(snapshot.Holdings) != 1 {
		t.Fatalf("expected 1 aggregated holding, got %d: %+v", len(snapshot.Holdings), snapshot.Holdings)
	}
	h := snapshot.Holdings[0]
	if h.SecurityID != "AAPL" {
		t.Errorf("expected security AAPL, got %s", h.SecurityID)
	}
	if h.Quantity != 15 {
		t.Errorf("expected aggregated quantity 15, got %v", h.Quantity)
	}
	// Last posting's cost-per-unit wins, per the parser's running overwrite.
	if h.CostPerUnit != 160.00 {
		t.Errorf("expected cost per unit 160.00, got %v", h.CostPerUnit)
	}
	if h.CostCurrency != "USD" {
		t.Errorf("expected cost currency USD, got %s", h.CostCurrency)
	}
}

func TestParsePlainCashPostingsAggregate(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	snapshot, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cash, ok := snapshot.Cash["Assets:Portfolio:main:Cash"]
	if !ok {
		t.Fatal("expected a cash entry for the cash account")
	}
	if got := cash["USD"]; got != -2300.00 {
		t.Errorf("expected aggregated cash balance -2300.00, got %v", got)
	}
}

func TestParseSkipsCommentsAndDirectives(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	snapshot, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// The "open" directive and the transaction header lines aren't indented
	// postings; only the two posting lines per transaction should register.
	if len(snapshot.Holdings) != 1 || len(snapshot.Cash) != 1 {
		t.Fatalf("expected directive/comment lines to be ignored, got holdings=%+v cash=%+v", snapshot.Holdings, snapshot.Cash)
	}
}

func TestParseMultipleAccountsKeptSeparate(t *testing.T) {
	content := `2026-07-29 * "buy two securities"
  Assets:Portfolio:main:AAPL   10 AAPL {150.00 USD}
  Assets:Portfolio:main:MSFT   4 MSFT {300.00 USD}
  Assets:Portfolio:main:Cash  -2700.00 USD
`
	path := writeLedger(t, content)
	snapshot, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(snapshot.Holdings) != 2 {
		t.Fatalf("expected 2 distinct holdings, got %d: %+v", len(snapshot.Holdings), snapshot.Holdings)
	}
	bySecurity := make(map[string]float64)
	for _, h := range snapshot.Holdings {
		bySecurity[h.SecurityID] = h.Quantity
	}
	if bySecurity["AAPL"] != 10 {
		t.Errorf("expected AAPL quantity 10, got %v", bySecurity["AAPL"])
	}
	if bySecurity["MSFT"] != 4 {
		t.Errorf("expected MSFT quantity 4, got %v", bySecurity["MSFT"])
	}
}

func TestContentHashIsDeterministicAndContentSensitive(t *testing.T) {
	pathA := writeLedger(t, sampleLedger)
	pathB := writeLedger(t, sampleLedger)
	pathC := writeLedger(t, sampleLedger+"\n; trailing comment\n")

	hashA := contentHash(pathA)
	hashB := contentHash(pathB)
	hashC := contentHash(pathC)

	if hashA == "" {
		t.Fatal("expected a non-empty hash")
	}
	if hashA != hashB {
		t.Errorf("expected identical content to hash identically: %s != %s", hashA, hashB)
	}
	if hashA == hashC {
		t.Error("expected different content to hash differently")
	}
}

func TestParseCommitHashMatchesContentHash(t *testing.T) {
	path := writeLedger(t, sampleLedger)
	snapshot, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snapshot.CommitHash != contentHash(path) {
		t.Error("expected the snapshot's commit hash to match the file's content hash")
	}
}
