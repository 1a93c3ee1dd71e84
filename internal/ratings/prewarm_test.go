package ratings

import (
	"testing"
	"time"
)

func TestComputeInsufficientHistory(t *testing.T) {
	closes := []float64{100, 101, 102}
	if r := compute("AAPL", time.Now(), "pack1", closes); r != nil {
		t.Fatal("expected nil with fewer than rsiPeriod+1 closes")
	}
}

func TestComputeBoundedScore(t *testing.T) {
	closes := make([]float64, 90)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price += 0.1
		} else {
			price -= 0.1
		}
		closes[i] = price
	}

	r := compute("AAPL", time.Now(), "pack1", closes)
	if r == nil {
		t.Fatal("expected a rating")
	}
	if r.Score < 0 || r.Score > 100 {
		t.Fatalf("score %v out of [0,100] bounds", r.Score)
	}
	if r.RSI < 0 || r.RSI > 100 {
		t.Fatalf("rsi %v out of [0,100] bounds", r.RSI)
	}
}
