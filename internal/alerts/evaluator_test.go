package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/truthspine/internal/domain"
)

func TestSatisfied(t *testing.T) {
	cases := []struct {
		op        domain.Operator
		value, th float64
		want      bool
	}{
		{domain.OpGT, 5, 3, true},
		{domain.OpGT, 3, 5, false},
		{domain.OpLT, 3, 5, true},
		{domain.OpGE, 5, 5, true},
		{domain.OpLE, 5, 5, true},
		{domain.OpEQ, 5, 5, true},
		{domain.OpNE, 5, 3, true},
		{domain.OpNE, 5, 5, false},
	}
	for _, c := range cases {
		if got := satisfied(c.op, c.value, c.th); got != c.want {
			t.Errorf("satisfied(%v, %v, %v) = %v, want %v", c.op, c.value, c.th, got, c.want)
		}
	}
}

type stubReader struct {
	value float64
	found bool
}

func (s stubReader) Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error) {
	return s.value, s.found, nil
}

func TestCooldownNotElapsedWithinWindow(t *testing.T) {
	now := time.Now()
	lastFired := now.Add(-1 * time.Hour)
	alert := domain.Alert{
		ID: "a1", Active: true, CooldownHours: 24, LastFiredAt: &lastFired,
		Condition: domain.Condition{Type: domain.ConditionMetric, Entity: "p1", Metric: "alpha", Operator: domain.OpGT, Threshold: 0},
	}
	if alert.CooldownElapsed(now) {
		t.Fatal("expected cooldown not to have elapsed one hour after firing with a 24h cooldown")
	}
}

func TestComposeMessage(t *testing.T) {
	alert := domain.Alert{
		Condition: domain.Condition{Type: domain.ConditionMetric, Entity: "p1", Metric: "alpha", Operator: domain.OpGT, Threshold: 0.02},
	}
	msg := composeMessage(alert, 0.05)
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
}
