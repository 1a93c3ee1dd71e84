// Package alerts evaluates active alert conditions against the latest
// derived data and composes notifications for delivery.
package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
	"github.com/rs/zerolog"
)

// ValueReader reads the current value of an alert's (entity, metric) pair
// from whichever derived table the condition type names. Separate readers
// exist per condition type since each reads a different database/table.
type ValueReader interface {
	Read(ctx context.Context, entity, metric string, asOf time.Time) (float64, bool, error)
}

// Evaluator walks the active alert set and fires any whose condition is
// satisfied and whose cooldown has elapsed.
type Evaluator struct {
	alertsDB *sql.DB
	readers  map[domain.ConditionType]ValueReader
	log      zerolog.Logger
}

// NewEvaluator builds an Evaluator. readers must cover every ConditionType
// the caller intends to evaluate; a condition type with no registered
// reader is treated as a validation failure at evaluation time.
func NewEvaluator(alertsDB *sql.DB, readers map[domain.ConditionType]ValueReader, log zerolog.Logger) *Evaluator {
	return &Evaluator{alertsDB: alertsDB, readers: readers, log: log.With().Str("component", "alert_evaluator").Logger()}
}

// Firing is a satisfied, cooldown-cleared alert ready for delivery.
type Firing struct {
	Alert   domain.Alert
	Value   float64
	Message string
}

// Evaluate reads every active alert and returns the set that should fire
// now. It never mutates LastFiredAt - the caller updates that only after
// successful (or attempted) delivery, so a delivery failure doesn't
// silently suppress the next cycle's retry.
func (e *Evaluator) Evaluate(ctx context.Context, asOf time.Time, now time.Time) ([]Firing, error) {
	active, err := e.activeAlerts(ctx)
	if err != nil {
		return nil, apperrors.Fatal("alerts", "evaluate", err)
	}

	var firings []Firing
	for _, alert := range active {
		if !alert.CooldownElapsed(now) {
			continue
		}

		reader, ok := e.readers[alert.Condition.Type]
		if !ok {
			e.log.Warn().Str("alert_id", alert.ID).Str("type", string(alert.Condition.Type)).Msg("no value reader registered for condition type")
			continue
		}

		value, found, err := reader.Read(ctx, alert.Condition.Entity, alert.Condition.Metric, asOf)
		if err != nil {
			e.log.Warn().Err(err).Str("alert_id", alert.ID).Msg("value read failed, skipping alert this cycle")
			continue
		}
		if !found {
			continue
		}

		if satisfied(alert.Condition.Operator, value, alert.Condition.Threshold) {
			firings = append(firings, Firing{
				Alert:   alert,
				Value:   value,
				Message: composeMessage(alert, value),
			})
		}
	}
	return firings, nil
}

func satisfied(op domain.Operator, value, threshold float64) bool {
	switch op {
	case domain.OpGT:
		return value > threshold
	case domain.OpLT:
		return value < threshold
	case domain.OpGE:
		return value >= threshold
	case domain.OpLE:
		return value <= threshold
	case domain.OpEQ:
		return value == threshold
	case domain.OpNE:
		return value != threshold
	default:
		return false
	}
}

func composeMessage(alert domain.Alert, value float64) string {
	return fmt.Sprintf("%s %s: %s %s %.4f (threshold %.4f)",
		alert.Condition.Type, alert.Condition.Entity, alert.Condition.Metric, alert.Condition.Operator, value, alert.Condition.Threshold) +
		fmt.Sprintf(" [current=%.4f threshold=%.4f]", value, alert.Condition.Threshold)
}

func (e *Evaluator) activeAlerts(ctx context.Context) ([]domain.Alert, error) {
	rows, err := e.alertsDB.QueryContext(ctx, `
		SELECT id, user_id, condition_json, channel_in_app, channel_email, cooldown_hours, last_fired_at
		FROM alerts
		WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var (
			a             domain.Alert
			conditionJSON string
			lastFired     sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &conditionJSON, &a.ChannelInApp, &a.ChannelEmail, &a.CooldownHours, &lastFired); err != nil {
			return nil, err
		}
		if lastFired.Valid {
			t := lastFired.Time
			a.LastFiredAt = &t
		}
		cond, err := decodeCondition(conditionJSON)
		if err != nil {
			e.log.Warn().Err(err).Str("alert_id", a.ID).Msg("malformed condition json, skipping")
			continue
		}
		a.Condition = cond
		a.Active = true
		out = append(out, a)
	}
	return out, rows.Err()
}
