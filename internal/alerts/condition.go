package alerts

import (
	"encoding/json"
	"fmt"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/domain"
)

var validOperators = map[domain.Operator]bool{
	domain.OpGT: true, domain.OpLT: true, domain.OpGE: true,
	domain.OpLE: true, domain.OpEQ: true, domain.OpNE: true,
}

var validConditionTypes = map[domain.ConditionType]bool{
	domain.ConditionMacro: true, domain.ConditionMetric: true, domain.ConditionRating: true,
	domain.ConditionPrice: true, domain.ConditionNewsSentiment: true,
}

// ValidateCondition rejects a condition whose type, operator, entity, or
// metric falls outside the enumerated vocabulary, or whose threshold is
// out of range for its type (news_sentiment is bounded [-1, 1]).
func ValidateCondition(c domain.Condition) error {
	if !validConditionTypes[c.Type] {
		return apperrors.Validationf("alerts", "validate_condition", "unknown condition type %q", c.Type)
	}
	if !validOperators[c.Operator] {
		return apperrors.Validationf("alerts", "validate_condition", "unknown operator %q", c.Operator)
	}
	if c.Entity == "" {
		return apperrors.Validation("alerts", "validate_condition", fmt.Errorf("entity is required"))
	}
	if c.Metric == "" {
		return apperrors.Validation("alerts", "validate_condition", fmt.Errorf("metric is required"))
	}
	if c.Type == domain.ConditionNewsSentiment && (c.Threshold < -1 || c.Threshold > 1) {
		return apperrors.Validationf("alerts", "validate_condition", "news_sentiment threshold %.4f out of [-1,1] range", c.Threshold)
	}
	return nil
}

// decodeCondition parses and validates a stored condition_json blob.
func decodeCondition(raw string) (domain.Condition, error) {
	var c domain.Condition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return domain.Condition{}, apperrors.Validation("alerts", "decode_condition", err)
	}
	if err := ValidateCondition(c); err != nil {
		return domain.Condition{}, err
	}
	return c, nil
}
