package strategy

import (
	"fmt"
	"strconv"
)

// RangeStrategy validates a numeric value against optional bounds. Params:
// {min?, max?, inclusive?=true}.
type RangeStrategy struct{}

func (s *RangeStrategy) bounds(params map[string]interface{}) (min, max *float64, inclusive bool, err error) {
	inclusive = true
	if v, ok := params["inclusive"].(bool); ok {
		inclusive = v
	}
	if raw, ok := params["min"]; ok {
		f, err2 := toFloat(raw)
		if err2 != nil {
			return nil, nil, inclusive, fmt.Errorf("invalid min: %w", err2)
		}
		min = &f
	}
	if raw, ok := params["max"]; ok {
		f, err2 := toFloat(raw)
		if err2 != nil {
			return nil, nil, inclusive, fmt.Errorf("invalid max: %w", err2)
		}
		max = &f
	}
	if min != nil && max != nil && *min > *max {
		return nil, nil, inclusive, fmt.Errorf("min %v must not exceed max %v", *min, *max)
	}
	return min, max, inclusive, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}

func (s *RangeStrategy) ValidateParams(params map[string]interface{}) error {
	_, _, _, err := s.bounds(params)
	return err
}

func (s *RangeStrategy) Validate(value string, params map[string]interface{}, _ Context) Result {
	min, max, inclusive, err := s.bounds(params)
	if err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Result{OK: false, ErrorMessage: "value is not a number", OriginalValue: value}
	}

	if min != nil {
		if inclusive && f < *min {
			return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be >= %v", *min), OriginalValue: value}
		}
		if !inclusive && f <= *min {
			return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be > %v", *min), OriginalValue: value}
		}
	}
	if max != nil {
		if inclusive && f > *max {
			return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be <= %v", *max), OriginalValue: value}
		}
		if !inclusive && f >= *max {
			return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be < %v", *max), OriginalValue: value}
		}
	}
	return Result{OK: true, Value: value}
}
