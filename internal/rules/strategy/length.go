package strategy

import (
	"fmt"
	"unicode/utf8"
)

// LengthStrategy validates string length. Params:
// {minLength?, maxLength?, exactLength?}.
type LengthStrategy struct{}

func intParam(params map[string]interface{}, key string) (*int, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	switch n := raw.(type) {
	case int:
		return &n, nil
	case float64:
		v := int(n)
		return &v, nil
	default:
		return nil, fmt.Errorf("%s must be a number", key)
	}
}

func (s *LengthStrategy) ValidateParams(params map[string]interface{}) error {
	minLen, err := intParam(params, "minLength")
	if err != nil {
		return err
	}
	maxLen, err := intParam(params, "maxLength")
	if err != nil {
		return err
	}
	exact, err := intParam(params, "exactLength")
	if err != nil {
		return err
	}
	if minLen != nil && *minLen < 0 {
		return fmt.Errorf("minLength must be non-negative")
	}
	if maxLen != nil && *maxLen < 0 {
		return fmt.Errorf("maxLength must be non-negative")
	}
	if exact != nil && *exact < 0 {
		return fmt.Errorf("exactLength must be non-negative")
	}
	if minLen != nil && maxLen != nil && *minLen > *maxLen {
		return fmt.Errorf("minLength must not exceed maxLength")
	}
	return nil
}

func (s *LengthStrategy) Validate(value string, params map[string]interface{}, _ Context) Result {
	if err := s.ValidateParams(params); err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}
	length := utf8.RuneCountInString(value)

	if exact, _ := intParam(params, "exactLength"); exact != nil {
		if length != *exact {
			return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be exactly %d characters", *exact), OriginalValue: value}
		}
		return Result{OK: true, Value: value}
	}
	if minLen, _ := intParam(params, "minLength"); minLen != nil && length < *minLen {
		return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be at least %d characters", *minLen), OriginalValue: value}
	}
	if maxLen, _ := intParam(params, "maxLength"); maxLen != nil && length > *maxLen {
		return Result{OK: false, ErrorMessage: fmt.Sprintf("value must be at most %d characters", *maxLen), OriginalValue: value}
	}
	return Result{OK: true, Value: value}
}
