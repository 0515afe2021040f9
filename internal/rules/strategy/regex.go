package strategy

import (
	"fmt"
	"regexp"
)

// RegexStrategy validates a value against a compiled pattern. Params:
// {pattern, flags?, multiline?}. Passes iff value matches.
type RegexStrategy struct{}

func (s *RegexStrategy) compile(params map[string]interface{}) (*regexp.Regexp, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("regex strategy requires a non-empty pattern")
	}
	if len(pattern) > MaxRegexPatternLength {
		return nil, fmt.Errorf("regex pattern exceeds max length %d", MaxRegexPatternLength)
	}

	prefix := ""
	if multiline, _ := params["multiline"].(bool); multiline {
		prefix += "(?m)"
	}
	if flags, _ := params["flags"].(string); flags != "" {
		prefix += "(?" + flags + ")"
	}

	re, err := regexp.Compile(prefix + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	return re, nil
}

func (s *RegexStrategy) ValidateParams(params map[string]interface{}) error {
	_, err := s.compile(params)
	return err
}

func (s *RegexStrategy) Validate(value string, params map[string]interface{}, _ Context) Result {
	re, err := s.compile(params)
	if err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}
	if !re.MatchString(value) {
		return Result{OK: false, ErrorMessage: "value does not match required pattern", OriginalValue: value}
	}
	return Result{OK: true, Value: value}
}
