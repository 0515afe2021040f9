package store

import (
	"fmt"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

var validConditionOps = map[string]bool{
	domain.OpEquals: true, domain.OpNotEquals: true, domain.OpGreaterThan: true,
	domain.OpLessThan: true, domain.OpContains: true, domain.OpNotContains: true,
	domain.OpIsEmpty: true, domain.OpIsNotEmpty: true,
}

// Validate enforces spec.md §4.2's full validation checklist: schema
// completeness, strategy resolvability, param well-formedness, limits,
// and semantic checks. Activation fails if any check fails.
func Validate(cfg *domain.RuleConfiguration, registry *strategy.Registry) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if cfg.FieldRules == nil {
		return fmt.Errorf("fieldRules is required")
	}

	if cfg.GlobalSettings.MaxErrors < 1 {
		return fmt.Errorf("globalSettings.maxErrors must be >= 1")
	}

	totalRules := 0
	for field, rules := range cfg.FieldRules {
		if len(rules) > strategy.MaxFieldRules {
			return fmt.Errorf("field %q has %d rules, exceeds MAX_FIELD_RULES=%d", field, len(rules), strategy.MaxFieldRules)
		}
		for i, rule := range rules {
			if rule.Strategy == "" {
				return fmt.Errorf("field %q rule %d: strategy is required", field, i)
			}
			s, err := registry.Resolve(rule.Strategy)
			if err != nil {
				return fmt.Errorf("field %q rule %d: StrategyNotFound: %w", field, i, err)
			}
			if err := s.ValidateParams(rule.Params); err != nil {
				return fmt.Errorf("field %q rule %d (%s): invalid params: %w", field, i, rule.Strategy, err)
			}
			if len(rule.ErrorMessage) > strategy.MaxErrorMessageLength {
				return fmt.Errorf("field %q rule %d: errorMessage exceeds MAX_ERROR_MESSAGE_LENGTH=%d", field, i, strategy.MaxErrorMessageLength)
			}
			if rule.Strategy == "custom" && len(rule.Params) > strategy.MaxCustomParams {
				return fmt.Errorf("field %q rule %d: custom params exceed MAX_CUSTOM_PARAMS=%d", field, i, strategy.MaxCustomParams)
			}
			if rule.Priority < strategy.MinPriority || rule.Priority > strategy.MaxPriority {
				return fmt.Errorf("field %q rule %d: priority %d out of range [%d, %d]", field, i, rule.Priority, strategy.MinPriority, strategy.MaxPriority)
			}
			if rule.Condition != nil {
				if !validConditionOps[rule.Condition.Operator] {
					return fmt.Errorf("field %q rule %d: unknown condition operator %q", field, i, rule.Condition.Operator)
				}
				if rule.Condition.Field == "" {
					return fmt.Errorf("field %q rule %d: condition.field is required", field, i)
				}
			}
			totalRules++
		}
	}

	return nil
}

// DefaultConfiguration returns the built-in template used when no rule
// configuration file is present (spec.md §4.2 "Load").
func DefaultConfiguration() *domain.RuleConfiguration {
	return &domain.RuleConfiguration{
		Metadata: domain.ConfigMetadata{
			Name:        "default",
			Description: "built-in default: accepts every value as-is",
			Priority:    0,
		},
		FieldRules: map[string][]domain.FieldRule{},
		GlobalSettings: domain.GlobalSettings{
			StrictMode:      false,
			ContinueOnError: true,
			MaxErrors:       1000000,
		},
	}
}
