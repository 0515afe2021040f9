// Package engine implements the Rule Engine (spec.md §4.3): evaluating
// one row against the active RuleConfiguration, producing a RowOutcome.
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

// Engine evaluates rows against a RuleConfiguration snapshot using a
// Strategy Registry, with an optional result cache.
type Engine struct {
	registry *strategy.Registry
	cache    *strategy.ResultCache
}

// New creates an Engine bound to a registry and an optional cache (nil
// disables caching regardless of config.GlobalSettings.EnableCaching).
func New(registry *strategy.Registry, cache *strategy.ResultCache) *Engine {
	return &Engine{registry: registry, cache: cache}
}

// EvaluateRow evaluates row against config, implementing the algorithm
// and continuation policy of spec.md §4.3.
func (e *Engine) EvaluateRow(rowNumber int, row map[string]string, config *domain.RuleConfiguration) domain.RowOutcome {
	strict := config.GlobalSettings.StrictMode
	continueOnError := config.GlobalSettings.ContinueOnError

	if strict {
		for field := range row {
			if _, declared := config.FieldRules[field]; !declared {
				return domain.RowOutcome{
					RowNumber:    rowNumber,
					Clean:        false,
					OriginalData: row,
					Errors: []domain.RowError{{
						Field:        field,
						RuleName:     "schema",
						ErrorMessage: fmt.Sprintf("unknown field %q not declared in strict-mode configuration", field),
					}},
				}
			}
		}
	}

	normalized := make(map[string]interface{})
	var errs []domain.RowError

	fields := make([]string, 0, len(config.FieldRules))
	for f := range config.FieldRules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value, present := row[field]
		rules := orderedRules(config.FieldRules[field])

		stopField := false
		currentValue := value
		hasValue := present && strings.TrimSpace(currentValue) != ""

		for _, rule := range rules {
			if stopField {
				break
			}
			if rule.Condition != nil && !evalCondition(*rule.Condition, row) {
				continue
			}

			if !hasValue {
				if rule.Required {
					errs = append(errs, domain.RowError{
						Field:         field,
						RuleName:      rule.Name,
						ErrorMessage:  requiredMessage(rule),
						OriginalValue: currentValue,
					})
					if !continueOnError {
						stopField = true
					}
				}
				continue
			}

			strat, err := e.registry.Resolve(rule.Strategy)
			if err != nil {
				errs = append(errs, domain.RowError{
					Field:         field,
					RuleName:      rule.Name,
					ErrorMessage:  fmt.Sprintf("strategy %q not found", rule.Strategy),
					OriginalValue: currentValue,
				})
				if !continueOnError {
					stopField = true
				}
				continue
			}

			result := e.invoke(strat, rule, currentValue, row, config)
			if !result.OK {
				msg := result.ErrorMessage
				if rule.ErrorMessage != "" {
					msg = rule.ErrorMessage
				}
				errs = append(errs, domain.RowError{
					Field:         field,
					RuleName:      rule.Name,
					ErrorMessage:  msg,
					OriginalValue: result.OriginalValue,
				})
				if !continueOnError {
					stopField = true
				}
				continue
			}
			currentValue = result.Value
		}

		if hasValue || present {
			normalized[field] = currentValue
		}

		if len(errs) > config.GlobalSettings.MaxErrors {
			break
		}
	}

	if !strict {
		for field, value := range row {
			if _, declared := config.FieldRules[field]; !declared {
				normalized[field] = value
			}
		}
	}

	if len(errs) == 0 {
		return domain.RowOutcome{RowNumber: rowNumber, Clean: true, Normalized: normalized}
	}
	return domain.RowOutcome{RowNumber: rowNumber, Clean: false, OriginalData: row, Errors: errs}
}

func (e *Engine) invoke(strat strategy.Strategy, rule domain.FieldRule, value string, row map[string]string, config *domain.RuleConfiguration) strategy.Result {
	ctx := strategy.Context{Field: rule.Name, Row: row}

	if e.cache == nil || !config.GlobalSettings.EnableCaching {
		return strat.Validate(value, rule.Params, ctx)
	}

	key := strategy.CacheKey{
		StrategyName: rule.Strategy,
		ParamsHash:   strategy.HashParams(rule.Params),
		Value:        value,
	}
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}
	result := strat.Validate(value, rule.Params, ctx)
	e.cache.Put(key, result)
	return result
}

func requiredMessage(rule domain.FieldRule) string {
	if rule.ErrorMessage != "" {
		return rule.ErrorMessage
	}
	return "required field missing"
}

// orderedRules sorts by descending priority, then declaration order
// (stable sort preserves ties).
func orderedRules(rules []domain.FieldRule) []domain.FieldRule {
	out := make([]domain.FieldRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func evalCondition(cond domain.Condition, row map[string]string) bool {
	actual, present := row[cond.Field]
	switch cond.Operator {
	case domain.OpIsEmpty:
		return !present || strings.TrimSpace(actual) == ""
	case domain.OpIsNotEmpty:
		return present && strings.TrimSpace(actual) != ""
	}

	expected := fmt.Sprintf("%v", cond.Value)
	switch cond.Operator {
	case domain.OpEquals:
		return actual == expected
	case domain.OpNotEquals:
		return actual != expected
	case domain.OpContains:
		return strings.Contains(actual, expected)
	case domain.OpNotContains:
		return !strings.Contains(actual, expected)
	case domain.OpGreaterThan, domain.OpLessThan:
		af, aerr := strconv.ParseFloat(actual, 64)
		ef, eerr := strconv.ParseFloat(expected, 64)
		if aerr != nil || eerr != nil {
			return false
		}
		if cond.Operator == domain.OpGreaterThan {
			return af > ef
		}
		return af < ef
	default:
		return false
	}
}
