package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

func testConfig() *domain.RuleConfiguration {
	return &domain.RuleConfiguration{
		Metadata: domain.ConfigMetadata{Name: "test", Version: 1},
		FieldRules: map[string][]domain.FieldRule{
			"name": {
				{Name: "name", Strategy: "length", Required: true, Priority: 10,
					Params: map[string]interface{}{"minLength": 1, "maxLength": 64}},
			},
			"phone": {
				{Name: "phone", Strategy: "phone", Required: true, Priority: 10},
			},
			"signupDate": {
				{Name: "signupDate", Strategy: "date", Required: false, Priority: 10,
					Params: map[string]interface{}{"formats": []interface{}{"2006-01-02"}}},
			},
		},
		GlobalSettings: domain.GlobalSettings{
			StrictMode:      false,
			ContinueOnError: true,
			MaxErrors:       1000,
		},
	}
}

func TestEvaluateRow_HappyPath(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := New(registry, nil)
	cfg := testConfig()

	row := map[string]string{
		"name":       "Jane Doe",
		"phone":      "13800138000",
		"signupDate": "2024-01-15",
	}

	outcome := eng.EvaluateRow(2, row, cfg)
	require.True(t, outcome.Clean, "expected row to be clean, errors: %+v", outcome.Errors)
	assert.Equal(t, "Jane Doe", outcome.Normalized["name"])
	assert.Equal(t, "13800138000", outcome.Normalized["phone"])
	assert.Equal(t, "2024-01-15", outcome.Normalized["signupDate"])
}

func TestEvaluateRow_InvalidPhoneAndMissingRequired(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := New(registry, nil)
	cfg := testConfig()

	row := map[string]string{
		"name":  "",
		"phone": "12345",
	}

	outcome := eng.EvaluateRow(3, row, cfg)
	require.False(t, outcome.Clean)
	assert.Len(t, outcome.Errors, 2)

	fields := map[string]bool{}
	for _, e := range outcome.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["phone"])
}

func TestEvaluateRow_StrictModeRejectsUnknownField(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := New(registry, nil)
	cfg := testConfig()
	cfg.GlobalSettings.StrictMode = true

	row := map[string]string{
		"name":    "Jane Doe",
		"phone":   "13800138000",
		"unknown": "surprise",
	}

	outcome := eng.EvaluateRow(4, row, cfg)
	require.False(t, outcome.Clean)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "unknown", outcome.Errors[0].Field)
}

func TestEvaluateRow_ConditionGatesRule(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := New(registry, nil)
	cfg := testConfig()
	cfg.FieldRules["vipCode"] = []domain.FieldRule{
		{
			Name: "vipCode", Strategy: "length", Required: true, Priority: 10,
			Params:    map[string]interface{}{"minLength": 4},
			Condition: &domain.Condition{Field: "tier", Operator: domain.OpEquals, Value: "vip"},
		},
	}

	row := map[string]string{
		"name":  "Jane Doe",
		"phone": "13800138000",
		"tier":  "standard",
	}

	outcome := eng.EvaluateRow(5, row, cfg)
	assert.True(t, outcome.Clean, "vipCode rule should not apply when tier != vip, errors: %+v", outcome.Errors)
}

func TestEvaluateRow_ContinueOnErrorFalseStillEvaluatesOtherFields(t *testing.T) {
	registry := strategy.NewDefaultRegistry()
	eng := New(registry, nil)
	cfg := testConfig()
	cfg.GlobalSettings.ContinueOnError = false

	row := map[string]string{
		"name":  "",
		"phone": "bad",
	}

	outcome := eng.EvaluateRow(6, row, cfg)
	require.False(t, outcome.Clean)
	assert.Len(t, outcome.Errors, 2)
}
