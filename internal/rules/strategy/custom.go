package strategy

import "fmt"

// FuncStrategy adapts a plain function into a Strategy, for callers that
// register ad-hoc validators programmatically rather than implementing
// the Strategy interface directly.
type FuncStrategy struct {
	ValidateFn func(value string, params map[string]interface{}, ctx Context) Result
	ParamsFn   func(params map[string]interface{}) error
}

func (f *FuncStrategy) Validate(value string, params map[string]interface{}, ctx Context) Result {
	return f.ValidateFn(value, params, ctx)
}

func (f *FuncStrategy) ValidateParams(params map[string]interface{}) error {
	if f.ParamsFn == nil {
		return nil
	}
	return f.ParamsFn(params)
}

// DelegatingCustomStrategy resolves params["name"] against the registry
// and delegates to that strategy with the remaining params. This is what
// FieldRule.Strategy = "custom" invokes, letting a RuleConfiguration
// reference any user-registered strategy without the registry itself
// needing a field rule's strategy name in advance.
type DelegatingCustomStrategy struct {
	Registry *Registry
}

func (d *DelegatingCustomStrategy) resolve(params map[string]interface{}) (Strategy, map[string]interface{}, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, nil, fmt.Errorf("custom strategy requires a params.name naming a registered strategy")
	}
	inner, err := d.Registry.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	innerParams, _ := params["params"].(map[string]interface{})
	return inner, innerParams, nil
}

func (d *DelegatingCustomStrategy) ValidateParams(params map[string]interface{}) error {
	inner, innerParams, err := d.resolve(params)
	if err != nil {
		return err
	}
	return inner.ValidateParams(innerParams)
}

func (d *DelegatingCustomStrategy) Validate(value string, params map[string]interface{}, ctx Context) Result {
	inner, innerParams, err := d.resolve(params)
	if err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}
	return inner.Validate(value, innerParams, ctx)
}
