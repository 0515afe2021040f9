// Package strategy implements the Strategy Registry (spec.md §4.1): a
// set of named, pure validator/normalizer strategies resolved by the
// Rule Engine, plus the registry that holds them.
package strategy

import (
	"fmt"
	"sync"
)

// Context carries row-scoped information a strategy may need but never
// mutates; strategies remain pure relative to Value, Params, and Context.
type Context struct {
	Field string
	Row   map[string]string
}

// Result is the outcome of one strategy invocation.
type Result struct {
	OK            bool
	Value         string
	ErrorMessage  string
	OriginalValue string
}

// Strategy validates and/or normalizes a single field value.
type Strategy interface {
	// Validate applies the strategy to value with the given opaque params.
	Validate(value string, params map[string]interface{}, ctx Context) Result
	// ValidateParams checks that params are well-formed for this strategy,
	// independent of any row value. Used by the Rule Configuration Store
	// at activation time.
	ValidateParams(params map[string]interface{}) error
}

// ErrNotFound is returned by Resolve when no strategy is registered under
// the given name.
var ErrNotFound = fmt.Errorf("strategy not found")

// Registry holds validator/normalizer strategies keyed by name. Registered
// once at process start and read-only thereafter (spec.md §5).
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry creates a registry pre-populated with the built-in
// strategies named in spec.md §4.1.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("regex", &RegexStrategy{})
	r.Register("range", &RangeStrategy{})
	r.Register("length", &LengthStrategy{})
	r.Register("phone", &PhoneStrategy{})
	r.Register("date", &DateStrategy{})
	r.Register("address", &AddressStrategy{})
	r.Register("custom", &DelegatingCustomStrategy{Registry: r})
	return r
}

// Register adds or replaces a strategy under name.
func (r *Registry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Resolve returns the strategy registered under name, or ErrNotFound.
func (r *Registry) Resolve(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns the names of all registered strategies.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
