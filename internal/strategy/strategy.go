// Package strategy defines the Policy interface implemented by trading
// strategies, a Registry of policy factories and the Backtester that drives
// a policy bar by bar.
package strategy

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
)

// State is everything a policy may look at on one bar. Nothing in it refers
// to bars after Index.
type State struct {
	Index   int
	Bar     domain.Bar
	Prev    domain.Bar
	HasPrev bool
	Ind     indicator.Snapshot
	PrevInd indicator.Snapshot
	Account domain.EquityState
}

// Policy is the interface that all strategies must implement. The loop
// calls OnBarExit for each open position before it considers entries, and
// never calls both for the same position on the same bar.
type Policy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Indicators registers the transforms the policy reads.
	Indicators(p *indicator.Pipeline)

	// Required lists indicators that must be defined for the bar to be
	// evaluated at all.
	Required() []string

	// Sizer returns the risk sizing rule for entries.
	Sizer() engine.RiskSizer

	// MaxConcurrent caps concurrently active setups.
	MaxConcurrent() int

	// OnBarEntry returns the entry decision for the bar.
	OnBarEntry(st *State) domain.Intent

	// OnBarExit updates the position's auxiliary state and returns the
	// first exit condition met, in the policy's priority order.
	OnBarExit(st *State, pos *domain.Position) (domain.ExitSignal, bool)

	// Params echoes the effective parameters in a fixed order.
	Params() []domain.Param
}

// Expirer is implemented by policies whose resting orders lapse after a
// number of bars.
type Expirer interface {
	OrderTTL() int
}

// Factory builds a fresh policy from optional YAML parameters. A nil node
// means defaults.
type Factory func(params *yaml.Node) (Policy, error)

// Registry holds named policy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates
// whether it was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// New builds a fresh policy instance.
func (r *Registry) New(name string, params *yaml.Node) (Policy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}
	p, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", name, err)
	}
	return p, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeParams decodes node onto dst, leaving dst's defaults untouched when
// node is empty.
func DecodeParams(node *yaml.Node, dst any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	if err := node.Decode(dst); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}
