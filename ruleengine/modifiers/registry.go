// Package modifiers implements the value transforms named in detection keys
// such as "CommandLine|contains|all".
package modifiers

import (
	"sort"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// Context describes where a modifier is being applied.
type Context struct {
	Field string
	// Applied lists the value modifiers that ran before this one.
	Applied []string
}

// ValueFn transforms a single value.
type ValueFn func(ctx Context, v ruleengine.Value) (ruleengine.Value, error)

// ListFn transforms a whole detection item.
type ListFn func(ctx Context, item *Item) error

// Modifier accepts either a single value or the whole value list, never both.
type Modifier struct {
	Name  string
	Value ValueFn
	List  ListFn
}

// Constructor builds a modifier instance.
type Constructor func() Modifier

// Item is the state threaded through a modifier chain.
type Item struct {
	Field   string
	Values  []ruleengine.Value
	Linking ruleengine.Linking
}

// Registry maps modifier names to constructors.
type Registry map[string]Constructor

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{}
}

// DefaultRegistry returns a registry holding every built-in modifier.
func DefaultRegistry() Registry {
	reg := NewRegistry()
	RegisterStringModifiers(reg)
	RegisterEncodingModifiers(reg)
	RegisterTypeModifiers(reg)
	RegisterListModifiers(reg)
	return reg
}

// Register adds or replaces a modifier.
func (r Registry) Register(name string, ctor Constructor) Registry {
	r[name] = ctor
	return r
}

func (r Registry) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Names returns the registered modifier names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up every name in order. An unknown name is a modifier error.
func (r Registry) Resolve(names []string) ([]Modifier, error) {
	mods := make([]Modifier, 0, len(names))
	for _, n := range names {
		ctor, ok := r[n]
		if !ok {
			return nil, ruleengine.NewError(ruleengine.ErrModifier, "unknown modifier %q", n)
		}
		m := ctor()
		if m.Name == "" {
			m.Name = n
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// Apply runs the named modifiers left to right over item.
func (r Registry) Apply(item *Item, names []string) error {
	mods, err := r.Resolve(names)
	if err != nil {
		return err
	}
	var applied []string
	for _, m := range mods {
		ctx := Context{Field: item.Field, Applied: applied}
		if m.List != nil {
			if err := m.List(ctx, item); err != nil {
				return err
			}
			continue
		}
		if m.Value == nil {
			continue
		}
		out := make([]ruleengine.Value, 0, len(item.Values))
		for _, v := range item.Values {
			nv, err := applyValue(m, ctx, v)
			if err != nil {
				return err
			}
			out = append(out, nv)
		}
		item.Values = out
		applied = append(applied, m.Name)
	}
	return nil
}

// applyValue maps a value modifier over expansion alternatives.
func applyValue(m Modifier, ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	exp, ok := v.(ruleengine.ExpansionValue)
	if !ok {
		return m.Value(ctx, v)
	}
	alts := make([]ruleengine.Value, 0, len(exp.Values))
	for _, alt := range exp.Values {
		nv, err := m.Value(ctx, alt)
		if err != nil {
			return nil, err
		}
		alts = append(alts, nv)
	}
	return ruleengine.NewExpansion(alts...), nil
}

func typeError(name string, v ruleengine.Value) error {
	return ruleengine.NewError(ruleengine.ErrType, "modifier %s cannot be applied to %T value %q", name, v, v.String())
}
