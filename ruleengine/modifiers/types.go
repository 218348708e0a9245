package modifiers

import (
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// RegisterTypeModifiers adds the modifiers that reclassify a value: re, cidr,
// the numeric comparisons and exists.
func RegisterTypeModifiers(reg Registry) {
	reg["re"] = func() Modifier { return Modifier{Name: "re", Value: toRegex} }
	reg["cidr"] = func() Modifier { return Modifier{Name: "cidr", Value: toCIDR} }
	reg["lt"] = func() Modifier { return Modifier{Name: "lt", Value: compare("lt", ruleengine.CompareLT)} }
	reg["lte"] = func() Modifier { return Modifier{Name: "lte", Value: compare("lte", ruleengine.CompareLTE)} }
	reg["gt"] = func() Modifier { return Modifier{Name: "gt", Value: compare("gt", ruleengine.CompareGT)} }
	reg["gte"] = func() Modifier { return Modifier{Name: "gte", Value: compare("gte", ruleengine.CompareGTE)} }
	reg["exists"] = func() Modifier { return Modifier{Name: "exists", Value: exists} }
}

// RegisterListModifiers adds modifiers operating on the whole value list.
func RegisterListModifiers(reg Registry) {
	reg["all"] = func() Modifier {
		return Modifier{Name: "all", List: func(ctx Context, item *Item) error {
			item.Linking = ruleengine.LinkAnd
			return nil
		}}
	}
}

func requireUnmodified(name string, ctx Context) error {
	if len(ctx.Applied) > 0 {
		return ruleengine.NewError(ruleengine.ErrValue,
			"modifier %s only applies to unmodified values, got %s first", name, strings.Join(ctx.Applied, "|"))
	}
	return nil
}

func toRegex(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	if err := requireUnmodified("re", ctx); err != nil {
		return nil, err
	}
	s, ok := v.(ruleengine.StringValue)
	if !ok {
		return nil, typeError("re", v)
	}
	return ruleengine.NewRegex(s.Original())
}

func toCIDR(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	if err := requireUnmodified("cidr", ctx); err != nil {
		return nil, err
	}
	s, ok := v.(ruleengine.StringValue)
	if !ok {
		return nil, typeError("cidr", v)
	}
	if s.ContainsSpecial() {
		return nil, ruleengine.NewError(ruleengine.ErrValue, "invalid CIDR %q: wildcards are not allowed", s.String())
	}
	return ruleengine.ParseCIDR(s.Plain())
}

func compare(name string, op ruleengine.CompareOp) ValueFn {
	return func(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
		if err := requireUnmodified(name, ctx); err != nil {
			return nil, err
		}
		n, ok := v.(ruleengine.NumberValue)
		if !ok {
			return nil, typeError(name, v)
		}
		return ruleengine.CompareValue{Op: op, Number: n}, nil
	}
}

func exists(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	if ctx.Field == "" {
		return nil, ruleengine.NewError(ruleengine.ErrValue, "modifier exists requires a field name")
	}
	b, ok := v.(ruleengine.BoolValue)
	if !ok {
		return nil, typeError("exists", v)
	}
	return ruleengine.ExistsValue{Exists: b.Value}, nil
}
