package ruleengine

import (
	"fmt"
	"math"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// Value is a typed detection value. The set of implementations is closed:
// StringValue, NumberValue, BoolValue, NullValue, RegexValue, CIDRValue,
// CompareValue, ExpansionValue and ExistsValue.
type Value interface {
	fmt.Stringer
	value()
}

// FromRaw classifies a scalar decoded from rule YAML into the most specific
// Value.
func FromRaw(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return NullValue{}, nil
	case bool:
		return BoolValue{Value: v}, nil
	case string:
		return ParseString(v), nil
	case int:
		return NewInt(int64(v)), nil
	case int32:
		return NewInt(int64(v)), nil
	case int64:
		return NewInt(v), nil
	case uint:
		return NewInt(int64(v)), nil
	case uint32:
		return NewInt(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return NewFloat(float64(v)), nil
		}
		return NewInt(int64(v)), nil
	case float32:
		return NewFloat(float64(v)), nil
	case float64:
		return NewFloat(v), nil
	case Value:
		return v, nil
	default:
		return nil, NewError(ErrValue, "unsupported value type %T", raw)
	}
}

// NumberValue holds an integer or floating point literal.
type NumberValue struct {
	Int     int64
	Float   float64
	IsFloat bool
}

func NewInt(i int64) NumberValue     { return NumberValue{Int: i} }
func NewFloat(f float64) NumberValue { return NumberValue{Float: f, IsFloat: true} }

func (NumberValue) value() {}

func (n NumberValue) String() string {
	if n.IsFloat {
		return strconv.FormatFloat(n.Float, 'f', -1, 64)
	}
	return strconv.FormatInt(n.Int, 10)
}

// BoolValue is a boolean literal.
type BoolValue struct{ Value bool }

func (BoolValue) value()           {}
func (b BoolValue) String() string { return strconv.FormatBool(b.Value) }

// NullValue asserts that a field is absent or null.
type NullValue struct{}

func (NullValue) value()         {}
func (NullValue) String() string { return "null" }

// ExistsValue asserts presence (or absence) of a field.
type ExistsValue struct{ Exists bool }

func (ExistsValue) value() {}
func (e ExistsValue) String() string {
	if e.Exists {
		return "exists"
	}
	return "not exists"
}

// RegexValue is a regular expression pattern. Construct with NewRegex so the
// pattern is known to compile.
type RegexValue struct{ Pattern string }

// NewRegex validates pattern and wraps it.
func NewRegex(pattern string) (RegexValue, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return RegexValue{}, NewError(ErrRegularExpression, "invalid pattern %q: %v", pattern, err)
	}
	return RegexValue{Pattern: pattern}, nil
}

func (RegexValue) value()           {}
func (r RegexValue) String() string { return "/" + r.Pattern + "/" }

// Escape prefixes every occurrence of the escaped sequences with escapeChar,
// leaving sequences that are already escaped alone.
func (r RegexValue) Escape(escaped []string, escapeChar string) string {
	if len(escaped) == 0 {
		return r.Pattern
	}
	var b strings.Builder
	p := r.Pattern
	for i := 0; i < len(p); {
		if p[i] == '\\' && i+1 < len(p) {
			b.WriteString(p[i : i+2])
			i += 2
			continue
		}
		matched := false
		for _, e := range escaped {
			if e != "" && strings.HasPrefix(p[i:], e) {
				b.WriteString(escapeChar)
				b.WriteString(e)
				i += len(e)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(p[i])
			i++
		}
	}
	return b.String()
}

// CIDRValue is a network prefix.
type CIDRValue struct{ Prefix netip.Prefix }

// ParseCIDR parses an IPv4 or IPv6 network in CIDR notation. A bare address
// is accepted as a host network.
func ParseCIDR(s string) (CIDRValue, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return CIDRValue{}, NewError(ErrValue, "invalid CIDR %q: %v", s, err)
		}
		return CIDRValue{Prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return CIDRValue{}, NewError(ErrValue, "invalid CIDR %q: %v", s, err)
	}
	return CIDRValue{Prefix: p}, nil
}

func (CIDRValue) value()           {}
func (c CIDRValue) String() string { return c.Prefix.String() }

// CompareOp is a numeric comparison operator.
type CompareOp int

const (
	CompareGT CompareOp = iota
	CompareGTE
	CompareLT
	CompareLTE
)

func (op CompareOp) String() string {
	switch op {
	case CompareGT:
		return "gt"
	case CompareGTE:
		return "gte"
	case CompareLT:
		return "lt"
	case CompareLTE:
		return "lte"
	default:
		return fmt.Sprintf("CompareOp(%d)", int(op))
	}
}

// CompareValue is a numeric comparison against Number.
type CompareValue struct {
	Op     CompareOp
	Number NumberValue
}

func (CompareValue) value()           {}
func (c CompareValue) String() string { return c.Op.String() + " " + c.Number.String() }

// ExpansionValue holds OR-equivalent alternatives produced by a modifier.
type ExpansionValue struct{ Values []Value }

// NewExpansion builds an expansion, flattening nested expansions so an
// ExpansionValue never directly contains another one.
func NewExpansion(values ...Value) ExpansionValue {
	out := make([]Value, 0, len(values))
	for _, v := range values {
		if e, ok := v.(ExpansionValue); ok {
			out = append(out, NewExpansion(e.Values...).Values...)
			continue
		}
		out = append(out, v)
	}
	return ExpansionValue{Values: out}
}

func (ExpansionValue) value() {}

func (e ExpansionValue) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = v.String()
	}
	return "expand(" + strings.Join(parts, ", ") + ")"
}
