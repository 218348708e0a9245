package modifiers

import (
	"regexp"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// RegisterStringModifiers adds contains, startswith, endswith and windash.
func RegisterStringModifiers(reg Registry) {
	reg["contains"] = func() Modifier { return Modifier{Name: "contains", Value: wildcardEdges(true, true)} }
	reg["startswith"] = func() Modifier { return Modifier{Name: "startswith", Value: wildcardEdges(false, true)} }
	reg["endswith"] = func() Modifier { return Modifier{Name: "endswith", Value: wildcardEdges(true, false)} }
	reg["windash"] = func() Modifier { return Modifier{Name: "windash", Value: windash} }
}

// wildcardEdges adds a leading and/or trailing wildcard unless one is
// already present.
func wildcardEdges(leading, trailing bool) ValueFn {
	return func(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
		switch val := v.(type) {
		case ruleengine.StringValue:
			if leading && !val.StartsWith(ruleengine.WildcardMulti) {
				val = val.Prepend(ruleengine.WildcardMulti)
			}
			if trailing && !val.EndsWith(ruleengine.WildcardMulti) {
				val = val.Append(ruleengine.WildcardMulti)
			}
			return val, nil
		case ruleengine.RegexValue:
			p := val.Pattern
			if leading && !strings.HasPrefix(p, "^") && !strings.HasPrefix(p, ".*") {
				p = ".*" + p
			}
			if trailing && !strings.HasSuffix(p, "$") && !strings.HasSuffix(p, ".*") {
				p += ".*"
			}
			return ruleengine.RegexValue{Pattern: p}, nil
		default:
			return nil, typeError(modifierName(leading, trailing), v)
		}
	}
}

func modifierName(leading, trailing bool) string {
	switch {
	case leading && trailing:
		return "contains"
	case leading:
		return "endswith"
	default:
		return "startswith"
	}
}

// flagStart matches a dash or slash that starts a command line flag.
var flagStart = regexp.MustCompile(`\B[-/]\b`)

// maxWindashFlags bounds the flags windash expands; each flag doubles the
// number of alternatives.
const maxWindashFlags = 12

// windash expands every command line flag to both its dash and slash form.
// The unchanged value is always the first alternative.
func windash(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	s, ok := v.(ruleengine.StringValue)
	if !ok {
		return nil, typeError("windash", v)
	}
	type hit struct{ part, pos int }
	var hits []hit
	literals := s.Literals()
	for i, lit := range literals {
		for _, loc := range flagStart.FindAllStringIndex(lit, -1) {
			hits = append(hits, hit{part: i, pos: loc[0]})
		}
	}
	if len(hits) == 0 {
		return s, nil
	}
	if len(hits) > maxWindashFlags {
		return nil, ruleengine.NewError(ruleengine.ErrValue,
			"windash value has %d flags, at most %d are expanded", len(hits), maxWindashFlags)
	}

	alts := make([]ruleengine.Value, 0, 1<<len(hits))
	for mask := 0; mask < 1<<len(hits); mask++ {
		swapped := make([][]byte, len(literals))
		for i, lit := range literals {
			swapped[i] = []byte(lit)
		}
		for bit, h := range hits {
			if mask&(1<<bit) == 0 {
				continue
			}
			if swapped[h.part][h.pos] == '-' {
				swapped[h.part][h.pos] = '/'
			} else {
				swapped[h.part][h.pos] = '-'
			}
		}
		i := 0
		alts = append(alts, s.MapText(func(string) string {
			out := string(swapped[i])
			i++
			return out
		}))
	}
	return ruleengine.NewExpansion(alts...), nil
}
