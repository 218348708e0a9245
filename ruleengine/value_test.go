package ruleengine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringWildcards(t *testing.T) {
	cases := []struct {
		in       string
		special  bool
		starts   bool
		ends     bool
		plain    string
		literals []string
	}{
		{in: "abc", plain: "abc", literals: []string{"abc"}},
		{in: "*abc", special: true, starts: true, plain: "*abc", literals: []string{"abc"}},
		{in: "abc*", special: true, ends: true, plain: "abc*", literals: []string{"abc"}},
		{in: `a\*b`, plain: "a*b", literals: []string{"a*b"}},
		{in: `a\?b`, plain: "a?b", literals: []string{"a?b"}},
		{in: `a\\b`, plain: `a\b`, literals: []string{`a\b`}},
		{in: `C:\Windows\\*`, special: true, ends: true, plain: `C:\Windows\*`, literals: []string{`C:\Windows\`}},
		{in: "a?c", special: true, plain: "a?c", literals: []string{"a", "c"}},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			s := ParseString(c.in)
			assert.Equal(t, c.special, s.ContainsSpecial())
			assert.Equal(t, c.starts, s.StartsWith(WildcardMulti))
			assert.Equal(t, c.ends, s.EndsWith(WildcardMulti))
			assert.Equal(t, c.plain, s.Plain())
			assert.Equal(t, c.literals, s.Literals())
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, in := range []string{"abc", "*abc*", `a\*b?`, `C:\Windows\System32\*.exe`, `x\\y`, ""} {
		s := ParseString(in)
		assert.True(t, s.Equal(ParseString(s.String())), in)
		assert.Equal(t, in, s.Original())
	}
}

func TestStringPrependAppendMerge(t *testing.T) {
	s := PlainString("mid").Prepend(WildcardMulti).Append(WildcardMulti)
	assert.True(t, ParseString("*mid*").Equal(s))
	assert.Equal(t, "*mid*", s.Original())
	assert.True(t, ParseString("ab*cd").Equal(PlainString("ab").Append(WildcardMulti).Concat(PlainString("cd"))))
	assert.True(t, PlainString("abcd").Equal(PlainString("ab").Concat(PlainString("cd"))))
	assert.False(t, PlainString("a*").Equal(ParseString("a*")))
	assert.True(t, PlainString("").IsEmpty())
}

func TestStringConvert(t *testing.T) {
	s := ParseString(`*\AppData\Temp "x"*`)
	assert.Equal(t, `*\\AppData\\Temp \"x\"*`, s.Convert(`\`, "*", "?", `"`, ""))
	assert.Equal(t, `%\\AppData\\Temp\ "x"%`, s.Convert(`\`, "%", "_", " ", ""))
	assert.Equal(t, "*AppDataTemp x*", s.Convert("", "*", "?", "", `\"`))
}

func TestStringMapText(t *testing.T) {
	s := ParseString("ab*cd").MapText(func(in string) string { return in + in })
	assert.True(t, ParseString("abab*cdcd").Equal(s))
}

func TestFromRaw(t *testing.T) {
	cases := []struct {
		in   any
		want Value
	}{
		{nil, NullValue{}},
		{true, BoolValue{Value: true}},
		{16, NewInt(16)},
		{int64(-3), NewInt(-3)},
		{uint64(7), NewInt(7)},
		{1.5, NewFloat(1.5)},
		{"a*", ParseString("a*")},
	}
	for _, c := range cases {
		got, err := FromRaw(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := FromRaw([]int{1})
	assert.True(t, errors.Is(err, ErrValue))
}

func TestNumberString(t *testing.T) {
	assert.Equal(t, "16", NewInt(16).String())
	assert.Equal(t, "1.25", NewFloat(1.25).String())
}

func TestRegexValidation(t *testing.T) {
	r, err := NewRegex(`^a.*b$`)
	require.NoError(t, err)
	assert.Equal(t, `^a.*b$`, r.Pattern)

	_, err = NewRegex(`a(b`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegularExpression))
}

func TestRegexEscape(t *testing.T) {
	r := RegexValue{Pattern: `/usr/bin/\w+\/x`}
	assert.Equal(t, `\/usr\/bin\/\w+\/x`, r.Escape([]string{"/"}, `\`))
	assert.Equal(t, r.Pattern, r.Escape(nil, `\`))
}

func TestCIDRRoundTrip(t *testing.T) {
	for _, in := range []string{"10.0.0.0/8", "192.168.1.0/24", "fe80::/10", "2001:db8::/32"} {
		c, err := ParseCIDR(in)
		require.NoError(t, err)
		again, err := ParseCIDR(c.String())
		require.NoError(t, err)
		assert.Equal(t, c.Prefix, again.Prefix)
		assert.Equal(t, in, c.String())
	}

	host, err := ParseCIDR("10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3/32", host.String())

	_, err = ParseCIDR("10.0.0.0/33")
	assert.True(t, errors.Is(err, ErrValue))
	_, err = ParseCIDR("not-a-net")
	assert.True(t, errors.Is(err, ErrValue))
}

func TestExpansionFlattens(t *testing.T) {
	inner := NewExpansion(PlainString("b"), PlainString("c"))
	e := NewExpansion(PlainString("a"), inner, NewExpansion(inner, PlainString("d")))
	require.Len(t, e.Values, 6)
	for _, v := range e.Values {
		_, nested := v.(ExpansionValue)
		assert.False(t, nested)
	}
	assert.Equal(t, "expand(a, b, c, b, c, d)", e.String())
}

func TestCompareString(t *testing.T) {
	assert.Equal(t, "gte 10", CompareValue{Op: CompareGTE, Number: NewInt(10)}.String())
}

func TestErrorRuleTagging(t *testing.T) {
	err := WithRule(NewError(ErrLevel, "bad level %q", "urgent"), "r1")
	assert.EqualError(t, err, `level error: bad level "urgent" (rule r1)`)
	assert.True(t, errors.Is(err, ErrLevel))

	plain := errors.New("boom")
	assert.Same(t, plain, WithRule(plain, "r1"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrModifier, KindOf(NewError(ErrModifier, "x")))
	assert.Equal(t, ErrType, KindOf(fmt.Errorf("wrapped: %w", NewError(ErrType, "x"))))
	assert.Nil(t, KindOf(errors.New("boom")))
}
