package ruleengine

import (
	"strings"
)

// SpecialChar is a wildcard placeholder inside a StringValue.
type SpecialChar int

const (
	WildcardMulti SpecialChar = iota + 1
	WildcardSingle
)

func (s SpecialChar) String() string {
	switch s {
	case WildcardMulti:
		return "*"
	case WildcardSingle:
		return "?"
	default:
		return ""
	}
}

type stringPart struct {
	text    string
	special SpecialChar
}

// StringValue is a sequence of literal text and wildcard placeholders.
// Adjacent text parts are always merged, so two StringValues describing the
// same pattern compare equal.
type StringValue struct {
	parts []stringPart
	// original is the literal as written in the rule, kept until the value
	// is transformed.
	original string
}

func (StringValue) value() {}

// ParseString reads a Sigma string literal. Unescaped '*' and '?' become
// wildcards; "\*", "\?" and "\\" are literal characters and any other
// backslash is kept as-is.
func ParseString(s string) StringValue {
	var sv StringValue
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			sv = sv.appendText(text.String())
			text.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			if i+1 < len(s) && (s[i+1] == '*' || s[i+1] == '?' || s[i+1] == '\\') {
				text.WriteByte(s[i+1])
				i++
				continue
			}
			text.WriteByte(c)
		case '*':
			flush()
			sv.parts = append(sv.parts, stringPart{special: WildcardMulti})
		case '?':
			flush()
			sv.parts = append(sv.parts, stringPart{special: WildcardSingle})
		default:
			text.WriteByte(c)
		}
	}
	flush()
	sv.original = s
	return sv
}

// PlainString builds a StringValue with no wildcards.
func PlainString(s string) StringValue {
	return StringValue{}.appendText(s)
}

func (s StringValue) appendText(t string) StringValue {
	if t == "" {
		return s
	}
	parts := make([]stringPart, len(s.parts), len(s.parts)+1)
	copy(parts, s.parts)
	if n := len(parts); n > 0 && parts[n-1].special == 0 {
		parts[n-1].text += t
	} else {
		parts = append(parts, stringPart{text: t})
	}
	return StringValue{parts: parts}
}

// Concat returns s followed by other.
func (s StringValue) Concat(other StringValue) StringValue {
	out := StringValue{parts: append([]stringPart(nil), s.parts...)}
	for _, p := range other.parts {
		if p.special != 0 {
			out.parts = append(out.parts, p)
			continue
		}
		out = out.appendText(p.text)
	}
	return out
}

// Prepend returns the value with sc added in front.
func (s StringValue) Prepend(sc SpecialChar) StringValue {
	return StringValue{parts: []stringPart{{special: sc}}}.Concat(s)
}

// Append returns the value with sc added at the end.
func (s StringValue) Append(sc SpecialChar) StringValue {
	return s.Concat(StringValue{parts: []stringPart{{special: sc}}})
}

func (s StringValue) IsEmpty() bool { return len(s.parts) == 0 }

// Equal reports whether both values describe the same pattern.
func (s StringValue) Equal(other StringValue) bool {
	if len(s.parts) != len(other.parts) {
		return false
	}
	for i := range s.parts {
		if s.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Original returns the literal as written in the rule, or the Sigma
// notation of the value when it was built or transformed in code.
func (s StringValue) Original() string {
	if s.original != "" {
		return s.original
	}
	return s.String()
}

func (s StringValue) ContainsSpecial() bool {
	for _, p := range s.parts {
		if p.special != 0 {
			return true
		}
	}
	return false
}

func (s StringValue) StartsWith(sc SpecialChar) bool {
	return len(s.parts) > 0 && s.parts[0].special == sc
}

func (s StringValue) EndsWith(sc SpecialChar) bool {
	return len(s.parts) > 0 && s.parts[len(s.parts)-1].special == sc
}

// Plain returns the literal text with wildcards rendered as '*' and '?'.
func (s StringValue) Plain() string {
	var b strings.Builder
	for _, p := range s.parts {
		if p.special != 0 {
			b.WriteString(p.special.String())
		} else {
			b.WriteString(p.text)
		}
	}
	return b.String()
}

// String renders the value back in Sigma notation; ParseString of the
// result yields an equal value.
func (s StringValue) String() string {
	var b strings.Builder
	for _, p := range s.parts {
		if p.special != 0 {
			b.WriteString(p.special.String())
			continue
		}
		for i := 0; i < len(p.text); i++ {
			switch c := p.text[i]; c {
			case '*', '?', '\\':
				b.WriteByte('\\')
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// Literals returns the text parts in order.
func (s StringValue) Literals() []string {
	var out []string
	for _, p := range s.parts {
		if p.special == 0 {
			out = append(out, p.text)
		}
	}
	return out
}

// MapText applies fn to every text part, keeping wildcards in place.
func (s StringValue) MapText(fn func(string) string) StringValue {
	var out StringValue
	for _, p := range s.parts {
		if p.special != 0 {
			out.parts = append(out.parts, p)
			continue
		}
		out = out.appendText(fn(p.text))
	}
	return out
}

// Convert renders the value for a target query language. Characters found in
// addEscaped and escapeChar itself are prefixed with escapeChar, characters in
// filterChars are dropped and wildcards are replaced by the given tokens.
func (s StringValue) Convert(escapeChar, wildcardMulti, wildcardSingle, addEscaped, filterChars string) string {
	var b strings.Builder
	for _, p := range s.parts {
		switch p.special {
		case WildcardMulti:
			b.WriteString(wildcardMulti)
			continue
		case WildcardSingle:
			b.WriteString(wildcardSingle)
			continue
		}
		for _, r := range p.text {
			if strings.ContainsRune(filterChars, r) {
				continue
			}
			if (escapeChar != "" && string(r) == escapeChar) || strings.ContainsRune(addEscaped, r) {
				b.WriteString(escapeChar)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
