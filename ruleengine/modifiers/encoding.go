package modifiers

import (
	"bytes"
	"encoding/base64"
	"unicode/utf16"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// RegisterEncodingModifiers adds base64, base64offset and the UTF-16 family.
func RegisterEncodingModifiers(reg Registry) {
	reg["base64"] = func() Modifier { return Modifier{Name: "base64", Value: base64Encode} }
	reg["base64offset"] = func() Modifier { return Modifier{Name: "base64offset", Value: base64Offset} }

	reg["wide"] = func() Modifier { return Modifier{Name: "wide", Value: utf16Encode("wide", false, false)} }
	reg["utf16le"] = reg["wide"] // alias
	reg["utf16be"] = func() Modifier { return Modifier{Name: "utf16be", Value: utf16Encode("utf16be", true, false)} }
	reg["utf16"] = func() Modifier { return Modifier{Name: "utf16", Value: utf16Encode("utf16", false, true)} }
}

// plainBytes returns the literal bytes of a wildcard-free string.
func plainBytes(name string, v ruleengine.Value) ([]byte, error) {
	s, ok := v.(ruleengine.StringValue)
	if !ok {
		return nil, typeError(name, v)
	}
	if s.ContainsSpecial() {
		return nil, ruleengine.NewError(ruleengine.ErrValue, "modifier %s does not support wildcards in %q", name, s.String())
	}
	return []byte(s.Plain()), nil
}

func base64Encode(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	b, err := plainBytes("base64", v)
	if err != nil {
		return nil, err
	}
	return ruleengine.PlainString(base64.StdEncoding.EncodeToString(b)), nil
}

var (
	offsetStarts = [3]int{0, 2, 3}
	// trailing characters to drop, indexed by (len+shift)%3
	offsetEnds = [3]int{0, 3, 2}
)

// base64Offset encodes the value at the three possible byte alignments and
// keeps only the characters that do not depend on surrounding bytes.
func base64Offset(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
	b, err := plainBytes("base64offset", v)
	if err != nil {
		return nil, err
	}
	alts := make([]ruleengine.Value, 0, 3)
	for shift := 0; shift < 3; shift++ {
		buf := append(bytes.Repeat([]byte(" "), shift), b...)
		enc := base64.StdEncoding.EncodeToString(buf)
		start := offsetStarts[shift]
		end := len(enc) - offsetEnds[(len(b)+shift)%3]
		if end < start {
			end = start
		}
		alts = append(alts, ruleengine.PlainString(enc[start:end]))
	}
	return ruleengine.NewExpansion(alts...), nil
}

// utf16Encode re-encodes the literal parts of a string as UTF-16 bytes,
// keeping wildcards in place.
func utf16Encode(name string, bigEndian, bom bool) ValueFn {
	return func(ctx Context, v ruleengine.Value) (ruleengine.Value, error) {
		s, ok := v.(ruleengine.StringValue)
		if !ok {
			return nil, typeError(name, v)
		}
		out := s.MapText(func(text string) string {
			return encodeUTF16(text, bigEndian)
		})
		if bom {
			out = ruleengine.PlainString("\xff\xfe").Concat(out)
		}
		return out, nil
	}
}

func encodeUTF16(text string, bigEndian bool) string {
	units := utf16.Encode([]rune(text))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		if bigEndian {
			buf = append(buf, byte(u>>8), byte(u))
		} else {
			buf = append(buf, byte(u), byte(u>>8))
		}
	}
	return string(buf)
}
