// Package condition parses Sigma condition expressions and resolves them
// against a rule's named detections.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

type TokenKind int

const (
	TokIdentifier TokenKind = iota
	TokAnd
	TokOr
	TokNot
	TokLeftParen
	TokRightParen
	TokOf
	TokThem
	TokAll
	TokAny
	TokNumber
	TokWildcard
	TokPipe
	TokBy
	TokComma
	TokCompare
)

func (k TokenKind) String() string {
	switch k {
	case TokIdentifier:
		return "identifier"
	case TokAnd:
		return "and"
	case TokOr:
		return "or"
	case TokNot:
		return "not"
	case TokLeftParen:
		return "("
	case TokRightParen:
		return ")"
	case TokOf:
		return "of"
	case TokThem:
		return "them"
	case TokAll:
		return "all"
	case TokAny:
		return "any"
	case TokNumber:
		return "number"
	case TokWildcard:
		return "pattern"
	case TokPipe:
		return "|"
	case TokBy:
		return "by"
	case TokComma:
		return ","
	case TokCompare:
		return "comparison"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

type Token struct {
	Kind   TokenKind
	Text   string  // identifier, pattern, number or comparison text
	Number float64 // for TokNumber
	Pos    int
}

func (t Token) String() string {
	if t.Text != "" {
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	}
	return t.Kind.String()
}

var keywords = map[string]TokenKind{
	"and":  TokAnd,
	"or":   TokOr,
	"not":  TokNot,
	"of":   TokOf,
	"them": TokThem,
	"all":  TokAll,
	"any":  TokAny,
	"by":   TokBy,
}

// TokenizeCondition splits a condition into tokens. Keywords are matched
// case-insensitively.
func TokenizeCondition(cond string) ([]Token, error) {
	toks := make([]Token, 0, 8)
	i := 0
	n := len(cond)

	for i < n {
		ch := cond[i]
		switch ch {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		case '(':
			toks = append(toks, Token{Kind: TokLeftParen, Pos: i})
			i++
			continue
		case ')':
			toks = append(toks, Token{Kind: TokRightParen, Pos: i})
			i++
			continue
		case '|':
			toks = append(toks, Token{Kind: TokPipe, Pos: i})
			i++
			continue
		case ',':
			toks = append(toks, Token{Kind: TokComma, Pos: i})
			i++
			continue
		case '>', '<', '=', '!':
			start := i
			i++
			if i < n && cond[i] == '=' {
				i++
			}
			op := cond[start:i]
			if op == "!" {
				return nil, ruleengine.NewError(ruleengine.ErrCondition, "unexpected character '!' at %d in %q", start, cond)
			}
			if op == "==" {
				op = "="
			}
			toks = append(toks, Token{Kind: TokCompare, Text: op, Pos: start})
			continue
		}

		if !isWordChar(ch) {
			return nil, ruleengine.NewError(ruleengine.ErrCondition, "unexpected character '%c' at %d in %q", ch, i, cond)
		}
		start := i
		for i < n && isWordChar(cond[i]) {
			i++
		}
		word := cond[start:i]

		if kind, ok := keywords[strings.ToLower(word)]; ok {
			toks = append(toks, Token{Kind: kind, Pos: start})
			continue
		}
		if num, ok := parseNumber(word); ok {
			toks = append(toks, Token{Kind: TokNumber, Text: word, Number: num, Pos: start})
			continue
		}
		if strings.ContainsAny(word, "*?") {
			toks = append(toks, Token{Kind: TokWildcard, Text: word, Pos: start})
			continue
		}
		toks = append(toks, Token{Kind: TokIdentifier, Text: word, Pos: start})
	}

	return toks, nil
}

func isWordChar(c byte) bool {
	r := rune(c)
	return c == '_' || c == '-' || c == '*' || c == '?' || c == '.' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') ||
		r >= unicode.MaxASCII
}

func parseNumber(word string) (float64, bool) {
	if word == "" || word[0] < '0' || word[0] > '9' {
		return 0, false
	}
	f, err := strconv.ParseFloat(word, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
