package condition

import (
	"fmt"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

type AstKind int

const (
	AstIdentifier AstKind = iota
	AstAnd
	AstOr
	AstNot
	AstOneOfPattern
	AstAllOfPattern
	AstOneOfThem
	AstAllOfThem
)

// ConditionAst is the unresolved parse tree of a condition.
type ConditionAst struct {
	Kind AstKind

	// Identifier
	Name string

	// Binary
	Left, Right *ConditionAst

	// Unary
	Operand *ConditionAst

	// Selector
	Pattern string
}

// Aggregation is the clause following '|' in a condition, e.g.
// "count(User) by Host > 5".
type Aggregation struct {
	Function  string
	Field     string
	GroupBy   string
	Operator  string
	Threshold float64
}

// Condition is a parsed condition expression.
type Condition struct {
	Text        string
	Ast         *ConditionAst
	Aggregation *Aggregation
}

type ConditionParser struct {
	tokens []Token
	pos    int
	text   string
}

func NewConditionParser(tokens []Token, text string) *ConditionParser {
	return &ConditionParser{tokens: tokens, text: text}
}

func (p *ConditionParser) current() *Token {
	if p.pos >= 0 && p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *ConditionParser) peekKind(offset int) (TokenKind, bool) {
	i := p.pos + offset
	if i < 0 || i >= len(p.tokens) {
		return 0, false
	}
	return p.tokens[i].Kind, true
}

// isName reports whether t can name a detection or field. Numeric words
// such as "42" or "1e5" are valid names outside quantifier position.
func isName(t *Token) bool {
	return t != nil && (t.Kind == TokIdentifier || t.Kind == TokNumber)
}

func (p *ConditionParser) advance() *Token {
	tok := p.current()
	if tok != nil {
		p.pos++
	}
	return tok
}

func (p *ConditionParser) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.text == "" {
		return ruleengine.NewError(ruleengine.ErrCondition, "%s", msg)
	}
	return ruleengine.NewError(ruleengine.ErrCondition, "%s in %q", msg, p.text)
}

// ParseCondition tokenizes and parses a full condition, including an
// optional aggregation clause.
func ParseCondition(text string) (*Condition, error) {
	tokens, err := TokenizeCondition(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "empty condition")
	}
	p := NewConditionParser(tokens, text)
	ast, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}
	cond := &Condition{Text: text, Ast: ast}
	if t := p.current(); t != nil && t.Kind == TokPipe {
		p.advance()
		agg, err := p.parseAggregation()
		if err != nil {
			return nil, err
		}
		cond.Aggregation = agg
	}
	if t := p.current(); t != nil {
		return nil, p.errorf("unexpected %s at %d", t, t.Pos)
	}
	return cond, nil
}

// or binds loosest
func (p *ConditionParser) parseOrExpression() (*ConditionAst, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}
	for {
		if t := p.current(); t != nil && t.Kind == TokOr {
			p.advance()
			right, err := p.parseAndExpression()
			if err != nil {
				return nil, err
			}
			left = &ConditionAst{Kind: AstOr, Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

func (p *ConditionParser) parseAndExpression() (*ConditionAst, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}
	for {
		if t := p.current(); t != nil && t.Kind == TokAnd {
			p.advance()
			right, err := p.parseNotExpression()
			if err != nil {
				return nil, err
			}
			left = &ConditionAst{Kind: AstAnd, Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

// not binds tightest
func (p *ConditionParser) parseNotExpression() (*ConditionAst, error) {
	if t := p.current(); t != nil && t.Kind == TokNot {
		p.advance()
		operand, err := p.parseNotExpression()
		if err != nil {
			return nil, err
		}
		return &ConditionAst{Kind: AstNot, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *ConditionParser) parsePrimary() (*ConditionAst, error) {
	t := p.current()
	if t == nil {
		return nil, p.errorf("unexpected end of condition")
	}

	switch t.Kind {
	case TokLeftParen:
		p.advance()
		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		if r := p.current(); r == nil || r.Kind != TokRightParen {
			return nil, p.errorf("expected closing parenthesis")
		}
		p.advance()
		return expr, nil

	case TokIdentifier:
		p.advance()
		return &ConditionAst{Kind: AstIdentifier, Name: t.Text}, nil

	case TokNumber:
		if kind, ok := p.peekKind(1); !ok || kind != TokOf {
			p.advance()
			return &ConditionAst{Kind: AstIdentifier, Name: t.Text}, nil
		}
		if t.Text != "1" {
			return nil, p.errorf("unsupported quantifier %q, expected 1, any or all", t.Text)
		}
		p.advance()
		return p.parseSelector(false)

	case TokAny:
		p.advance()
		return p.parseSelector(false)

	case TokAll:
		p.advance()
		return p.parseSelector(true)

	default:
		return nil, p.errorf("unexpected %s at %d", t, t.Pos)
	}
}

// parseSelector parses the "of <pattern|them>" tail of a quantifier.
func (p *ConditionParser) parseSelector(all bool) (*ConditionAst, error) {
	if r := p.current(); r == nil || r.Kind != TokOf {
		return nil, p.errorf("expected 'of' after quantifier")
	}
	p.advance()
	r := p.current()
	if r == nil {
		return nil, p.errorf("expected 'them' or pattern after 'of'")
	}
	switch r.Kind {
	case TokThem:
		p.advance()
		if all {
			return &ConditionAst{Kind: AstAllOfThem}, nil
		}
		return &ConditionAst{Kind: AstOneOfThem}, nil
	case TokWildcard, TokIdentifier, TokNumber:
		p.advance()
		if all {
			return &ConditionAst{Kind: AstAllOfPattern, Pattern: r.Text}, nil
		}
		return &ConditionAst{Kind: AstOneOfPattern, Pattern: r.Text}, nil
	default:
		return nil, p.errorf("expected 'them' or pattern after 'of'")
	}
}

// parseAggregation parses "func([field]) [by group] op threshold".
func (p *ConditionParser) parseAggregation() (*Aggregation, error) {
	t := p.advance()
	if t == nil || t.Kind != TokIdentifier {
		return nil, p.errorf("expected aggregation function name")
	}
	agg := &Aggregation{Function: strings.ToLower(t.Text)}

	if r := p.current(); r != nil && r.Kind == TokLeftParen {
		p.advance()
		if f := p.current(); isName(f) {
			agg.Field = f.Text
			p.advance()
		}
		if r := p.current(); r == nil || r.Kind != TokRightParen {
			return nil, p.errorf("expected closing parenthesis in aggregation")
		}
		p.advance()
	}

	if r := p.current(); r != nil && r.Kind == TokBy {
		p.advance()
		g := p.current()
		if !isName(g) {
			return nil, p.errorf("expected group-by field after 'by'")
		}
		agg.GroupBy = g.Text
		p.advance()
	}

	op := p.current()
	if op == nil || op.Kind != TokCompare {
		return nil, p.errorf("expected comparison operator in aggregation")
	}
	agg.Operator = op.Text
	p.advance()

	num := p.current()
	if num == nil || num.Kind != TokNumber {
		return nil, p.errorf("expected numeric threshold in aggregation")
	}
	agg.Threshold = num.Number
	p.advance()
	return agg, nil
}

// ParseTokens parses a token list without an aggregation clause.
func ParseTokens(tokens []Token) (*ConditionAst, error) {
	if len(tokens) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "empty condition")
	}
	p := NewConditionParser(tokens, "")
	ast, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}
	if t := p.current(); t != nil {
		return nil, p.errorf("unexpected %s at %d", t, t.Pos)
	}
	return ast, nil
}
