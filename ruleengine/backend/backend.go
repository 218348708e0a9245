// Package backend renders resolved condition trees as OpenSearch
// query_string queries.
package backend

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

// FieldType is the kind of index field a leaf needs.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeLong    FieldType = "long"
	TypeDouble  FieldType = "double"
	TypeBoolean FieldType = "boolean"
	TypeIP      FieldType = "ip"
	// TypeAny is recorded for null and existence checks.
	TypeAny FieldType = "any"
)

// FieldUsage describes how a rule uses one backend field.
type FieldUsage struct {
	Type FieldType `json:"type"`
	// Count is the number of leaves referencing the field.
	Count int `json:"count"`
}

// Query is the rendering of one rule condition.
type Query struct {
	Condition   string            `json:"condition"`
	Query       string            `json:"query"`
	Aggregation *AggregationQuery `json:"aggregation,omitempty"`
}

// Result is the output of compiling one rule.
type Result struct {
	Rule    string                `json:"rule"`
	Title   string                `json:"title,omitempty"`
	Level   string                `json:"level,omitempty"`
	Queries []Query               `json:"queries"`
	Fields  map[string]FieldUsage `json:"fields"`
	Errors  []error               `json:"-"`
}

// ErrorStrings returns the messages of Errors.
func (r *Result) ErrorStrings() []string {
	out := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		out[i] = err.Error()
	}
	return out
}

// QueryBackend compiles rules. It holds no per-rule state and is safe for
// concurrent use.
type QueryBackend struct {
	cfg     ruleengine.BackendConfig
	mapping FieldMapping
	logger  *zap.Logger
}

// NewQueryBackend returns a backend with an empty field mapping.
func NewQueryBackend(cfg ruleengine.BackendConfig) *QueryBackend {
	return &QueryBackend{
		cfg:     cfg,
		mapping: NewFieldMapping(),
		logger:  zap.NewNop(),
	}
}

func (b *QueryBackend) WithFieldMapping(fm FieldMapping) *QueryBackend {
	b.mapping = fm
	return b
}

func (b *QueryBackend) WithLogger(logger *zap.Logger) *QueryBackend {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *QueryBackend) Config() ruleengine.BackendConfig {
	return b.cfg
}

// ConvertRule compiles every condition of r in declaration order. With
// CollectErrors set, failures are recorded on the result and the remaining
// conditions are still compiled; otherwise the first failure is returned.
func (b *QueryBackend) ConvertRule(r *rule.Rule) (*Result, error) {
	res := &Result{
		Rule:   r.Reference(),
		Title:  r.Title,
		Level:  r.Level,
		Fields: map[string]FieldUsage{},
	}
	fail := func(err error) bool {
		res.Errors = append(res.Errors, ruleengine.WithRule(err, r.Reference()))
		return !b.cfg.CollectErrors
	}

	for _, err := range r.Errors {
		if fail(err) {
			return nil, res.Errors[0]
		}
	}
	if r.Detections == nil {
		if len(r.Errors) == 0 && fail(ruleengine.NewError(ruleengine.ErrDetection, "rule has no detections")) {
			return nil, res.Errors[0]
		}
		return res, nil
	}

	parsed, err := r.Detections.ParsedConditions()
	if err != nil {
		if fail(err) {
			return nil, res.Errors[0]
		}
		return res, nil
	}

	for _, pc := range parsed {
		q, fields, err := b.convertParsed(pc, r.Detections.Timeframe)
		if err != nil {
			if fail(inCondition(err, pc.Text)) {
				return nil, res.Errors[0]
			}
			continue
		}
		res.Queries = append(res.Queries, q)
		mergeFields(res.Fields, fields)
	}

	b.logger.Debug("rule converted",
		zap.String("rule", res.Rule),
		zap.Int("queries", len(res.Queries)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (b *QueryBackend) convertParsed(pc rule.ParsedCondition, timeframe time.Duration) (Query, map[string]FieldUsage, error) {
	text, fields, err := b.ConvertCondition(pc.Root)
	if err != nil {
		return Query{}, nil, err
	}
	q := Query{Condition: pc.Text, Query: text}
	if pc.Aggregation != nil {
		agg, err := BuildAggregation(*pc.Aggregation, timeframe, b.fieldName)
		if err != nil {
			return Query{}, nil, err
		}
		q.Aggregation = agg
	}
	return q, fields, nil
}

// ConvertCondition renders a single tree and returns the backend fields it
// references.
func (b *QueryBackend) ConvertCondition(root ruleengine.Node) (string, map[string]FieldUsage, error) {
	c := &conversion{cfg: b.cfg, fieldName: b.fieldName, fields: map[string]FieldUsage{}}
	tree := expandAlternatives(root)
	if b.cfg.ApplyDeMorgans {
		tree = pushNegation(tree, false)
	}
	text, _, err := c.convert(tree, false)
	if err != nil {
		return "", nil, err
	}
	return text, c.fields, nil
}

func (b *QueryBackend) fieldName(field string) string {
	if b.cfg.EnableFieldMappings {
		return b.mapping.NormalizeField(field)
	}
	return field
}

// inCondition prefixes the message of a compile error with the condition
// it came from.
func inCondition(err error, text string) error {
	if re, ok := err.(*ruleengine.Error); ok {
		cp := *re
		cp.Msg = fmt.Sprintf("condition %q: %s", text, cp.Msg)
		return &cp
	}
	return fmt.Errorf("condition %q: %w", text, err)
}

func mergeFields(dst, src map[string]FieldUsage) {
	for name, u := range src {
		cur, ok := dst[name]
		if !ok {
			dst[name] = u
			continue
		}
		cur.Count += u.Count
		if cur.Type == TypeAny {
			cur.Type = u.Type
		}
		dst[name] = cur
	}
}

// expandAlternatives replaces leaves holding an Expansion with an Or of one
// leaf per alternative.
func expandAlternatives(n ruleengine.Node) ruleengine.Node {
	switch t := n.(type) {
	case ruleengine.And:
		return ruleengine.And{Args: expandAll(t.Args)}
	case ruleengine.Or:
		return ruleengine.Or{Args: expandAll(t.Args)}
	case ruleengine.Not:
		return ruleengine.Not{Arg: expandAlternatives(t.Arg)}
	case ruleengine.FieldEquals:
		if exp, ok := t.Value.(ruleengine.ExpansionValue); ok && len(exp.Values) > 0 {
			leaves := make([]ruleengine.Node, len(exp.Values))
			for i, v := range exp.Values {
				leaves[i] = ruleengine.FieldEquals{Field: t.Field, Value: v}
			}
			return ruleengine.Combine(ruleengine.LinkOr, leaves...)
		}
	case ruleengine.UnboundValue:
		if exp, ok := t.Value.(ruleengine.ExpansionValue); ok && len(exp.Values) > 0 {
			leaves := make([]ruleengine.Node, len(exp.Values))
			for i, v := range exp.Values {
				leaves[i] = ruleengine.UnboundValue{Value: v}
			}
			return ruleengine.Combine(ruleengine.LinkOr, leaves...)
		}
	}
	return n
}

func expandAll(nodes []ruleengine.Node) []ruleengine.Node {
	out := make([]ruleengine.Node, len(nodes))
	for i, n := range nodes {
		out[i] = expandAlternatives(n)
	}
	return out
}

// pushNegation moves every Not down to the leaves using De Morgan's laws.
// Double negations cancel.
func pushNegation(n ruleengine.Node, negate bool) ruleengine.Node {
	switch t := n.(type) {
	case ruleengine.Not:
		return pushNegation(t.Arg, !negate)
	case ruleengine.And:
		args := make([]ruleengine.Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = pushNegation(a, negate)
		}
		if negate {
			return ruleengine.Or{Args: args}
		}
		return ruleengine.And{Args: args}
	case ruleengine.Or:
		args := make([]ruleengine.Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = pushNegation(a, negate)
		}
		if negate {
			return ruleengine.And{Args: args}
		}
		return ruleengine.Or{Args: args}
	default:
		if negate {
			return ruleengine.Not{Arg: n}
		}
		return n
	}
}

// Binding strength of rendered expressions, loosest first.
const (
	precOr = iota + 1
	precAnd
	precNot
	precAtom
)

// conversion renders one tree and accumulates the fields it touches.
type conversion struct {
	cfg       ruleengine.BackendConfig
	fieldName func(string) string
	fields    map[string]FieldUsage
}

// convert renders n and reports how tightly the rendering binds. negated is
// true below an odd number of Not nodes.
func (c *conversion) convert(n ruleengine.Node, negated bool) (string, int, error) {
	switch t := n.(type) {
	case ruleengine.And:
		return c.convertGroup(t.Args, ruleengine.LinkAnd, negated)
	case ruleengine.Or:
		return c.convertGroup(t.Args, ruleengine.LinkOr, negated)
	case ruleengine.Not:
		return c.convertNot(t, negated)
	case ruleengine.FieldEquals:
		return c.convertFieldEquals(t, negated)
	case ruleengine.UnboundValue:
		s, err := c.convertUnbound(t, false)
		return s, precAtom, err
	case nil:
		return "", 0, ruleengine.NewError(ruleengine.ErrCondition, "empty condition tree")
	default:
		return "", 0, ruleengine.NewError(ruleengine.ErrCondition, "unexpected node %T", n)
	}
}

func (c *conversion) group(s string) string {
	return fmt.Sprintf(c.cfg.GroupExpression, s)
}

func (c *conversion) token(tok string) string {
	return c.cfg.TokenSeparator + tok + c.cfg.TokenSeparator
}

func (c *conversion) convertGroup(args []ruleengine.Node, linking ruleengine.Linking, negated bool) (string, int, error) {
	if len(args) == 0 {
		return "", 0, ruleengine.NewError(ruleengine.ErrCondition, "empty %s expression", linking)
	}
	if field, values, ok := c.inExpression(args, linking); ok {
		s, err := c.renderIn(field, values, linking)
		if err != nil {
			return "", 0, err
		}
		s, prec := c.widen(s, c.fieldName(field), negated)
		return s, prec, nil
	}
	if len(args) == 1 {
		return c.convert(args[0], negated)
	}

	parent, tok := precOr, c.cfg.OrToken
	if linking == ruleengine.LinkAnd {
		parent, tok = precAnd, c.cfg.AndToken
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		s, prec, err := c.convert(a, negated)
		if err != nil {
			return "", 0, err
		}
		if prec < parent {
			s = c.group(s)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, c.token(tok)), parent, nil
}

// convertNot renders NOT over its argument. Leaves and list tests negated
// an odd number of times carry an existence guard.
func (c *conversion) convertNot(n ruleengine.Not, negated bool) (string, int, error) {
	inner := !negated
	guard := inner && c.cfg.AppendExistsGuard
	switch arg := n.Arg.(type) {
	case ruleengine.FieldEquals:
		return c.negateFieldEquals(arg, guard)
	case ruleengine.UnboundValue:
		s, err := c.convertUnbound(arg, true)
		return s, precNot, err
	case ruleengine.And:
		if field, values, ok := c.inExpression(arg.Args, ruleengine.LinkAnd); ok {
			return c.negatedIn(field, values, ruleengine.LinkAnd, guard)
		}
	case ruleengine.Or:
		if field, values, ok := c.inExpression(arg.Args, ruleengine.LinkOr); ok {
			return c.negatedIn(field, values, ruleengine.LinkOr, guard)
		}
	}
	s, prec, err := c.convert(n.Arg, inner)
	if err != nil {
		return "", 0, err
	}
	if prec < precNot {
		s = c.group(s)
	}
	return c.cfg.NotToken + c.cfg.TokenSeparator + s, precNot, nil
}

func (c *conversion) negate(expr, field string, guard bool) (string, int) {
	out := c.cfg.NotToken + c.cfg.TokenSeparator + expr
	if !guard {
		return out, precNot
	}
	return out + c.token(c.cfg.AndToken) + fmt.Sprintf(c.cfg.ExistsExpression, field), precAnd
}

// widen renders an atom that an enclosing NOT will negate. With the guard
// enabled a missing field satisfies the atom, so the negation only matches
// documents holding the field.
func (c *conversion) widen(expr, field string, negated bool) (string, int) {
	if !negated || !c.cfg.AppendExistsGuard {
		return expr, precAtom
	}
	return expr + c.token(c.cfg.OrToken) + fmt.Sprintf(c.cfg.NullExpression, field), precOr
}

// inExpression reports whether args can be rendered as one list membership
// test: at least two string or number equalities on the same field, with the
// rewrite enabled for linking.
func (c *conversion) inExpression(args []ruleengine.Node, linking ruleengine.Linking) (string, []ruleengine.Value, bool) {
	enabled := c.cfg.ConvertOrAsIn
	if linking == ruleengine.LinkAnd {
		enabled = c.cfg.ConvertAndAsIn
	}
	if !enabled || len(args) < 2 || c.cfg.InExpression == "" {
		return "", nil, false
	}
	var field string
	values := make([]ruleengine.Value, 0, len(args))
	for i, a := range args {
		fe, ok := a.(ruleengine.FieldEquals)
		if !ok {
			return "", nil, false
		}
		switch fe.Value.(type) {
		case ruleengine.StringValue, ruleengine.NumberValue:
		default:
			return "", nil, false
		}
		if i == 0 {
			field = fe.Field
		} else if fe.Field != field {
			return "", nil, false
		}
		values = append(values, fe.Value)
	}
	return field, values, true
}

// renderIn renders values as one field group joined by the linking token.
func (c *conversion) renderIn(field string, values []ruleengine.Value, linking ruleengine.Linking) (string, error) {
	name := c.fieldName(field)
	rendered := make([]string, len(values))
	for i, v := range values {
		s, typ, err := c.scalar(v)
		if err != nil {
			return "", err
		}
		c.use(name, typ)
		rendered[i] = s
	}
	tok := c.cfg.OrToken
	if linking == ruleengine.LinkAnd {
		tok = c.cfg.AndToken
	}
	return fmt.Sprintf(c.cfg.InExpression, name, strings.Join(rendered, c.token(tok))), nil
}

func (c *conversion) negatedIn(field string, values []ruleengine.Value, linking ruleengine.Linking, guard bool) (string, int, error) {
	s, err := c.renderIn(field, values, linking)
	if err != nil {
		return "", 0, err
	}
	s, prec := c.negate(s, c.fieldName(field), guard)
	return s, prec, nil
}

func (c *conversion) use(field string, typ FieldType) {
	u := c.fields[field]
	u.Count++
	if u.Type == "" || u.Type == TypeAny {
		u.Type = typ
	}
	c.fields[field] = u
}

// scalar renders strings and numbers as query literals.
func (c *conversion) scalar(v ruleengine.Value) (string, FieldType, error) {
	switch t := v.(type) {
	case ruleengine.StringValue:
		if t.ContainsSpecial() {
			return t.Convert(c.cfg.EscapeChar, c.cfg.WildcardMulti, c.cfg.WildcardSingle, c.cfg.UnquotedEscaped, c.cfg.FilterChars), TypeText, nil
		}
		quoted := t.Convert(c.cfg.EscapeChar, c.cfg.WildcardMulti, c.cfg.WildcardSingle, c.cfg.QuotedEscaped, c.cfg.FilterChars)
		return c.cfg.StrQuote + quoted + c.cfg.StrQuote, TypeText, nil
	case ruleengine.NumberValue:
		if t.IsFloat {
			return t.String(), TypeDouble, nil
		}
		return t.String(), TypeLong, nil
	}
	return "", "", ruleengine.NewError(ruleengine.ErrValue, "%T is not a scalar value", v)
}

// existence renders null and exists checks, which never take a guard.
func (c *conversion) existence(field string, v ruleengine.Value, negated bool) (string, int, bool) {
	var present bool
	switch t := v.(type) {
	case ruleengine.NullValue:
		present = false
	case ruleengine.ExistsValue:
		present = t.Exists
	default:
		return "", 0, false
	}
	c.use(field, TypeAny)
	if present != negated {
		return fmt.Sprintf(c.cfg.ExistsExpression, field), precAtom, true
	}
	return fmt.Sprintf(c.cfg.NullExpression, field), precNot, true
}

func (c *conversion) convertFieldEquals(n ruleengine.FieldEquals, negated bool) (string, int, error) {
	field := c.fieldName(n.Field)
	if s, prec, ok := c.existence(field, n.Value, false); ok {
		return s, prec, nil
	}
	expr, err := c.valueExpr(field, n)
	if err != nil {
		return "", 0, err
	}
	s, prec := c.widen(expr, field, negated)
	return s, prec, nil
}

func (c *conversion) negateFieldEquals(n ruleengine.FieldEquals, guard bool) (string, int, error) {
	field := c.fieldName(n.Field)
	if s, prec, ok := c.existence(field, n.Value, true); ok {
		return s, prec, nil
	}
	expr, err := c.valueExpr(field, n)
	if err != nil {
		return "", 0, err
	}
	s, prec := c.negate(expr, field, guard)
	return s, prec, nil
}

// valueExpr renders the comparison of field with a non-null value and
// records the field usage.
func (c *conversion) valueExpr(field string, n ruleengine.FieldEquals) (string, error) {
	var expr string
	var typ FieldType
	switch v := n.Value.(type) {
	case ruleengine.StringValue, ruleengine.NumberValue:
		s, t, err := c.scalar(v)
		if err != nil {
			return "", err
		}
		expr, typ = field+c.cfg.EqToken+s, t
	case ruleengine.BoolValue:
		expr, typ = field+c.cfg.EqToken+v.String(), TypeBoolean
	case ruleengine.RegexValue:
		if !c.cfg.SupportsRegex {
			return "", ruleengine.NewError(ruleengine.ErrValue, "regular expressions are not supported by this backend")
		}
		expr, typ = fmt.Sprintf(c.cfg.ReExpression, field, v.Escape(c.cfg.ReEscaped, c.cfg.EscapeChar)), TypeText
	case ruleengine.CIDRValue:
		if !c.cfg.SupportsCIDR {
			return "", ruleengine.NewError(ruleengine.ErrValue, "CIDR values are not supported by this backend")
		}
		expr, typ = fmt.Sprintf(c.cfg.CIDRExpression, field, v.Prefix.String()), TypeIP
	case ruleengine.CompareValue:
		tmpl, ok := c.cfg.CompareRanges[v.Op]
		if !ok {
			return "", ruleengine.NewError(ruleengine.ErrValue, "comparison %s is not supported by this backend", v.Op)
		}
		typ = TypeLong
		if v.Number.IsFloat {
			typ = TypeDouble
		}
		expr = field + c.cfg.EqToken + fmt.Sprintf(tmpl, v.Number.String())
	case ruleengine.ExpansionValue:
		return "", ruleengine.NewError(ruleengine.ErrValue, "empty value expansion for field %q", n.Field)
	default:
		return "", ruleengine.NewError(ruleengine.ErrValue, "unsupported value %T for field %q", n.Value, n.Field)
	}
	c.use(field, typ)
	return expr, nil
}

func (c *conversion) convertUnbound(n ruleengine.UnboundValue, negated bool) (string, error) {
	var lit string
	switch v := n.Value.(type) {
	case ruleengine.StringValue, ruleengine.NumberValue:
		s, _, err := c.scalar(v)
		if err != nil {
			return "", err
		}
		lit = s
	case ruleengine.RegexValue:
		if !c.cfg.SupportsRegex {
			return "", ruleengine.NewError(ruleengine.ErrValue, "regular expressions are not supported by this backend")
		}
		lit = "/" + v.Escape(c.cfg.ReEscaped, c.cfg.EscapeChar) + "/"
	case ruleengine.BoolValue:
		return "", ruleengine.NewError(ruleengine.ErrValue, "boolean value %s needs a field", v)
	case ruleengine.NullValue:
		return "", ruleengine.NewError(ruleengine.ErrCondition, "null value must be bound to a field")
	default:
		return "", ruleengine.NewError(ruleengine.ErrValue, "%T value needs a field", n.Value)
	}

	expr := lit
	if c.cfg.AnyFieldToken != "" {
		expr = c.cfg.AnyFieldToken + c.cfg.EqToken + lit
	}
	if negated {
		return c.cfg.NotToken + c.cfg.TokenSeparator + expr, nil
	}
	return expr, nil
}
