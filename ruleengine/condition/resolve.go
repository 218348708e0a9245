package condition

import (
	"path"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// Resolver gives the parser access to a rule's named detections.
type Resolver interface {
	// DetectionNames returns the detection names in declaration order.
	DetectionNames() []string
	// ResolveDetection returns the condition tree of one detection.
	ResolveDetection(name string) (ruleengine.Node, error)
}

// Resolve turns the parse tree into a condition tree using r.
func (c *Condition) Resolve(r Resolver) (ruleengine.Node, error) {
	return ResolveAst(c.Ast, r)
}

// ResolveAst resolves identifiers and selectors in ast against r.
func ResolveAst(ast *ConditionAst, r Resolver) (ruleengine.Node, error) {
	switch ast.Kind {
	case AstIdentifier:
		node, err := r.ResolveDetection(ast.Name)
		if err != nil {
			return nil, err
		}
		return node, nil

	case AstAnd, AstOr:
		var args []ruleengine.Node
		for _, operand := range flattenChain(ast, ast.Kind, nil) {
			n, err := ResolveAst(operand, r)
			if err != nil {
				return nil, err
			}
			args = append(args, n)
		}
		if ast.Kind == AstAnd {
			return ruleengine.And{Args: args}, nil
		}
		return ruleengine.Or{Args: args}, nil

	case AstNot:
		n, err := ResolveAst(ast.Operand, r)
		if err != nil {
			return nil, err
		}
		return ruleengine.Not{Arg: n}, nil

	case AstOneOfPattern, AstAllOfPattern, AstOneOfThem, AstAllOfThem:
		return resolveSelector(ast, r)

	default:
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "unknown condition node %d", int(ast.Kind))
	}
}

// flattenChain collects the operands of a left-leaning chain of the same
// binary operator, so "a and b and c" resolves to one three-way And.
func flattenChain(ast *ConditionAst, kind AstKind, out []*ConditionAst) []*ConditionAst {
	if ast.Kind != kind {
		return append(out, ast)
	}
	out = flattenChain(ast.Left, kind, out)
	return flattenChain(ast.Right, kind, out)
}

func resolveSelector(ast *ConditionAst, r Resolver) (ruleengine.Node, error) {
	them := ast.Kind == AstOneOfThem || ast.Kind == AstAllOfThem
	names, err := MatchDetections(r.DetectionNames(), ast.Pattern, them)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if them {
			return nil, ruleengine.NewError(ruleengine.ErrCondition, "no detections to match 'them'")
		}
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "pattern %q matches no detection", ast.Pattern)
	}
	nodes := make([]ruleengine.Node, 0, len(names))
	for _, n := range names {
		node, err := r.ResolveDetection(n)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if ast.Kind == AstAllOfPattern || ast.Kind == AstAllOfThem {
		return ruleengine.Combine(ruleengine.LinkAnd, nodes...), nil
	}
	return ruleengine.Combine(ruleengine.LinkOr, nodes...), nil
}

// MatchDetections returns the names matching the glob pattern, in order.
// With them set every name not starting with '_' matches.
func MatchDetections(names []string, pattern string, them bool) ([]string, error) {
	var out []string
	for _, n := range names {
		if them {
			if !strings.HasPrefix(n, "_") {
				out = append(out, n)
			}
			continue
		}
		ok, err := path.Match(pattern, n)
		if err != nil {
			return nil, ruleengine.NewError(ruleengine.ErrCondition, "malformed pattern %q: %v", pattern, err)
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}
