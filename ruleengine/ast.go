package ruleengine

import (
	"strings"
)

// Linking is the boolean operator joining sibling values or detections.
type Linking int

const (
	LinkAnd Linking = iota
	LinkOr
)

func (l Linking) String() string {
	if l == LinkAnd {
		return "and"
	}
	return "or"
}

// Node is a condition tree node: And, Or, Not, FieldEquals or UnboundValue.
type Node interface {
	node()
	String() string
}

type And struct{ Args []Node }

type Or struct{ Args []Node }

type Not struct{ Arg Node }

// FieldEquals asserts that Field matches Value.
type FieldEquals struct {
	Field string
	Value Value
}

// UnboundValue is a keyword match against any field.
type UnboundValue struct{ Value Value }

func (And) node()          {}
func (Or) node()           {}
func (Not) node()          {}
func (FieldEquals) node()  {}
func (UnboundValue) node() {}

func (n And) String() string { return "and(" + joinNodes(n.Args) + ")" }
func (n Or) String() string  { return "or(" + joinNodes(n.Args) + ")" }
func (n Not) String() string { return "not(" + n.Arg.String() + ")" }

func (n FieldEquals) String() string  { return n.Field + "=" + n.Value.String() }
func (n UnboundValue) String() string { return "_=" + n.Value.String() }

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

// Combine joins nodes with the given linking. A single node is returned as
// is.
func Combine(linking Linking, nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	args := append([]Node(nil), nodes...)
	if linking == LinkAnd {
		return And{Args: args}
	}
	return Or{Args: args}
}
