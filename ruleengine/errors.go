package ruleengine

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced while loading or compiling a rule wraps
// exactly one of these, so callers can branch with errors.Is.
var (
	ErrIdentifier        = errors.New("identifier error")
	ErrLevel             = errors.New("level error")
	ErrStatus            = errors.New("status error")
	ErrDate              = errors.New("date error")
	ErrLogsource         = errors.New("logsource error")
	ErrDetection         = errors.New("detection error")
	ErrCondition         = errors.New("condition error")
	ErrModifier          = errors.New("modifier error")
	ErrValue             = errors.New("value error")
	ErrType              = errors.New("type error")
	ErrRegularExpression = errors.New("regular expression error")
	ErrAggregation       = errors.New("aggregation error")
	ErrFieldMapping      = errors.New("field mapping error")
)

// Error is a typed rule error. Rule is the id or title of the rule being
// processed when known.
type Error struct {
	Kind error
	Msg  string
	Rule string
}

// NewError builds an *Error of the given kind.
func NewError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%v: %s (rule %s)", e.Kind, e.Msg, e.Rule)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// WithRule returns a copy of err tagged with the rule reference. Anything
// other than a bare *Error without a rule reference is returned unchanged.
func WithRule(err error, rule string) error {
	re, ok := err.(*Error)
	if !ok || re.Rule != "" || rule == "" {
		return err
	}
	cp := *re
	cp.Rule = rule
	return &cp
}

var kinds = []error{
	ErrIdentifier, ErrLevel, ErrStatus, ErrDate, ErrLogsource, ErrDetection,
	ErrCondition, ErrModifier, ErrValue, ErrType, ErrRegularExpression,
	ErrAggregation, ErrFieldMapping,
}

// KindOf returns the error kind err wraps, or nil for foreign errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
