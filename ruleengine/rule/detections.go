package rule

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/condition"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/modifiers"
)

// ParsedCondition is one condition of a rule resolved into a tree.
type ParsedCondition struct {
	Text        string
	Root        ruleengine.Node
	Aggregation *condition.Aggregation
}

// Detections holds the named detections and the condition expressions of a
// rule.
type Detections struct {
	names      []string
	Named      map[string]*Detection
	Conditions []string
	Timeframe  time.Duration

	trees map[string]ruleengine.Node

	once   sync.Once
	parsed []ParsedCondition
	err    error
}

// NewDetections builds the container from the rule's "detection" mapping.
// With collect set every problem is returned; otherwise only the first. The
// container is nil whenever an error is returned.
func NewDetections(def Mapping, reg modifiers.Registry, collect bool) (*Detections, []error) {
	d := &Detections{Named: map[string]*Detection{}, trees: map[string]ruleengine.Node{}}
	var (
		errs        []error
		badDetect   bool
		badCondList bool
	)
	fail := func(err error) bool {
		errs = append(errs, err)
		return !collect
	}

	for _, e := range def {
		switch e.Key {
		case "condition":
			conds, err := conditionList(e.Value)
			if err != nil {
				badCondList = true
				if fail(err) {
					return nil, errs
				}
			}
			d.Conditions = conds
		case "timeframe":
			tf, err := ParseTimeframe(e.Value)
			if err != nil && fail(err) {
				return nil, errs
			}
			d.Timeframe = tf
		default:
			det, err := NewDetection(e.Value, reg)
			if err != nil {
				badDetect = true
				if fail(prefix(err, e.Key)) {
					return nil, errs
				}
				continue
			}
			d.names = append(d.names, e.Key)
			d.Named[e.Key] = det
		}
	}
	if len(d.Named) == 0 && !badDetect {
		if fail(ruleengine.NewError(ruleengine.ErrDetection, "no detections defined")) {
			return nil, errs
		}
	}
	if len(d.Conditions) == 0 && !badCondList {
		if fail(ruleengine.NewError(ruleengine.ErrCondition, "missing condition")) {
			return nil, errs
		}
	}
	for _, name := range d.names {
		tree, err := d.Named[name].PostProcess()
		if err != nil {
			if fail(prefix(err, name)) {
				return nil, errs
			}
			continue
		}
		d.trees[name] = tree
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

func prefix(err error, detection string) error {
	if re, ok := err.(*ruleengine.Error); ok {
		cp := *re
		cp.Msg = "detection " + detection + ": " + cp.Msg
		return &cp
	}
	return err
}

func conditionList(v any) ([]string, error) {
	switch c := v.(type) {
	case string:
		return []string{c}, nil
	case []any:
		out := make([]string, 0, len(c))
		for _, e := range c {
			s, ok := e.(string)
			if !ok {
				return nil, ruleengine.NewError(ruleengine.ErrCondition, "condition must be a string, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "condition must be a string or a list of strings, got %T", v)
	}
}

// DetectionNames returns the detection names in declaration order.
func (d *Detections) DetectionNames() []string {
	return append([]string(nil), d.names...)
}

// ResolveDetection returns the post-processed tree of a named detection.
func (d *Detections) ResolveDetection(name string) (ruleengine.Node, error) {
	tree, ok := d.trees[name]
	if !ok {
		return nil, ruleengine.NewError(ruleengine.ErrCondition, "condition references unknown detection %q", name)
	}
	return tree, nil
}

// ParsedConditions parses and resolves every condition once; later calls
// return the cached result.
func (d *Detections) ParsedConditions() ([]ParsedCondition, error) {
	d.once.Do(func() {
		parsed := make([]ParsedCondition, 0, len(d.Conditions))
		for _, text := range d.Conditions {
			c, err := condition.ParseCondition(text)
			if err != nil {
				d.err = err
				return
			}
			root, err := c.Resolve(d)
			if err != nil {
				d.err = err
				return
			}
			parsed = append(parsed, ParsedCondition{Text: text, Root: root, Aggregation: c.Aggregation})
		}
		d.parsed = parsed
	})
	return d.parsed, d.err
}

// maxTimeframeCount bounds the count so that even years stay well inside
// the range of time.Duration.
const maxTimeframeCount = 100000

// ParseTimeframe reads durations such as "30s", "5m", "1h" or "2d".
func ParseTimeframe(v any) (time.Duration, error) {
	s, ok := v.(string)
	if !ok {
		return 0, ruleengine.NewError(ruleengine.ErrDetection, "timeframe must be a string, got %T", v)
	}
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, ruleengine.NewError(ruleengine.ErrDetection, "invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n > maxTimeframeCount {
		return 0, ruleengine.NewError(ruleengine.ErrDetection, "invalid timeframe %q", s)
	}
	var unit time.Duration
	switch s[i:] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "M":
		unit = 30 * 24 * time.Hour
	case "y":
		unit = 365 * 24 * time.Hour
	default:
		return 0, ruleengine.NewError(ruleengine.ErrDetection, "invalid timeframe unit in %q", s)
	}
	return time.Duration(n) * unit, nil
}
