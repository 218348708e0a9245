// Package rule loads Sigma rules into detections and condition trees.
package rule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/modifiers"
)

var (
	validStatus = map[string]bool{
		"experimental": true,
		"test":         true,
		"stable":       true,
		"deprecated":   true,
		"unsupported":  true,
	}
	validLevel = map[string]bool{
		"informational": true,
		"low":           true,
		"medium":        true,
		"high":          true,
		"critical":      true,
	}
	dateLayouts = []string{"2006/01/02", "2006-01-02"}
)

// LogSource identifies the kind of events a rule applies to.
type LogSource struct {
	Category   string `json:"category,omitempty"`
	Product    string `json:"product,omitempty"`
	Service    string `json:"service,omitempty"`
	Definition string `json:"definition,omitempty"`
}

// Rule is a loaded Sigma rule.
type Rule struct {
	Title          string
	ID             string
	Status         string
	Level          string
	Description    string
	Author         string
	Date           time.Time
	Modified       time.Time
	References     []string
	Tags           []string
	FalsePositives []string
	Fields         []string
	LogSource      LogSource
	Detections     *Detections

	// Errors holds every problem found while loading when the loader
	// collects errors instead of failing fast.
	Errors []error
}

// Reference names the rule in errors and logs.
func (r *Rule) Reference() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Title
}

// Loader builds rules from YAML or decoded definitions.
type Loader struct {
	registry      modifiers.Registry
	collectErrors bool
	logger        *zap.Logger
}

// NewLoader returns a fail-fast loader using the built-in modifiers.
func NewLoader() *Loader {
	return &Loader{registry: modifiers.DefaultRegistry(), logger: zap.NewNop()}
}

func (l *Loader) WithRegistry(reg modifiers.Registry) *Loader {
	l.registry = reg
	return l
}

// WithCollectErrors makes the loader record problems on Rule.Errors instead
// of returning the first one.
func (l *Loader) WithCollectErrors(collect bool) *Loader {
	l.collectErrors = collect
	return l
}

func (l *Loader) WithLogger(logger *zap.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// FromYAML loads a single rule document.
func FromYAML(text []byte) (*Rule, error) {
	return NewLoader().FromYAML(text)
}

// FromDefinition loads a rule from an already decoded map.
func FromDefinition(def map[string]any) (*Rule, error) {
	return NewLoader().FromDefinition(def)
}

// FromYAML loads the first document of text.
func (l *Loader) FromYAML(text []byte) (*Rule, error) {
	rules, err := l.AllFromYAML(text)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrDetection, "empty rule document")
	}
	return rules[0], nil
}

// AllFromYAML loads every document of a multi-document YAML stream.
func (l *Loader) AllFromYAML(text []byte) ([]*Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(text))
	var rules []*Rule
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode rule yaml: %w", err)
		}
		v, err := decodeNode(&node)
		if err != nil {
			return nil, fmt.Errorf("decode rule yaml: %w", err)
		}
		if v == nil {
			continue
		}
		m, ok := v.(Mapping)
		if !ok {
			return nil, ruleengine.NewError(ruleengine.ErrDetection, "rule document must be a mapping, got %T", v)
		}
		r, err := l.FromMapping(m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// FromDefinition loads a rule from a decoded map. Detection keys are taken
// in sorted order.
func (l *Loader) FromDefinition(def map[string]any) (*Rule, error) {
	m, _ := FromAny(def).(Mapping)
	return l.FromMapping(m)
}

// FromMapping loads a rule from an ordered mapping.
func (l *Loader) FromMapping(m Mapping) (*Rule, error) {
	r := &Rule{
		Title:       m.GetString("title"),
		Description: m.GetString("description"),
		Author:      m.GetString("author"),
	}
	r.ID = scalarString(m, "id")

	var errs []error
	fail := func(err error) bool {
		if err == nil {
			return false
		}
		errs = append(errs, ruleengine.WithRule(err, r.Reference()))
		return !l.collectErrors
	}

	for _, err := range r.parseMetadata(m) {
		if fail(err) {
			return nil, errs[0]
		}
	}

	det, ok := m.Get("detection")
	if !ok {
		if fail(ruleengine.NewError(ruleengine.ErrDetection, "missing detection section")) {
			return nil, errs[0]
		}
	} else if dm, isMap := det.(Mapping); !isMap {
		if fail(ruleengine.NewError(ruleengine.ErrDetection, "detection must be a mapping, got %T", det)) {
			return nil, errs[0]
		}
	} else {
		d, derrs := NewDetections(dm, l.registry, l.collectErrors)
		for _, err := range derrs {
			if fail(err) {
				return nil, errs[0]
			}
		}
		r.Detections = d
	}

	r.Errors = errs
	if len(errs) > 0 {
		l.logger.Debug("rule loaded with errors",
			zap.String("rule", r.Reference()),
			zap.Int("errors", len(errs)))
	} else {
		l.logger.Debug("rule loaded", zap.String("rule", r.Reference()))
	}
	return r, nil
}

// parseMetadata fills and validates the descriptive fields.
func (r *Rule) parseMetadata(m Mapping) []error {
	var errs []error

	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err != nil {
			errs = append(errs, ruleengine.NewError(ruleengine.ErrIdentifier, "rule id %q is not a UUID", r.ID))
		}
	}

	r.Status = m.GetString("status")
	if r.Status != "" && !validStatus[r.Status] {
		errs = append(errs, ruleengine.NewError(ruleengine.ErrStatus, "invalid status %q", r.Status))
	}
	r.Level = m.GetString("level")
	if r.Level != "" && !validLevel[r.Level] {
		errs = append(errs, ruleengine.NewError(ruleengine.ErrLevel, "invalid level %q", r.Level))
	}

	var err error
	if r.Date, err = parseDate(m, "date"); err != nil {
		errs = append(errs, err)
	}
	if r.Modified, err = parseDate(m, "modified"); err != nil {
		errs = append(errs, err)
	}

	r.References = stringList(m, "references")
	r.Tags = stringList(m, "tags")
	r.FalsePositives = stringList(m, "falsepositives")
	r.Fields = stringList(m, "fields")

	ls, ok := m.Get("logsource")
	if !ok {
		errs = append(errs, ruleengine.NewError(ruleengine.ErrLogsource, "missing logsource"))
	} else if lm, isMap := ls.(Mapping); !isMap {
		errs = append(errs, ruleengine.NewError(ruleengine.ErrLogsource, "logsource must be a mapping"))
	} else {
		r.LogSource = LogSource{
			Category:   lm.GetString("category"),
			Product:    lm.GetString("product"),
			Service:    lm.GetString("service"),
			Definition: lm.GetString("definition"),
		}
		if r.LogSource.Category == "" && r.LogSource.Product == "" && r.LogSource.Service == "" {
			errs = append(errs, ruleengine.NewError(ruleengine.ErrLogsource, "logsource needs a category, product or service"))
		}
	}

	return errs
}

func parseDate(m Mapping, key string) (time.Time, error) {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return time.Time{}, nil
	}
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(d)); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, ruleengine.NewError(ruleengine.ErrDate, "invalid %s %v, expected YYYY/MM/DD", key, v)
}

func scalarString(m Mapping, key string) string {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func stringList(m Mapping, key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return nil
	}
}
