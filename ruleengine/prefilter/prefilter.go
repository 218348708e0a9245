// Package prefilter narrows a rule set to the rules that could match an
// event, using an Aho-Corasick automaton over the literal text every match
// of a rule must contain.
package prefilter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	ac "github.com/petar-dambovaliev/aho-corasick"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// Config controls which literals become patterns.
type Config struct {
	// CaseInsensitive folds ASCII case, matching Sigma string semantics.
	CaseInsensitive bool `json:"case_insensitive" yaml:"case_insensitive"`
	// MinPatternLength skips literals shorter than this.
	MinPatternLength int `json:"min_pattern_length" yaml:"min_pattern_length"`
	// MaxPatterns caps the automaton size; 0 means no limit. Rules that do
	// not fit are always candidates.
	MaxPatterns int  `json:"max_patterns" yaml:"max_patterns"`
	Enabled     bool `json:"enabled" yaml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		CaseInsensitive:  true,
		MinPatternLength: 3,
		MaxPatterns:      5000,
		Enabled:          true,
	}
}

func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

// Stats summarizes a built prefilter.
type Stats struct {
	PatternCount int `json:"pattern_count"`
	RuleCount    int `json:"rule_count"`
	// FilteredRules is the number of rules that can be excluded by the
	// automaton; the others are always candidates.
	FilteredRules int `json:"filtered_rules"`
}

func (s Stats) IsEffective() bool {
	return s.PatternCount > 0 && s.FilteredRules*2 >= s.RuleCount
}

func (s Stats) Summary() string {
	if s.PatternCount == 0 {
		return "No patterns - prefilter disabled"
	}
	return fmt.Sprintf("AhoCorasick (%d patterns, %d/%d rules filtered)", s.PatternCount, s.FilteredRules, s.RuleCount)
}

// Builder collects rule trees.
type Builder struct {
	cfg Config

	dedupe   map[string]int
	patterns []string
	// patternRules maps a pattern index to the rules requiring it.
	patternRules map[int][]int

	rules      []string
	unfiltered []int
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{
		cfg:          cfg,
		dedupe:       make(map[string]int),
		patternRules: make(map[int][]int),
	}
}

// key folds pattern the way the automaton compares it: ASCII letters only.
func (b *Builder) key(pattern string) string {
	if !b.cfg.CaseInsensitive {
		return pattern
	}
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, pattern)
}

// AddRule registers a rule by reference with the trees of its conditions.
// The rule is a candidate for an event when any condition could match.
func (b *Builder) AddRule(ref string, roots ...ruleengine.Node) {
	idx := len(b.rules)
	b.rules = append(b.rules, ref)
	if !b.cfg.Enabled || len(roots) == 0 {
		b.unfiltered = append(b.unfiltered, idx)
		return
	}

	var lits []string
	for _, root := range roots {
		cov, ok := b.cover(root)
		if !ok {
			b.unfiltered = append(b.unfiltered, idx)
			return
		}
		lits = append(lits, cov...)
	}

	var fresh int
	for _, l := range lits {
		if _, ok := b.dedupe[b.key(l)]; !ok {
			fresh++
		}
	}
	if b.cfg.MaxPatterns > 0 && len(b.patterns)+fresh > b.cfg.MaxPatterns {
		b.unfiltered = append(b.unfiltered, idx)
		return
	}

	for _, l := range lits {
		k := b.key(l)
		p, ok := b.dedupe[k]
		if !ok {
			p = len(b.patterns)
			b.patterns = append(b.patterns, l)
			b.dedupe[k] = p
		}
		if rs := b.patternRules[p]; len(rs) == 0 || rs[len(rs)-1] != idx {
			b.patternRules[p] = append(rs, idx)
		}
	}
}

// cover returns literals of which every match of n contains at least one.
// It reports false when no such set exists.
func (b *Builder) cover(n ruleengine.Node) ([]string, bool) {
	switch t := n.(type) {
	case ruleengine.FieldEquals:
		return b.valueCover(t.Value)
	case ruleengine.UnboundValue:
		return b.valueCover(t.Value)
	case ruleengine.Or:
		var out []string
		for _, a := range t.Args {
			cov, ok := b.cover(a)
			if !ok {
				return nil, false
			}
			out = append(out, cov...)
		}
		return out, len(out) > 0
	case ruleengine.And:
		var best []string
		found := false
		for _, a := range t.Args {
			cov, ok := b.cover(a)
			if ok && (!found || len(cov) < len(best)) {
				best, found = cov, true
			}
		}
		return best, found
	default:
		return nil, false
	}
}

func (b *Builder) valueCover(v ruleengine.Value) ([]string, bool) {
	switch t := v.(type) {
	case ruleengine.StringValue:
		longest := ""
		for _, l := range t.Literals() {
			if len(l) > len(longest) {
				longest = l
			}
		}
		if longest == "" || len(longest) < b.cfg.MinPatternLength {
			return nil, false
		}
		return []string{longest}, true
	case ruleengine.ExpansionValue:
		var out []string
		for _, alt := range t.Values {
			cov, ok := b.valueCover(alt)
			if !ok {
				return nil, false
			}
			out = append(out, cov...)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// Build freezes the collected patterns into a Prefilter.
func (b *Builder) Build() *Prefilter {
	p := &Prefilter{
		patterns:     append([]string(nil), b.patterns...),
		patternRules: b.patternRules,
		rules:        append([]string(nil), b.rules...),
		unfiltered:   append([]int(nil), b.unfiltered...),
		stats: Stats{
			PatternCount:  len(b.patterns),
			RuleCount:     len(b.rules),
			FilteredRules: len(b.rules) - len(b.unfiltered),
		},
	}
	if len(b.patterns) == 0 {
		return p
	}

	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: b.cfg.CaseInsensitive,
		MatchKind:            ac.LeftMostLongestMatch,
	})
	automaton := builder.Build(p.patterns)
	p.ac = &automaton

	// A leftmost-longest scan reports the longest pattern at a position, so
	// every pattern contained in it is marked with it.
	p.contained = make([][]int, len(p.patterns))
	for i, outer := range p.patterns {
		ko := b.key(outer)
		for j, inner := range p.patterns {
			if i != j && strings.Contains(ko, b.key(inner)) {
				p.contained[i] = append(p.contained[i], j)
			}
		}
	}
	return p
}

// Prefilter answers which rules could match an event.
type Prefilter struct {
	ac           *ac.AhoCorasick
	patterns     []string
	patternRules map[int][]int
	contained    [][]int
	rules        []string
	unfiltered   []int
	stats        Stats
}

func (p *Prefilter) Stats() Stats { return p.stats }

// Patterns returns the automaton patterns in insertion order.
func (p *Prefilter) Patterns() []string { return append([]string(nil), p.patterns...) }

// CandidatesText returns the rules that could match text, in registration
// order.
func (p *Prefilter) CandidatesText(text string) []string {
	hit := make([]bool, len(p.patterns))
	p.scan(text, hit)
	return p.candidates(hit)
}

// CandidatesJSON returns the rules that could match a decoded JSON event,
// scanning every scalar value.
func (p *Prefilter) CandidatesJSON(event any) []string {
	hit := make([]bool, len(p.patterns))
	p.walk(event, hit)
	return p.candidates(hit)
}

// scan marks every pattern occurring in text. The automaton reports
// non-overlapping matches only, so the scan restarts one byte after the
// first match until nothing is left.
func (p *Prefilter) scan(text string, hit []bool) {
	if p.ac == nil {
		return
	}
	for pos := 0; pos < len(text); {
		matches := p.ac.FindAll(text[pos:])
		if len(matches) == 0 {
			return
		}
		for _, m := range matches {
			p.mark(m.Pattern(), hit)
		}
		pos += matches[0].Start() + 1
	}
}

func (p *Prefilter) mark(idx int, hit []bool) {
	if idx < 0 || idx >= len(hit) || hit[idx] {
		return
	}
	hit[idx] = true
	for _, j := range p.contained[idx] {
		hit[j] = true
	}
}

func (p *Prefilter) walk(v any, hit []bool) {
	switch x := v.(type) {
	case string:
		p.scan(x, hit)
	case json.Number:
		p.scan(x.String(), hit)
	case float64:
		p.scan(strconv.FormatFloat(x, 'f', -1, 64), hit)
	case int, int32, int64, uint, uint32, uint64:
		p.scan(fmt.Sprint(x), hit)
	case bool:
		p.scan(strconv.FormatBool(x), hit)
	case nil:
	case []any:
		for _, it := range x {
			p.walk(it, hit)
		}
	case map[string]any:
		for _, it := range x {
			p.walk(it, hit)
		}
	default:
		raw, err := json.Marshal(x)
		if err == nil {
			p.scan(string(raw), hit)
		}
	}
}

func (p *Prefilter) candidates(hit []bool) []string {
	selected := make([]bool, len(p.rules))
	for _, idx := range p.unfiltered {
		selected[idx] = true
	}
	for pat, ok := range hit {
		if !ok {
			continue
		}
		for _, r := range p.patternRules[pat] {
			selected[r] = true
		}
	}
	out := make([]string, 0, len(p.rules))
	for i, ok := range selected {
		if ok {
			out = append(out, p.rules[i])
		}
	}
	return out
}
