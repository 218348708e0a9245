package prefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

func str(field, s string) ruleengine.Node {
	return ruleengine.FieldEquals{Field: field, Value: ruleengine.ParseString(s)}
}

func sampleBuilder(cfg Config) *Builder {
	b := NewBuilder(cfg)
	b.AddRule("cmd", str("Image", `*\cmd.exe`))
	b.AddRule("powershell", ruleengine.And{Args: []ruleengine.Node{
		str("CommandLine", "*powershell*"),
		str("User", "admin"),
	}})
	b.AddRule("negated", ruleengine.Not{Arg: str("User", "SYSTEM")})
	b.AddRule("numeric", ruleengine.FieldEquals{Field: "EventID", Value: ruleengine.NewInt(4624)})
	b.AddRule("keywords", ruleengine.Or{Args: []ruleengine.Node{
		ruleengine.UnboundValue{Value: ruleengine.PlainString("mimikatz")},
		ruleengine.UnboundValue{Value: ruleengine.ParseString("*sekurlsa*")},
	}})
	return b
}

func TestBuildStats(t *testing.T) {
	p := sampleBuilder(DefaultConfig()).Build()
	stats := p.Stats()
	assert.Equal(t, 4, stats.PatternCount)
	assert.Equal(t, 5, stats.RuleCount)
	assert.Equal(t, 3, stats.FilteredRules)
	assert.True(t, stats.IsEffective())
	assert.Equal(t, []string{`\cmd.exe`, "powershell", "mimikatz", "sekurlsa"}, p.Patterns())
	assert.Contains(t, stats.Summary(), "4 patterns")
}

func TestCandidatesText(t *testing.T) {
	p := sampleBuilder(DefaultConfig()).Build()

	assert.Equal(t, []string{"cmd", "negated", "numeric"},
		p.CandidatesText(`C:\Windows\System32\CMD.EXE /c whoami`))
	assert.Equal(t, []string{"negated", "numeric", "keywords"},
		p.CandidatesText("sekurlsa::logonpasswords"))
	assert.Equal(t, []string{"negated", "numeric"}, p.CandidatesText("nothing here"))
}

func TestCandidatesCaseSensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaseInsensitive = false
	p := sampleBuilder(cfg).Build()
	assert.Equal(t, []string{"negated", "numeric"}, p.CandidatesText(`C:\Windows\System32\CMD.EXE`))
	assert.Equal(t, []string{"cmd", "negated", "numeric"}, p.CandidatesText(`C:\Windows\System32\cmd.exe`))
}

func TestCandidatesJSON(t *testing.T) {
	p := sampleBuilder(DefaultConfig()).Build()
	event := map[string]any{
		"Image":   `C:\Windows\System32\cmd.exe`,
		"EventID": 1.0,
		"Tags":    []any{"a", map[string]any{"inner": "PowerShell -nop"}},
	}
	assert.Equal(t, []string{"cmd", "powershell", "negated", "numeric"}, p.CandidatesJSON(event))
}

func TestOverlappingPatterns(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	b.AddRule("abc", str("f", "*abc*"))
	b.AddRule("bcd", str("f", "*bcd*"))
	b.AddRule("shell", str("f", "*shell*"))
	b.AddRule("powershell", str("f", "*powershell*"))
	p := b.Build()

	assert.Equal(t, []string{"abc", "bcd"}, p.CandidatesText("xabcdx"))
	assert.Equal(t, []string{"shell", "powershell"}, p.CandidatesText("powershell.exe"))
}

func TestDedupeFoldsASCIIOnly(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	b.AddRule("kelvin-sign", str("f", "*\u212Aelvin*"))
	b.AddRule("kelvin", str("f", "*kelvin*"))
	b.AddRule("upper", str("f", "*KELVIN*"))
	p := b.Build()

	assert.Equal(t, 2, p.Stats().PatternCount)
	assert.Equal(t, []string{"kelvin", "upper"}, p.CandidatesText("absolute kelvin"))
	assert.Equal(t, []string{"kelvin-sign"}, p.CandidatesText("\u212Aelvin"))
}

func TestUncoverableRules(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	b.AddRule("short", str("f", "ab"))
	b.AddRule("wildcards", str("f", "*"))
	b.AddRule("mixed or", ruleengine.Or{Args: []ruleengine.Node{
		str("f", "longliteral"),
		ruleengine.FieldEquals{Field: "g", Value: ruleengine.NewInt(1)},
	}})
	b.AddRule("no roots")
	p := b.Build()

	assert.Equal(t, 0, p.Stats().PatternCount)
	assert.Equal(t, 0, p.Stats().FilteredRules)
	assert.Equal(t, []string{"short", "wildcards", "mixed or", "no roots"}, p.CandidatesText("anything"))
	assert.Equal(t, "No patterns - prefilter disabled", p.Stats().Summary())
}

func TestMaxPatterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPatterns = 1
	b := NewBuilder(cfg)
	b.AddRule("first", str("f", "*alpha*"))
	b.AddRule("second", str("f", "*beta*"))
	b.AddRule("third", str("f", "*alpha*"))
	p := b.Build()

	assert.Equal(t, []string{"alpha"}, p.Patterns())
	assert.Equal(t, []string{"second"}, p.CandidatesText("nothing"))
	assert.Equal(t, []string{"first", "second", "third"}, p.CandidatesText("ALPHA"))
}

func TestDisabled(t *testing.T) {
	p := sampleBuilder(DisabledConfig()).Build()
	assert.Equal(t, 0, p.Stats().PatternCount)
	assert.Len(t, p.CandidatesText("nothing"), 5)
}

func TestFromLoadedRule(t *testing.T) {
	r, err := rule.FromYAML([]byte(`
title: Encoded
id: 0f06a3a5-6a09-4f1f-8c0a-3c1d6a4d9a11
logsource:
  product: windows
detection:
  selection:
    CommandLine|base64offset|contains: http
  filter:
    User: SYSTEM
  condition: selection and not filter
`))
	require.NoError(t, err)
	parsed, err := r.Detections.ParsedConditions()
	require.NoError(t, err)

	b := NewBuilder(DefaultConfig())
	for _, pc := range parsed {
		b.AddRule(r.Reference(), pc.Root)
	}
	p := b.Build()

	assert.Equal(t, []string{"aHR0c", "h0dH", "odHRw"}, p.Patterns())
	assert.Equal(t, []string{r.Reference()}, p.CandidatesText("powershell -enc aHR0cDovL2V4YW1wbGU="))
	assert.Empty(t, p.CandidatesText("powershell -enc ZXhhbXBsZQ=="))
}
