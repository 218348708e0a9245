package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackendConfig(t *testing.T) {
	cfg := DefaultBackendConfig()

	assert.Equal(t, "AND", cfg.AndToken)
	assert.Equal(t, "OR", cfg.OrToken)
	assert.Equal(t, "NOT", cfg.NotToken)
	assert.Equal(t, "(%s)", cfg.GroupExpression)
	assert.True(t, cfg.ConvertOrAsIn, "or-as-in default true")
	assert.False(t, cfg.ConvertAndAsIn, "and-as-in default false")
	assert.False(t, cfg.ApplyDeMorgans)
	assert.False(t, cfg.AppendExistsGuard)
	assert.False(t, cfg.CollectErrors)
	assert.Len(t, cfg.CompareRanges, 4)
}

func TestOpenSearchConfig(t *testing.T) {
	cfg := OpenSearchConfig()
	assert.True(t, cfg.AppendExistsGuard)
	assert.True(t, cfg.CollectErrors)
	assert.True(t, cfg.ConvertOrAsIn)
}

func TestStrictConfig(t *testing.T) {
	cfg := StrictConfig()
	assert.False(t, cfg.ConvertOrAsIn || cfg.ConvertAndAsIn || cfg.ApplyDeMorgans || cfg.AppendExistsGuard)
}

func TestBackendConfigBuilders(t *testing.T) {
	base := NewBackendConfig()
	cfg := base.
		WithAndAsIn(true).
		WithDeMorgans(true).
		WithFieldMappings(false).
		WithRegex(false).
		WithCIDR(false).
		WithTokens("&&", "||", "!")

	assert.True(t, cfg.ConvertAndAsIn)
	assert.True(t, cfg.ApplyDeMorgans)
	assert.False(t, cfg.EnableFieldMappings)
	assert.False(t, cfg.SupportsRegex)
	assert.False(t, cfg.SupportsCIDR)
	assert.Equal(t, "&&", cfg.AndToken)
	assert.Equal(t, "!", cfg.NotToken)

	// value receivers leave the original untouched
	assert.False(t, base.ConvertAndAsIn)
	assert.Equal(t, "AND", base.AndToken)
}

func TestCombineAndString(t *testing.T) {
	a := FieldEquals{Field: "a", Value: NewInt(1)}
	b := FieldEquals{Field: "b", Value: PlainString("x")}

	assert.Equal(t, a, Combine(LinkAnd, a))
	assert.Equal(t, "and(a=1, b=x)", Combine(LinkAnd, a, b).String())
	assert.Equal(t, "or(a=1, not(b=x))", Combine(LinkOr, a, Not{Arg: b}).String())
	assert.Equal(t, "_=x", UnboundValue{Value: PlainString("x")}.String())
	assert.Equal(t, "and", LinkAnd.String())
	assert.Equal(t, "or", LinkOr.String())
}
