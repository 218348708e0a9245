package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "modifier", KindLabel(ruleengine.NewError(ruleengine.ErrModifier, "x")))
	assert.Equal(t, "regular_expression", KindLabel(ruleengine.NewError(ruleengine.ErrRegularExpression, "x")))
	assert.Equal(t, "field_mapping", KindLabel(ruleengine.NewError(ruleengine.ErrFieldMapping, "x")))
	assert.Equal(t, "other", KindLabel(errors.New("boom")))
}

func TestObserveErrors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveErrors([]error{
		ruleengine.NewError(ruleengine.ErrModifier, "a"),
		ruleengine.NewError(ruleengine.ErrModifier, "b"),
		ruleengine.NewError(ruleengine.ErrCondition, "c"),
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleErrors.WithLabelValues("modifier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleErrors.WithLabelValues("condition")))

	m.RulesCompiled.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesCompiled))
}

func TestSeparateRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.CacheHits.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheHits))
}
