// Package metrics holds the Prometheus collectors for rule compilation.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// Metrics holds the compilation counters.
type Metrics struct {
	RulesCompiled   prometheus.Counter
	RulesFailed     prometheus.Counter
	RuleErrors      *prometheus.CounterVec
	QueriesRendered prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CompileSeconds  prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RulesCompiled: f.NewCounter(prometheus.CounterOpts{
			Name: "sigmac_rules_compiled_total",
			Help: "Total number of rules compiled without errors",
		}),
		RulesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "sigmac_rules_failed_total",
			Help: "Total number of rules with at least one error",
		}),
		RuleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sigmac_rule_errors_total",
			Help: "Rule errors by kind",
		}, []string{"kind"}),
		QueriesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "sigmac_queries_rendered_total",
			Help: "Total number of condition queries rendered",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "sigmac_cache_hits_total",
			Help: "Compiled rule cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "sigmac_cache_misses_total",
			Help: "Compiled rule cache misses",
		}),
		CompileSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigmac_compile_seconds",
			Help:    "Time spent compiling one batch of rules",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveErrors counts errs by kind.
func (m *Metrics) ObserveErrors(errs []error) {
	for _, err := range errs {
		m.RuleErrors.WithLabelValues(KindLabel(err)).Inc()
	}
}

// KindLabel turns the kind of err into a label value such as "modifier".
func KindLabel(err error) string {
	kind := ruleengine.KindOf(err)
	if kind == nil {
		return "other"
	}
	return strings.ReplaceAll(strings.TrimSuffix(kind.Error(), " error"), " ", "_")
}
