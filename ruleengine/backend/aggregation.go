package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/condition"
)

const (
	aggBucketName = "result_agg"
	aggMetricName = "metric"
	// aggDefaultGroup buckets by index when the rule does not group.
	aggDefaultGroup = "_index"
)

// termsFunction buckets by the distinct values of its field and has no
// metric sub-aggregation.
const termsFunction = "terms"

// metricAggregations maps Sigma aggregation functions to OpenSearch metric
// aggregations. median is kept as an alias of median_abs_dev.
var metricAggregations = map[string]string{
	"count":          "value_count",
	"sum":            "sum",
	"avg":            "avg",
	"min":            "min",
	"max":            "max",
	"median_abs_dev": "median_absolute_deviation",
	"median":         "median_absolute_deviation",
}

var scriptOperators = map[string]string{
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
	"=":  "==",
	"!=": "!=",
}

// AggregationQuery is the bucket aggregation and trigger for one
// "| func(field) by group op N" clause.
type AggregationQuery struct {
	Function  string `json:"function"`
	Field     string `json:"field,omitempty"`
	GroupBy   string `json:"group_by,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	// AggQuery is the terms aggregation with its metric sub-aggregation.
	AggQuery string `json:"agg_query"`
	// BucketTriggerQuery is a bucket_selector comparing the metric with the
	// threshold.
	BucketTriggerQuery string `json:"bucket_trigger_query"`
}

// BuildAggregation renders agg. fieldName maps Sigma field names to backend
// names. Unknown functions and missing metric fields fail with
// ErrAggregation.
func BuildAggregation(agg condition.Aggregation, timeframe time.Duration, fieldName func(string) string) (*AggregationQuery, error) {
	metric, ok := metricAggregations[agg.Function]
	if agg.Function == termsFunction {
		ok = true
	}
	if !ok {
		return nil, ruleengine.NewError(ruleengine.ErrAggregation, "unsupported aggregation function %q", agg.Function)
	}
	op, ok := scriptOperators[agg.Operator]
	if !ok {
		return nil, ruleengine.NewError(ruleengine.ErrAggregation, "unsupported aggregation operator %q", agg.Operator)
	}
	if agg.Function != "count" && agg.Field == "" {
		return nil, ruleengine.NewError(ruleengine.ErrAggregation, "aggregation %s needs a field", agg.Function)
	}

	out := &AggregationQuery{Function: agg.Function}
	if agg.Field != "" {
		out.Field = fieldName(agg.Field)
	}
	group := aggDefaultGroup
	if agg.GroupBy != "" {
		out.GroupBy = fieldName(agg.GroupBy)
		group = out.GroupBy
	}
	if timeframe > 0 {
		out.Timeframe = timeframe.String()
	}

	bucket := map[string]any{"terms": map[string]any{"field": group}}
	path := "_count"
	switch {
	case agg.Function == termsFunction && agg.GroupBy == "":
		// One bucket per value of the field, compared on its document count.
		bucket["terms"] = map[string]any{"field": out.Field}
	case agg.Function == termsFunction:
		// Distinct values of the field within each group.
		bucket["aggs"] = map[string]any{
			aggMetricName: map[string]any{"terms": map[string]any{"field": out.Field}},
		}
		path = aggMetricName + "._bucket_count"
	case out.Field != "":
		bucket["aggs"] = map[string]any{
			aggMetricName: map[string]any{metric: map[string]any{"field": out.Field}},
		}
		path = aggMetricName
	}
	aggQuery, err := encodeJSON(map[string]any{aggBucketName: bucket})
	if err != nil {
		return nil, fmt.Errorf("encode aggregation: %w", err)
	}

	trigger, err := encodeJSON(map[string]any{
		"buckets_path":       map[string]string{"_value": path},
		"parent_bucket_path": aggBucketName,
		"script": map[string]string{
			"source": "params._value " + op + " " + strconv.FormatFloat(agg.Threshold, 'f', -1, 64),
			"lang":   "painless",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode bucket trigger: %w", err)
	}

	out.AggQuery = aggQuery
	out.BucketTriggerQuery = trigger
	return out, nil
}

// encodeJSON marshals v without HTML escaping.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
