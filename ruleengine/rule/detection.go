package rule

import (
	"fmt"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/modifiers"
)

// DetectionItem is one "field|modifiers: values" entry of a detection.
type DetectionItem struct {
	Field        string
	Modifiers    []string
	Values       []ruleengine.Value
	ValueLinking ruleengine.Linking
	// AutoApply marks items whose modifiers were applied on construction.
	AutoApply bool
}

// Element is an entry of a Detection: a *DetectionItem or a nested
// *Detection.
type Element interface {
	PostProcess() (ruleengine.Node, error)
}

// Detection is a group of items or nested detections joined by Linking.
type Detection struct {
	Items   []Element
	Linking ruleengine.Linking
}

// NewDetectionItem builds an item from a detection key and its raw values
// and runs the modifier chain through reg.
func NewDetectionItem(key string, raw any, reg modifiers.Registry) (*DetectionItem, error) {
	field, mods := splitKey(key)
	values, err := rawValues(key, raw)
	if err != nil {
		return nil, err
	}
	item := &DetectionItem{
		Field:        field,
		Modifiers:    mods,
		Values:       values,
		ValueLinking: ruleengine.LinkOr,
	}
	if err := item.ApplyModifiers(reg); err != nil {
		return nil, err
	}
	return item, nil
}

// NewKeywordItem builds a field-less item matching any of values.
func NewKeywordItem(raw []any) (*DetectionItem, error) {
	values, err := rawValues("", raw)
	if err != nil {
		return nil, err
	}
	return &DetectionItem{Values: values, ValueLinking: ruleengine.LinkOr, AutoApply: true}, nil
}

func splitKey(key string) (string, []string) {
	parts := strings.Split(key, "|")
	var mods []string
	for _, m := range parts[1:] {
		if m = strings.TrimSpace(m); m != "" {
			mods = append(mods, m)
		}
	}
	return strings.TrimSpace(parts[0]), mods
}

func rawValues(key string, raw any) ([]ruleengine.Value, error) {
	list, isList := raw.([]any)
	if !isList {
		list = []any{raw}
	}
	if len(list) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrDetection, "detection item %q has an empty value list", key)
	}
	values := make([]ruleengine.Value, 0, len(list))
	for _, r := range list {
		switch r.(type) {
		case Mapping, []any, map[string]any:
			return nil, ruleengine.NewError(ruleengine.ErrDetection, "detection item %q: nested structures are not allowed as values", key)
		}
		v, err := ruleengine.FromRaw(r)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// ApplyModifiers runs the item's modifier chain once.
func (i *DetectionItem) ApplyModifiers(reg modifiers.Registry) error {
	if i.AutoApply {
		return nil
	}
	state := &modifiers.Item{Field: i.Field, Values: i.Values, Linking: i.ValueLinking}
	if err := reg.Apply(state, i.Modifiers); err != nil {
		return err
	}
	i.Values = state.Values
	i.ValueLinking = state.Linking
	i.AutoApply = true
	return nil
}

// PostProcess turns the item into a single leaf, or an And/Or of leaves
// when several values remain.
func (i *DetectionItem) PostProcess() (ruleengine.Node, error) {
	leaves := make([]ruleengine.Node, 0, len(i.Values))
	for _, v := range i.Values {
		if i.Field == "" {
			if _, isNull := v.(ruleengine.NullValue); isNull {
				return nil, ruleengine.NewError(ruleengine.ErrCondition, "null value must be bound to a field")
			}
			leaves = append(leaves, ruleengine.UnboundValue{Value: v})
			continue
		}
		leaves = append(leaves, ruleengine.FieldEquals{Field: i.Field, Value: v})
	}
	if len(leaves) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrDetection, "detection item %q has no values", i.Field)
	}
	return ruleengine.Combine(i.ValueLinking, leaves...), nil
}

// NewDetection builds a detection from its YAML definition: a mapping of
// items, a list of mappings (alternatives) or a list of keywords.
func NewDetection(raw any, reg modifiers.Registry) (*Detection, error) {
	switch def := raw.(type) {
	case Mapping:
		if len(def) == 0 {
			return nil, ruleengine.NewError(ruleengine.ErrDetection, "empty detection")
		}
		items := make([]Element, 0, len(def))
		for _, e := range def {
			item, err := NewDetectionItem(e.Key, e.Value, reg)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return newDetection(items), nil

	case []any:
		if len(def) == 0 {
			return nil, ruleengine.NewError(ruleengine.ErrDetection, "empty detection")
		}
		maps, scalars := 0, 0
		for _, e := range def {
			switch e.(type) {
			case Mapping:
				maps++
			case []any:
				return nil, ruleengine.NewError(ruleengine.ErrDetection, "nested lists are not allowed in a detection")
			default:
				scalars++
			}
		}
		if maps > 0 && scalars > 0 {
			return nil, ruleengine.NewError(ruleengine.ErrDetection, "detection mixes mappings and plain values")
		}
		if scalars > 0 {
			item, err := NewKeywordItem(def)
			if err != nil {
				return nil, err
			}
			return newDetection([]Element{item}), nil
		}
		items := make([]Element, 0, len(def))
		for _, e := range def {
			sub, err := NewDetection(e, reg)
			if err != nil {
				return nil, err
			}
			items = append(items, sub)
		}
		return newDetection(items), nil

	case nil:
		return nil, ruleengine.NewError(ruleengine.ErrDetection, "empty detection")

	default:
		item, err := NewKeywordItem([]any{def})
		if err != nil {
			return nil, err
		}
		return newDetection([]Element{item}), nil
	}
}

// newDetection links with AND when any direct element is an item and with
// OR when all elements are nested detections.
func newDetection(items []Element) *Detection {
	linking := ruleengine.LinkOr
	for _, it := range items {
		if _, ok := it.(*DetectionItem); ok {
			linking = ruleengine.LinkAnd
			break
		}
	}
	return &Detection{Items: items, Linking: linking}
}

// PostProcess combines the children with the detection's linking.
func (d *Detection) PostProcess() (ruleengine.Node, error) {
	nodes := make([]ruleengine.Node, 0, len(d.Items))
	for _, it := range d.Items {
		n, err := it.PostProcess()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, ruleengine.NewError(ruleengine.ErrDetection, "empty detection")
	}
	return ruleengine.Combine(d.Linking, nodes...), nil
}

func (i *DetectionItem) String() string {
	key := i.Field
	if len(i.Modifiers) > 0 {
		key += "|" + strings.Join(i.Modifiers, "|")
	}
	return fmt.Sprintf("%s: %v", key, i.Values)
}
