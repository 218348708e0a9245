package backend

import (
	"sort"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// ValidateFields checks the fields used by a rule against an index catalog
// mapping field names to index types. It fails with ErrFieldMapping naming
// every unknown field and every IP comparison on a non-ip field.
func ValidateFields(used map[string]FieldUsage, catalog map[string]string) error {
	var unknown, mismatched []string
	for name, u := range used {
		typ, ok := catalog[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if u.Type == TypeIP && typ != string(TypeIP) {
			mismatched = append(mismatched, name+" ("+typ+")")
		}
	}
	if len(unknown) == 0 && len(mismatched) == 0 {
		return nil
	}
	sort.Strings(unknown)
	sort.Strings(mismatched)

	var parts []string
	if len(unknown) > 0 {
		parts = append(parts, "unknown fields: "+strings.Join(unknown, ", "))
	}
	if len(mismatched) > 0 {
		parts = append(parts, "CIDR match on non-ip fields: "+strings.Join(mismatched, ", "))
	}
	return ruleengine.NewError(ruleengine.ErrFieldMapping, "%s", strings.Join(parts, "; "))
}
