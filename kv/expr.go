package kv

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// buildUpdateExpr turns set/remove maps into a DynamoDB update expression
// with placeholder names and values. Attributes are processed in sorted
// order so the generated expression is deterministic.
func buildUpdateExpr(set map[string]types.AttributeValue, remove []string) (string, map[string]string, map[string]types.AttributeValue) {
	names := make(map[string]string)
	values := make(map[string]types.AttributeValue)

	setAttrs := make([]string, 0, len(set))
	for k := range set {
		setAttrs = append(setAttrs, k)
	}
	sort.Strings(setAttrs)

	var setClauses []string
	for i, attr := range setAttrs {
		nameKey := fmt.Sprintf("#set%d", i)
		valueKey := fmt.Sprintf(":set%d", i)
		names[nameKey] = attr
		values[valueKey] = set[attr]
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	var removeClauses []string
	for i, attr := range remove {
		nameKey := fmt.Sprintf("#rm%d", i)
		names[nameKey] = attr
		removeClauses = append(removeClauses, nameKey)
	}

	var parts []string
	if len(setClauses) > 0 {
		parts = append(parts, "SET "+strings.Join(setClauses, ", "))
	}
	if len(removeClauses) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(removeClauses, ", "))
	}
	return strings.Join(parts, " "), names, values
}
