package query

import (
	"strings"
)

// SortSpec represents a single sort directive.
type SortSpec struct {
	Field      string
	Descending bool
}

// ParseOrdering parses an ordering parameter such as "-created_at,last_name".
// A leading "-" means descending. Blank entries are dropped.
func ParseOrdering(param string) []SortSpec {
	if param == "" {
		return nil
	}

	parts := strings.Split(param, ",")
	specs := make([]SortSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		spec := SortSpec{Field: part}
		if strings.HasPrefix(part, "-") {
			spec.Descending = true
			spec.Field = strings.TrimSpace(part[1:])
		}
		if spec.Field != "" {
			specs = append(specs, spec)
		}
	}
	return specs
}

// BuildOrderClause maps specs onto SQL columns through fieldMap. Fields not in
// fieldMap are ignored, as are repeats. When nothing usable remains,
// defaultOrder is returned. The result has no "ORDER BY" keyword.
func BuildOrderClause(specs []SortSpec, fieldMap map[string]string, defaultOrder string) string {
	seen := make(map[string]bool, len(specs))
	var parts []string
	for _, spec := range specs {
		col, ok := fieldMap[spec.Field]
		if !ok || seen[col] {
			continue
		}
		seen[col] = true

		dir := "ASC"
		if spec.Descending {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}

	if len(parts) == 0 {
		return defaultOrder
	}
	return strings.Join(parts, ", ")
}

// Ordering parses param and builds the clause in one step, appending
// tiebreak so that paging over equal sort keys is stable.
func Ordering(param string, fieldMap map[string]string, defaultOrder, tiebreak string) string {
	clause := BuildOrderClause(ParseOrdering(param), fieldMap, defaultOrder)
	if tiebreak == "" {
		return clause
	}
	if clause == "" {
		return tiebreak
	}
	return clause + ", " + tiebreak
}
