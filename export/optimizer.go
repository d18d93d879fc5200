package export

import (
	"sort"
)

// Selectivity estimates the fraction of records a predicate admits;
// lower is more selective and scheduled earlier. The exact values only
// matter relative to one another: exact < range < boolean < contains.
func Selectivity(f Filter) float64 {
	switch {
	case f.isExact():
		return 0.1
	case f.isRange():
		return 0.3
	case f.Kind == FilterHasStackTrace:
		return 0.4
	case f.Kind == FilterLeakedOnly:
		return 0.5
	case f.isContains():
		return 0.6
	default:
		return 1.0
	}
}

// OptimizeFilters removes exact duplicate predicates and reorders the
// rest by estimated selectivity, cheapest-to-reject first. The sort is
// stable: predicates sharing an estimate keep their input order.
func OptimizeFilters(filters []Filter) []Filter {
	seen := make(map[Filter]struct{}, len(filters))
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return Selectivity(out[i]) < Selectivity(out[j])
	})
	return out
}
