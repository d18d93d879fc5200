package export

import (
	"strings"

	"github.com/justapithecus/memtrace/types"
)

// FilterKind discriminates predicate types.
type FilterKind string

const (
	FilterThreadIDEquals    FilterKind = "thread_id_equals"
	FilterTypeNameEquals    FilterKind = "type_name_equals"
	FilterTypeNameContains  FilterKind = "type_name_contains"
	FilterVarNameEquals     FilterKind = "var_name_equals"
	FilterVarNameContains   FilterKind = "var_name_contains"
	FilterScopeNameEquals   FilterKind = "scope_name_equals"
	FilterScopeNameContains FilterKind = "scope_name_contains"
	FilterPtrRange          FilterKind = "ptr_range"
	FilterSizeRange         FilterKind = "size_range"
	FilterTimestampRange    FilterKind = "timestamp_range"
	FilterLifetimeRange     FilterKind = "lifetime_range"
	FilterBorrowCountRange  FilterKind = "borrow_count_range"
	FilterLeakedOnly        FilterKind = "leaked_only"
	FilterHasStackTrace     FilterKind = "has_stack_trace"
)

// Filter is one predicate over allocation records. The zero value
// matches nothing useful; build filters with the constructors.
type Filter struct {
	Kind FilterKind `json:"kind"`
	// Str is the operand of equals/contains predicates.
	Str string `json:"str,omitempty"`
	// Min and Max bound range predicates, inclusive.
	Min uint64 `json:"min,omitempty"`
	Max uint64 `json:"max,omitempty"`
}

// Predicate constructors.

func ThreadIDEquals(threadID uint64) Filter {
	return Filter{Kind: FilterThreadIDEquals, Min: threadID, Max: threadID}
}
func TypeNameEquals(name string) Filter    { return Filter{Kind: FilterTypeNameEquals, Str: name} }
func TypeNameContains(sub string) Filter   { return Filter{Kind: FilterTypeNameContains, Str: sub} }
func VarNameEquals(name string) Filter     { return Filter{Kind: FilterVarNameEquals, Str: name} }
func VarNameContains(sub string) Filter    { return Filter{Kind: FilterVarNameContains, Str: sub} }
func ScopeNameEquals(name string) Filter   { return Filter{Kind: FilterScopeNameEquals, Str: name} }
func ScopeNameContains(sub string) Filter  { return Filter{Kind: FilterScopeNameContains, Str: sub} }
func PtrRange(min, max uint64) Filter      { return Filter{Kind: FilterPtrRange, Min: min, Max: max} }
func SizeRange(min, max uint64) Filter     { return Filter{Kind: FilterSizeRange, Min: min, Max: max} }
func TimestampRange(min, max uint64) Filter {
	return Filter{Kind: FilterTimestampRange, Min: min, Max: max}
}
func LifetimeRange(minMs, maxMs uint64) Filter {
	return Filter{Kind: FilterLifetimeRange, Min: minMs, Max: maxMs}
}
func BorrowCountRange(min, max uint64) Filter {
	return Filter{Kind: FilterBorrowCountRange, Min: min, Max: max}
}
func LeakedOnly() Filter    { return Filter{Kind: FilterLeakedOnly} }
func HasStackTrace() Filter { return Filter{Kind: FilterHasStackTrace} }

// Matches applies the predicate in full. This is the precise level:
// the only level that produces the final verdict. String predicates
// resolve handles through the resolver; an unresolvable handle fails
// the predicate rather than the scan.
func (f Filter) Matches(rec *types.AllocationRecord, res Resolver) bool {
	switch f.Kind {
	case FilterThreadIDEquals:
		return rec.ThreadID == f.Min
	case FilterTypeNameEquals, FilterTypeNameContains:
		return f.matchString(rec.TypeNameRef, res)
	case FilterVarNameEquals, FilterVarNameContains:
		return f.matchString(rec.VarNameRef, res)
	case FilterScopeNameEquals, FilterScopeNameContains:
		return f.matchString(rec.ScopeNameRef, res)
	case FilterPtrRange:
		return rec.Ptr >= f.Min && rec.Ptr <= f.Max
	case FilterSizeRange:
		return rec.Size >= f.Min && rec.Size <= f.Max
	case FilterTimestampRange:
		return rec.TimestampAllocNs >= f.Min && rec.TimestampAllocNs <= f.Max
	case FilterLifetimeRange:
		ms, ok := rec.LifetimeMs()
		return ok && ms >= f.Min && ms <= f.Max
	case FilterBorrowCountRange:
		if rec.Borrow == nil {
			return f.Min == 0
		}
		count := uint64(rec.Borrow.ImmutableCount + rec.Borrow.MutableCount)
		return count >= f.Min && count <= f.Max
	case FilterLeakedOnly:
		return rec.IsLeaked
	case FilterHasStackTrace:
		return !rec.StackRef.IsZero()
	default:
		return false
	}
}

func (f Filter) matchString(ref types.StringRef, res Resolver) bool {
	if res == nil {
		return false
	}
	value, err := res.LookupString(ref)
	if err != nil {
		return false
	}
	if f.isContains() {
		return strings.Contains(value, f.Str)
	}
	return value == f.Str
}

// isContains reports whether the predicate is substring-based.
func (f Filter) isContains() bool {
	switch f.Kind {
	case FilterTypeNameContains, FilterVarNameContains, FilterScopeNameContains:
		return true
	}
	return false
}

// isExact reports whether the predicate is an equality test.
func (f Filter) isExact() bool {
	switch f.Kind {
	case FilterThreadIDEquals, FilterTypeNameEquals, FilterVarNameEquals, FilterScopeNameEquals:
		return true
	}
	return false
}

// isRange reports whether the predicate is a numeric range test.
func (f Filter) isRange() bool {
	switch f.Kind {
	case FilterPtrRange, FilterSizeRange, FilterTimestampRange, FilterLifetimeRange, FilterBorrowCountRange:
		return true
	}
	return false
}

// prunesBatch reports whether the quick-filter sidecar can exclude a
// whole batch for this predicate: the batch's (min,max) window does
// not overlap the filter's range.
func (f Filter) prunesBatch(stats BatchStats) bool {
	switch f.Kind {
	case FilterPtrRange:
		return f.Max < stats.MinPtr || f.Min > stats.MaxPtr
	case FilterSizeRange:
		return f.Max < stats.MinSize || f.Min > stats.MaxSize
	case FilterTimestampRange:
		return f.Max < stats.MinTs || f.Min > stats.MaxTs
	default:
		return false
	}
}
