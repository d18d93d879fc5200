package export_test

import (
	"testing"

	"github.com/justapithecus/memtrace/export"
)

func TestOptimizeFilters_SelectivityOrder(t *testing.T) {
	filters := []export.Filter{
		export.TypeNameContains("Vec"), // contains: least selective
		export.SizeRange(0, 100),       // range
		export.TypeNameEquals("Vec<u8>"), // exact: most selective
	}
	got := export.OptimizeFilters(filters)
	if len(got) != 3 {
		t.Fatalf("got %d filters, want 3", len(got))
	}
	if got[0].Kind != export.FilterTypeNameEquals {
		t.Errorf("first = %s, want exact predicate", got[0].Kind)
	}
	if got[1].Kind != export.FilterSizeRange {
		t.Errorf("second = %s, want range predicate", got[1].Kind)
	}
	if got[2].Kind != export.FilterTypeNameContains {
		t.Errorf("third = %s, want contains predicate", got[2].Kind)
	}
}

func TestOptimizeFilters_RemovesDuplicates(t *testing.T) {
	filters := []export.Filter{
		export.PtrRange(0, 100),
		export.PtrRange(0, 100),
		export.PtrRange(0, 200),
	}
	got := export.OptimizeFilters(filters)
	if len(got) != 2 {
		t.Errorf("got %d filters after dedup, want 2", len(got))
	}
}

func TestOptimizeFilters_TieKeepsInputOrder(t *testing.T) {
	filters := []export.Filter{
		export.SizeRange(0, 10),
		export.PtrRange(0, 10),
		export.TimestampRange(0, 10),
	}
	got := export.OptimizeFilters(filters)
	// All three share the range selectivity; stable sort preserves
	// input order.
	if got[0].Kind != export.FilterSizeRange ||
		got[1].Kind != export.FilterPtrRange ||
		got[2].Kind != export.FilterTimestampRange {
		t.Errorf("tie-break did not preserve input order: %v", got)
	}
}

func TestSelectivity_Monotone(t *testing.T) {
	exact := export.Selectivity(export.TypeNameEquals("T"))
	rng := export.Selectivity(export.SizeRange(0, 1))
	contains := export.Selectivity(export.TypeNameContains("T"))
	if !(exact < rng && rng < contains) {
		t.Errorf("selectivity not monotone: exact=%f range=%f contains=%f", exact, rng, contains)
	}
}
