package export_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/types"
)

// writeRangedFile writes 1000 records in 10 batches of 100; batch b
// covers the disjoint ptr range [b*0x1999, b*0x1999+0x1998].
func writeRangedFile(t *testing.T) *export.Reader {
	t.Helper()
	store := dedup.NewStore(dedup.DefaultConfig(), nil)
	records := make([]types.AllocationRecord, 0, 1000)
	for b := range 10 {
		base := uint64(b) * 0x1999
		for i := range 100 {
			typeRef, err := store.InternString(fmt.Sprintf("Batch%dType", b))
			if err != nil {
				t.Fatalf("intern: %v", err)
			}
			records = append(records, types.AllocationRecord{
				Ptr:              base + uint64(i)*0x41,
				Size:             uint64(100 + i),
				ThreadID:         uint64(b),
				TimestampAllocNs: uint64(b*1000 + i),
				TypeNameRef:      typeRef,
			})
		}
	}

	opts := export.DefaultOptions()
	opts.BatchSize = 100
	buf := writeFile(t, opts, store, records)
	r, err := export.NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	return r
}

func TestFilterEngine_RangePreFilterPrunesBatches(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)

	// [0x4000, 0x4100] lies entirely inside batch 2's ptr window.
	got, err := engine.QueryAll([]export.Filter{export.PtrRange(0x4000, 0x4100)})
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}

	for _, rec := range got {
		if rec.Ptr < 0x4000 || rec.Ptr > 0x4100 {
			t.Errorf("record ptr %#x outside query range", rec.Ptr)
		}
	}
	// Verify against a full scan.
	all, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	want := 0
	for _, rec := range all {
		if rec.Ptr >= 0x4000 && rec.Ptr <= 0x4100 {
			want++
		}
	}
	if len(got) != want {
		t.Errorf("got %d records, want %d", len(got), want)
	}

	// Nine of ten batches must have been pruned by the index level.
	stats := engine.Stats()
	if stats.IndexFilteredOut != 900 {
		t.Errorf("index_filtered_out = %d, want 900", stats.IndexFilteredOut)
	}
}

func TestFilterEngine_BloomPrunesTypeEquality(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)

	got, err := engine.QueryAll([]export.Filter{export.TypeNameEquals("Batch3Type")})
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("got %d records, want 100", len(got))
	}
	// At least some batches should be skipped by bloom (false positives
	// may keep a few extra).
	if engine.Stats().BloomFilteredOut == 0 {
		t.Errorf("bloom level pruned nothing for an equality predicate")
	}
}

func TestFilterEngine_ThreadIDBloom(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)

	got, err := engine.QueryAll([]export.Filter{export.ThreadIDEquals(5)})
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("got %d records for thread 5, want 100", len(got))
	}
}

func TestFilterEngine_NoFilters(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)
	got, err := engine.QueryAll(nil)
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	if len(got) != 1000 {
		t.Errorf("unfiltered query returned %d records, want 1000", len(got))
	}
}

func TestFilterEngine_Idempotent(t *testing.T) {
	r := writeRangedFile(t)
	filters := []export.Filter{
		export.SizeRange(150, 180),
		export.PtrRange(0, 0xFFFF),
	}

	first, err := export.NewFilterEngine(r).QueryAll(filters)
	if err != nil {
		t.Fatalf("first query failed: %v", err)
	}
	second, err := export.NewFilterEngine(r).QueryAll(filters)
	if err != nil {
		t.Fatalf("second query failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("query not idempotent: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Ptr != second[i].Ptr {
			t.Fatalf("ordering differs at %d", i)
		}
	}
}

func TestFilterEngine_CombinedPredicates(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)

	got, err := engine.QueryAll([]export.Filter{
		export.ThreadIDEquals(2),
		export.SizeRange(150, 199),
	})
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	for _, rec := range got {
		if rec.ThreadID != 2 || rec.Size < 150 || rec.Size > 199 {
			t.Errorf("record escaped combined predicates: %+v", rec)
		}
	}
	if len(got) != 50 {
		t.Errorf("got %d records, want 50", len(got))
	}
}

func TestBloom_NoFalseNegatives(t *testing.T) {
	// Every value added to a bloom filter must test positive.
	f := bloom.NewWithEstimates(1000, 0.01)
	var key [8]byte
	for i := range 1000 {
		binary.LittleEndian.PutUint64(key[:], uint64(i))
		f.Add(key[:])
	}
	for i := range 1000 {
		binary.LittleEndian.PutUint64(key[:], uint64(i))
		if !f.Test(key[:]) {
			t.Fatalf("false negative for %d", i)
		}
	}
}

func TestSidecar_BloomNoFalseNegativesInFile(t *testing.T) {
	r := writeRangedFile(t)
	engine := export.NewFilterEngine(r)

	// Every type name actually present must survive bloom pruning and
	// return its full batch.
	for b := range 10 {
		name := fmt.Sprintf("Batch%dType", b)
		got, err := engine.QueryAll([]export.Filter{export.TypeNameEquals(name)})
		if err != nil {
			t.Fatalf("QueryAll(%s) failed: %v", name, err)
		}
		if len(got) != 100 {
			t.Errorf("type %s: got %d records, want 100 (bloom false negative?)", name, len(got))
		}
	}
}
