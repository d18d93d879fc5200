package export_test

import (
	"testing"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/types"
)

func newProcessor(t *testing.T, records int) *export.FieldProcessor {
	t.Helper()
	store := dedup.NewStore(dedup.DefaultConfig(), nil)
	recs := buildRecords(t, store, records, 0x1000)
	buf := writeFile(t, export.DefaultOptions(), store, recs)
	r, err := export.NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	p, err := export.NewFieldProcessor(r, export.DefaultProcessorConfig())
	if err != nil {
		t.Fatalf("NewFieldProcessor failed: %v", err)
	}
	return p
}

func TestFieldProcessor_SelectiveProjection(t *testing.T) {
	p := newProcessor(t, 100)
	fields := types.NewFieldSet(types.FieldPtr, types.FieldSize)

	count := 0
	stats, err := p.Process(fields, nil, func(rec *export.OptimizedRecord) error {
		count++
		if rec.Partial.Ptr == nil || rec.Partial.Size == nil {
			t.Fatalf("requested fields missing")
		}
		if rec.Partial.TypeName != nil || rec.Partial.ThreadID != nil {
			t.Fatalf("unrequested fields populated")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if count != 100 {
		t.Errorf("callback ran %d times, want 100", count)
	}
	if stats.RecordsProcessed != 100 {
		t.Errorf("records_processed = %d, want 100", stats.RecordsProcessed)
	}
	if stats.FieldsProcessed != 200 {
		t.Errorf("fields_processed = %d, want 200", stats.FieldsProcessed)
	}
}

func TestFieldProcessor_StringFieldsResolve(t *testing.T) {
	p := newProcessor(t, 20)
	fields := types.NewFieldSet(types.FieldTypeName, types.FieldVarName)

	_, err := p.Process(fields, nil, func(rec *export.OptimizedRecord) error {
		if rec.Partial.TypeName == nil || *rec.Partial.TypeName == "" {
			t.Fatalf("type name not resolved")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
}

func TestFieldProcessor_PreformattedFields(t *testing.T) {
	p := newProcessor(t, 10)
	fields := types.NewFieldSet(types.FieldPtr)

	_, err := p.Process(fields, nil, func(rec *export.OptimizedRecord) error {
		text, ok := rec.FormattedField(types.FieldPtr)
		if !ok {
			t.Fatalf("no preformatted ptr field")
		}
		if len(text) < 3 || text[:2] != "0x" {
			t.Fatalf("ptr formatted as %q", text)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if p.Stats().CacheMisses == 0 {
		t.Errorf("expected cache misses on first formatting pass")
	}
}

func TestFieldProcessor_FiltersApply(t *testing.T) {
	p := newProcessor(t, 100)
	fields := types.NewFieldSet(types.FieldPtr)

	count := 0
	_, err := p.Process(fields, []export.Filter{export.ThreadIDEquals(0)}, func(rec *export.OptimizedRecord) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if count != 25 { // threads cycle i%4
		t.Errorf("filtered callback ran %d times, want 25", count)
	}
}

func TestFieldProcessor_Stats(t *testing.T) {
	p := newProcessor(t, 50)
	stats, err := p.Process(types.NewFieldSet(types.FieldPtr, types.FieldSize), nil,
		func(*export.OptimizedRecord) error { return nil })
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if stats.Throughput() <= 0 {
		t.Errorf("throughput = %f, want > 0", stats.Throughput())
	}
	if stats.ProcessingTime <= 0 {
		t.Errorf("processing time not recorded")
	}
}

func TestFieldProcessor_CallbackErrorStopsScan(t *testing.T) {
	p := newProcessor(t, 100)
	calls := 0
	_, err := p.Process(types.NewFieldSet(types.FieldPtr), nil, func(*export.OptimizedRecord) error {
		calls++
		if calls == 5 {
			return types.NewTrackError(types.KindDataError, "stop here")
		}
		return nil
	})
	if err == nil {
		t.Fatalf("callback error not propagated")
	}
	if calls != 5 {
		t.Errorf("scan continued after error: %d calls", calls)
	}
}

func TestFieldProcessor_CacheMemoryBudget(t *testing.T) {
	store := dedup.NewStore(dedup.DefaultConfig(), nil)
	recs := buildRecords(t, store, 500, 0)
	buf := writeFile(t, export.DefaultOptions(), store, recs)
	r, err := export.NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	cfg := export.DefaultProcessorConfig()
	cfg.MaxCacheEntries = 1024
	cfg.MaxCacheMemoryBytes = 256 // tiny budget forces evictions
	p, err := export.NewFieldProcessor(r, cfg)
	if err != nil {
		t.Fatalf("NewFieldProcessor failed: %v", err)
	}

	stats, err := p.Process(types.NewFieldSet(types.FieldStackTrace, types.FieldPtr), nil,
		func(*export.OptimizedRecord) error { return nil })
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if stats.CacheEvictions == 0 {
		t.Errorf("memory budget produced no evictions")
	}
}
