package tui_test

import (
	"strings"
	"testing"

	"github.com/justapithecus/memtrace/cli/reader"
	"github.com/justapithecus/memtrace/cli/tui"
)

func TestIsTUISupported(t *testing.T) {
	if !tui.IsTUISupported("inspect_file") || !tui.IsTUISupported("stats_file") {
		t.Errorf("inspect/stats views must support TUI")
	}
	if tui.IsTUISupported("run") {
		t.Errorf("non read-only view must not support TUI")
	}
}

func TestRenderInspectStatic(t *testing.T) {
	summary := &reader.FileSummary{
		Path:              "heap.mtrc",
		FormatVersion:     1,
		CompressionFormat: "msgpack+zstd",
		AllocationCount:   1500,
		Chunks:            3,
		Indexed:           true,
	}
	out := tui.RenderInspectStatic("inspect_file", summary)
	if !strings.Contains(out, "heap.mtrc") || !strings.Contains(out, "1500") {
		t.Errorf("static render missing fields:\n%s", out)
	}
}

func TestRenderStatsStatic(t *testing.T) {
	stats := &reader.FileStats{
		Records:     100,
		Active:      40,
		Deallocated: 60,
		TopTypes:    []reader.TypeCount{{TypeName: "Vec<u8>", Count: 12}},
	}
	out := tui.RenderStatsStatic("stats_file", stats)
	if !strings.Contains(out, "Vec<u8>") {
		t.Errorf("top types missing from render:\n%s", out)
	}
}

func TestRenderStatic_WrongDataType(t *testing.T) {
	out := tui.RenderStatsStatic("stats_file", 42)
	if !strings.Contains(out, "Invalid data type") {
		t.Errorf("wrong data type not reported:\n%s", out)
	}
}
