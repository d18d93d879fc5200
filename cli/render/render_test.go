package render_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/justapithecus/memtrace/cli/render"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]render.Format{
		"json":  render.FormatJSON,
		"TABLE": render.FormatTable,
		"yaml":  render.FormatYAML,
		"":      "",
	} {
		got, err := render.ParseFormat(input)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := render.ParseFormat("xml"); err == nil {
		t.Errorf("invalid format accepted")
	}
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := render.NewRendererTo(render.FormatJSON, &buf)
	if err := r.Render(sample{Name: "heap", Count: 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var got sample
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if got.Name != "heap" || got.Count != 3 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestRender_TableStruct(t *testing.T) {
	var buf bytes.Buffer
	r := render.NewRendererTo(render.FormatTable, &buf)
	if err := r.Render(&sample{Name: "heap", Count: 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "name") || !strings.Contains(out, "heap") {
		t.Errorf("table output missing fields:\n%s", out)
	}
}

func TestRender_TableSlice(t *testing.T) {
	var buf bytes.Buffer
	r := render.NewRendererTo(render.FormatTable, &buf)
	rows := []sample{{Name: "a", Count: 1}, {Name: "b", Count: 2}}
	if err := r.Render(rows); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "NAME") {
		t.Errorf("missing header row:\n%s", out)
	}
	if !strings.Contains(out, "a") || !strings.Contains(out, "b") {
		t.Errorf("missing data rows:\n%s", out)
	}
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := render.NewRendererTo(render.FormatYAML, &buf)
	if err := r.Render(sample{Name: "heap", Count: 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name: heap") {
		t.Errorf("yaml output wrong:\n%s", buf.String())
	}
}
