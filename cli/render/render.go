// Package render provides centralized output rendering for the
// memtrace CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/memtrace/cli/tui"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid
// formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the format
// selection rules.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{format: format, out: os.Stdout}, nil
}

// NewRendererTo creates a renderer with an explicit format and writer,
// for tests.
func NewRendererTo(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// Render writes the payload in the selected format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		defer func() { _ = enc.Close() }()
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format %q", r.format)
	}
}

// RenderTUI starts the interactive view for the payload.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	return tui.Run(viewType, data)
}

// renderTable renders a struct (or pointer to struct) as label/value
// rows, and a slice of structs as a header row plus one row per item.
// Fields use their json tag names.
func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", fieldName(field), formatValue(v.Field(i)))
		}
		return nil
	case reflect.Slice:
		if v.Len() == 0 {
			return nil
		}
		elem := v.Index(0)
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			for i := 0; i < v.Len(); i++ {
				fmt.Fprintf(w, "%s\n", formatValue(v.Index(i)))
			}
			return nil
		}
		// Header
		var headers []string
		for i := 0; i < elem.NumField(); i++ {
			if elem.Type().Field(i).IsExported() {
				headers = append(headers, strings.ToUpper(fieldName(elem.Type().Field(i))))
			}
		}
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		// Rows
		for i := 0; i < v.Len(); i++ {
			row := v.Index(i)
			for row.Kind() == reflect.Pointer {
				row = row.Elem()
			}
			var cells []string
			for j := 0; j < row.NumField(); j++ {
				if row.Type().Field(j).IsExported() {
					cells = append(cells, formatValue(row.Field(j)))
				}
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		return nil
	default:
		_, err := fmt.Fprintf(w, "%v\n", v.Interface())
		return err
	}
}

// fieldName prefers the json tag over the Go field name.
func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return f.Name
	}
	return tag
}

// formatValue renders one cell; nested structures fall back to JSON.
func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return fmt.Sprintf("%v", v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.2f", v.Float())
	case reflect.Pointer:
		if v.IsNil() {
			return ""
		}
		return formatValue(v.Elem())
	default:
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(raw)
	}
}
