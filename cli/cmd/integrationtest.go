package cmd

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/iox"
	"github.com/justapithecus/memtrace/types"
)

// Integration test subtypes.
const (
	TestAll           = "all"
	TestIntegrity     = "integrity"
	TestPerformance   = "performance"
	TestRegression    = "regression"
	TestCompatibility = "compatibility"
)

// TestResult is one test category's outcome, persisted as JSON in the
// output directory.
type TestResult struct {
	Category   string         `json:"category"`
	Passed     bool           `json:"passed"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// IntegrationTestCommand returns the integration-test command.
// It exercises the export pipeline end to end and writes a results
// directory with per-category JSON files and an HTML summary.
func IntegrationTestCommand() *cli.Command {
	return &cli.Command{
		Name:  "integration-test",
		Usage: "Run self-checks against the export pipeline",
		Flags: append(CommonFlags(),
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Value:   TestAll,
				Usage:   "Test type: all, integrity, performance, regression, compatibility",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "memtrace-test-results",
				Usage:   "Results directory",
			},
		),
		Action: integrationTestAction,
	}
}

func integrationTestAction(c *cli.Context) error {
	testType := c.String("type")
	outputDir := c.String("output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var categories []string
	switch testType {
	case TestAll:
		categories = []string{TestIntegrity, TestPerformance, TestRegression, TestCompatibility}
	case TestIntegrity, TestPerformance, TestRegression, TestCompatibility:
		categories = []string{testType}
	default:
		return fmt.Errorf("unknown test type %q (supported: all, integrity, performance, regression, compatibility)", testType)
	}

	results := make([]TestResult, 0, len(categories))
	for _, category := range categories {
		results = append(results, runTestCategory(category))
	}

	for _, result := range results {
		if err := writeResultJSON(outputDir, result); err != nil {
			return err
		}
	}
	if err := writeResultHTML(outputDir, results); err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		if !result.Passed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d test categories failed (results in %s)", failed, len(results), outputDir)
	}
	fmt.Printf("All %d test categories passed (results in %s)\n", len(results), outputDir)
	return nil
}

func runTestCategory(category string) TestResult {
	start := time.Now()
	result := TestResult{Category: category, Details: map[string]any{}}

	var err error
	switch category {
	case TestIntegrity:
		err = runIntegrityTest(result.Details)
	case TestPerformance:
		err = runPerformanceTest(result.Details)
	case TestRegression:
		err = runRegressionTest(result.Details)
	case TestCompatibility:
		err = runCompatibilityTest(result.Details)
	}
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Passed = true
	return result
}

// buildDataset writes n synthetic records into an in-memory container.
func buildDataset(n int, opts export.Options) (*iox.BufferFile, []types.AllocationRecord, error) {
	store := dedup.NewStore(dedup.DefaultConfig(), nil)
	records := make([]types.AllocationRecord, n)
	for i := range n {
		typeRef, err := store.InternString(fmt.Sprintf("Type%d", i%8))
		if err != nil {
			return nil, nil, err
		}
		records[i] = types.AllocationRecord{
			Ptr:              uint64(0x1000 + i*32),
			Size:             uint64(64 + i%512),
			ThreadID:         uint64(i % 4),
			TimestampAllocNs: uint64(1_000_000 + i),
			TypeNameRef:      typeRef,
		}
	}

	buf := iox.NewBufferFile()
	w, err := export.NewWriter(buf, opts, store)
	if err != nil {
		return nil, nil, err
	}
	for i := range records {
		if err := w.WriteRecord(&records[i]); err != nil {
			return nil, nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}
	return buf, records, nil
}

// runIntegrityTest verifies a write-read round trip preserves every
// record and that sidecar windows bound their batches.
func runIntegrityTest(details map[string]any) error {
	const n = 2000
	opts := export.DefaultOptions()
	opts.BatchSize = 250

	buf, written, err := buildDataset(n, opts)
	if err != nil {
		return err
	}
	r, err := export.NewReader(buf)
	if err != nil {
		return err
	}
	read, err := r.ReadAll()
	if err != nil {
		return err
	}
	if len(read) != len(written) {
		return fmt.Errorf("round trip lost records: wrote %d, read %d", len(written), len(read))
	}
	for i := range written {
		if read[i].Ptr != written[i].Ptr || read[i].Size != written[i].Size {
			return fmt.Errorf("record %d corrupted in round trip", i)
		}
	}

	sidecar := r.Header().Sidecar
	if sidecar == nil {
		return errors.New("sidecar missing from indexed file")
	}
	for i, info := range r.Header().Chunks {
		chunk, err := r.ReadChunk(info)
		if err != nil {
			return err
		}
		stats := sidecar.Batches[i]
		for _, rec := range chunk {
			if rec.Ptr < stats.MinPtr || rec.Ptr > stats.MaxPtr {
				return fmt.Errorf("batch %d window violated", i)
			}
		}
	}
	details["records"] = n
	details["chunks"] = len(r.Header().Chunks)
	return nil
}

// runPerformanceTest measures write and filtered-read throughput.
func runPerformanceTest(details map[string]any) error {
	const n = 20000

	writeStart := time.Now()
	buf, _, err := buildDataset(n, export.DefaultOptions())
	if err != nil {
		return err
	}
	writeTime := time.Since(writeStart)

	r, err := export.NewReader(buf)
	if err != nil {
		return err
	}
	readStart := time.Now()
	engine := export.NewFilterEngine(r)
	matched, err := engine.QueryAll([]export.Filter{export.SizeRange(100, 200)})
	if err != nil {
		return err
	}
	readTime := time.Since(readStart)

	details["records"] = n
	details["write_ms"] = writeTime.Milliseconds()
	details["filtered_read_ms"] = readTime.Milliseconds()
	details["matched"] = len(matched)
	details["write_throughput_per_s"] = float64(n) / writeTime.Seconds()
	return nil
}

// runRegressionTest verifies filter determinism and optimizer
// invariants that previously drifted.
func runRegressionTest(details map[string]any) error {
	buf, _, err := buildDataset(1000, export.DefaultOptions())
	if err != nil {
		return err
	}
	r, err := export.NewReader(buf)
	if err != nil {
		return err
	}

	filters := []export.Filter{
		export.SizeRange(100, 400),
		export.ThreadIDEquals(1),
	}
	first, err := export.NewFilterEngine(r).QueryAll(filters)
	if err != nil {
		return err
	}
	second, err := export.NewFilterEngine(r).QueryAll(filters)
	if err != nil {
		return err
	}
	if len(first) != len(second) {
		return fmt.Errorf("filter engine not deterministic: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Ptr != second[i].Ptr {
			return fmt.Errorf("filter ordering drifted at %d", i)
		}
	}

	optimized := export.OptimizeFilters([]export.Filter{
		export.TypeNameContains("T"),
		export.TypeNameEquals("Type1"),
	})
	if optimized[0].Kind != export.FilterTypeNameEquals {
		return errors.New("optimizer no longer orders exact before contains")
	}
	details["matched"] = len(first)
	return nil
}

// runCompatibilityTest verifies version refusal and the uncompressed
// format path.
func runCompatibilityTest(details map[string]any) error {
	buf, _, err := buildDataset(100, export.DefaultOptions())
	if err != nil {
		return err
	}
	// A higher version must be refused outright.
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], types.FormatVersion+1)
	if _, err := buf.WriteAt(v[:], 4); err != nil {
		return err
	}
	if _, err := export.NewReader(buf); !errors.Is(err, types.ErrUnsupportedVersion) {
		return fmt.Errorf("future version not refused: %v", err)
	}

	// The uncompressed format must round-trip.
	opts := export.DefaultOptions()
	opts.Format = export.FormatMsgpack
	plain, _, err := buildDataset(100, opts)
	if err != nil {
		return err
	}
	r, err := export.NewReader(plain)
	if err != nil {
		return err
	}
	read, err := r.ReadAll()
	if err != nil {
		return err
	}
	if len(read) != 100 {
		return fmt.Errorf("uncompressed round trip lost records: %d", len(read))
	}
	details["formats"] = []string{export.FormatMsgpackZstd, export.FormatMsgpack}
	return nil
}

func writeResultJSON(dir string, result TestResult) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, result.Category+"_result.json")
	return os.WriteFile(path, raw, 0o644)
}

var resultTemplate = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>memtrace integration tests</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.4em 0.8em; }
.pass { color: #10B981; } .fail { color: #EF4444; }
</style></head>
<body>
<h1>Integration Test Results</h1>
<table>
<tr><th>Category</th><th>Result</th><th>Duration</th><th>Error</th></tr>
{{range .}}<tr>
<td>{{.Category}}</td>
<td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASS{{else}}FAIL{{end}}</td>
<td>{{.DurationMs}} ms</td>
<td>{{.Error}}</td>
</tr>{{end}}
</table>
</body>
</html>
`))

func writeResultHTML(dir string, results []TestResult) error {
	f, err := os.Create(filepath.Join(dir, "index.html"))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return resultTemplate.Execute(f, results)
}
