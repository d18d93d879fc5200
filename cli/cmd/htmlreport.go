package cmd

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/memtrace/jsonload"
)

// HTMLFromJSONCommand returns the html-from-json command.
// It loads a directory of categorized JSON analysis files and renders
// one HTML report, optionally serving it over HTTP.
func HTMLFromJSONCommand() *cli.Command {
	return &cli.Command{
		Name:      "html-from-json",
		Usage:     "Build an HTML report from a directory of analysis JSON files",
		ArgsUsage: "<dir>",
		Flags: append(CommonFlags(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "memtrace-report.html",
				Usage:   "Report output path",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "Serve the report over HTTP after building",
			},
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1:8642",
				Usage: "Listen address for --serve",
			},
		),
		Action: htmlFromJSONAction,
	}
}

// reportData is the template payload.
type reportData struct {
	Result     *jsonload.LoadResult
	Categories map[jsonload.Category][]jsonload.FileResult
}

func htmlFromJSONAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("html-from-json requires exactly one directory argument")
	}
	dir := c.Args().First()

	result, err := jsonload.Load(dir, nil)
	if err != nil {
		return err
	}
	if len(result.Files) == 0 {
		return fmt.Errorf("no categorized JSON files found in %s", dir)
	}

	outPath := c.String("output")
	if err := writeReport(outPath, result); err != nil {
		return err
	}
	fmt.Printf("Report written to %s (%d files, parallel=%v)\n",
		outPath, len(result.Files), result.ParallelLoading)

	for _, failure := range result.Failures() {
		fmt.Printf("  warning: %s: %s\n", failure.Path, failure.Error)
	}

	if c.Bool("serve") {
		return serveReport(c.String("addr"), outPath)
	}
	return nil
}

func writeReport(path string, result *jsonload.LoadResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return reportTemplate.Execute(f, reportData{
		Result:     result,
		Categories: result.ByCategory(),
	})
}

func serveReport(addr, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, abs)
	})
	fmt.Printf("Serving report at http://%s/\n", addr)
	return http.ListenAndServe(addr, mux)
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>memtrace report</title>
<style>
body { font-family: sans-serif; margin: 2em; max-width: 1100px; }
h2 { border-bottom: 1px solid #ddd; padding-bottom: 0.3em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
.ok { color: #10B981; } .err { color: #EF4444; }
.meta { color: #6B7280; }
</style></head>
<body>
<h1>Memory Analysis Report</h1>
<p class="meta">{{len .Result.Files}} files, {{.Result.TotalBytes}} bytes,
parallel loading: {{.Result.ParallelLoading}}</p>

<h2>Loaded Files</h2>
<table>
<tr><th>Path</th><th>Category</th><th>Size</th><th>Load time</th><th>Status</th></tr>
{{range .Result.Files}}<tr>
<td>{{.Path}}</td>
<td>{{.Category}}</td>
<td>{{.SizeBytes}}</td>
<td>{{.LoadTime}}</td>
<td>{{if .Success}}<span class="ok">loaded</span>{{else}}<span class="err">{{.Error}}</span>{{end}}</td>
</tr>{{end}}
</table>

{{range $category, $files := .Categories}}
<h2>{{$category}}</h2>
<p>{{len $files}} document(s) loaded.</p>
{{end}}
</body>
</html>
`))
