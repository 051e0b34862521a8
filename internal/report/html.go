package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"conclave/pkg/feedback"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/report.html
var reportHTML string

//go:embed templates/timeline.html
var timelineHTML string

//go:embed templates/dependency.html
var dependencyHTML string

var (
	reportTemplate     = newTemplate("report", reportHTML)
	timelineTemplate   = newTemplate("timeline", timelineHTML)
	dependencyTemplate = newTemplate("dependency", dependencyHTML)
)

func newTemplate(name, body string) *template.Template {
	return template.Must(template.New(name).
		Funcs(sprig.HtmlFuncMap()).
		Funcs(template.FuncMap{"duration": formatDuration}).
		Parse(body))
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// WriteHTML writes a page with one collapsible section per feature.
func WriteHTML(w io.Writer, d *Data) error {
	counts := map[feedback.Status]int{}
	for _, e := range d.Entries {
		counts[e.Status]++
	}
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped",
		counts[feedback.StatusSuccess], counts[feedback.StatusFailed], counts[feedback.StatusSkipped])
	if d.Result != nil {
		summary += " in " + formatDuration(d.Result.Elapsed)
	}
	return reportTemplate.Execute(w, map[string]any{
		"Title":    "Conclave report",
		"Summary":  summary,
		"Features": byFeature(d.Entries),
	})
}

// WriteGraph writes a page rendering the dependency graph with mermaid.
func WriteGraph(w io.Writer, d *Data) error {
	return dependencyTemplate.Execute(w, map[string]any{
		"Title": "Conclave dependencies",
		"Graph": Mermaid(d.Graph, d.Entries),
	})
}
