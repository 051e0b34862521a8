package report

import (
	"fmt"
	"io"
	"time"

	"conclave/pkg/feedback"
	pkgstrings "conclave/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteConsole prints one table per feature followed by the totals.
func WriteConsole(w io.Writer, d *Data) {
	if len(d.Entries) == 0 {
		fmt.Fprintf(w, "%s %s\n", text.FgYellow.Sprint("📋"), text.FgYellow.Sprint("No scenarios were run"))
		return
	}

	for _, g := range byFeature(d.Entries) {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		t.SetTitle("%s %s", statusIcon(g.Status), g.Name)
		t.AppendHeader(table.Row{
			text.FgHiCyan.Sprint("SCENARIO"),
			text.FgHiCyan.Sprint("STATUS"),
			text.FgHiCyan.Sprint("ELAPSED"),
			text.FgHiCyan.Sprint("ERROR"),
		})
		for _, e := range g.Entries {
			t.AppendRow(table.Row{
				e.Name,
				colorStatus(string(e.Status)),
				e.Elapsed.Round(time.Millisecond),
				pkgstrings.Summarize(e.Error, pkgstrings.DefaultErrorMaxLen),
			})
		}
		t.Render()
	}

	counts := map[feedback.Status]int{}
	for _, e := range d.Entries {
		counts[e.Status]++
	}
	fmt.Fprintf(w, "\n%s %d scenarios: %s, %s, %s",
		text.FgHiBlue.Sprint("Total:"),
		len(d.Entries),
		text.FgGreen.Sprintf("%d passed", counts[feedback.StatusSuccess]),
		text.FgRed.Sprintf("%d failed", counts[feedback.StatusFailed]),
		text.FgYellow.Sprintf("%d skipped", counts[feedback.StatusSkipped]))
	if d.Result != nil {
		fmt.Fprintf(w, " in %s", d.Result.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintln(w)
}

func colorStatus(status string) string {
	switch status {
	case string(feedback.StatusSuccess):
		return text.FgGreen.Sprint(status)
	case string(feedback.StatusFailed):
		return text.FgRed.Sprint(status)
	default:
		return text.FgYellow.Sprint(status)
	}
}

func statusIcon(status string) string {
	switch status {
	case string(feedback.StatusSuccess):
		return "✅"
	case string(feedback.StatusFailed):
		return "❌"
	default:
		return "⏭️"
	}
}
