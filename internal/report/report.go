// Package report renders the outcome of a run: a console summary and a set of
// files (structured reports, JUnit XML, HTML pages) written to a directory.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/scheduler"

	"golang.org/x/sync/errgroup"
)

// Format names one rendering of a run.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatJUnit    Format = "junit"
	FormatHTML     Format = "html"
	FormatTimeline Format = "timeline"
	FormatGraph    Format = "graph"
)

// File names written for each file format.
const (
	JSONFile     = "report.json"
	YAMLFile     = "report.yaml"
	JUnitFile    = "junit_output.xml"
	HTMLFile     = "report_output.html"
	TimelineFile = "timeline_output.html"
	GraphFile    = "dependency_output.html"
)

// AllFormats lists every format in rendering order.
var AllFormats = []Format{FormatConsole, FormatJSON, FormatYAML, FormatJUnit, FormatHTML, FormatTimeline, FormatGraph}

// ParseFormats validates names. An empty list selects every format.
func ParseFormats(names []string) ([]Format, error) {
	if len(names) == 0 {
		return AllFormats, nil
	}
	var formats []Format
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		if !f.Valid() {
			return nil, fmt.Errorf("unknown report format %q (valid: %s)", name, validNames())
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	for _, known := range AllFormats {
		if f == known {
			return true
		}
	}
	return false
}

func validNames() string {
	names := make([]string, len(AllFormats))
	for i, f := range AllFormats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Data is everything a renderer may use.
type Data struct {
	Result  *scheduler.Result
	Entries []*scheduler.Entry
	Graph   *scheduler.Graph
}

// NewData collects the outcome of the last run of s.
func NewData(s *scheduler.Scheduler, res *scheduler.Result) *Data {
	d := &Data{Result: res, Graph: s.Graph()}
	if r := s.Report(); r != nil {
		d.Entries = r.Entries()
	}
	return d
}

type fileRenderer struct {
	name   string
	render func(io.Writer, *Data) error
}

var fileRenderers = map[Format]fileRenderer{
	FormatJSON:     {JSONFile, WriteJSON},
	FormatYAML:     {YAMLFile, WriteYAML},
	FormatJUnit:    {JUnitFile, WriteJUnit},
	FormatHTML:     {HTMLFile, WriteHTML},
	FormatTimeline: {TimelineFile, WriteTimeline},
	FormatGraph:    {GraphFile, WriteGraph},
}

// Writer renders reports.
type Writer struct {
	// Dir receives the report files. It is created if needed.
	Dir string
	// Console receives the console summary.
	Console io.Writer
	Formats []Format
}

// Write renders every configured format. Files are rendered concurrently.
func (w *Writer) Write(ctx context.Context, d *Data) error {
	var files []Format
	for _, f := range w.Formats {
		if f == FormatConsole {
			if w.Console != nil {
				WriteConsole(w.Console, d)
			}
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		r, ok := fileRenderers[f]
		if !ok {
			return fmt.Errorf("unknown report format %q", f)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(w.Dir, r.name)
			if err := writeFile(path, d, r.render); err != nil {
				return fmt.Errorf("failed to write %s report: %w", f, err)
			}
			logging.Debug("Report", "Wrote %s", path)
			return nil
		})
	}
	return g.Wait()
}

func writeFile(path string, d *Data, render func(io.Writer, *Data) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// featureGroup is the entries of one feature.
type featureGroup struct {
	Name        string
	Description string
	Status      string
	Entries     []*scheduler.Entry
}

// byFeature groups entries by feature name, sorted by name. Entries keep
// their report order within a feature. A feature is failed if any entry
// failed, skipped if all were skipped, incomplete if some were skipped and
// success otherwise.
func byFeature(entries []*scheduler.Entry) []*featureGroup {
	index := make(map[string]*featureGroup)
	var groups []*featureGroup
	for _, e := range entries {
		g, ok := index[e.Feature]
		if !ok {
			g = &featureGroup{Name: e.Feature}
			if e.Task != nil && e.Task.Feature != nil {
				g.Description = e.Task.Feature.Description
			}
			index[e.Feature] = g
			groups = append(groups, g)
		}
		g.Entries = append(g.Entries, e)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		g.Status = featureStatus(g.Entries)
	}
	return groups
}

func featureStatus(entries []*scheduler.Entry) string {
	failed, skipped := 0, 0
	for _, e := range entries {
		switch e.Status {
		case feedback.StatusFailed:
			failed++
		case feedback.StatusSkipped:
			skipped++
		}
	}
	switch {
	case failed > 0:
		return string(feedback.StatusFailed)
	case skipped == len(entries):
		return string(feedback.StatusSkipped)
	case skipped > 0:
		return "incomplete"
	default:
		return string(feedback.StatusSuccess)
	}
}
