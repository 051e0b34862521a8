package feature

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/google/uuid"
)

// ParseFile reads and parses the feature file at path.
func ParseFile(path string) (*Feature, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature file %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(content), path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature file %s: %w", path, err)
	}
	return f, nil
}

// Parse parses a gherkin document. The concurrency markers are not gherkin
// keywords, so lines starting with one are rewritten to the "*" keyword before
// parsing and the marker is restored on the resulting step.
func Parse(r io.Reader, path string) (*Feature, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	markers := rewriteConcurrentSteps(lines)

	doc, err := gherkin.ParseGherkinDocument(strings.NewReader(strings.Join(lines, "\n")), uuid.NewString)
	if err != nil {
		return nil, err
	}
	if doc.Feature == nil {
		return nil, fmt.Errorf("no feature found")
	}

	b := &builder{lines: lines, markers: markers}
	return b.feature(doc.Feature, path), nil
}

// rewriteConcurrentSteps replaces concurrency markers in place and returns the
// marker found on each rewritten 1-based line.
func rewriteConcurrentSteps(lines []string) map[int]string {
	markers := make(map[int]string)
	inDocString := ""
	for i, line := range lines {
		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		if inDocString != "" {
			if strings.HasPrefix(trimmed, inDocString) {
				inDocString = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, `"""`) || strings.HasPrefix(trimmed, "```") {
			inDocString = trimmed[:3]
			continue
		}
		for _, marker := range ConcurrentKeywords {
			if strings.HasPrefix(trimmed, marker) {
				indent := line[:len(line)-len(trimmed)]
				lines[i] = indent + "* " + trimmed[len(marker):]
				markers[i+1] = marker
				break
			}
		}
	}
	return markers
}

type builder struct {
	lines   []string
	markers map[int]string
}

func (b *builder) feature(f *messages.Feature, path string) *Feature {
	out := &Feature{
		Name:        f.Name,
		Description: strings.TrimSpace(f.Description),
		Tags:        tagNames(f.Tags),
		Path:        path,
	}

	for _, child := range f.Children {
		switch {
		case child.Background != nil:
			out.Background = b.steps(child.Background.Steps)
		case child.Scenario != nil:
			out.Scenarios = append(out.Scenarios, b.scenario(child.Scenario, out.Background, nil))
		case child.Rule != nil:
			var ruleBackground []*Step
			ruleTags := tagNames(child.Rule.Tags)
			for _, rc := range child.Rule.Children {
				switch {
				case rc.Background != nil:
					ruleBackground = b.steps(rc.Background.Steps)
				case rc.Scenario != nil:
					background := append(append([]*Step(nil), out.Background...), ruleBackground...)
					out.Scenarios = append(out.Scenarios, b.scenario(rc.Scenario, background, ruleTags))
				}
			}
		}
	}
	return out
}

func (b *builder) scenario(s *messages.Scenario, background []*Step, inherited []string) *Scenario {
	line := int(s.Location.Line)
	return &Scenario{
		Name:        s.Name,
		Description: strings.TrimSpace(s.Description),
		Tags:        append(append([]string(nil), inherited...), tagNames(s.Tags)...),
		Location:    Location{Line: line, Column: b.column(line)},
		Background:  background,
		Steps:       b.steps(s.Steps),
	}
}

func (b *builder) steps(in []*messages.Step) []*Step {
	out := make([]*Step, 0, len(in))
	for _, s := range in {
		line := int(s.Location.Line)
		keyword := s.Keyword
		if marker, ok := b.markers[line]; ok {
			keyword = marker
		}
		st := &Step{
			Keyword:  keyword,
			Text:     s.Text,
			Location: Location{Line: line, Column: b.column(line)},
		}
		if s.DocString != nil {
			st.DocString = s.DocString.Content
		}
		if s.DataTable != nil {
			for _, row := range s.DataTable.Rows {
				cells := make([]string, 0, len(row.Cells))
				for _, c := range row.Cells {
					cells = append(cells, c.Value)
				}
				st.Table = append(st.Table, cells)
			}
		}
		out = append(out, st)
	}
	return out
}

// column returns the 1-based column of the first non-blank rune on line.
func (b *builder) column(line int) int {
	if line < 1 || line > len(b.lines) {
		return 0
	}
	text := b.lines[line-1]
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	return len([]rune(text[:len(text)-len(trimmed)])) + 1
}

func tagNames(tags []*messages.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
