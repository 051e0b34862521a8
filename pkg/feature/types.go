// Package feature holds the document model consumed by the scheduler and the
// scenario engine, the gherkin parser that produces it, and the loader that
// turns file, directory and glob inputs into parsed features.
package feature

import "strings"

// FileExtension is the extension collected when a directory is expanded.
const FileExtension = ".feature"

// Concurrency markers accepted as step keywords. A step written with one of
// these keywords runs concurrently with the rest of its scenario.
const (
	KeywordConcurrently    = "Concurrently "
	KeywordBackgroundGiven = "(background) Given "
	KeywordBackgroundWhen  = "(background) When "
	KeywordBackgroundThen  = "(background) Then "
	KeywordBackgroundAnd   = "(background) And "
)

// ConcurrentKeywords lists the concurrency markers in match order.
var ConcurrentKeywords = []string{
	KeywordConcurrently,
	KeywordBackgroundGiven,
	KeywordBackgroundWhen,
	KeywordBackgroundThen,
	KeywordBackgroundAnd,
}

// IsConcurrentKeyword reports whether keyword is one of the concurrency markers.
func IsConcurrentKeyword(keyword string) bool {
	for _, k := range ConcurrentKeywords {
		if keyword == k {
			return true
		}
	}
	return false
}

// Location is a 1-based position in a feature file.
type Location struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

// Step is a single step line.
type Step struct {
	Keyword   string     `json:"keyword" yaml:"keyword"`
	Text      string     `json:"text" yaml:"text"`
	Location  Location   `json:"location" yaml:"location"`
	DocString string     `json:"docString,omitempty" yaml:"docString,omitempty"`
	Table     [][]string `json:"table,omitempty" yaml:"table,omitempty"`
}

// Concurrent reports whether the step carries a concurrency marker.
func (s *Step) Concurrent() bool {
	return IsConcurrentKeyword(s.Keyword)
}

// Scenario is one scenario with the background steps that apply to it.
type Scenario struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Location    Location `json:"location" yaml:"location"`
	Background  []*Step  `json:"background,omitempty" yaml:"background,omitempty"`
	Steps       []*Step  `json:"steps" yaml:"steps"`
}

// AllSteps returns the background steps followed by the scenario's own steps.
func (s *Scenario) AllSteps() []*Step {
	steps := make([]*Step, 0, len(s.Background)+len(s.Steps))
	steps = append(steps, s.Background...)
	return append(steps, s.Steps...)
}

// HasTag reports whether the scenario carries tag exactly.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Feature is a parsed feature file.
type Feature struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Path        string      `json:"path,omitempty" yaml:"path,omitempty"`
	Background  []*Step     `json:"background,omitempty" yaml:"background,omitempty"`
	Scenarios   []*Scenario `json:"scenarios" yaml:"scenarios"`
}

// Summary returns a copy of the feature without its scenarios. It is what a
// parallel worker needs to describe the feature in feedback events.
func (f *Feature) Summary() *Feature {
	return &Feature{
		Name:        f.Name,
		Description: f.Description,
		Tags:        append([]string(nil), f.Tags...),
		Path:        f.Path,
	}
}

// TagFilter restricts scheduling to scenarios carrying at least one listed tag.
// Entries may be written with or without the leading "@".
type TagFilter []string

// Active reports whether the filter restricts anything.
func (f TagFilter) Active() bool {
	return len(f) > 0
}

// Match reports whether a scenario with tags is selected. When the filter is
// active, untagged scenarios never match.
func (f TagFilter) Match(tags []string) bool {
	if !f.Active() {
		return true
	}
	for _, tag := range tags {
		for _, want := range f {
			if normalizeTag(want) == tag {
				return true
			}
		}
	}
	return false
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(tag, "@") {
		return tag
	}
	return "@" + tag
}
