// Package feedback streams scenario and step progress to observers.
//
// Producers (the scheduler and the scenario engine) emit fully populated,
// serializable events through a Notifier. The Pipeline queues them without
// blocking the producer and a single consumer goroutine fans them out to the
// registered adapters. A failing or panicking adapter is logged and never
// affects delivery to the others.
package feedback

import (
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/step"
)

// Status is a scenario or step state transition.
type Status string

const (
	StatusStarting Status = "starting"
	StatusSuccess  Status = "success"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusSkipped || s == StatusFailed
}

// FeatureInfo identifies the feature an event belongs to.
type FeatureInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// NewFeatureInfo describes f.
func NewFeatureInfo(f *feature.Feature) FeatureInfo {
	if f == nil {
		return FeatureInfo{}
	}
	return FeatureInfo{
		Name:        f.Name,
		Description: f.Description,
		Tags:        f.Tags,
		Path:        f.Path,
	}
}

// ScenarioInfo identifies the scenario an event belongs to.
type ScenarioInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	Steps       int      `json:"steps"`
}

// NewScenarioInfo describes s.
func NewScenarioInfo(s *feature.Scenario) ScenarioInfo {
	if s == nil {
		return ScenarioInfo{}
	}
	return ScenarioInfo{
		Name:        s.Name,
		Description: s.Description,
		Tags:        s.Tags,
		Line:        s.Location.Line,
		Column:      s.Location.Column,
		Steps:       len(s.Background) + len(s.Steps),
	}
}

// ScenarioEvent reports a scenario state transition.
type ScenarioEvent struct {
	Status   Status          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Start    time.Time       `json:"start,omitempty"`
	End      time.Time       `json:"end,omitempty"`
	Elapsed  time.Duration   `json:"elapsed,omitempty"`
	PID      int             `json:"pid,omitempty"`
	Worker   int             `json:"worker,omitempty"`
	Run      step.RunContext `json:"run"`
	Feature  FeatureInfo     `json:"feature"`
	Scenario ScenarioInfo    `json:"scenario"`
}

// StepEvent reports a step state transition.
type StepEvent struct {
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Log        string          `json:"log,omitempty"`
	Keyword    string          `json:"keyword"`
	Text       string          `json:"text"`
	Line       int             `json:"line"`
	Column     int             `json:"column"`
	Concurrent bool            `json:"concurrent,omitempty"`
	Start      time.Time       `json:"start,omitempty"`
	End        time.Time       `json:"end,omitempty"`
	Elapsed    time.Duration   `json:"elapsed,omitempty"`
	PID        int             `json:"pid,omitempty"`
	Worker     int             `json:"worker,omitempty"`
	Lane       int             `json:"lane,omitempty"`
	Run        step.RunContext `json:"run"`
	Feature    FeatureInfo     `json:"feature"`
	Scenario   ScenarioInfo    `json:"scenario"`
}

// Message carries exactly one event. It is the unit queued by the pipeline and
// the unit forwarded by parallel workers.
type Message struct {
	Scenario *ScenarioEvent `json:"scenario,omitempty"`
	Step     *StepEvent     `json:"step,omitempty"`
}

// Notifier accepts events from producers. Implementations must not block.
type Notifier interface {
	NotifyScenario(ev ScenarioEvent)
	NotifyStep(ev StepEvent)
}

// Adapter observes events. Returned errors are logged by the pipeline.
type Adapter interface {
	OnScenario(ev ScenarioEvent) error
	OnStep(ev StepEvent) error
}
