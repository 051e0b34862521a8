package feedback

import (
	"sync"

	"conclave/pkg/logging"
)

// NullAdapter discards every event.
type NullAdapter struct{}

func (NullAdapter) OnScenario(ScenarioEvent) error { return nil }
func (NullAdapter) OnStep(StepEvent) error         { return nil }

// LogAdapter writes every event to the debug log.
type LogAdapter struct{}

func (LogAdapter) OnScenario(ev ScenarioEvent) error {
	logging.Debug("Feedback", "scenario %s [%s] %s: %s", ev.Run.TaskID, ev.Feature.Name, ev.Scenario.Name, ev.Status)
	return nil
}

func (LogAdapter) OnStep(ev StepEvent) error {
	logging.Debug("Feedback", "step %s %s%s: %s", ev.Run.TaskID, ev.Keyword, ev.Text, ev.Status)
	return nil
}

// Funcs adapts plain functions. Nil functions ignore their events.
type Funcs struct {
	Scenario func(ScenarioEvent) error
	Step     func(StepEvent) error
}

func (f Funcs) OnScenario(ev ScenarioEvent) error {
	if f.Scenario == nil {
		return nil
	}
	return f.Scenario(ev)
}

func (f Funcs) OnStep(ev StepEvent) error {
	if f.Step == nil {
		return nil
	}
	return f.Step(ev)
}

// Recorder keeps every event in memory. It implements both Adapter and
// Notifier, so it can observe a pipeline or stand in for one.
type Recorder struct {
	mu        sync.Mutex
	scenarios []ScenarioEvent
	steps     []StepEvent
}

func (r *Recorder) OnScenario(ev ScenarioEvent) error {
	r.NotifyScenario(ev)
	return nil
}

func (r *Recorder) OnStep(ev StepEvent) error {
	r.NotifyStep(ev)
	return nil
}

func (r *Recorder) NotifyScenario(ev ScenarioEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios = append(r.scenarios, ev)
}

func (r *Recorder) NotifyStep(ev StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, ev)
}

// Scenarios returns the recorded scenario events in arrival order.
func (r *Recorder) Scenarios() []ScenarioEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScenarioEvent(nil), r.scenarios...)
}

// Steps returns the recorded step events in arrival order.
func (r *Recorder) Steps() []StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepEvent(nil), r.steps...)
}

// Discard is a Notifier that drops events.
var Discard Notifier = discard{}

type discard struct{}

func (discard) NotifyScenario(ScenarioEvent) {}
func (discard) NotifyStep(StepEvent)         {}
