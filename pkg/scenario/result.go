package scenario

import (
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/step"
)

// StepRecord is the recorded state of one step of a scenario run. Records
// start out skipped and are overwritten once the step has run.
type StepRecord struct {
	Keyword    string          `json:"keyword" yaml:"keyword"`
	Text       string          `json:"text" yaml:"text"`
	Line       int             `json:"line" yaml:"line"`
	Column     int             `json:"column" yaml:"column"`
	Concurrent bool            `json:"concurrent,omitempty" yaml:"concurrent,omitempty"`
	Status     feedback.Status `json:"status" yaml:"status"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	Start      time.Time       `json:"start,omitempty" yaml:"start,omitempty"`
	End        time.Time       `json:"end,omitempty" yaml:"end,omitempty"`
	Elapsed    time.Duration   `json:"elapsed" yaml:"elapsed"`
	PID        int             `json:"pid,omitempty" yaml:"pid,omitempty"`
	Worker     int             `json:"worker,omitempty" yaml:"worker,omitempty"`
	Lane       int             `json:"lane,omitempty" yaml:"lane,omitempty"`
	Log        string          `json:"log,omitempty" yaml:"log,omitempty"`
}

func newRecord(st *feature.Step) StepRecord {
	return StepRecord{
		Keyword:    st.Keyword,
		Text:       st.Text,
		Line:       st.Location.Line,
		Column:     st.Location.Column,
		Concurrent: st.Concurrent(),
		Status:     feedback.StatusSkipped,
	}
}

func (r *StepRecord) apply(res step.Result) {
	r.Start = res.Start
	r.End = res.End
	r.Elapsed = res.Elapsed
	r.PID = res.PID
	r.Log = res.Log
	r.Error = res.Error
	if res.Failed() {
		r.Status = feedback.StatusFailed
	} else {
		r.Status = feedback.StatusSuccess
	}
}

// Result is the outcome of one scenario run.
type Result struct {
	TaskID   string          `json:"taskId" yaml:"taskId"`
	Name     string          `json:"name" yaml:"name"`
	Feature  string          `json:"feature" yaml:"feature"`
	Status   feedback.Status `json:"status" yaml:"status"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
	Start    time.Time       `json:"start" yaml:"start"`
	End      time.Time       `json:"end" yaml:"end"`
	Elapsed  time.Duration   `json:"elapsed" yaml:"elapsed"`
	PID      int             `json:"pid" yaml:"pid"`
	Worker   int             `json:"worker" yaml:"worker"`
	Steps    []StepRecord    `json:"steps" yaml:"steps"`
	Log      string          `json:"log,omitempty" yaml:"log,omitempty"`
	Scenario ScenarioRef     `json:"scenario" yaml:"scenario"`
}

// ScenarioRef locates the scenario a result belongs to.
type ScenarioRef struct {
	Line        int      `json:"line" yaml:"line"`
	Column      int      `json:"column" yaml:"column"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Failed reports whether the scenario failed.
func (r *Result) Failed() bool {
	return r.Status == feedback.StatusFailed
}

// FailedResult describes a scenario that could not be run at all, e.g. because
// its worker process could not be reached.
func FailedResult(run Run, start time.Time, err error) *Result {
	end := time.Now()
	res := &Result{
		TaskID:  run.Context.TaskID,
		Status:  feedback.StatusFailed,
		Error:   err.Error(),
		Start:   start,
		End:     end,
		Elapsed: end.Sub(start),
		Worker:  run.Worker,
	}
	if run.Feature != nil {
		res.Feature = run.Feature.Name
	}
	if run.Scenario != nil {
		res.Name = run.Scenario.Name
		res.Scenario = refOf(run.Scenario)
		for _, st := range run.Scenario.AllSteps() {
			res.Steps = append(res.Steps, newRecord(st))
		}
	}
	return res
}

func refOf(s *feature.Scenario) ScenarioRef {
	return ScenarioRef{
		Line:        s.Location.Line,
		Column:      s.Location.Column,
		Tags:        s.Tags,
		Description: s.Description,
	}
}
