package scheduler

import (
	"sync"
	"time"

	"conclave/pkg/feedback"
	"conclave/pkg/scenario"
	"conclave/pkg/step"
)

// Entry is the report record of one task.
type Entry struct {
	Name     string           `json:"name" yaml:"name"`
	Status   feedback.Status  `json:"status" yaml:"status"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed  time.Duration    `json:"elapsed" yaml:"elapsed"`
	ID       string           `json:"id" yaml:"id"`
	Feature  string           `json:"feature" yaml:"feature"`
	Phase    Phase            `json:"phase" yaml:"phase"`
	Run      step.RunContext  `json:"run" yaml:"run"`
	Scenario *scenario.Result `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	Task *Task `json:"-" yaml:"-"`
}

// Failed reports whether the task failed.
func (e *Entry) Failed() bool {
	return e.Status == feedback.StatusFailed
}

type entryKey struct {
	name    string
	feature string
}

// Report is the append-only list of task outcomes of a run. The first entry
// for a (name, feature) pair wins.
type Report struct {
	mu      sync.RWMutex
	entries []*Entry
	index   map[entryKey]*Entry
	byID    map[string]*Entry
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{
		index: make(map[entryKey]*Entry),
		byID:  make(map[string]*Entry),
	}
}

// Add appends e unless an entry with the same name and feature exists. It
// reports whether e was added.
func (r *Report) Add(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey{name: e.Name, feature: e.Feature}
	if _, ok := r.index[key]; ok {
		return false
	}
	r.index[key] = e
	if _, ok := r.byID[e.ID]; !ok {
		r.byID[e.ID] = e
	}
	r.entries = append(r.entries, e)
	return true
}

// Entries returns the entries in the order they were added.
func (r *Report) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.entries...)
}

// Lookup returns the entry of the task with the given id.
func (r *Report) Lookup(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Find returns the entry with the given scenario name, in any feature.
func (r *Report) Find(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Counts returns the number of entries per status.
func (r *Report) Counts() map[feedback.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[feedback.Status]int)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts
}

// Failed reports whether any entry failed.
func (r *Report) Failed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Failed() {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (r *Report) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func resultEntry(t *Task, res *scenario.Result) *Entry {
	return &Entry{
		Name:     t.Name,
		Status:   res.Status,
		Error:    res.Error,
		Elapsed:  res.Elapsed,
		ID:       t.ID,
		Feature:  t.FeatureName(),
		Phase:    t.Phase(),
		Run:      t.RunContext(),
		Scenario: res,
		Task:     t,
	}
}

func skippedEntry(t *Task, reason string) *Entry {
	return &Entry{
		Name:    t.Name,
		Status:  feedback.StatusSkipped,
		Error:   reason,
		ID:      t.ID,
		Feature: t.FeatureName(),
		Phase:   t.Phase(),
		Run:     t.RunContext(),
		Task:    t,
	}
}
