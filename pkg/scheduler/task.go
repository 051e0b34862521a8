package scheduler

import (
	"strings"

	"conclave/pkg/feature"
	"conclave/pkg/scenario"
	"conclave/pkg/step"

	"github.com/google/uuid"
)

// Tags understood by the scheduler. Tags are case-sensitive.
const (
	TagConcurrent       = "@concurrent"
	TagParallel         = "@parallel"
	TagRunAlways        = "@runAlways"
	TagSetup            = "@setup"
	TagTeardown         = "@teardown"
	TagIDPrefix         = "@id_"
	TagDependsPrefix    = "@depends_"
	TagDependsGroupsPfx = "@dependsGroups_"
	TagGroupPrefix      = "@group_"
)

// Phase is the part of a run a task belongs to.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseMain     Phase = "main"
	PhaseTeardown Phase = "teardown"
)

// Task is one scenario scheduled for execution.
type Task struct {
	ID            string
	Name          string
	Feature       *feature.Feature
	Scenario      *feature.Scenario
	Depends       []string
	DependsGroups []string
	RunAlways     bool
	Group         string
	Setup         bool
	Teardown      bool
	Concurrent    bool
	Parallel      bool
}

// NewTask builds a task from the tags of sc. Tasks without an @id_ tag get a
// generated id.
func NewTask(f *feature.Feature, sc *feature.Scenario) *Task {
	t := &Task{
		Name:     sc.Name,
		Feature:  f,
		Scenario: sc,
	}
	for _, tag := range sc.Tags {
		switch {
		case tag == TagConcurrent:
			t.Concurrent = true
		case tag == TagParallel:
			t.Parallel = true
		case tag == TagRunAlways:
			t.RunAlways = true
		case tag == TagSetup:
			t.Setup = true
		case tag == TagTeardown:
			t.Teardown = true
		case strings.HasPrefix(tag, TagIDPrefix):
			t.ID = strings.TrimPrefix(tag, TagIDPrefix)
		case strings.HasPrefix(tag, TagDependsGroupsPfx):
			t.DependsGroups = append(t.DependsGroups, strings.TrimPrefix(tag, TagDependsGroupsPfx))
		case strings.HasPrefix(tag, TagDependsPrefix):
			t.Depends = append(t.Depends, strings.TrimPrefix(tag, TagDependsPrefix))
		case strings.HasPrefix(tag, TagGroupPrefix):
			t.Group = strings.TrimPrefix(tag, TagGroupPrefix)
		}
	}
	if t.ID == "" {
		t.ID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return t
}

// Phase returns the phase the task runs in. Setup wins over teardown.
func (t *Task) Phase() Phase {
	switch {
	case t.Setup:
		return PhaseSetup
	case t.Teardown:
		return PhaseTeardown
	default:
		return PhaseMain
	}
}

// FeatureName returns the name of the owning feature.
func (t *Task) FeatureName() string {
	if t.Feature == nil {
		return ""
	}
	return t.Feature.Name
}

// HasDependencies reports whether the task declares any dependency.
func (t *Task) HasDependencies() bool {
	return len(t.Depends) > 0 || len(t.DependsGroups) > 0
}

// RunContext returns the run-context handed to the scenario.
func (t *Task) RunContext() step.RunContext {
	return step.RunContext{
		TaskID:        t.ID,
		Depends:       append([]string(nil), t.Depends...),
		DependsGroups: append([]string(nil), t.DependsGroups...),
		RunAlways:     t.RunAlways,
		Group:         t.Group,
		Setup:         t.Setup,
		Teardown:      t.Teardown,
		Concurrent:    t.Concurrent,
		Parallel:      t.Parallel,
	}
}

func (t *Task) run(worker int) scenario.Run {
	return scenario.Run{
		Feature:  t.Feature,
		Scenario: t.Scenario,
		Context:  t.RunContext(),
		Worker:   worker,
	}
}

// chainSequential marks every task concurrent and makes each task without
// declared dependencies depend on the task before it, so the tasks keep their
// declaration order while flowing through the thread pool.
func chainSequential(tasks []*Task) {
	previous := ""
	for _, t := range tasks {
		t.Concurrent = true
		if previous != "" && !t.HasDependencies() {
			t.Depends = append(t.Depends, previous)
		}
		previous = t.ID
	}
}

// orderPhase returns the concurrent and parallel tasks followed by the
// sequential ones, after chaining the latter.
func orderPhase(tasks []*Task) []*Task {
	var concurrent, sequential []*Task
	for _, t := range tasks {
		if t.Concurrent || t.Parallel {
			concurrent = append(concurrent, t)
		} else {
			sequential = append(sequential, t)
		}
	}
	chainSequential(sequential)
	return append(concurrent, sequential...)
}
