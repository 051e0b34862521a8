package scheduler

import (
	"fmt"

	"conclave/pkg/feedback"

	"k8s.io/apimachinery/pkg/util/sets"
)

type verdict int

const (
	verdictPending verdict = iota
	verdictAdmit
	verdictSkip
)

// tracker holds the outcome of every finished task of a run. It is owned by
// the scheduler loop and never touched by workers.
type tracker struct {
	graph     *Graph
	completed sets.Set[string]
	status    map[string]feedback.Status
}

func newTracker(g *Graph) *tracker {
	return &tracker{
		graph:     g,
		completed: sets.New[string](),
		status:    make(map[string]feedback.Status),
	}
}

func (tr *tracker) finish(id string, status feedback.Status) {
	tr.completed.Insert(id)
	// The first outcome recorded for an id is kept when ids collide.
	if _, ok := tr.status[id]; !ok {
		tr.status[id] = status
	}
}

func (tr *tracker) anyUnsuccessful(ids sets.Set[string]) bool {
	for id := range ids {
		if tr.status[id] != feedback.StatusSuccess {
			return true
		}
	}
	return false
}

// decide applies the admission rule to t.
func (tr *tracker) decide(t *Task) (verdict, string) {
	if len(t.Depends) > 0 {
		deps := sets.New(t.Depends...)
		for _, dep := range t.Depends {
			if !tr.graph.Has(dep) {
				return verdictSkip, fmt.Sprintf("depends on unknown id %q", dep)
			}
		}
		if !tr.completed.IsSuperset(deps) {
			return verdictPending, ""
		}
		if !t.RunAlways && tr.anyUnsuccessful(deps) {
			return verdictSkip, "a dependency failed or was skipped"
		}
	}
	if len(t.DependsGroups) > 0 {
		members := tr.graph.Members(t.DependsGroups)
		if members.Len() == 0 {
			return verdictSkip, fmt.Sprintf("depends on empty groups %v", t.DependsGroups)
		}
		if !tr.completed.IsSuperset(members) {
			return verdictPending, ""
		}
		if !t.RunAlways && tr.anyUnsuccessful(members) {
			return verdictSkip, "a dependency group member failed or was skipped"
		}
	}
	return verdictAdmit, ""
}

// tick decides every pending task, repeating until no more tasks get skipped
// so that skips cascade within one tick. It returns the admitted tasks in
// pending order, the skipped tasks with their reasons, and the tasks left
// pending.
func (tr *tracker) tick(pending []*Task) (admitted []*Task, skipped []skip, rest []*Task) {
	for {
		rest = rest[:0:0]
		changed := false
		for _, t := range pending {
			v, reason := tr.decide(t)
			switch v {
			case verdictAdmit:
				admitted = append(admitted, t)
			case verdictSkip:
				tr.finish(t.ID, feedback.StatusSkipped)
				skipped = append(skipped, skip{task: t, reason: reason})
				changed = true
			default:
				rest = append(rest, t)
			}
		}
		if !changed {
			return admitted, skipped, rest
		}
		pending = rest
	}
}

type skip struct {
	task   *Task
	reason string
}
