package scheduler

import (
	"fmt"

	"conclave/internal/dependency"
	"conclave/pkg/feature"
	"conclave/pkg/logging"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Graph is the task graph of one run, bucketed by phase.
type Graph struct {
	Setup    []*Task
	Main     []*Task
	Teardown []*Task

	// Groups maps a group name to its member ids in declaration order.
	Groups map[string][]string

	// GroupOrder lists group names in the order they were first joined.
	GroupOrder []string

	ids sets.Set[string]

	// Warnings collects problems found while building the graph.
	Warnings []string
}

// BuildGraph creates one task per scenario of features that passes filter.
func BuildGraph(features []*feature.Feature, filter feature.TagFilter) *Graph {
	g := &Graph{
		Groups: make(map[string][]string),
		ids:    sets.New[string](),
	}
	for _, f := range features {
		for _, sc := range f.Scenarios {
			if filter.Active() && !filter.Match(sc.Tags) {
				continue
			}
			g.add(NewTask(f, sc))
		}
	}
	g.validate()
	return g
}

func (g *Graph) add(t *Task) {
	if g.ids.Has(t.ID) {
		g.warnf("task id %q of scenario %q (%s) is not unique", t.ID, t.Name, t.FeatureName())
	}
	g.ids.Insert(t.ID)
	if t.Group != "" {
		if _, ok := g.Groups[t.Group]; !ok {
			g.GroupOrder = append(g.GroupOrder, t.Group)
		}
		g.Groups[t.Group] = append(g.Groups[t.Group], t.ID)
	}
	switch t.Phase() {
	case PhaseSetup:
		g.Setup = append(g.Setup, t)
	case PhaseTeardown:
		g.Teardown = append(g.Teardown, t)
	default:
		g.Main = append(g.Main, t)
	}
}

func (g *Graph) validate() {
	for _, t := range g.Tasks() {
		for _, dep := range t.Depends {
			if !g.ids.Has(dep) {
				g.warnf("scenario %q (%s) depends on unknown id %q", t.Name, t.FeatureName(), dep)
			}
		}
		for _, group := range t.DependsGroups {
			if len(g.Groups[group]) == 0 {
				g.warnf("scenario %q (%s) depends on group %q that no scenario joins", t.Name, t.FeatureName(), group)
			}
		}
	}
}

// dependencies returns the explicit dependency structure of the graph. Group
// dependencies become edges to every group member.
func (g *Graph) dependencies() *dependency.Graph {
	dg := dependency.New()
	for _, t := range g.Tasks() {
		deps := make([]dependency.NodeID, 0, len(t.Depends))
		for _, dep := range t.Depends {
			deps = append(deps, dependency.NodeID(dep))
		}
		for _, group := range t.DependsGroups {
			for _, member := range g.Groups[group] {
				deps = append(deps, dependency.NodeID(member))
			}
		}
		if existing := dg.Get(dependency.NodeID(t.ID)); existing != nil {
			deps = append(existing.DependsOn, deps...)
		}
		dg.AddNode(dependency.Node{ID: dependency.NodeID(t.ID), FriendlyName: t.Name, DependsOn: deps})
	}
	return dg
}

// Downstream returns the ids of the tasks that depend on id directly or
// transitively, through ids or groups.
func (g *Graph) Downstream(id string) []string {
	var ids []string
	for _, d := range g.dependencies().Downstream(dependency.NodeID(id)) {
		ids = append(ids, string(d))
	}
	return ids
}

func (g *Graph) warnf(format string, args ...any) {
	logging.Warn("Scheduler", format, args...)
	g.Warnings = append(g.Warnings, fmt.Sprintf(format, args...))
}

// Tasks returns all tasks in phase order.
func (g *Graph) Tasks() []*Task {
	all := make([]*Task, 0, g.Len())
	all = append(all, g.Setup...)
	all = append(all, g.Main...)
	return append(all, g.Teardown...)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.Setup) + len(g.Main) + len(g.Teardown)
}

// Has reports whether id belongs to any task of the graph.
func (g *Graph) Has(id string) bool {
	return g.ids.Has(id)
}

// Members returns the union of the members of groups, ignoring unknown names.
func (g *Graph) Members(groups []string) sets.Set[string] {
	members := sets.New[string]()
	for _, name := range groups {
		members.Insert(g.Groups[name]...)
	}
	return members
}
