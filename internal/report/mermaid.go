package report

import (
	"fmt"
	"strings"

	"conclave/pkg/scheduler"
)

var labelReplacer = strings.NewReplacer("[", "(", "]", ")", `"`, "'", "\n", " ")

// Mermaid renders the task graph as a mermaid flowchart: a subgraph per
// group, an edge per dependency and a node per task. When g is nil the tasks
// of entries are used.
func Mermaid(g *scheduler.Graph, entries []*scheduler.Entry) string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	var tasks []*scheduler.Task
	if g != nil {
		for _, name := range g.GroupOrder {
			fmt.Fprintf(&b, "subgraph %s\n", name)
			for _, id := range g.Groups[name] {
				fmt.Fprintf(&b, "%s\n", id)
			}
			b.WriteString("end\n")
		}
		tasks = g.Tasks()
	} else {
		for _, e := range entries {
			if e.Task != nil {
				tasks = append(tasks, e.Task)
			}
		}
	}

	for _, t := range tasks {
		node := fmt.Sprintf("%s[%s]", t.ID, labelReplacer.Replace(t.Name))
		for _, dep := range t.Depends {
			fmt.Fprintf(&b, "%s-->%s\n", dep, node)
		}
		for _, group := range t.DependsGroups {
			fmt.Fprintf(&b, "%s-->%s\n", group, node)
		}
		fmt.Fprintf(&b, "%s\n", node)
	}
	return b.String()
}
