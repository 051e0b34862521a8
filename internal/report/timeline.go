package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"conclave/pkg/feedback"
	"conclave/pkg/scenario"
)

type timelineGroup struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Order        int      `json:"order"`
	NestedGroups []string `json:"nestedGroups,omitempty"`
	TreeLevel    int      `json:"treeLevel,omitempty"`
}

type timelineItem struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Group     string    `json:"group"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	ClassName string    `json:"className,omitempty"`
}

type timelineData struct {
	Groups        []timelineGroup `json:"groups"`
	Items         []timelineItem  `json:"items"`
	ProcessGroups []timelineGroup `json:"processGroups"`
	ProcessItems  []timelineItem  `json:"processItems"`
}

// buildTimeline lays out the steps of every run scenario twice: grouped by
// feature and scenario, and grouped by process and worker lane.
func buildTimeline(d *Data) timelineData {
	var data timelineData
	type lane struct{ pid, worker, lane int }
	lanes := map[lane][]timelineItem{}
	order := 0

	for _, g := range byFeature(d.Entries) {
		feature := timelineGroup{ID: "feature:" + g.Name, Content: g.Name, Order: order, TreeLevel: 1}
		order++
		var scenarios []timelineGroup
		for _, e := range g.Entries {
			res := e.Scenario
			if res == nil {
				continue
			}
			groupID := "task:" + e.ID
			feature.NestedGroups = append(feature.NestedGroups, groupID)
			scenarios = append(scenarios, timelineGroup{
				ID:      groupID,
				Content: fmt.Sprintf("%s (%s)", e.Name, formatDuration(res.Elapsed)),
				Order:   order,
			})
			order++
			data.Items = append(data.Items, timelineItem{
				ID:        groupID + ":scenario",
				Group:     groupID,
				Start:     res.Start,
				End:       res.End,
				Type:      "background",
				ClassName: "scenario",
			})
			for i, st := range res.Steps {
				item := stepItem(fmt.Sprintf("%s:%d", groupID, i), groupID, res, st)
				data.Items = append(data.Items, item)
				if st.PID != 0 && !st.Start.IsZero() {
					key := lane{pid: st.PID, worker: st.Worker, lane: st.Lane}
					lanes[key] = append(lanes[key], item)
				}
			}
		}
		data.Groups = append(data.Groups, feature)
		data.Groups = append(data.Groups, scenarios...)
	}

	keys := make([]lane, 0, len(lanes))
	for k := range lanes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.pid != b.pid {
			return a.pid < b.pid
		}
		if a.worker != b.worker {
			return a.worker < b.worker
		}
		return a.lane < b.lane
	})
	// processes maps a pid to the index of its group.
	processes := map[int]int{}
	for i, k := range keys {
		p, ok := processes[k.pid]
		if !ok {
			data.ProcessGroups = append(data.ProcessGroups, timelineGroup{
				ID:        fmt.Sprintf("pid:%d", k.pid),
				Content:   fmt.Sprintf("Process %d", k.pid),
				Order:     i,
				TreeLevel: 1,
			})
			p = len(data.ProcessGroups) - 1
			processes[k.pid] = p
		}
		id := fmt.Sprintf("pid:%d:%d:%d", k.pid, k.worker, k.lane)
		data.ProcessGroups[p].NestedGroups = append(data.ProcessGroups[p].NestedGroups, id)
		data.ProcessGroups = append(data.ProcessGroups, timelineGroup{
			ID:      id,
			Content: fmt.Sprintf("worker %d lane %d", k.worker, k.lane),
			Order:   i,
		})
		for _, item := range lanes[k] {
			item.ID = "p" + item.ID
			item.Group = id
			data.ProcessItems = append(data.ProcessItems, item)
		}
	}
	return data
}

func stepItem(id, group string, res *scenario.Result, st scenario.StepRecord) timelineItem {
	item := timelineItem{
		ID:      id,
		Content: st.Keyword + st.Text,
		Group:   group,
		Start:   st.Start,
		End:     st.End,
		Type:    "range",
		Title:   formatDuration(st.Elapsed),
	}
	// Steps that never ran are drawn as a point at the scenario start.
	if item.Start.IsZero() {
		item.Start, item.End = res.Start, res.Start
	}
	switch {
	case st.Error != "" || st.Status == feedback.StatusFailed:
		item.ClassName = "failed"
	case st.Status == feedback.StatusSkipped:
		item.ClassName = "skipped"
	}
	return item
}

// WriteTimeline writes a page with the scenario and process timelines.
func WriteTimeline(w io.Writer, d *Data) error {
	return timelineTemplate.Execute(w, map[string]any{
		"Title": "Conclave timeline",
		"Data":  buildTimeline(d),
	})
}
