package report

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/scenario"
	"conclave/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testData(t *testing.T) *Data {
	t.Helper()
	src := `Feature: checkout
  @id_login @group_auth
  Scenario: login
    Given pass

  @id_pay @depends_login
  Scenario: pay
    Given fail

  @dependsGroups_auth
  Scenario: refund [v2]
    Given pass
`
	f, err := feature.Parse(strings.NewReader(src), "checkout.feature")
	require.NoError(t, err)
	g := scheduler.BuildGraph([]*feature.Feature{f}, nil)
	require.Equal(t, 3, g.Len())
	login, pay, refund := g.Main[0], g.Main[1], g.Main[2]

	step := func(status feedback.Status, errText string, start time.Duration, lane int) scenario.StepRecord {
		return scenario.StepRecord{
			Keyword: "Given ", Text: "pass", Status: status, Error: errText,
			Start: t0.Add(start), End: t0.Add(start + time.Second), Elapsed: time.Second,
			PID: 100, Worker: 1, Lane: lane,
		}
	}
	entries := []*scheduler.Entry{
		{
			Name: "login", Status: feedback.StatusSuccess, Elapsed: time.Second, ID: "login",
			Feature: "checkout", Phase: scheduler.PhaseMain, Run: login.RunContext(), Task: login,
			Scenario: &scenario.Result{
				Name: "login", Status: feedback.StatusSuccess, Start: t0, End: t0.Add(time.Second),
				Elapsed: time.Second, PID: 100, Worker: 1, Log: "\x1b[92mok\x1b[0m",
				Steps: []scenario.StepRecord{step(feedback.StatusSuccess, "", 0, 0)},
			},
		},
		{
			Name: "pay", Status: feedback.StatusFailed, Error: "failed: boom", Elapsed: 2 * time.Second,
			ID: "pay", Feature: "checkout", Phase: scheduler.PhaseMain, Run: pay.RunContext(), Task: pay,
			Scenario: &scenario.Result{
				Name: "pay", Status: feedback.StatusFailed, Start: t0.Add(time.Second), End: t0.Add(3 * time.Second),
				Elapsed: 2 * time.Second, PID: 100, Worker: 1,
				Steps: []scenario.StepRecord{step(feedback.StatusFailed, "boom", time.Second, 2)},
			},
		},
		{
			Name: "refund [v2]", Status: feedback.StatusSkipped, Error: "a dependency failed or was skipped",
			ID: refund.ID, Feature: "checkout", Phase: scheduler.PhaseMain, Run: refund.RunContext(), Task: refund,
		},
		{
			Name: "other", Status: feedback.StatusSkipped, ID: "o", Feature: "another",
		},
	}
	return &Data{
		Result:  &scheduler.Result{Elapsed: 3 * time.Second, Start: t0, End: t0.Add(3 * time.Second), NumCPU: 4, PID: 1},
		Entries: entries,
		Graph:   g,
	}
}

func TestParseFormats(t *testing.T) {
	all, err := ParseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, AllFormats, all)

	formats, err := ParseFormats([]string{"JUnit", " json "})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatJUnit, FormatJSON}, formats)

	_, err = ParseFormats([]string{"pdf"})
	assert.ErrorContains(t, err, `unknown report format "pdf"`)
}

func TestByFeature(t *testing.T) {
	groups := byFeature(testData(t).Entries)
	require.Len(t, groups, 2)
	assert.Equal(t, "another", groups[0].Name)
	assert.Equal(t, "skipped", groups[0].Status)
	assert.Equal(t, "checkout", groups[1].Name)
	assert.Equal(t, "failed", groups[1].Status)
	assert.Len(t, groups[1].Entries, 3)

	assert.Equal(t, "incomplete", featureStatus([]*scheduler.Entry{
		{Status: feedback.StatusSuccess}, {Status: feedback.StatusSkipped},
	}))
	assert.Equal(t, "success", featureStatus([]*scheduler.Entry{{Status: feedback.StatusSuccess}}))
}

func TestWriteJUnit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJUnit(&buf, testData(t)))

	var got junitSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "3.000", got.Time)
	assert.Equal(t, 1, got.Failures)
	require.Len(t, got.Suites, 2)

	suite := got.Suites[1]
	assert.Equal(t, "checkout", suite.Name)
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, 1, suite.Skipped)
	assert.Equal(t, "3.000", suite.Time)
	assert.Equal(t, t0.Format(time.RFC3339), suite.Timestamp)

	require.Len(t, suite.Cases, 3)
	assert.Nil(t, suite.Cases[0].Failure)
	assert.Equal(t, "ok", suite.Cases[0].SystemOut)
	require.NotNil(t, suite.Cases[1].Failure)
	assert.Equal(t, "failed: boom", suite.Cases[1].Failure.Text)
	require.NotNil(t, suite.Cases[2].Skipped)
	assert.Contains(t, suite.Cases[2].Skipped.Message, "dependency")
}

func TestWriteJSONAndYAML(t *testing.T) {
	d := testData(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, d))
	var doc struct {
		Result scheduler.Result `json:"result"`
		Tasks  []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			Run    struct {
				TaskID string `json:"taskId"`
			} `json:"run"`
		} `json:"tasks"`
		Groups map[string][]string `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 4, doc.Result.NumCPU)
	require.Len(t, doc.Tasks, 4)
	assert.Equal(t, "pay", doc.Tasks[1].Name)
	assert.Equal(t, "failed", doc.Tasks[1].Status)
	assert.Equal(t, map[string][]string{"auth": {"login"}}, doc.Groups)

	buf.Reset()
	require.NoError(t, WriteYAML(&buf, d))
	assert.Contains(t, buf.String(), "name: pay")
	assert.Contains(t, buf.String(), "status: failed")
}

func TestMermaid(t *testing.T) {
	d := testData(t)
	refund := d.Graph.Main[2]

	got := Mermaid(d.Graph, nil)

	want := "graph TD\n" +
		"subgraph auth\nlogin\nend\n" +
		"login[login]\n" +
		"login-->pay[pay]\npay[pay]\n" +
		"auth-->" + refund.ID + "[refund (v2)]\n" + refund.ID + "[refund (v2)]\n"
	assert.Equal(t, want, got)

	fromEntries := Mermaid(nil, d.Entries)
	assert.NotContains(t, fromEntries, "subgraph")
	assert.Contains(t, fromEntries, "login-->pay[pay]\n")
}

func TestBuildTimeline(t *testing.T) {
	data := buildTimeline(testData(t))

	// One feature group per feature, one group per scenario that ran.
	var ids []string
	for _, g := range data.Groups {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"feature:another", "feature:checkout", "task:login", "task:pay"}, ids)
	assert.Len(t, data.Items, 4)

	var lanes []string
	for _, g := range data.ProcessGroups {
		lanes = append(lanes, g.ID)
	}
	assert.Equal(t, []string{"pid:100", "pid:100:1:0", "pid:100:1:2"}, lanes)
	assert.Equal(t, []string{"pid:100:1:0", "pid:100:1:2"}, data.ProcessGroups[0].NestedGroups)
	require.Len(t, data.ProcessItems, 2)
	assert.Equal(t, "failed", data.ProcessItems[1].ClassName)
}

func TestWriteConsole(t *testing.T) {
	var buf bytes.Buffer
	WriteConsole(&buf, testData(t))
	out := buf.String()
	assert.Contains(t, out, "checkout")
	assert.Contains(t, out, "refund [v2]")
	assert.Contains(t, out, "4 scenarios")

	buf.Reset()
	WriteConsole(&buf, &Data{})
	assert.Contains(t, buf.String(), "No scenarios were run")
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	var console bytes.Buffer
	w := &Writer{Dir: dir, Console: &console, Formats: AllFormats}

	require.NoError(t, w.Write(context.Background(), testData(t)))

	assert.Contains(t, console.String(), "checkout")
	for _, name := range []string{JSONFile, YAMLFile, JUnitFile, HTMLFile, TimelineFile, GraphFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	html, err := os.ReadFile(filepath.Join(dir, HTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(html), "refund [v2]")
	assert.Contains(t, string(html), "FAILED")

	graph, err := os.ReadFile(filepath.Join(dir, GraphFile))
	require.NoError(t, err)
	assert.Contains(t, string(graph), "login--&gt;pay[pay]")
}

func TestWriter_ConsoleOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unused")
	var console bytes.Buffer
	w := &Writer{Dir: dir, Console: &console, Formats: []Format{FormatConsole}}

	require.NoError(t, w.Write(context.Background(), testData(t)))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
