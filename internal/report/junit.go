package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"time"

	"conclave/pkg/feedback"
	"conclave/pkg/scheduler"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Time     string       `xml:"time,attr"`
	Failures int          `xml:"failures,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Time      string      `xml:"time,attr"`
	Tests     int         `xml:"tests,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Failures  int         `xml:"failures,attr"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out"`
}

type junitFailure struct {
	Text string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// WriteJUnit writes one testsuite per feature and one testcase per task.
// The failures attribute of testsuites counts failed features.
func WriteJUnit(w io.Writer, d *Data) error {
	root := junitSuites{}
	if d.Result != nil {
		root.Time = seconds(d.Result.Elapsed)
	}

	for _, g := range byFeature(d.Entries) {
		suite := junitSuite{Name: g.Name, Tests: len(g.Entries)}
		var start, end time.Time
		for _, e := range g.Entries {
			suite.Cases = append(suite.Cases, junitTestCase(e))
			switch e.Status {
			case feedback.StatusFailed:
				suite.Failures++
			case feedback.StatusSkipped:
				suite.Skipped++
			}
			if e.Scenario == nil {
				continue
			}
			if s := e.Scenario.Start; !s.IsZero() && (start.IsZero() || s.Before(start)) {
				start = s
			}
			if s := e.Scenario.End; s.After(end) {
				end = s
			}
		}
		if !start.IsZero() {
			suite.Timestamp = start.Format(time.RFC3339)
			suite.Time = seconds(end.Sub(start))
		} else {
			suite.Time = seconds(0)
		}
		if g.Status == string(feedback.StatusFailed) {
			root.Failures++
		}
		root.Suites = append(root.Suites, suite)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func junitTestCase(e *scheduler.Entry) junitCase {
	tc := junitCase{Name: e.Name, Time: seconds(e.Elapsed)}
	switch e.Status {
	case feedback.StatusFailed:
		tc.Failure = &junitFailure{Text: stripANSI(e.Error)}
	case feedback.StatusSkipped:
		tc.Skipped = &junitSkipped{Message: stripANSI(e.Error)}
	}
	if e.Scenario != nil {
		tc.SystemOut = stripANSI(e.Scenario.Log)
	}
	return tc
}

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
