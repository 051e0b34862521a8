package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"conclave/pkg/feedback"
	pkgstrings "conclave/pkg/strings"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// maxNameWidth bounds the scenario name shown next to the spinner.
const maxNameWidth = 40

// ProgressAdapter shows a spinner with live scenario counts. It implements
// feedback.Adapter and is meant to be registered on the run's pipeline.
type ProgressAdapter struct {
	mu       sync.Mutex
	spinner  *spinner.Spinner
	running  int
	passed   int
	failed   int
	skipped  int
	lastName string
}

// NewProgressAdapter creates a spinner writing to w, usually os.Stderr.
func NewProgressAdapter(w io.Writer) *ProgressAdapter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	p := &ProgressAdapter{spinner: s}
	s.Suffix = p.suffix()
	return p
}

// Start starts the spinner. It is a no-op when w is not a terminal.
func (p *ProgressAdapter) Start() {
	p.spinner.Start()
}

// Stop stops the spinner and prints a final status line.
func (p *ProgressAdapter) Stop() {
	p.mu.Lock()
	final := p.finalMessage()
	p.mu.Unlock()

	p.spinner.Lock()
	p.spinner.FinalMSG = final
	p.spinner.Unlock()
	p.spinner.Stop()
}

func (p *ProgressAdapter) OnScenario(ev feedback.ScenarioEvent) error {
	p.mu.Lock()
	switch ev.Status {
	case feedback.StatusStarting:
		p.running++
		p.lastName = ev.Scenario.Name
	case feedback.StatusSuccess:
		p.settle(ev)
		p.passed++
	case feedback.StatusFailed:
		p.settle(ev)
		p.failed++
	case feedback.StatusSkipped:
		p.skipped++
	}
	suffix := p.suffix()
	p.mu.Unlock()

	p.spinner.Lock()
	p.spinner.Suffix = suffix
	p.spinner.Unlock()
	return nil
}

func (p *ProgressAdapter) OnStep(feedback.StepEvent) error {
	return nil
}

// Counts returns running, passed, failed, and skipped scenario counts.
func (p *ProgressAdapter) Counts() (running, passed, failed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.passed, p.failed, p.skipped
}

// Suffix returns the text currently shown next to the spinner.
func (p *ProgressAdapter) Suffix() string {
	p.spinner.Lock()
	defer p.spinner.Unlock()
	return p.spinner.Suffix
}

func (p *ProgressAdapter) settle(ev feedback.ScenarioEvent) {
	if p.running > 0 {
		p.running--
	}
	p.lastName = ev.Scenario.Name
}

func (p *ProgressAdapter) suffix() string {
	s := fmt.Sprintf(" %d running, %d passed, %d failed, %d skipped",
		p.running, p.passed, p.failed, p.skipped)
	if p.lastName != "" {
		s += " | " + pkgstrings.Truncate(p.lastName, maxNameWidth)
	}
	return s
}

func (p *ProgressAdapter) finalMessage() string {
	done := p.passed + p.failed + p.skipped
	if p.failed > 0 {
		return text.FgRed.Sprintf("%d of %d scenarios failed", p.failed, done) + "\n"
	}
	return text.FgGreen.Sprintf("%d scenarios finished", done) + "\n"
}
