// Package scheduler runs the scenarios of a set of features as tasks.
//
// Tasks are grouped into a setup, a main and a teardown phase. Each phase is
// driven by an admission loop: on every completion the pending tasks whose
// dependencies are satisfied are dispatched, either onto a bounded set of
// goroutines sharing one World (concurrent tasks) or onto a ParallelRunner
// that executes them in isolated worker processes (parallel tasks). Tasks
// without declared dependencies are chained so that they keep their
// declaration order.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/process"
	"conclave/pkg/scenario"
	"conclave/pkg/step"
	"conclave/pkg/world"
)

const (
	// DefaultTimeout bounds the wait of each phase.
	DefaultTimeout = 5 * time.Minute

	// DefaultConcurrency is the number of tasks run on goroutines at once.
	DefaultConcurrency = 8
)

var (
	// ErrTimeout is recorded for tasks still running when a phase times out.
	ErrTimeout = errors.New("phase timed out")

	// ErrSetupFailed is recorded for main tasks when a setup task failed.
	ErrSetupFailed = errors.New("setup phase failed")

	errUnresolvable = errors.New("unresolvable dependency")
	errPhaseAborted = errors.New("phase aborted")
)

// Options configures a Scheduler.
type Options struct {
	// Features lists feature files, directories or glob patterns.
	Features []string
	// Tags restricts the scheduled scenarios to those carrying one of them.
	Tags []string
	// Timeout bounds the wait of each phase. Zero disables it.
	Timeout time.Duration
	// Concurrency is the number of concurrent tasks run at once.
	Concurrency int
	// Parallelism is the number of worker processes. Zero means one per CPU.
	Parallelism int
	// SeedParallelWorld copies the World into the run of every parallel task.
	SeedParallelWorld bool
	Debug             bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
	}
}

// ParallelRunner runs a scenario in an isolated worker process. state is the
// exported World to seed the worker with and may be nil.
type ParallelRunner interface {
	RunScenario(ctx context.Context, run scenario.Run, state map[string]json.RawMessage) (*scenario.Result, error)
	Close() error
}

// Result summarizes a run.
type Result struct {
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	Start   time.Time     `json:"start" yaml:"start"`
	End     time.Time     `json:"end" yaml:"end"`
	NumCPU  int           `json:"numCPU" yaml:"numCPU"`
	Success bool          `json:"success" yaml:"success"`
	PID     int           `json:"pid" yaml:"pid"`
}

// Scheduler runs task graphs.
type Scheduler struct {
	opts     Options
	registry *step.Registry
	notifier feedback.Notifier
	monitor  *process.Monitor
	parallel ParallelRunner
	world    *world.World
	engine   *scenario.Engine

	report *Report
	graph  *Graph
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier sends scenario and step events to n.
func WithNotifier(n feedback.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithMonitor tracks child processes with m.
func WithMonitor(m *process.Monitor) Option {
	return func(s *Scheduler) { s.monitor = m }
}

// WithParallelRunner runs parallel tasks with r.
func WithParallelRunner(r ParallelRunner) Option {
	return func(s *Scheduler) { s.parallel = r }
}

// WithWorld shares w with every concurrent task.
func WithWorld(w *world.World) Option {
	return func(s *Scheduler) { s.world = w }
}

// New returns a Scheduler resolving steps with registry.
func New(registry *step.Registry, opts Options, options ...Option) *Scheduler {
	s := &Scheduler{
		opts:     opts,
		registry: registry,
		notifier: feedback.Discard,
	}
	for _, o := range options {
		o(s)
	}
	if s.monitor == nil {
		s.monitor = process.NewMonitor()
	}
	if s.world == nil {
		s.world = world.New()
	}
	s.engine = scenario.NewEngine(registry, s.notifier, scenario.WithProcessTracker(s.monitor.Track))
	return s
}

// Report returns the report of the last run.
func (s *Scheduler) Report() *Report {
	return s.report
}

// Graph returns the task graph of the last run.
func (s *Scheduler) Graph() *Graph {
	return s.graph
}

// World returns the store shared by concurrent tasks.
func (s *Scheduler) World() *world.World {
	return s.world
}

type completion struct {
	task   *Task
	result *scenario.Result
}

// runState is owned by the goroutine executing Run.
type runState struct {
	graph   *Graph
	report  *Report
	tracker *tracker
	threads *slotPool
}

// Run schedules every scenario of features and waits for all phases.
func (s *Scheduler) Run(ctx context.Context, features []*feature.Feature) (*Result, error) {
	res := &Result{
		Start:  time.Now(),
		NumCPU: runtime.NumCPU(),
		PID:    os.Getpid(),
	}

	g := BuildGraph(features, feature.TagFilter(s.opts.Tags))
	st := &runState{
		graph:   g,
		report:  NewReport(),
		tracker: newTracker(g),
		threads: newSlotPool(s.concurrency()),
	}
	s.graph = g
	s.report = st.report

	logging.Info("Scheduler", "Running %d tasks (%d setup, %d main, %d teardown)",
		g.Len(), len(g.Setup), len(g.Main), len(g.Teardown))

	s.runPhase(ctx, PhaseSetup, g.Setup, st)
	if st.report.Failed() {
		logging.Warn("Scheduler", "Setup failed, skipping %d main tasks", len(g.Main))
		for _, t := range g.Main {
			s.skip(st, t, ErrSetupFailed.Error())
		}
	} else {
		s.runPhase(ctx, PhaseMain, g.Main, st)
	}
	// Teardown runs even when the caller cancelled the run.
	s.runPhase(context.WithoutCancel(ctx), PhaseTeardown, g.Teardown, st)

	s.shutdown()

	res.End = time.Now()
	res.Elapsed = res.End.Sub(res.Start)
	res.Success = !st.report.Failed()

	counts := st.report.Counts()
	logging.Info("Scheduler", "Finished in %s: %d success, %d failed, %d skipped",
		res.Elapsed.Round(time.Millisecond), counts[feedback.StatusSuccess],
		counts[feedback.StatusFailed], counts[feedback.StatusSkipped])
	return res, ctx.Err()
}

func (s *Scheduler) concurrency() int {
	if s.opts.Concurrency > 0 {
		return s.opts.Concurrency
	}
	return DefaultConcurrency
}

func (s *Scheduler) runPhase(ctx context.Context, phase Phase, tasks []*Task, st *runState) {
	if len(tasks) == 0 {
		return
	}
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := orderPhase(tasks)
	done := make(chan completion, len(pending))
	outstanding := make(map[*Task]time.Time)
	// The deadline covers admission and dispatch too, not only the waits.
	deadline := time.Now().Add(s.opts.Timeout)

	s.debugf("Phase %s started with %d tasks", phase, len(pending))

	for {
		admitted, skipped, rest := st.tracker.tick(pending)
		pending = rest
		for _, sk := range skipped {
			s.skip(st, sk.task, sk.reason)
		}
		for _, t := range admitted {
			outstanding[t] = time.Now()
			s.dispatch(phaseCtx, t, done, st)
		}
		if len(outstanding) == 0 {
			break
		}

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if s.opts.Timeout > 0 {
			timer = time.NewTimer(max(time.Until(deadline), 0))
			timeout = timer.C
		}
		var err error
		select {
		case c := <-done:
			delete(outstanding, c.task)
			s.complete(st, c.task, c.result)
		case <-timeout:
			err = fmt.Errorf("%w after %s", ErrTimeout, s.opts.Timeout)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			s.abort(st, phase, outstanding, pending, err)
			return
		}
	}

	for _, t := range pending {
		s.skip(st, t, errUnresolvable.Error())
	}
	s.debugf("Phase %s finished", phase)
}

func (s *Scheduler) dispatch(ctx context.Context, t *Task, done chan<- completion, st *runState) {
	if t.Concurrent || s.parallel == nil {
		if t.Parallel && !t.Concurrent {
			s.debugf("No worker processes available, running %q in-process with its own world", t.Name)
		}
		go func() {
			slot, err := st.threads.acquire(ctx)
			if err != nil {
				done <- completion{task: t, result: scenario.FailedResult(t.run(0), time.Now(), err)}
				return
			}
			defer st.threads.release(slot)
			w := s.world
			if !t.Concurrent {
				w = world.New()
			}
			s.debugf("Running %q on worker %d", t.Name, slot)
			done <- completion{task: t, result: s.engine.Run(ctx, t.run(slot), w)}
		}()
		return
	}

	var state map[string]json.RawMessage
	if s.opts.SeedParallelWorld {
		var dropped []string
		state, dropped = s.world.Export()
		if len(dropped) > 0 {
			logging.Warn("Scheduler", "World keys %v cannot be sent to worker processes", dropped)
		}
	}
	go func() {
		start := time.Now()
		s.debugf("Running %q in a worker process", t.Name)
		res, err := s.parallel.RunScenario(ctx, t.run(0), state)
		if err != nil {
			res = scenario.FailedResult(t.run(0), start, err)
		}
		done <- completion{task: t, result: res}
	}()
}

func (s *Scheduler) complete(st *runState, t *Task, res *scenario.Result) {
	st.tracker.finish(t.ID, res.Status)
	if !st.report.Add(resultEntry(t, res)) {
		logging.Warn("Scheduler", "Duplicate scenario %q in %q, keeping the first result", t.Name, t.FeatureName())
	}
	s.debugf("Task %q finished: %s", t.Name, res.Status)
	if s.opts.Debug && res.Status == feedback.StatusFailed {
		if down := st.graph.Downstream(t.ID); len(down) > 0 {
			s.debugf("Tasks depending on %q: %s", t.ID, strings.Join(down, ", "))
		}
	}
}

func (s *Scheduler) skip(st *runState, t *Task, reason string) {
	st.tracker.finish(t.ID, feedback.StatusSkipped)
	st.report.Add(skippedEntry(t, reason))
	s.debugf("Task %q skipped: %s", t.Name, reason)
	s.notifier.NotifyScenario(feedback.ScenarioEvent{
		Status:   feedback.StatusSkipped,
		Error:    reason,
		PID:      os.Getpid(),
		Run:      t.RunContext(),
		Feature:  feedback.NewFeatureInfo(t.Feature),
		Scenario: feedback.NewScenarioInfo(t.Scenario),
	})
}

// abort records the tasks still running as failed with err and the tasks
// not yet admitted as skipped. Running tasks are left to finish on their own.
func (s *Scheduler) abort(st *runState, phase Phase, outstanding map[*Task]time.Time, pending []*Task, err error) {
	logging.Warn("Scheduler", "Phase %s aborted with %d running and %d pending tasks: %v",
		phase, len(outstanding), len(pending), err)
	for _, t := range st.graph.Tasks() {
		start, ok := outstanding[t]
		if !ok {
			continue
		}
		res := scenario.FailedResult(t.run(0), start, err)
		s.complete(st, t, res)
		s.notifier.NotifyScenario(feedback.ScenarioEvent{
			Status:   feedback.StatusFailed,
			Error:    res.Error,
			Start:    res.Start,
			End:      res.End,
			Elapsed:  res.Elapsed,
			PID:      os.Getpid(),
			Run:      t.RunContext(),
			Feature:  feedback.NewFeatureInfo(t.Feature),
			Scenario: feedback.NewScenarioInfo(t.Scenario),
		})
	}
	for _, t := range pending {
		s.skip(st, t, errPhaseAborted.Error())
	}
}

func (s *Scheduler) shutdown() {
	s.monitor.Terminate()
	if s.parallel != nil {
		if err := s.parallel.Close(); err != nil {
			logging.Warn("Scheduler", "Closing worker processes: %v", err)
		}
	}
}

func (s *Scheduler) debugf(format string, args ...any) {
	if s.opts.Debug {
		logging.Info("Scheduler", format, args...)
		return
	}
	logging.Debug("Scheduler", format, args...)
}
