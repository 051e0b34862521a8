// Package scenario runs the steps of one scenario against a step registry.
//
// Steps are run in declaration order. Steps carrying a concurrency marker are
// handed to a per-scenario loop that runs them on their own goroutines while
// the remaining steps continue; the scenario finishes once both the
// sequential steps and every concurrent step have finished.
package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/step"
	"conclave/pkg/world"
)

const (
	// DefaultIdleWait is how long the concurrent loop sleeps when nothing is in flight.
	DefaultIdleWait = 10 * time.Millisecond

	// DefaultPollTimeout bounds each wait for a concurrent step to finish.
	DefaultPollTimeout = 100 * time.Millisecond
)

// Run is the scenario view over a scheduled task.
type Run struct {
	Feature  *feature.Feature
	Scenario *feature.Scenario
	Context  step.RunContext

	// Worker is the lane of the pool the scenario was dispatched to.
	Worker int
}

// Engine executes scenarios.
type Engine struct {
	registry    *step.Registry
	notifier    feedback.Notifier
	track       func(pid int)
	idleWait    time.Duration
	pollTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithProcessTracker routes step.Context.TrackProcess calls to track.
func WithProcessTracker(track func(pid int)) Option {
	return func(e *Engine) { e.track = track }
}

// WithPolling overrides the idle sleep and busy wait of the concurrent loop.
func WithPolling(idle, poll time.Duration) Option {
	return func(e *Engine) {
		if idle > 0 {
			e.idleWait = idle
		}
		if poll > 0 {
			e.pollTimeout = poll
		}
	}
}

// NewEngine returns an engine resolving steps in registry and reporting
// progress to notifier. A nil notifier discards progress.
func NewEngine(registry *step.Registry, notifier feedback.Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = feedback.Discard
	}
	e := &Engine{
		registry:    registry,
		notifier:    notifier,
		idleWait:    DefaultIdleWait,
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execution holds the per-run state shared by the sequential path and the
// concurrent loop.
type execution struct {
	engine   *Engine
	run      Run
	env      *step.Env
	feature  feedback.FeatureInfo
	scenario feedback.ScenarioInfo
}

// Run executes r against w and returns its result. It blocks until every
// step, including concurrent ones, has finished.
func (e *Engine) Run(ctx context.Context, r Run, w *world.World) *Result {
	sc := r.Scenario
	steps := sc.AllSteps()

	res := &Result{
		TaskID:   r.Context.TaskID,
		Name:     sc.Name,
		Feature:  r.Feature.Name,
		Start:    time.Now(),
		PID:      os.Getpid(),
		Worker:   r.Worker,
		Steps:    make([]StepRecord, len(steps)),
		Scenario: refOf(sc),
	}
	for i, st := range steps {
		res.Steps[i] = newRecord(st)
	}

	log := step.NewLog(sc.Name)
	x := &execution{
		engine: e,
		run:    r,
		env: &step.Env{
			Ctx:      ctx,
			World:    w,
			Scope:    world.New(),
			Run:      r.Context,
			Feature:  r.Feature,
			Scenario: sc,
			Log:      log,
			Track:    e.track,
		},
		feature:  feedback.NewFeatureInfo(r.Feature),
		scenario: feedback.NewScenarioInfo(sc),
	}

	log.Logf("Run scenario: %s", sc.Name)
	log.Logf("process pid: %d, worker: %d", res.PID, r.Worker)
	logging.Debug("Scenario", "Running scenario %q (task %s, %d steps)", sc.Name, r.Context.TaskID, len(steps))
	x.notifyScenario(feedback.StatusStarting, res)

	var loop *concurrentLoop
	if hasConcurrent(steps) {
		loop = newConcurrentLoop(x)
		go loop.run()
	}

	var seqErr error
	if err := x.runHooks(e.registry.BeforeHooks(), "before_scenario"); err != nil {
		seqErr = fmt.Errorf("before scenario hook: %w", err)
	} else {
		seqErr = x.runSteps(steps, res, loop)
	}

	var concurrent []stepOutcome
	if loop != nil {
		loop.stop()
		concurrent = loop.wait()
		for _, out := range concurrent {
			res.Steps[out.index] = out.record
		}
	}

	afterErr := x.runHooks(e.registry.AfterHooks(), "after_scenario")

	res.Error = composeError(seqErr, afterErr, res.Steps, concurrent)
	res.End = time.Now()
	res.Elapsed = res.End.Sub(res.Start)
	if res.Error != "" {
		res.Status = feedback.StatusFailed
		log.LogErrorf("%s", res.Error)
	} else {
		res.Status = feedback.StatusSuccess
	}
	log.Logf("elapsed time: %s", res.Elapsed)
	res.Log = log.String()

	logging.Debug("Scenario", "Scenario %q finished: %s in %s", sc.Name, res.Status, res.Elapsed)
	x.notifyScenario(res.Status, res)
	return res
}

func (x *execution) runHooks(hooks []step.Hook, name string) error {
	var errs []string
	for _, h := range hooks {
		c := x.env.HookContext(name)
		if res := step.Invoke(c, h); res.Failed() {
			errs = append(errs, res.Error)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "\n"))
	}
	return nil
}

// runSteps runs the sequential steps in order and queues the concurrent ones.
// It stops at the first sequential step that is undefined or fails.
func (x *execution) runSteps(steps []*feature.Step, res *Result, loop *concurrentLoop) error {
	registry := x.engine.registry
	for i, st := range steps {
		if st.Concurrent() {
			x.env.Log.Logf("queue concurrent step: %s%s", st.Keyword, st.Text)
			loop.enqueue(i, st)
			continue
		}

		if err := x.env.Ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before step %s%s: %w", st.Keyword, st.Text, err)
		}

		x.env.Log.Logf("execute step: %s%s", st.Keyword, st.Text)
		def, match, err := registry.Lookup(st.Text)
		if err != nil {
			rec := &res.Steps[i]
			rec.Error = err.Error()
			rec.Worker = x.run.Worker
			x.notifyStep(feedback.StatusSkipped, rec)
			return err
		}

		rec := &res.Steps[i]
		rec.Worker = x.run.Worker
		x.notifyStep(feedback.StatusStarting, rec)

		r := step.Invoke(x.env.StepContext(st, def, match, x.run.Worker), def.Handler)
		rec.apply(r)
		x.notifyStep(rec.Status, rec)

		if r.Failed() {
			return fmt.Errorf("step %s%s: %w", st.Keyword, st.Text, r.Err)
		}
	}
	return nil
}

// composeError joins the sequential failure, the failure of every concurrent
// step and after-hook failures into one message.
func composeError(seqErr, afterErr error, records []StepRecord, concurrent []stepOutcome) string {
	var b strings.Builder
	if seqErr != nil {
		fmt.Fprintf(&b, "failed: %v\n", seqErr)
	}
	for _, out := range concurrent {
		if out.record.Error == "" {
			continue
		}
		rec := records[out.index]
		fmt.Fprintf(&b, "Concurrent/parallel step: %s%s\n%s\n", rec.Keyword, rec.Text, rec.Error)
	}
	if afterErr != nil {
		fmt.Fprintf(&b, "after scenario hook: %v\n", afterErr)
	}
	return strings.TrimRight(b.String(), "\n")
}

func hasConcurrent(steps []*feature.Step) bool {
	for _, st := range steps {
		if st.Concurrent() {
			return true
		}
	}
	return false
}

func (x *execution) notifyScenario(status feedback.Status, res *Result) {
	ev := feedback.ScenarioEvent{
		Status:   status,
		Start:    res.Start,
		PID:      res.PID,
		Worker:   res.Worker,
		Run:      x.run.Context,
		Feature:  x.feature,
		Scenario: x.scenario,
	}
	if status.Terminal() {
		ev.Error = res.Error
		ev.End = res.End
		ev.Elapsed = res.Elapsed
	}
	x.engine.notifier.NotifyScenario(ev)
}

func (x *execution) notifyStep(status feedback.Status, rec *StepRecord) {
	ev := feedback.StepEvent{
		Status:     status,
		Keyword:    rec.Keyword,
		Text:       rec.Text,
		Line:       rec.Line,
		Column:     rec.Column,
		Concurrent: rec.Concurrent,
		PID:        os.Getpid(),
		Worker:     rec.Worker,
		Lane:       rec.Lane,
		Run:        x.run.Context,
		Feature:    x.feature,
		Scenario:   x.scenario,
	}
	if status.Terminal() {
		ev.Error = rec.Error
		ev.Log = rec.Log
		ev.Start = rec.Start
		ev.End = rec.End
		ev.Elapsed = rec.Elapsed
	}
	x.engine.notifier.NotifyStep(ev)
}
