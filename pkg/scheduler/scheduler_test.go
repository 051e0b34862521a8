package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/scenario"
	"conclave/pkg/step"
	"conclave/pkg/world"
)

// testRegistry knows "pass", "fail", "sleep <ms>" and "record <name>". It
// counts every invocation.
func testRegistry(calls *atomic.Int32) *step.Registry {
	r := step.NewRegistry()
	r.MustRegister(`^pass$`, func(c *step.Context) error {
		calls.Add(1)
		return nil
	})
	r.MustRegister(`^fail$`, func(c *step.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})
	r.MustRegister(`^sleep (\d+)$`, func(c *step.Context) error {
		calls.Add(1)
		var ms int
		fmt.Sscanf(c.Match(1), "%d", &ms)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return nil
	})
	r.MustRegister(`^record (\w+)$`, func(c *step.Context) error {
		calls.Add(1)
		c.World().Update("order", func(cur any, _ bool) any {
			list, _ := cur.([]string)
			return append(list, c.Match(1))
		})
		return nil
	})
	return r
}

func run(t *testing.T, s *Scheduler, src ...string) *Result {
	t.Helper()
	var features []*feature.Feature
	for _, text := range src {
		features = append(features, parseFeature(t, text))
	}
	res, err := s.Run(context.Background(), features)
	require.NoError(t, err)
	return res
}

func statusOf(t *testing.T, r *Report, name string) feedback.Status {
	t.Helper()
	e, ok := r.Find(name)
	require.True(t, ok, "no report entry for %q", name)
	return e.Status
}

func TestScheduler_Phases(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	res := run(t, s, `Feature: phases
  @setup @id_s1
  Scenario: s1
    Given pass

  @depends_s1 @concurrent
  Scenario: main1
    Given pass

  @depends_s1 @id_main2 @concurrent
  Scenario: main2
    Given fail

  @depends_main2 @concurrent
  Scenario: main3
    Given pass

  @teardown @runAlways
  Scenario: teardown
    Given pass
`)

	r := s.Report()
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "s1"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "main1"))
	assert.Equal(t, feedback.StatusFailed, statusOf(t, r, "main2"))
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "main3"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "teardown"))
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, int32(4), calls.Load())

	assert.False(t, res.Success)
	assert.Positive(t, res.NumCPU)
	assert.Positive(t, res.PID)
	assert.False(t, res.End.Before(res.Start))

	main3, _ := r.Find("main3")
	assert.Nil(t, main3.Scenario)
	main2, _ := r.Find("main2")
	require.NotNil(t, main2.Scenario)
	assert.Contains(t, main2.Error, "boom")
	assert.Equal(t, "main2", main2.ID)
	assert.Equal(t, PhaseMain, main2.Phase)
}

func TestScheduler_SetupFailureSkipsMain(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	res := run(t, s, `Feature: setup fails
  @setup
  Scenario: setup
    Given fail

  Scenario: main
    Given pass

  @teardown
  Scenario: teardown
    Given pass
`)

	r := s.Report()
	assert.False(t, res.Success)
	assert.Equal(t, feedback.StatusFailed, statusOf(t, r, "setup"))
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "main"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "teardown"))
	main, _ := r.Find("main")
	assert.Equal(t, ErrSetupFailed.Error(), main.Error)
}

func TestScheduler_UnsatisfiableDependencies(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	res := run(t, s, `Feature: dangling
  @depends_nobody @concurrent
  Scenario: unknown id
    Given pass

  @dependsGroups_nothing @concurrent
  Scenario: unknown group
    Given pass
`)

	r := s.Report()
	assert.True(t, res.Success)
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "unknown id"))
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "unknown group"))
	assert.Zero(t, calls.Load())
	assert.Len(t, s.Graph().Warnings, 2)
}

func TestScheduler_GraphWarningsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.InitForCLI(logging.LevelWarn, &buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelDebug, io.Discard) })

	var calls atomic.Int32
	run(t, New(testRegistry(&calls), DefaultOptions()), `Feature: dangling
  @depends_nobody @concurrent
  Scenario: unknown id
    Given pass
`)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "subsystem=Scheduler")
	assert.Contains(t, buf.String(), "nobody")
}

func TestScheduler_Groups(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	run(t, s, `Feature: groups
  @group_g @concurrent
  Scenario: member ok
    Given pass

  @group_g @concurrent
  Scenario: member bad
    Given fail

  @dependsGroups_g @concurrent
  Scenario: dependent
    Given pass

  @dependsGroups_g @runAlways @concurrent
  Scenario: always
    Given pass
`)

	r := s.Report()
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "dependent"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "always"))
}

func TestScheduler_SequentialTasksKeepOrder(t *testing.T) {
	var calls atomic.Int32
	w := world.New()
	s := New(testRegistry(&calls), DefaultOptions(), WithWorld(w))

	run(t, s, `Feature: order
  Scenario: first
    Given sleep 30
    And record first

  Scenario: second
    Given record second

  Scenario: third
    Given record third
`)

	order, _ := w.Get("order")
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestScheduler_SequentialFailureSkipsFollowers(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	run(t, s, `Feature: chain
  Scenario: first
    Given fail

  Scenario: second
    Given pass

  @runAlways
  Scenario: third
    Given pass
`)

	r := s.Report()
	assert.Equal(t, feedback.StatusFailed, statusOf(t, r, "first"))
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "second"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "third"))
}

func TestScheduler_Timeout(t *testing.T) {
	var calls atomic.Int32
	opts := DefaultOptions()
	opts.Timeout = 200 * time.Millisecond
	s := New(testRegistry(&calls), opts)

	start := time.Now()
	res := run(t, s, `Feature: slow
  @id_slow @concurrent
  Scenario: slow
    Given sleep 2000

  @concurrent
  Scenario: fast
    Given pass

  @depends_slow @concurrent
  Scenario: after slow
    Given pass

  @teardown
  Scenario: cleanup
    Given pass
`)

	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.False(t, res.Success)

	r := s.Report()
	slow, _ := r.Find("slow")
	assert.Equal(t, feedback.StatusFailed, slow.Status)
	assert.Contains(t, slow.Error, ErrTimeout.Error())
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "fast"))
	assert.Equal(t, feedback.StatusSkipped, statusOf(t, r, "after slow"))
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "cleanup"))
}

// slowJSON makes exporting the World to a worker process take d.
type slowJSON struct{ d time.Duration }

func (s slowJSON) MarshalJSON() ([]byte, error) {
	time.Sleep(s.d)
	return []byte(`"slow"`), nil
}

func TestScheduler_TimeoutCountsDispatchTime(t *testing.T) {
	var calls atomic.Int32
	w := world.New()
	w.Set("payload", slowJSON{d: 100 * time.Millisecond})
	runner := &fakeRunner{delay: 80 * time.Millisecond}
	opts := DefaultOptions()
	opts.Timeout = 250 * time.Millisecond
	opts.SeedParallelWorld = true
	s := New(testRegistry(&calls), opts, WithParallelRunner(runner), WithWorld(w))

	res := run(t, s, `Feature: slow dispatch
  @parallel @id_first
  Scenario: first
    Given pass

  @parallel @id_second @depends_first
  Scenario: second
    Given pass

  @parallel @depends_second
  Scenario: third
    Given pass
`)

	assert.False(t, res.Success)
	r := s.Report()
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, r, "first"))
	second, _ := r.Find("second")
	assert.Equal(t, feedback.StatusFailed, second.Status)
	assert.Contains(t, second.Error, ErrTimeout.Error())
	third, _ := r.Find("third")
	assert.Equal(t, feedback.StatusSkipped, third.Status)
	assert.Contains(t, third.Error, errPhaseAborted.Error())
}

func TestScheduler_Concurrency(t *testing.T) {
	var calls atomic.Int32
	opts := DefaultOptions()
	opts.Concurrency = 4
	s := New(testRegistry(&calls), opts)

	start := time.Now()
	res := run(t, s, `Feature: fan out
  @concurrent
  Scenario: a
    Given sleep 200

  @concurrent
  Scenario: b
    Given sleep 200

  @concurrent
  Scenario: c
    Given sleep 200

  @concurrent
  Scenario: d
    Given sleep 200
`)

	assert.True(t, res.Success)
	assert.Less(t, time.Since(start), 700*time.Millisecond)

	workers := map[int]bool{}
	for _, e := range s.Report().Entries() {
		workers[e.Scenario.Worker] = true
	}
	assert.Len(t, workers, 4)
}

func TestScheduler_TagFilter(t *testing.T) {
	var calls atomic.Int32
	opts := DefaultOptions()
	opts.Tags = []string{"smoke"}
	s := New(testRegistry(&calls), opts)

	run(t, s, `Feature: tags
  @smoke
  Scenario: included
    Given pass

  Scenario: untagged
    Given pass

  @slow
  Scenario: other
    Given pass
`)

	require.Equal(t, 1, s.Report().Len())
	assert.Equal(t, "included", s.Report().Entries()[0].Name)
}

func TestScheduler_DuplicateScenarioKeepsFirst(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())

	src := `Feature: dup
  @concurrent
  Scenario: same
    Given pass
`
	run(t, s, src, src)
	assert.Equal(t, 1, s.Report().Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_Idempotent(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())
	src := `Feature: twice
  @id_a
  Scenario: a
    Given pass

  @depends_a @concurrent
  Scenario: b
    Given fail

  Scenario: c
    Given pass

  @dependsGroups_none
  Scenario: d
    Given pass
`
	summarize := func() []string {
		var out []string
		for _, e := range s.Report().Entries() {
			out = append(out, fmt.Sprintf("%s=%s:%s", e.Name, e.Status, e.Error))
		}
		return out
	}

	run(t, s, src)
	first := summarize()
	run(t, s, src)
	assert.ElementsMatch(t, first, summarize())
}

type fakeRunner struct {
	mu     sync.Mutex
	runs   []scenario.Run
	states []map[string]json.RawMessage
	closed int
	err    error
	delay  time.Duration
}

func (f *fakeRunner) RunScenario(_ context.Context, run scenario.Run, state map[string]json.RawMessage) (*scenario.Result, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	f.states = append(f.states, state)
	if f.err != nil {
		return nil, f.err
	}
	return &scenario.Result{
		TaskID:  run.Context.TaskID,
		Name:    run.Scenario.Name,
		Feature: run.Feature.Name,
		Status:  feedback.StatusSuccess,
		PID:     4242,
		Worker:  3,
	}, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestScheduler_ParallelTasks(t *testing.T) {
	var calls atomic.Int32
	w := world.New()
	w.Set("token", "abc")
	runner := &fakeRunner{}
	opts := DefaultOptions()
	opts.SeedParallelWorld = true
	s := New(testRegistry(&calls), opts, WithParallelRunner(runner), WithWorld(w))

	res := run(t, s, `Feature: parallel
  @parallel @id_p
  Scenario: isolated
    Given pass

  @concurrent @depends_p
  Scenario: after
    Given pass
`)

	assert.True(t, res.Success)
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "isolated", runner.runs[0].Scenario.Name)
	assert.True(t, runner.runs[0].Context.Parallel)
	assert.JSONEq(t, `"abc"`, string(runner.states[0]["token"]))
	assert.Equal(t, 1, runner.closed)
	assert.Equal(t, int32(1), calls.Load())

	e, ok := s.Report().Lookup("p")
	require.True(t, ok)
	assert.Equal(t, 4242, e.Scenario.PID)
}

func TestScheduler_ParallelRunnerError(t *testing.T) {
	var calls atomic.Int32
	runner := &fakeRunner{err: errors.New("worker died")}
	s := New(testRegistry(&calls), DefaultOptions(), WithParallelRunner(runner))

	res := run(t, s, `Feature: parallel
  @parallel
  Scenario: isolated
    Given pass
`)

	assert.False(t, res.Success)
	e, _ := s.Report().Find("isolated")
	assert.Equal(t, feedback.StatusFailed, e.Status)
	assert.Contains(t, e.Error, "worker died")
}

func TestScheduler_ParallelWithoutRunnerUsesOwnWorld(t *testing.T) {
	var calls atomic.Int32
	w := world.New()
	s := New(testRegistry(&calls), DefaultOptions(), WithWorld(w))

	res := run(t, s, `Feature: parallel
  @parallel
  Scenario: isolated
    Given record isolated
`)

	assert.True(t, res.Success)
	_, ok := w.Get("order")
	assert.False(t, ok)
}

func TestScheduler_Feedback(t *testing.T) {
	var calls atomic.Int32
	rec := &feedback.Recorder{}
	s := New(testRegistry(&calls), DefaultOptions(), WithNotifier(rec))

	run(t, s, `Feature: events
  @concurrent
  Scenario: ran
    Given pass

  @depends_nobody
  Scenario: skipped
    Given pass
`)

	var got []string
	for _, ev := range rec.Scenarios() {
		got = append(got, ev.Scenario.Name+":"+string(ev.Status))
	}
	assert.ElementsMatch(t, []string{"ran:starting", "ran:success", "skipped:skipped"}, got)
}

func TestScheduler_Cancelled(t *testing.T) {
	var calls atomic.Int32
	s := New(testRegistry(&calls), DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	f := parseFeature(t, `Feature: cancel
  @concurrent
  Scenario: slow
    Given sleep 1000

  @teardown
  Scenario: cleanup
    Given pass
`)
	res, err := s.Run(ctx, []*feature.Feature{f})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Equal(t, feedback.StatusSuccess, statusOf(t, s.Report(), "cleanup"))
}
