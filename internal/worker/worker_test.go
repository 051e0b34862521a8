package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/process"
	"conclave/pkg/scenario"
	"conclave/pkg/step"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// childEnv makes the test binary act as a worker process.
const childEnv = "CONCLAVE_WORKER_TEST_CHILD"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		if err := Main(context.Background(), childRegistry(), logging.LevelDebug); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	logging.InitForCLI(logging.LevelDebug, io.Discard)
	os.Exit(m.Run())
}

func childRegistry() *step.Registry {
	r := step.NewRegistry()
	r.MustRegister(`^pass$`, func(c *step.Context) error {
		c.Logf("pid %d", os.Getpid())
		fmt.Println("stray output")
		return nil
	})
	r.MustRegister(`^fail$`, func(c *step.Context) error {
		return errors.New("boom")
	})
	r.MustRegister(`^world has (\w+)$`, func(c *step.Context) error {
		v, ok := c.World().GetString(c.Match(1))
		if !ok {
			return errors.New("missing " + c.Match(1))
		}
		c.Logf("value %s", v)
		return nil
	})
	return r
}

func newTestPool(t *testing.T, size int, notifier feedback.Notifier, monitor *process.Monitor) *Pool {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	p, err := NewPool(Config{
		Command: exe,
		Args:    []string{"-test.run=^$"},
		Env:     []string{childEnv + "=1"},
		Size:    size,
	}, notifier, monitor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testRun(t *testing.T, src string) scenario.Run {
	t.Helper()
	f, err := feature.Parse(strings.NewReader(src), "worker.feature")
	require.NoError(t, err)
	return scenario.Run{
		Feature:  f,
		Scenario: f.Scenarios[0],
		Context:  step.RunContext{TaskID: "p1", Parallel: true},
	}
}

func TestPool_RunScenario(t *testing.T) {
	rec := &feedback.Recorder{}
	monitor := process.NewMonitor()
	p := newTestPool(t, 1, rec, monitor)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := p.RunScenario(ctx, testRun(t, `Feature: remote
  Scenario: passes
    Given pass
    Then world has token
`), map[string]json.RawMessage{"token": json.RawMessage(`"abc"`)})
	require.NoError(t, err)

	assert.Equal(t, feedback.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, "passes", res.Name)
	assert.Equal(t, "remote", res.Feature)
	assert.NotEqual(t, os.Getpid(), res.PID)
	assert.Contains(t, res.Log, "value abc")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, feedback.StatusSuccess, res.Steps[1].Status)

	// Feedback arrives asynchronously over stderr.
	assert.Eventually(t, func() bool {
		for _, ev := range rec.Scenarios() {
			if ev.Status == feedback.StatusSuccess && ev.Run.TaskID == "p1" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(monitor.PIDs()) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, monitor.PIDs(), res.PID)
}

func TestPool_ScenarioFailure(t *testing.T) {
	p := newTestPool(t, 1, nil, nil)

	res, err := p.RunScenario(context.Background(), testRun(t, `Feature: remote
  Scenario: fails
    Given fail
    Then pass
`), nil)
	require.NoError(t, err)

	assert.Equal(t, feedback.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, feedback.StatusSkipped, res.Steps[1].Status)
}

func TestPool_ReusesAndRestartsWorkers(t *testing.T) {
	p := newTestPool(t, 2, nil, nil)
	run := testRun(t, `Feature: remote
  Scenario: passes
    Given pass
`)

	var wg sync.WaitGroup
	results := make([]*scenario.Result, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.RunScenario(context.Background(), run, nil)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	pids := map[int]bool{}
	for _, res := range results {
		require.NotNil(t, res)
		assert.Contains(t, []int{0, 1}, res.Worker)
		pids[res.PID] = true
	}
	assert.LessOrEqual(t, len(pids), 2)

	require.NoError(t, p.Close())
	res, err := p.RunScenario(context.Background(), run, nil)
	require.NoError(t, err)
	assert.False(t, pids[res.PID], "closed workers must be replaced")
}

func TestPool_Cancelled(t *testing.T) {
	p := newTestPool(t, 1, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.RunScenario(ctx, testRun(t, `Feature: remote
  Scenario: passes
    Given pass
`), nil)
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
		kind envelopeKind
	}{
		{"pid", `{"conclave":"pid","pid":12}`, true, kindPID},
		{"feedback", `{"conclave":"feedback","message":{"step":{"status":"success"}}}`, true, kindFeedback},
		{"zero pid", `{"conclave":"pid"}`, false, ""},
		{"empty feedback", `{"conclave":"feedback"}`, false, ""},
		{"log record", `{"time":"2024-01-01T00:00:00Z","level":"INFO","msg":"hi"}`, false, ""},
		{"text", `stray output`, false, ""},
		{"broken", `{"conclave":`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := decodeEnvelope([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, env.Conclave)
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	run := testRun(t, `Feature: remote
  Background:
    Given pass
  Scenario: passes
    Given pass
`)
	raw, err := encodeRequest(newRequest(run, 3, nil))
	require.NoError(t, err)

	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	back := req.run()
	assert.Equal(t, 3, back.Worker)
	assert.Equal(t, "p1", back.Context.TaskID)
	assert.Equal(t, "remote", back.Feature.Name)
	assert.Empty(t, back.Feature.Scenarios)
	assert.Len(t, back.Scenario.AllSteps(), 2)
}
