package scenario

import (
	"sync"
	"time"

	"conclave/pkg/feature"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/step"
)

type pendingStep struct {
	index int
	step  *feature.Step
}

// stepOutcome is returned by a concurrent step goroutine. The record is a copy
// owned by the outcome; the scenario merges it into its own records after the
// loop has finished.
type stepOutcome struct {
	index  int
	record StepRecord
}

// concurrentLoop runs the concurrent steps of one scenario. The scenario
// goroutine enqueues steps as it reaches them and calls stop once it has
// finished; the loop exits after it has observed stop, drained the queue and
// every submitted step has finished.
type concurrentLoop struct {
	x *execution

	mu      sync.Mutex
	pending []pendingStep

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	results  chan stepOutcome
	finished chan struct{}

	// owned by run until finished is closed
	outcomes []stepOutcome
	lanes    int
}

func newConcurrentLoop(x *execution) *concurrentLoop {
	return &concurrentLoop{
		x:        x,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		results:  make(chan stepOutcome),
		finished: make(chan struct{}),
	}
}

func (l *concurrentLoop) enqueue(index int, st *feature.Step) {
	l.mu.Lock()
	l.pending = append(l.pending, pendingStep{index: index, step: st})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *concurrentLoop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// wait blocks until the loop has exited and returns the outcomes in
// completion order.
func (l *concurrentLoop) wait() []stepOutcome {
	<-l.finished
	return l.outcomes
}

func (l *concurrentLoop) drain() []pendingStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

func (l *concurrentLoop) pendingLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *concurrentLoop) run() {
	defer close(l.finished)

	idleWait := l.x.engine.idleWait
	pollTimeout := l.x.engine.pollTimeout
	stopC := l.stopCh
	stopping := false
	inflight := 0

	for {
		for _, p := range l.drain() {
			l.lanes++
			inflight++
			go func(p pendingStep, lane int) {
				l.results <- l.x.runConcurrent(p, lane)
			}(p, l.lanes)
		}

		if stopping && inflight == 0 && l.pendingLen() == 0 {
			return
		}

		if inflight == 0 {
			timer := time.NewTimer(idleWait)
			select {
			case <-l.wake:
			case <-stopC:
				stopping, stopC = true, nil
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		timer := time.NewTimer(pollTimeout)
		select {
		case out := <-l.results:
			inflight--
			l.record(out)
		case <-l.wake:
		case <-stopC:
			stopping, stopC = true, nil
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (l *concurrentLoop) record(out stepOutcome) {
	l.outcomes = append(l.outcomes, out)
	rec := out.record
	if rec.Error != "" {
		l.x.env.Log.LogErrorf("concurrent step failed: %s%s", rec.Keyword, rec.Text)
	}
	l.x.env.Log.Logf("completed step: %s%s (%s)", rec.Keyword, rec.Text, rec.Status)
}

// runConcurrent runs one concurrent step on the calling goroutine.
func (x *execution) runConcurrent(p pendingStep, lane int) stepOutcome {
	rec := newRecord(p.step)
	rec.Worker = x.run.Worker
	rec.Lane = lane

	def, match, err := x.engine.registry.Lookup(p.step.Text)
	if err != nil {
		rec.Error = err.Error()
		logging.Debug("Scenario", "Concurrent step %q is undefined", p.step.Text)
		x.notifyStep(feedback.StatusSkipped, &rec)
		return stepOutcome{index: p.index, record: rec}
	}

	x.notifyStep(feedback.StatusStarting, &rec)
	r := step.Invoke(x.env.StepContext(p.step, def, match, lane), def.Handler)
	rec.apply(r)
	x.notifyStep(rec.Status, &rec)
	return stepOutcome{index: p.index, record: rec}
}
