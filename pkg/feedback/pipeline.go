package feedback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/client-go/util/workqueue"

	"conclave/pkg/logging"
)

// DefaultStopTimeout bounds how long Stop waits for the consumer to drain.
const DefaultStopTimeout = 120 * time.Second

// ErrStopTimeout is returned by Stop when the consumer does not finish in time.
var ErrStopTimeout = errors.New("feedback pipeline did not drain before timeout")

// Pipeline queues events and delivers them to adapters from one goroutine.
type Pipeline struct {
	queue *workqueue.Typed[*Message]

	mu       sync.RWMutex
	adapters []Adapter

	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	dropped   atomic.Int64
}

// NewPipeline returns a pipeline delivering to adapters. Call Start to begin
// delivery and Stop to drain.
func NewPipeline(adapters ...Adapter) *Pipeline {
	return &Pipeline{
		queue:    workqueue.NewTyped[*Message](),
		adapters: adapters,
		done:     make(chan struct{}),
	}
}

// Register adds an adapter. Adapters registered after Start receive events
// dequeued after the call.
func (p *Pipeline) Register(a Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters = append(p.adapters, a)
}

// Start launches the consumer. It is a no-op when already started.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.consume()
	})
}

// NotifyScenario queues a scenario event.
func (p *Pipeline) NotifyScenario(ev ScenarioEvent) {
	p.Notify(&Message{Scenario: &ev})
}

// NotifyStep queues a step event.
func (p *Pipeline) NotifyStep(ev StepEvent) {
	p.Notify(&Message{Step: &ev})
}

// Notify queues a message. It never blocks and never fails the caller: messages
// arriving after Stop are counted as dropped.
func (p *Pipeline) Notify(m *Message) {
	defer func() {
		if r := recover(); r != nil {
			p.dropped.Add(1)
			logging.Debug("Feedback", "Dropping feedback message: %v", r)
		}
	}()
	if m == nil || (m.Scenario == nil && m.Step == nil) {
		return
	}
	if p.queue.ShuttingDown() {
		p.dropped.Add(1)
		return
	}
	p.queue.Add(m)
}

// Dropped returns the number of messages that could not be queued.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Stop shuts the queue down and waits up to timeout for the consumer to
// deliver what is still queued. A non-positive timeout uses DefaultStopTimeout.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	p.queue.ShutDown()
	if !p.started.Load() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		logging.Warn("Feedback", "Consumer still busy after %s, %d messages undelivered", timeout, p.queue.Len())
		return ErrStopTimeout
	}
}

func (p *Pipeline) consume() {
	defer close(p.done)
	for {
		m, shutdown := p.queue.Get()
		if shutdown {
			return
		}
		p.dispatch(m)
		p.queue.Done(m)
	}
}

func (p *Pipeline) dispatch(m *Message) {
	p.mu.RLock()
	adapters := append([]Adapter(nil), p.adapters...)
	p.mu.RUnlock()

	for _, a := range adapters {
		p.deliver(a, m)
	}
}

func (p *Pipeline) deliver(a Adapter, m *Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Feedback", fmt.Errorf("panic: %v", r), "Adapter %T failed", a)
		}
	}()

	var err error
	switch {
	case m.Scenario != nil:
		err = a.OnScenario(*m.Scenario)
	case m.Step != nil:
		err = a.OnStep(*m.Step)
	}
	if err != nil {
		logging.Error("Feedback", err, "Adapter %T failed", a)
	}
}
