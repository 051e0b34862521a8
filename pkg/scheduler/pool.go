package scheduler

import "context"

// slotPool bounds the number of tasks running on goroutines. Each running task
// holds one slot; the slot index is reported as the task's worker.
type slotPool struct {
	slots chan int
}

func newSlotPool(size int) *slotPool {
	if size < 1 {
		size = 1
	}
	p := &slotPool{slots: make(chan int, size)}
	for i := 0; i < size; i++ {
		p.slots <- i
	}
	return p
}

func (p *slotPool) acquire(ctx context.Context) (int, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *slotPool) release(slot int) {
	p.slots <- slot
}
