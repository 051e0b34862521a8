// Package process tracks operating-system processes started during a run so
// they can be terminated when the run ends.
//
// Parallel worker processes register themselves, and step handlers register
// children they spawn through step.Context.TrackProcess. Terminate sends
// SIGTERM to the process group of every tracked pid, falling back to the
// single process when it does not lead a group.
package process

import (
	"errors"
	"os"
	"os/exec"
	"sort"
	"sync"

	"conclave/pkg/logging"
)

// Monitor collects process ids.
type Monitor struct {
	mu   sync.Mutex
	pids map[int]struct{}
	self int
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		pids: make(map[int]struct{}),
		self: os.Getpid(),
	}
}

// Track records pid. Non-positive ids and the current process are ignored.
func (m *Monitor) Track(pid int) {
	if pid <= 0 || pid == m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pids[pid]; ok {
		return
	}
	m.pids[pid] = struct{}{}
	logging.Debug("ProcessMonitor", "Tracking process %d", pid)
}

// Forget stops tracking pid, e.g. after it was reaped normally.
func (m *Monitor) Forget(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pids, pid)
}

// PIDs returns the tracked ids in ascending order.
func (m *Monitor) PIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.pids))
	for pid := range m.pids {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Terminate signals every tracked process and stops tracking it. It returns
// the number of processes that were signalled; processes that already exited
// are not counted.
func (m *Monitor) Terminate() int {
	pids := m.PIDs()
	signalled := 0
	for _, pid := range pids {
		err := terminate(pid)
		m.Forget(pid)
		switch {
		case err == nil:
			signalled++
			logging.Debug("ProcessMonitor", "Sent termination signal to process %d", pid)
		case errors.Is(err, os.ErrProcessDone):
			logging.Debug("ProcessMonitor", "Process %d already exited", pid)
		default:
			logging.Warn("ProcessMonitor", "Failed to terminate process %d: %v", pid, err)
		}
	}
	if signalled > 0 {
		logging.Info("ProcessMonitor", "Terminated %d leftover process(es)", signalled)
	}
	return signalled
}

// Command returns an exec.Cmd that starts in its own process group, so
// terminating it also terminates its children.
func Command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	configureProcAttr(cmd)
	return cmd
}
