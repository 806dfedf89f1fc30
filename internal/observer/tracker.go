// Package observer tracks hostaudit's own PID and any verification
// subprocess it spawns (dpkg -V, rpm -Va) so scanners can exclude
// self-generated noise from process and network inventories.
package observer

import (
	"os"
	"sync"
)

// PIDTracker is a thread-safe registry of hostaudit's own PID and any
// verification subprocess PIDs. Scanners use it to filter self-noise
// from process and socket inventories.
type PIDTracker struct {
	mu       sync.RWMutex
	selfPID  int
	children map[int]string // pid → subprocess name
}

// NewPIDTracker creates a PIDTracker seeded with the current process PID.
func NewPIDTracker() *PIDTracker {
	return &PIDTracker{
		selfPID:  os.Getpid(),
		children: make(map[int]string),
	}
}

// SelfPID returns hostaudit's own process ID.
func (t *PIDTracker) SelfPID() int {
	return t.selfPID
}

// Add registers a child process PID with its subprocess name.
func (t *PIDTracker) Add(pid int, name string) {
	t.mu.Lock()
	t.children[pid] = name
	t.mu.Unlock()
}

// Remove unregisters a child process PID.
func (t *PIDTracker) Remove(pid int) {
	t.mu.Lock()
	delete(t.children, pid)
	t.mu.Unlock()
}

// IsOwnPID returns true if pid is hostaudit itself or any tracked child.
func (t *PIDTracker) IsOwnPID(pid int) bool {
	if pid == t.selfPID {
		return true
	}
	t.mu.RLock()
	_, ok := t.children[pid]
	t.mu.RUnlock()
	return ok
}

// AllPIDs returns hostaudit's PID plus all currently tracked child PIDs.
func (t *PIDTracker) AllPIDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pids := make([]int, 0, 1+len(t.children))
	pids = append(pids, t.selfPID)
	for pid := range t.children {
		pids = append(pids, pid)
	}
	return pids
}

// ChildCount returns the number of currently tracked child PIDs.
func (t *PIDTracker) ChildCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.children)
}
