// Package kernel implements the process/PID subsystem: PID allocation,
// the process table, parent/child/group/session topology, signal
// delivery, and zombie reaping. Modeled on gvisor's pkg/sentry/kernel
// TaskSet/PIDNamespace pairing (see task_start.go's allocateTID), but
// collapsed to a single flat PID space since the core has no nested PID
// namespaces.
package kernel

import (
	"sync"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// KernelPID is the reserved PID of the kernel pseudo-process.
const KernelPID = 0

// InitPID is the PID of the first real process, the default reparent
// target and the root of the process forest.
const InitPID = 1

// PIDAllocator hands out process identifiers. alloc prefers the free
// list (most recently freed PIDs are reused first as a LIFO: freeing 3
// then allocating again returns 3 before the cursor reaches higher
// numbers); once the free list is empty it advances a cursor, skipping
// in-use PIDs, wrapping at max back to 1. Serialized by a single mutex.
type PIDAllocator struct {
	mu       sync.Mutex
	max      int
	cursor   int
	inUse    map[int]struct{}
	freeList []int
}

// NewPIDAllocator constructs an allocator over PIDs [1, max]. PID 0 is
// permanently reserved for the kernel.
func NewPIDAllocator(max int) *PIDAllocator {
	a := &PIDAllocator{
		max:   max,
		inUse: make(map[int]struct{}),
	}
	a.inUse[KernelPID] = struct{}{}
	return a
}

// Alloc returns an unused PID, or an error if the PID space is
// exhausted.
func (a *PIDAllocator) Alloc() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeList); n > 0 {
		pid := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.inUse[pid] = struct{}{}
		return pid, nil
	}

	start := a.cursor
	for {
		a.cursor++
		if a.cursor > a.max {
			a.cursor = 1
		}
		if _, busy := a.inUse[a.cursor]; !busy {
			a.inUse[a.cursor] = struct{}{}
			return a.cursor, nil
		}
		if a.cursor == start {
			return 0, kerr.New(kerr.ResourceExhausted, "alloc_pid", "", "PID space exhausted")
		}
	}
}

// Free returns pid to the free list. Freeing PID 0 is refused.
func (a *PIDAllocator) Free(pid int) error {
	if pid == KernelPID {
		return kerr.New(kerr.PermissionDenied, "free_pid", "", "PID 0 cannot be freed")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inUse[pid]; !busy {
		return kerr.New(kerr.InvalidArgument, "free_pid", "", "pid not in use")
	}
	delete(a.inUse, pid)
	a.freeList = append(a.freeList, pid)
	return nil
}

// InUse reports whether pid is currently allocated.
func (a *PIDAllocator) InUse(pid int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inUse[pid]
	return ok
}

// Count returns the number of allocated PIDs (including PID 0).
func (a *PIDAllocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
