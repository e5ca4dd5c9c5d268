package sched

import (
	"sync"

	"github.com/google/btree"
)

// rtPriorities is the number of real-time priority levels, 0..99.
const rtPriorities = 100

// cfsKey orders the btree: primarily by vruntime (leftmost = minimum),
// tie-broken by PID so two entities never compare equal and silently
// collide in the tree.
type cfsKey struct {
	vruntime uint64
	pid      int
}

func lessCFSKey(a, b cfsKey) bool {
	if a.vruntime != b.vruntime {
		return a.vruntime < b.vruntime
	}
	return a.pid < b.pid
}

// RunQueue is one CPU's scheduling state: an ordered set of CFS
// entities keyed by vruntime (backed by a B-tree for O(log n)
// leftmost-pick, insert, and remove — the generalization of gvisor's
// own use of ordered trees for scheduling-adjacent indices), a vector
// of FIFO queues for real-time priorities 0..99, the currently-running
// entity, and a monotonically-advancing min_vruntime. Invariants: no
// entity appears on more than one run queue; min_vruntime is
// monotonically non-decreasing; the sum of on-queue entity weights
// equals Load.
type RunQueue struct {
	mu sync.Mutex

	CPU int

	cfs  *btree.BTreeG[cfsKey]
	byPID map[int]*Entity

	rt [rtPriorities][]*Entity

	Current *Entity

	minVRuntime uint64
	Load        uint64
	NumRunning  int
}

// NewRunQueue constructs an empty run queue for the given CPU index.
func NewRunQueue(cpu int) *RunQueue {
	return &RunQueue{
		CPU:   cpu,
		cfs:   btree.NewG(32, lessCFSKey),
		byPID: make(map[int]*Entity),
	}
}

// MinVRuntime returns the queue's current min_vruntime lower bound.
func (q *RunQueue) MinVRuntime() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.minVRuntime
}

// Contains reports whether pid has an entity on this queue.
func (q *RunQueue) Contains(pid int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPID[pid]
	return ok
}

// Enqueue adds e to the queue. If e's vruntime trails the queue's
// min_vruntime, it is bumped up to it first (new or long-blocked tasks
// can't monopolize the CPU); real-time entities go on their priority's
// FIFO instead of the CFS tree. Returns false (a no-op) if e's PID is
// already scheduled on this queue.
func (q *RunQueue) Enqueue(e *Entity) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byPID[e.PID]; exists {
		return false
	}

	if e.IsRealtime() {
		p := clampRTPriority(e.RTPriority)
		q.rt[p] = append(q.rt[p], e)
	} else {
		if e.VRuntime < q.minVRuntime {
			e.VRuntime = q.minVRuntime
		}
		q.cfs.ReplaceOrInsert(cfsKey{e.VRuntime, e.PID})
	}

	q.byPID[e.PID] = e
	e.RunQueueIdx = q.CPU
	e.onRunQueue = true
	q.Load += e.Weight
	q.NumRunning++
	return true
}

// Dequeue removes the entity for pid from the queue. A no-op (returns
// false) if pid is not scheduled here.
func (q *RunQueue) Dequeue(pid int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byPID[pid]
	if !ok {
		return false
	}
	q.removeLocked(e)
	return true
}

func (q *RunQueue) removeLocked(e *Entity) {
	if e.IsRealtime() {
		p := clampRTPriority(e.RTPriority)
		q.rt[p] = removeEntity(q.rt[p], e.PID)
	} else {
		q.cfs.Delete(cfsKey{e.VRuntime, e.PID})
	}
	delete(q.byPID, e.PID)
	q.Load -= e.Weight
	q.NumRunning--
	e.onRunQueue = false
	if q.Current == e {
		q.Current = nil
	}
}

func removeEntity(list []*Entity, pid int) []*Entity {
	for i, e := range list {
		if e.PID == pid {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func clampRTPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p >= rtPriorities {
		return rtPriorities - 1
	}
	return p
}

// PickNext chooses the next entity to run: RT queues scanned from
// priority 99 down to 0; otherwise the leftmost (minimum vruntime) CFS
// entity; nil if the queue is entirely empty (caller substitutes the
// CPU's idle entity).
func (q *RunQueue) PickNext() *Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pickNextLocked()
}

func (q *RunQueue) pickNextLocked() *Entity {
	for p := rtPriorities - 1; p >= 0; p-- {
		if len(q.rt[p]) > 0 {
			return q.rt[p][0]
		}
	}
	var leftmost *Entity
	q.cfs.Ascend(func(k cfsKey) bool {
		leftmost = q.byPID[k.pid]
		return false
	})
	return leftmost
}

// Leftmost returns the minimum-vruntime CFS entity without considering
// RT queues (used for the preemption comparison, which compares the
// current CFS entity against the leftmost CFS entity specifically).
func (q *RunQueue) Leftmost() *Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	var leftmost *Entity
	q.cfs.Ascend(func(k cfsKey) bool {
		leftmost = q.byPID[k.pid]
		return false
	})
	return leftmost
}

// UpdateVRuntime re-keys e in the CFS tree after its vruntime changes
// (the current entity is kept out of the tree until switchOut), and
// advances min_vruntime to max(old, min(e.vruntime, leftmost)). The
// queue's min_vruntime is monotonically non-decreasing.
func (q *RunQueue) UpdateVRuntime(e *Entity, oldVRuntime uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !e.IsRealtime() && e.onRunQueue {
		q.cfs.Delete(cfsKey{oldVRuntime, e.PID})
		if q.Current != e {
			q.cfs.ReplaceOrInsert(cfsKey{e.VRuntime, e.PID})
		}
	}

	candidate := e.VRuntime
	if leftmost := q.pickLeftmostCFSLocked(); leftmost != nil && leftmost.VRuntime < candidate {
		candidate = leftmost.VRuntime
	}
	if candidate > q.minVRuntime {
		q.minVRuntime = candidate
	}
}

func (q *RunQueue) pickLeftmostCFSLocked() *Entity {
	var leftmost *Entity
	q.cfs.Ascend(func(k cfsKey) bool {
		leftmost = q.byPID[k.pid]
		return false
	})
	return leftmost
}

// SetCurrent marks e as the currently-executing entity.
func (q *RunQueue) SetCurrent(e *Entity) {
	q.mu.Lock()
	q.Current = e
	q.mu.Unlock()
}

// Entities returns a snapshot of every entity on the queue (CFS and
// RT), for load-balancing and introspection.
func (q *RunQueue) Entities() []*Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entity, 0, len(q.byPID))
	for _, e := range q.byPID {
		out = append(out, e)
	}
	return out
}
