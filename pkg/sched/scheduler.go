package sched

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kos-sentry/kos/pkg/kctx"
)

// Tunables holds the constants governing preemption and balancing.
type Tunables struct {
	TargetLatency     time.Duration
	MinGranularity    time.Duration
	WakeupGranularity time.Duration
	TickInterval      time.Duration
	BalanceInterval   time.Duration
}

// DefaultTunables returns Linux-like CFS constants.
func DefaultTunables() Tunables {
	return Tunables{
		TargetLatency:     6 * time.Millisecond,
		MinGranularity:    750 * time.Microsecond,
		WakeupGranularity: 1 * time.Millisecond,
		TickInterval:      1 * time.Millisecond,
		BalanceInterval:   100 * time.Millisecond,
	}
}

// Scheduler owns one RunQueue per CPU and implements pick/preempt/
// balance over them.
type Scheduler struct {
	cfg Tunables

	queues []*RunQueue
	idle   []*Entity

	mu      sync.Mutex // protects pidToCPU and affinity bookkeeping only
	pidToCPU map[int]int

	balanceLimiter *rate.Limiter

	stop chan struct{}
	done chan struct{}

	stats Stats
}

// Stats is a small rolling-statistics view for introspection and tests.
type Stats struct {
	mu              sync.Mutex
	ContextSwitches uint64
	Migrations      uint64
}

func (s *Stats) incSwitch()    { s.mu.Lock(); s.ContextSwitches++; s.mu.Unlock() }
func (s *Stats) incMigration() { s.mu.Lock(); s.Migrations++; s.mu.Unlock() }

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() (switches, migrations uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ContextSwitches, s.Migrations
}

// New constructs a Scheduler with numCPU run queues, each carrying its
// own idle entity (returned by PickNext when a CPU's queues are
// entirely empty).
func New(numCPU int, cfg Tunables) *Scheduler {
	if numCPU < 1 {
		numCPU = 1
	}
	s := &Scheduler{
		cfg:            cfg,
		queues:         make([]*RunQueue, numCPU),
		idle:           make([]*Entity, numCPU),
		pidToCPU:       make(map[int]int),
		balanceLimiter: rate.NewLimiter(rate.Every(cfg.BalanceInterval), 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for i := 0; i < numCPU; i++ {
		s.queues[i] = NewRunQueue(i)
		idleEnt := NewEntity(-(i + 1), PolicyIdle, 0)
		idleEnt.AffinityMask = NewCPUSet(i)
		s.idle[i] = idleEnt
	}
	return s
}

// NumCPU returns the number of run queues.
func (s *Scheduler) NumCPU() int { return len(s.queues) }

// Queue returns the run queue for the given CPU index.
func (s *Scheduler) Queue(cpu int) *RunQueue { return s.queues[cpu] }

// Stats returns the scheduler's rolling counters.
func (s *Scheduler) Stats() *Stats { return &s.stats }

// leastLoadedCPU returns the affinity-permitted CPU with the lowest
// entity count.
func (s *Scheduler) leastLoadedCPU(mask CPUSet) int {
	best := -1
	bestCount := -1
	for i, q := range s.queues {
		if !mask.Allows(i) {
			continue
		}
		n := q.NumRunning
		if best == -1 || n < bestCount {
			best, bestCount = i, n
		}
	}
	if best == -1 {
		best = 0
	}
	return best
}

// AddProcess schedules pid under the given policy/nice onto the
// least-loaded CPU permitted by its (default: unrestricted) affinity.
// A no-op (returns false) if pid is already scheduled.
func (s *Scheduler) AddProcess(pid int, policy Policy, nice int) bool {
	s.mu.Lock()
	if _, exists := s.pidToCPU[pid]; exists {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	e := NewEntity(pid, policy, nice)
	cpu := s.leastLoadedCPU(e.AffinityMask)
	if ok := s.queues[cpu].Enqueue(e); !ok {
		return false
	}
	s.mu.Lock()
	s.pidToCPU[pid] = cpu
	s.mu.Unlock()
	return true
}

// RemoveProcess dequeues pid from whichever CPU it is on. A no-op
// (returns false) if pid is not scheduled.
func (s *Scheduler) RemoveProcess(pid int) bool {
	s.mu.Lock()
	cpu, ok := s.pidToCPU[pid]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pidToCPU, pid)
	s.mu.Unlock()
	return s.queues[cpu].Dequeue(pid)
}

// SetNice re-nices pid's entity in place.
func (s *Scheduler) SetNice(pid, nice int) bool {
	cpu, e := s.find(pid)
	if e == nil {
		return false
	}
	q := s.queues[cpu]
	q.mu.Lock()
	q.Load -= e.Weight
	e.SetNice(nice)
	q.Load += e.Weight
	q.mu.Unlock()
	return true
}

// SetAffinity updates pid's allowed-CPU set. If the entity's current
// CPU is no longer permitted, migration happens on the next balance
// pass.
func (s *Scheduler) SetAffinity(pid int, cpus CPUSet) bool {
	_, e := s.find(pid)
	if e == nil {
		return false
	}
	e.AffinityMask = cpus.Copy()
	return true
}

// Yield marks pid as voluntarily giving up the CPU this tick: the next
// PickNext call on that queue will consider other ready entities first
// by nudging its vruntime just past whichever other entity is currently
// leftmost, but Yield itself never blocks. A no-op for real-time
// entities and for the sole entity on a queue.
func (s *Scheduler) Yield(pid int) bool {
	cpu, e := s.find(pid)
	if e == nil {
		return false
	}
	q := s.queues[cpu]
	if !e.IsRealtime() {
		q.mu.Lock()
		old := e.VRuntime
		q.cfs.Delete(cfsKey{old, e.PID})
		var other *Entity
		q.cfs.Ascend(func(k cfsKey) bool {
			other = q.byPID[k.pid]
			return false
		})
		q.cfs.ReplaceOrInsert(cfsKey{old, e.PID})
		if other != nil && other.VRuntime >= e.VRuntime {
			e.VRuntime = other.VRuntime + 1
		}
		q.mu.Unlock()
		q.UpdateVRuntime(e, old)
	}
	return true
}

func (s *Scheduler) find(pid int) (int, *Entity) {
	s.mu.Lock()
	cpu, ok := s.pidToCPU[pid]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	if e := s.queues[cpu].byPIDLookup(pid); e != nil {
		return cpu, e
	}
	return 0, nil
}

// byPIDLookup is a locked accessor used internally.
func (q *RunQueue) byPIDLookup(pid int) *Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byPID[pid]
}

// PickNext chooses the next entity to run on cpu, substituting the
// CPU's idle entity if every queue is empty.
func (s *Scheduler) PickNext(cpu int) *Entity {
	if e := s.queues[cpu].PickNext(); e != nil {
		return e
	}
	return s.idle[cpu]
}

// idealSlice computes the ideal time slice for e on q.
func (s *Scheduler) idealSlice(q *RunQueue, e *Entity) time.Duration {
	nrRunning := q.NumRunning
	if nrRunning <= 0 {
		nrRunning = 1
	}
	if q.Load == 0 {
		return s.cfg.MinGranularity
	}
	ideal := time.Duration(float64(s.cfg.TargetLatency) / float64(nrRunning) * float64(e.Weight) / float64(q.Load))
	if ideal < s.cfg.MinGranularity {
		return s.cfg.MinGranularity
	}
	return ideal
}

// RunTick advances cpu's current entity by delta wall-clock time,
// updating its vruntime accounting and checking preemption rules, and
// performing a context switch if preemption is warranted. It is the
// core of the scheduler's per-tick decision and is exercised directly
// by tests as well as by the background tick loop.
func (s *Scheduler) RunTick(cpu int, delta time.Duration) {
	q := s.queues[cpu]

	q.mu.Lock()
	current := q.Current
	q.mu.Unlock()

	if current == nil {
		next := s.queues[cpu].pickNextForSwitch()
		if next == nil {
			// Nothing runnable: the CPU is idle this tick.
			return
		}
		s.switchIn(q, next)
		current = next
	}

	current.SumExecRuntime += delta

	if !current.IsRealtime() {
		oldVR := current.VRuntime
		delat := uint64(delta) * current.InvWeight / (1 << 32) * NICE0Weight
		if delat == 0 && delta > 0 {
			delat = 1
		}
		current.VRuntime += delat
		q.UpdateVRuntime(current, oldVR)
	}

	if s.shouldPreempt(q, current) {
		s.preempt(q, current)
	}
}

// shouldPreempt reports whether current should yield the CPU: an RT
// entity became runnable, or current's CFS slice has elapsed and a
// more deserving entity (by vruntime, past the wakeup granularity) is
// waiting.
func (s *Scheduler) shouldPreempt(q *RunQueue, current *Entity) bool {
	if !current.IsRealtime() {
		for p := rtPriorities - 1; p >= 0; p-- {
			if len(q.rt[p]) > 0 {
				return true
			}
		}
	}
	if current.Policy == PolicyCFS {
		ideal := s.idealSlice(q, current)
		if current.SumExecRuntime-current.sliceStartExec < ideal {
			return false
		}
		leftmost := q.Leftmost()
		if leftmost == nil || leftmost.PID == current.PID {
			return false
		}
		wakeupGran := uint64(s.cfg.WakeupGranularity)
		return leftmost.VRuntime+wakeupGran < current.VRuntime
	}
	return false
}

func (s *Scheduler) preempt(q *RunQueue, current *Entity) {
	next := q.pickNextForSwitch()
	if next == nil || next.PID == current.PID {
		return
	}
	s.switchOut(q, current)
	s.switchIn(q, next)
}

// pickNextForSwitch is PickNext but operating on the queue's own lock,
// used internally by RunTick/preempt where the caller does not hold
// q.mu.
func (q *RunQueue) pickNextForSwitch() *Entity {
	return q.PickNext()
}

// switchOut un-marks e as current and, if it is still runnable (always
// true in this model; a Stopped/Zombie process is removed by
// RemoveProcess instead), re-enqueues it into the CFS tree so PickNext
// considers it again.
func (s *Scheduler) switchOut(q *RunQueue, e *Entity) {
	q.mu.Lock()
	if !e.IsRealtime() {
		q.cfs.ReplaceOrInsert(cfsKey{e.VRuntime, e.PID})
	}
	q.Current = nil
	q.mu.Unlock()
}

// switchIn dequeues e (CFS entities only; RT entities stay on their
// FIFO) and installs it as current with a fresh start timestamp and
// ideal slice.
func (s *Scheduler) switchIn(q *RunQueue, e *Entity) {
	q.mu.Lock()
	if !e.IsRealtime() {
		q.cfs.Delete(cfsKey{e.VRuntime, e.PID})
	}
	q.mu.Unlock()
	e.lastStart = time.Now()
	e.TimeSlice = s.idealSlice(q, e)
	e.sliceStartExec = e.SumExecRuntime
	q.SetCurrent(e)
	s.stats.incSwitch()
	e.ContextSwitches++
}

// Balance performs one pass of load balancing: locate the busiest and
// least-busy CPU; if their entity-count difference exceeds 1, migrate
// one eligible (not-current, affinity-permitting) entity from busy to
// idle. Run queues are locked in ascending CPU-index order to avoid
// deadlocking against a concurrent balance pass on the reverse pair.
func (s *Scheduler) Balance() {
	if len(s.queues) < 2 {
		return
	}
	busiest, idlest := 0, 0
	for i, q := range s.queues {
		if q.NumRunning > s.queues[busiest].NumRunning {
			busiest = i
		}
		if q.NumRunning < s.queues[idlest].NumRunning {
			idlest = i
		}
	}
	if busiest == idlest {
		return
	}

	lo, hi := busiest, idlest
	if lo > hi {
		lo, hi = hi, lo
	}
	s.queues[lo].mu.Lock()
	s.queues[hi].mu.Lock()
	defer s.queues[hi].mu.Unlock()
	defer s.queues[lo].mu.Unlock()

	if s.queues[busiest].NumRunning-s.queues[idlest].NumRunning <= 1 {
		return
	}

	var victim *Entity
	for _, e := range s.queues[busiest].byPID {
		if e == s.queues[busiest].Current {
			continue
		}
		if !e.AffinityMask.Allows(idlest) {
			continue
		}
		victim = e
		break
	}
	if victim == nil {
		return
	}

	s.queues[busiest].removeLocked(victim)
	if victim.VRuntime < s.queues[idlest].minVRuntime {
		victim.VRuntime = s.queues[idlest].minVRuntime
	}
	if victim.IsRealtime() {
		p := clampRTPriority(victim.RTPriority)
		s.queues[idlest].rt[p] = append(s.queues[idlest].rt[p], victim)
	} else {
		s.queues[idlest].cfs.ReplaceOrInsert(cfsKey{victim.VRuntime, victim.PID})
	}
	s.queues[idlest].byPID[victim.PID] = victim
	victim.RunQueueIdx = idlest
	s.queues[idlest].Load += victim.Weight
	s.queues[idlest].NumRunning++

	s.mu.Lock()
	s.pidToCPU[victim.PID] = idlest
	s.mu.Unlock()
	s.stats.incMigration()
}

// Name implements kernel.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start implements kernel.Service: launches the background tick and
// balance loops, paced by the configured intervals (the balance loop
// additionally rate-limited so an aggressive caller can't force
// balancing faster than BalanceInterval allows).
func (s *Scheduler) Start(ctx context.Context) error {
	log := kctx.Log(ctx)
	go s.tickLoop(ctx)
	go s.balanceLoop(ctx, log)
	return nil
}

// Stop implements kernel.Service.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			for cpu := range s.queues {
				s.RunTick(cpu, delta)
			}
		}
	}
}

func (s *Scheduler) balanceLoop(ctx context.Context, log interface{ Debugf(string, ...any) }) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.BalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.balanceLimiter.Allow() {
				s.Balance()
			}
		}
	}
}
