package sched

import (
	"time"
)

// Policy is a scheduling policy, mirrored from the process subsystem's
// Policy so this package has no import-cycle dependency on kernel.
type Policy int

const (
	PolicyCFS Policy = iota
	PolicyFIFO
	PolicyRR
	PolicyBatch
	PolicyIdle
)

// CPUSet is a set of allowed CPU indices. A nil/empty set means "no
// restriction": Allows reports true for every CPU.
type CPUSet map[int]struct{}

// NewCPUSet returns a CPUSet containing exactly the given CPU indices.
func NewCPUSet(cpus ...int) CPUSet {
	s := make(CPUSet, len(cpus))
	for _, c := range cpus {
		s[c] = struct{}{}
	}
	return s
}

// Allows reports whether cpu is in the set.
func (s CPUSet) Allows(cpu int) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[cpu]
	return ok
}

// Copy returns an independent copy of s.
func (s CPUSet) Copy() CPUSet {
	out := make(CPUSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Entity is one schedulable task.
type Entity struct {
	PID    int
	Policy Policy
	Nice   int

	Weight    uint64
	InvWeight uint64

	// VRuntime is non-decreasing for the lifetime of the entity.
	VRuntime uint64

	lastStart       time.Time
	SumExecRuntime  time.Duration
	TimeSlice       time.Duration
	sliceStartExec  time.Duration
	ContextSwitches uint64

	AffinityMask CPUSet
	RunQueueIdx  int
	onRunQueue   bool

	// RTPriority is meaningful for FIFO/RR policies: 0..99, higher
	// preempts lower.
	RTPriority int

	// Deadline scheduling fields, carried in the entity's data model but
	// not driving pick_next in the core CFS+RT design below; reserved
	// for a future EDF policy.
	Deadline time.Time
	Runtime  time.Duration
	Period   time.Duration
}

// NewEntity constructs an Entity for pid with the given policy/nice,
// deriving its CFS weight from the nice table.
func NewEntity(pid int, policy Policy, nice int) *Entity {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	return &Entity{
		PID:          pid,
		Policy:       policy,
		Nice:         nice,
		Weight:       WeightForNice(nice),
		InvWeight:    InvWeightForNice(nice),
		AffinityMask: CPUSet{},
		RunQueueIdx:  -1,
	}
}

// SetNice re-niceing recomputes both weight and inv_weight.
func (e *Entity) SetNice(nice int) {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	e.Nice = nice
	e.Weight = WeightForNice(nice)
	e.InvWeight = InvWeightForNice(nice)
}

// IsRealtime reports whether e's policy is a real-time policy (FIFO/RR).
func (e *Entity) IsRealtime() bool {
	return e.Policy == PolicyFIFO || e.Policy == PolicyRR
}
