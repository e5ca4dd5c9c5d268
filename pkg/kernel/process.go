package kernel

import (
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kos-sentry/kos/pkg/vfs"
)

// State is a process's scheduling/lifecycle state.
type State int

const (
	Running State = iota
	Sleeping
	UninterruptibleSleep
	Stopped
	Zombie
	Dead
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case UninterruptibleSleep:
		return "UninterruptibleSleep"
	case Stopped:
		return "Stopped"
	case Zombie:
		return "Zombie"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Policy is a scheduling policy.
type Policy int

const (
	PolicyCFS Policy = iota
	PolicyFIFO
	PolicyRR
	PolicyBatch
	PolicyIdle
)

// Accounting holds per-process resource-usage counters.
type Accounting struct {
	UserTime        time.Duration
	SystemTime      time.Duration
	ContextSwitches uint64
	StartTime       time.Time
}

// ProcessUsage is a derived, point-in-time resource-usage view over a
// process's accounting counters. It adds no new state: CPUPercent is
// user+system time over the caller-supplied window.
type ProcessUsage struct {
	UserTime   time.Duration
	SystemTime time.Duration
	CPUPercent float64
	Threads    int
}

// Process is one entry in the process table.
type Process struct {
	mu sync.Mutex

	PID     int
	Name    string
	Exec    string
	Argv    []string
	Env     []string
	ParentPID int
	PGID    int
	SID     int

	Creds *Credentials

	Nice     int
	Policy   Policy
	StaticPriority int

	Rlimits map[string]specs.POSIXRlimit

	Cwd  string
	Root string

	FDs *FDTable

	handlers       map[int]SignalHandler
	pending        map[int]SignalInfo
	blocked        map[int]bool

	State State

	Accounting Accounting

	children map[int]struct{}

	exitCode int

	cwdInode  *vfs.Inode
	rootInode *vfs.Inode

	threads int
}

// SignalHandler is a registered disposition for a signal.
type SignalHandler int

const (
	SigDefault SignalHandler = iota
	SigIgnore
	SigCatch
)

// SignalInfo carries optional metadata delivered with a signal.
type SignalInfo struct {
	Signum int
	Sender int
	Data   map[string]any
}

func newProcess(pid int, name, exec string, argv, env []string, creds *Credentials) *Process {
	return &Process{
		PID:      pid,
		Name:     name,
		Exec:     exec,
		Argv:     append([]string(nil), argv...),
		Env:      append([]string(nil), env...),
		PGID:     pid,
		SID:      pid,
		Creds:    creds,
		Nice:     0,
		Policy:   PolicyCFS,
		Rlimits:  make(map[string]specs.POSIXRlimit),
		FDs:      NewFDTable(),
		handlers: make(map[int]SignalHandler),
		pending:  make(map[int]SignalInfo),
		blocked:  make(map[int]bool),
		State:    Running,
		children: make(map[int]struct{}),
		threads:  1,
		Accounting: Accounting{
			StartTime: time.Now(),
		},
	}
}

// Usage returns a derived resource-usage snapshot; window is used only
// to compute CPUPercent (0 if window <= 0).
func (p *Process) Usage(window time.Duration) ProcessUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := ProcessUsage{
		UserTime:   p.Accounting.UserTime,
		SystemTime: p.Accounting.SystemTime,
		Threads:    p.threads,
	}
	if window > 0 {
		u.CPUPercent = float64(p.Accounting.UserTime+p.Accounting.SystemTime) / float64(window) * 100
	}
	return u
}

// Children returns a snapshot of child PIDs.
func (p *Process) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.children))
	for pid := range p.children {
		out = append(out, pid)
	}
	return out
}

func (p *Process) addChild(pid int) {
	p.mu.Lock()
	p.children[pid] = struct{}{}
	p.mu.Unlock()
}

func (p *Process) removeChild(pid int) {
	p.mu.Lock()
	delete(p.children, pid)
	p.mu.Unlock()
}

// SetState transitions the process's state.
func (p *Process) SetState(s State) {
	p.mu.Lock()
	p.State = s
	p.mu.Unlock()
}

func (p *Process) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}
