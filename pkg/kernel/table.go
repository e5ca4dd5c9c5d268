package kernel

import (
	"sort"
	"sync"
	"time"

	"github.com/kos-sentry/kos/pkg/kerr"
	"github.com/kos-sentry/kos/pkg/vfs"
)

// Table is the global process table: PID allocator, process records,
// and the process-group/session indexes built on top of them. It is
// protected by a single mutex. The PID allocator has its own lock,
// which Create and Reap take while already holding t.mu (t.mu first,
// then the allocator's lock); the allocator never takes t.mu.
type Table struct {
	mu sync.RWMutex

	vfs   *vfs.VFS
	pids  *PIDAllocator
	procs map[int]*Process

	groups   map[int]map[int]struct{} // pgid -> pids
	sessions map[int]map[int]struct{} // sid -> pids

	maxProcs int

	orphans map[int]struct{}
}

// NewTable constructs an empty process table bound to v for cwd/root
// inode resolution, accepting at most maxProcs live processes.
func NewTable(v *vfs.VFS, maxPID, maxProcs int) *Table {
	return &Table{
		vfs:      v,
		pids:     NewPIDAllocator(maxPID),
		procs:    make(map[int]*Process),
		groups:   make(map[int]map[int]struct{}),
		sessions: make(map[int]map[int]struct{}),
		maxProcs: maxProcs,
		orphans:  make(map[int]struct{}),
	}
}

// CreateParams configures Create.
type CreateParams struct {
	Name       string
	Executable string
	Argv       []string
	Env        []string
	ParentPID  int // 0 (KernelPID) means "no parent"
	Cwd        string
	Creds      *Credentials
}

// Create allocates a PID and inserts a new process into the table.
// The first process created gets PID 1 ("init"), the default reparent
// target. Create does not guard PID 1: once init has been reaped its
// PID goes back to the allocator and a later Create can receive it.
func (t *Table) Create(p CreateParams) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.procs) >= t.maxProcs {
		return nil, kerr.New(kerr.ResourceExhausted, "create_process", "", "process ceiling exceeded")
	}

	pid, err := t.pids.Alloc()
	if err != nil {
		return nil, err
	}

	creds := p.Creds
	if creds == nil {
		creds = NewCredentials(0, 0, nil)
	}

	proc := newProcess(pid, p.Name, p.Executable, p.Argv, p.Env, creds)
	proc.Cwd = p.Cwd
	if proc.Cwd == "" {
		proc.Cwd = "/"
	}
	proc.Root = "/"
	proc.cwdInode = t.vfs.Root()
	proc.rootInode = t.vfs.Root()

	var parent *Process
	if p.ParentPID != KernelPID {
		parent = t.procs[p.ParentPID]
		if parent != nil {
			proc.ParentPID = parent.PID
			proc.PGID = parent.PGID
			proc.SID = parent.SID
			proc.Cwd = parent.Cwd
			proc.Root = parent.Root
			proc.cwdInode = parent.cwdInode
			proc.rootInode = parent.rootInode
			proc.FDs = parent.FDs.Fork()
			proc.Creds = parent.Creds.Fork()
			parent.addChild(pid)
		}
	}

	t.procs[pid] = proc
	t.indexGroupLocked(proc.PGID, pid)
	t.indexSessionLocked(proc.SID, pid)

	return proc, nil
}

func (t *Table) indexGroupLocked(pgid, pid int) {
	if t.groups[pgid] == nil {
		t.groups[pgid] = make(map[int]struct{})
	}
	t.groups[pgid][pid] = struct{}{}
}

func (t *Table) indexSessionLocked(sid, pid int) {
	if t.sessions[sid] == nil {
		t.sessions[sid] = make(map[int]struct{})
	}
	t.sessions[sid][pid] = struct{}{}
}

// Get returns the process with the given PID.
func (t *Table) Get(pid int) (*Process, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.procs[pid]
	return p, ok
}

// List returns a snapshot of all processes, sorted by PID.
func (t *Table) List() []*Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// GroupMembers returns the PIDs in process group pgid.
func (t *Table) GroupMembers(pgid int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.groups[pgid]
	out := make([]int, 0, len(members))
	for pid := range members {
		out = append(out, pid)
	}
	return out
}

// Terminate transitions pid to Zombie: closes FDs, reparents children
// to init (or marks them orphaned if there is no init), and leaves the
// record for the parent to reap.
func (t *Table) Terminate(pid int, exitCode int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	proc, ok := t.procs[pid]
	if !ok {
		return kerr.New(kerr.NotFound, "terminate", "", "no such process")
	}
	proc.FDs.CloseAll()
	proc.exitCode = exitCode
	proc.SetState(Zombie)

	for _, childPID := range proc.Children() {
		child, ok := t.procs[childPID]
		if !ok {
			continue
		}
		if _, hasInit := t.procs[InitPID]; hasInit && InitPID != pid {
			child.ParentPID = InitPID
			t.procs[InitPID].addChild(childPID)
		} else {
			t.orphans[childPID] = struct{}{}
		}
		proc.removeChild(childPID)
	}

	if proc.ParentPID == KernelPID {
		t.orphans[pid] = struct{}{}
	}
	return nil
}

// Reap removes a Zombie whose parent has waited on it (or which was
// orphaned), releasing its PID back to the allocator and cleaning up
// group/session indexes.
func (t *Table) Reap(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reapLocked(pid)
}

func (t *Table) reapLocked(pid int) error {
	proc, ok := t.procs[pid]
	if !ok {
		return kerr.New(kerr.NotFound, "reap", "", "no such process")
	}
	if proc.getState() != Zombie {
		return kerr.New(kerr.InvalidArgument, "reap", "", "process is not a zombie")
	}
	delete(t.procs, pid)
	delete(t.orphans, pid)
	if group := t.groups[proc.PGID]; group != nil {
		delete(group, pid)
		if len(group) == 0 {
			delete(t.groups, proc.PGID)
		}
	}
	if sess := t.sessions[proc.SID]; sess != nil {
		delete(sess, pid)
		if len(sess) == 0 {
			delete(t.sessions, proc.SID)
		}
	}
	if parent, ok := t.procs[proc.ParentPID]; ok {
		parent.removeChild(pid)
	}
	return t.pids.Free(pid)
}

// WaitFor blocks (up to timeout, if positive) until pid is a Zombie,
// then reaps it and returns its exit code. A timeout <= 0 means
// "return immediately if not yet a zombie."
func (t *Table) WaitFor(pid int, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.RLock()
		proc, ok := t.procs[pid]
		t.mu.RUnlock()
		if !ok {
			return 0, kerr.New(kerr.NotFound, "wait_for", "", "no such process")
		}
		if proc.getState() == Zombie {
			code := proc.exitCode
			if err := t.Reap(pid); err != nil {
				return 0, err
			}
			return code, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return 0, kerr.New(kerr.Timeout, "wait_for", "", "")
		}
		time.Sleep(time.Millisecond)
	}
}

// ReapOrphans scans for orphaned zombies and reaps them; it is the
// background body of the periodic reaper task.
func (t *Table) ReapOrphans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	reaped := 0
	for pid := range t.orphans {
		proc, ok := t.procs[pid]
		if !ok {
			delete(t.orphans, pid)
			continue
		}
		if proc.getState() == Zombie {
			if err := t.reapLocked(pid); err == nil {
				reaped++
			}
		}
	}
	return reaped
}

// Count returns the number of live process records.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.procs)
}
