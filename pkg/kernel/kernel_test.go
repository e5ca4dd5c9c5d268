package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/kos-sentry/kos/pkg/kerr"
	"github.com/kos-sentry/kos/pkg/vfs"
)

func TestPIDRecycle(t *testing.T) {
	a := NewPIDAllocator(10)
	var pids []int
	for i := 0; i < 5; i++ {
		pid, err := a.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		pids = append(pids, pid)
	}
	if got := pids; !(got[0] == 1 && got[4] == 5) {
		t.Fatalf("expected pids 1..5, got %v", got)
	}
	if err := a.Free(3); err != nil {
		t.Fatal(err)
	}
	next, err := a.Alloc()
	if err != nil || next != 3 {
		t.Fatalf("expected recycled pid 3, got %d, %v", next, err)
	}
	next2, err := a.Alloc()
	if err != nil || next2 != 6 {
		t.Fatalf("expected pid 6, got %d, %v", next2, err)
	}
}

func TestPIDExhaustion(t *testing.T) {
	a := NewPIDAllocator(3) // pids 1..3, plus reserved 0
	for i := 0; i < 3; i++ {
		if _, err := a.Alloc(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.Alloc(); !kerr.Is(err, kerr.ResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if err := a.Free(2); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("expected an allocation to succeed after freeing one: %v", err)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := NewPIDAllocator(100)
	before := a.Count()
	for i := 0; i < 20; i++ {
		pid, err := a.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Free(pid); err != nil {
			t.Fatal(err)
		}
	}
	if a.Count() != before {
		t.Fatalf("in-use count changed: before=%d after=%d", before, a.Count())
	}
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	return NewTable(vfs.New(), 1<<16, 1024)
}

func TestCreateDestroyReap(t *testing.T) {
	table := newTestTable(t)
	init, err := table.Create(CreateParams{Name: "init", Executable: "/sbin/init"})
	if err != nil {
		t.Fatal(err)
	}
	if init.PID != InitPID {
		t.Fatalf("expected first process to be PID %d, got %d", InitPID, init.PID)
	}

	child, err := table.Create(CreateParams{Name: "child", ParentPID: init.PID})
	if err != nil {
		t.Fatal(err)
	}
	if child.ParentPID != init.PID {
		t.Fatalf("expected child's parent to be init, got %d", child.ParentPID)
	}

	if err := table.Terminate(child.PID, 7); err != nil {
		t.Fatal(err)
	}
	code, err := table.WaitFor(child.PID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
	if _, ok := table.Get(child.PID); ok {
		t.Fatal("expected child to be reaped")
	}
}

func TestOrphanReparenting(t *testing.T) {
	table := newTestTable(t)
	init, _ := table.Create(CreateParams{Name: "init"})
	parent, _ := table.Create(CreateParams{Name: "parent", ParentPID: init.PID})
	child, _ := table.Create(CreateParams{Name: "child", ParentPID: parent.PID})

	if err := table.Terminate(parent.PID, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := table.WaitFor(parent.PID, time.Second); err != nil {
		t.Fatal(err)
	}

	got, ok := table.Get(child.PID)
	if !ok {
		t.Fatal("child should still exist")
	}
	if got.ParentPID != init.PID {
		t.Fatalf("expected child reparented to init, got parent %d", got.ParentPID)
	}
}

func TestSignalSIGKILL(t *testing.T) {
	table := newTestTable(t)
	p, _ := table.Create(CreateParams{Name: "p"})
	if ok := table.SendSignal(p.PID, SIGKILL, nil); !ok {
		t.Fatal("expected signal delivery to succeed")
	}
	if p.getState() != Zombie {
		t.Fatalf("expected Zombie after SIGKILL, got %v", p.State)
	}
}

func TestSignalToMissingPID(t *testing.T) {
	table := newTestTable(t)
	if ok := table.SendSignal(999, SIGTERM, nil); ok {
		t.Fatal("expected false for signal to nonexistent pid")
	}
}

func TestKillProcessGroup(t *testing.T) {
	table := newTestTable(t)
	init, _ := table.Create(CreateParams{Name: "init"})
	a, _ := table.Create(CreateParams{Name: "a", ParentPID: init.PID})
	b, _ := table.Create(CreateParams{Name: "b", ParentPID: init.PID})
	b.PGID = a.PGID // force into the same group
	table.mu.Lock()
	table.indexGroupLocked(a.PGID, b.PID)
	table.mu.Unlock()

	table.KillProcessGroup(a.PGID, SIGSTOP)
	if a.getState() != Stopped || b.getState() != Stopped {
		t.Fatalf("expected both group members stopped, got a=%v b=%v", a.State, b.State)
	}
}

func TestServiceGraphCycle(t *testing.T) {
	g := NewServiceGraph()
	g.Add(stubService{"a"}, "b")
	g.Add(stubService{"b"}, "a")
	if _, err := g.levels(); !kerr.Is(err, kerr.CircularDependency) {
		t.Fatalf("expected CircularDependency, got %v", err)
	}
}

type stubService struct{ name string }

func (s stubService) Name() string                      { return s.name }
func (s stubService) Start(ctx context.Context) error   { return nil }
func (s stubService) Stop(ctx context.Context) error    { return nil }
