package kernel

import (
	"sort"
	"sync"

	"github.com/kos-sentry/kos/pkg/kerr"
	"github.com/kos-sentry/kos/pkg/vfs"
)

// FDTable maps file-descriptor numbers to open-file handles for one
// process. FDs are owned exclusively by the process record; a new FD
// takes the smallest free non-negative integer unless a specific number
// is requested.
type FDTable struct {
	mu    sync.Mutex
	files map[int]*vfs.File
}

// NewFDTable constructs an empty table.
func NewFDTable() *FDTable {
	return &FDTable{files: make(map[int]*vfs.File)}
}

// Install assigns the smallest free fd >= 0 to f and returns it.
func (t *FDTable) Install(f *vfs.File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := 0
	for {
		if _, busy := t.files[fd]; !busy {
			break
		}
		fd++
	}
	t.files[fd] = f
	return fd
}

// InstallAt assigns f to the specific fd, failing if fd is already in
// use.
func (t *FDTable) InstallAt(fd int, f *vfs.File) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.files[fd]; busy {
		return kerr.New(kerr.InvalidArgument, "install_at", "", "fd already in use")
	}
	t.files[fd] = f
	return nil
}

// Get returns the file installed at fd.
func (t *FDTable) Get(fd int) (*vfs.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, kerr.New(kerr.BadDescriptor, "fd", "", "no such descriptor")
	}
	return f, nil
}

// Close removes fd, unreferencing its File.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return kerr.New(kerr.BadDescriptor, "close", "", "no such descriptor")
	}
	delete(t.files, fd)
	f.Unref()
	return nil
}

// Dup installs a new fd (smallest free) sharing oldFd's underlying
// File — and therefore its seek cursor.
func (t *FDTable) Dup(oldFd int) (int, error) {
	t.mu.Lock()
	f, ok := t.files[oldFd]
	t.mu.Unlock()
	if !ok {
		return 0, kerr.New(kerr.BadDescriptor, "dup", "", "no such descriptor")
	}
	return t.Install(f.Ref()), nil
}

// CloseAll closes every installed fd, used on process termination.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, f := range t.files {
		f.Unref()
		delete(t.files, fd)
	}
}

// Fork returns a new FDTable whose entries point at the same Files as
// t's (ref-counted), for inheriting FDs across fork — duplicated
// table, shared underlying files, matching how cwd/root/umask/FDs are
// inherited elsewhere at fork time.
func (t *FDTable) Fork() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewFDTable()
	for fd, f := range t.files {
		nt.files[fd] = f.Ref()
	}
	return nt
}

// List returns the currently installed fd numbers, sorted.
func (t *FDTable) List() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.files))
	for fd := range t.files {
		out = append(out, fd)
	}
	sort.Ints(out)
	return out
}
