package vfs

import (
	"sync"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// FilesystemType is the capability interface a mountable filesystem
// implementation satisfies. The core treats it as an external
// collaborator: mount/unmount here only manages the advisory lookup
// table; device-backed semantics are delegated to the type itself,
// expressed as an explicit interface rather than duck-typing.
type FilesystemType interface {
	Name() string
}

// Mount is a (mountpoint path, filesystem-handle, options) triple.
type Mount struct {
	Path    string
	FSType  FilesystemType
	Options map[string]string
}

// mountTable tracks at most one mount per path. Mount existence is
// orthogonal to the inode graph:
// unmounting never destroys the underlying inode subtree.
type mountTable struct {
	mu     sync.RWMutex
	byPath map[string]*Mount
}

func newMountTable() *mountTable {
	return &mountTable{byPath: make(map[string]*Mount)}
}

func (m *mountTable) mount(path string, fsType FilesystemType, options map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byPath[path]; exists {
		return kerr.New(kerr.AlreadyExists, "mount", path, "a filesystem is already mounted here")
	}
	m.byPath[path] = &Mount{Path: path, FSType: fsType, Options: options}
	return nil
}

func (m *mountTable) unmount(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byPath[path]; !exists {
		return kerr.New(kerr.NotFound, "unmount", path, "nothing mounted here")
	}
	delete(m.byPath, path)
	return nil
}

func (m *mountTable) lookup(path string) (*Mount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mnt, ok := m.byPath[path]
	return mnt, ok
}

func (m *mountTable) list() []*Mount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Mount, 0, len(m.byPath))
	for _, mnt := range m.byPath {
		out = append(out, mnt)
	}
	return out
}

// Mount attaches fsType at path with options, creating path as a
// directory first if it does not already exist.
func (v *VFS) Mount(path string, fsType FilesystemType, options map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.resolve(path, v.root); err != nil {
		if !kerr.Is(err, kerr.NotFound) {
			return err
		}
		if err := v.makedirsLocked(path, 0o755, 0, 0); err != nil {
			return err
		}
	}
	return v.mounts.mount(path, fsType, options)
}

// Unmount detaches whatever is mounted at path.
func (v *VFS) Unmount(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounts.unmount(path)
}

// Mounts returns a snapshot of the mount table.
func (v *VFS) Mounts() []*Mount {
	return v.mounts.list()
}
