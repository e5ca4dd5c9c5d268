package vfs

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// VFS is the root of the in-memory filesystem: one inode tree, one
// mount table, one bounded path cache. All mutating operations take
// v.mu (the "VFS root" lock, ahead of any per-inode lock in acquisition
// order); reads of the tree walk lock-free at the inode level via each
// Inode's own RWMutex, so a concurrent reader sees a consistent
// snapshot from before or after a write, never torn state.
type VFS struct {
	mu sync.Mutex

	root   *Inode
	nextIno uint64

	cache  *pathCache
	mounts *mountTable
}

// New constructs a VFS with a fresh root directory.
func New() *VFS {
	v := &VFS{
		cache:  newPathCache(DefaultCacheCapacity, DefaultCacheTTL),
		mounts: newMountTable(),
	}
	v.root = newInode(v.allocIno(), KindDirectory, 0, 0, 0o755)
	v.root.name = RootName
	return v
}

func (v *VFS) allocIno() uint64 {
	return atomic.AddUint64(&v.nextIno, 1)
}

// Root returns the root inode, for callers (e.g. process creation) that
// need a default cwd/root.
func (v *VFS) Root() *Inode { return v.root }

// Stat returns the inode at path, resolving symlinks.
func (v *VFS) Stat(path string, cwd *Inode) (*Inode, error) {
	return v.resolve(path, cwd)
}

// Lstat returns the inode at path without following a final symlink
// component.
func (v *VFS) Lstat(path string, cwd *Inode) (*Inode, error) {
	parent, base, err := v.resolveParent(path, cwd)
	if err != nil {
		return nil, err
	}
	child, ok := parent.lookupChild(base)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "lstat", path, "")
	}
	return child, nil
}

// Mkdir creates a directory at path with the given mode, owned by
// uid/gid. Idempotent when the target already exists as a directory;
// errors AlreadyExists when the target exists as a non-directory.
func (v *VFS) Mkdir(path string, mode uint32, uid, gid int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mkdirLocked(path, mode, uid, gid)
}

func (v *VFS) mkdirLocked(path string, mode uint32, uid, gid int) error {
	parent, base, err := v.resolveParent(path, v.root)
	if err != nil {
		return err
	}
	if existing, ok := parent.lookupChild(base); ok {
		if existing.IsDir() {
			return nil
		}
		return kerr.New(kerr.AlreadyExists, "mkdir", path, "exists and is not a directory")
	}
	child := newInode(v.allocIno(), KindDirectory, uid, gid, mode)
	parent.addChild(base, child)
	v.cache.invalidatePrefix(path)
	return nil
}

// Makedirs creates path and any missing ancestor directories.
func (v *VFS) Makedirs(path string, mode uint32, uid, gid int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.makedirsLocked(path, mode, uid, gid)
}

func (v *VFS) makedirsLocked(path string, mode uint32, uid, gid int) error {
	comps := splitPath(path)
	cur := "/"
	if len(comps) == 0 {
		return v.mkdirLocked("/", mode, uid, gid)
	}
	for _, c := range comps {
		if cur == "/" {
			cur = "/" + c
		} else {
			cur = cur + "/" + c
		}
		if err := v.mkdirLocked(cur, mode, uid, gid); err != nil {
			return err
		}
	}
	return nil
}

// CreateFile creates a regular file at path with the given content.
func (v *VFS) CreateFile(path string, content []byte, mode uint32, uid, gid int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, base, err := v.resolveParent(path, v.root)
	if err != nil {
		return err
	}
	if _, ok := parent.lookupChild(base); ok {
		return kerr.New(kerr.AlreadyExists, "create_file", path, "")
	}
	child := newInode(v.allocIno(), KindRegular, uid, gid, mode)
	child.content = append([]byte(nil), content...)
	parent.addChild(base, child)
	v.cache.invalidatePrefix(path)
	return nil
}

// Symlink creates a symlink at linkpath pointing at target.
func (v *VFS) Symlink(target, linkpath string, uid, gid int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, base, err := v.resolveParent(linkpath, v.root)
	if err != nil {
		return err
	}
	if _, ok := parent.lookupChild(base); ok {
		return kerr.New(kerr.AlreadyExists, "symlink", linkpath, "")
	}
	child := newInode(v.allocIno(), KindSymlink, uid, gid, 0o777)
	child.target = target
	parent.addChild(base, child)
	v.cache.invalidatePrefix(linkpath)
	return nil
}

// ReadFile resolves path and returns a copy of its content.
func (v *VFS) ReadFile(path string, cwd *Inode) ([]byte, error) {
	n, err := v.resolve(path, cwd)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, kerr.New(kerr.IsADirectory, "read_file", path, "")
	}
	return n.ReadAt(), nil
}

// WriteFile replaces the content of the file at path.
func (v *VFS) WriteFile(path string, content []byte, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.resolve(path, cwd)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return kerr.New(kerr.IsADirectory, "write_file", path, "")
	}
	n.Write(content)
	v.cache.invalidatePrefix(path)
	return nil
}

// Chmod updates the permission bits of the inode at path.
func (v *VFS) Chmod(path string, mode uint32, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.resolve(path, cwd)
	if err != nil {
		return err
	}
	n.SetMode(mode)
	return nil
}

// Chown updates the owner/group of the inode at path.
func (v *VFS) Chown(path string, uid, gid int, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.resolve(path, cwd)
	if err != nil {
		return err
	}
	n.SetOwner(uid, gid)
	return nil
}

// Unlink removes a non-directory child. The underlying inode is freed
// (becomes unreachable) once no directory entry refers to it; the core
// model has no hard links, so that happens on this single removal.
func (v *VFS) Unlink(path string, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, base, err := v.resolveParent(path, cwd)
	if err != nil {
		return err
	}
	child, ok := parent.lookupChild(base)
	if !ok {
		return kerr.New(kerr.NotFound, "unlink", path, "")
	}
	if child.IsDir() {
		return kerr.New(kerr.IsADirectory, "unlink", path, "")
	}
	parent.removeChild(base)
	v.cache.invalidatePrefix(path)
	return nil
}

// Rmdir removes an empty directory.
func (v *VFS) Rmdir(path string, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, base, err := v.resolveParent(path, cwd)
	if err != nil {
		return err
	}
	child, ok := parent.lookupChild(base)
	if !ok {
		return kerr.New(kerr.NotFound, "rmdir", path, "")
	}
	if !child.IsDir() {
		return kerr.New(kerr.NotADirectory, "rmdir", path, "")
	}
	if child.childCount() > 0 {
		return kerr.New(kerr.NotEmpty, "rmdir", path, "")
	}
	parent.removeChild(base)
	v.cache.invalidatePrefix(path)
	return nil
}

// Rename moves the inode at oldpath to newpath. The parent directories
// of both must exist; newpath's basename must not already exist.
func (v *VFS) Rename(oldpath, newpath string, cwd *Inode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	oldParent, oldBase, err := v.resolveParent(oldpath, cwd)
	if err != nil {
		return err
	}
	child, ok := oldParent.lookupChild(oldBase)
	if !ok {
		return kerr.New(kerr.NotFound, "rename", oldpath, "")
	}
	newParent, newBase, err := v.resolveParent(newpath, cwd)
	if err != nil {
		return err
	}
	if _, exists := newParent.lookupChild(newBase); exists {
		return kerr.New(kerr.AlreadyExists, "rename", newpath, "")
	}
	oldParent.removeChild(oldBase)
	newParent.addChild(newBase, child)
	v.cache.invalidatePrefix(oldpath)
	v.cache.invalidatePrefix(newpath)
	return nil
}

// ReadDir returns the directory entries at path as a name-sorted-free
// snapshot (callers that need stable order sort it themselves).
func (v *VFS) ReadDir(path string, cwd *Inode) (map[string]*Inode, error) {
	n, err := v.resolve(path, cwd)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, kerr.New(kerr.NotADirectory, "readdir", path, "")
	}
	return n.Entries(), nil
}

// Path reconstructs the absolute path of n by walking parent
// back-references to root. Used for display/audit purposes; never
// required for correctness of tree operations.
func (v *VFS) Path(n *Inode) string {
	if n == v.root {
		return "/"
	}
	var parts []string
	cur := n
	for {
		parent, name := cur.Parent()
		if parent == nil {
			break
		}
		parts = append([]string{name}, parts...)
		cur = parent
	}
	return "/" + strings.Join(parts, "/")
}
