// Package vfs implements the in-memory virtual filesystem: an inode
// tree with path resolution, symlink following, mount points, and a
// bounded path-resolution cache. It is the generalization of gvisor's
// kernfs to a single, self-contained in-memory tree — the core owns the
// whole namespace rather than delegating storage to a host filesystem.
package vfs

import (
	"sync"
	"time"
)

// Kind is the type of object an Inode represents.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindCharDevice
	KindBlockDevice
	KindFIFO
	KindSocket
)

// Mode bits, matching standard Unix octal conventions.
const (
	ModePerm    = 0o0777
	ModeSticky  = 0o1000
	ModeSetgid  = 0o2000
	ModeSetuid  = 0o4000
	ModeIFIFO   = 0o010000
	ModeIFCHR   = 0o020000
	ModeIFDIR   = 0o040000
	ModeIFBLK   = 0o060000
	ModeIFREG   = 0o100000
	ModeIFLNK   = 0o120000
	ModeIFSOCK  = 0o140000
	ModeTypeMask = 0o170000
)

// RootName is the reserved name of the root inode.
const RootName = "/"

// Inode is a single filesystem object. Identity is Ino, which is
// monotonically increasing and never reused within a VFS instance.
//
// The children map, byte content, and symlink target are mutually
// exclusive per Kind, enforced by the accessors below rather than by
// exposing the fields directly.
type Inode struct {
	mu sync.RWMutex

	Ino  uint64
	kind Kind
	mode uint32 // permission bits only; type bits are derived from kind
	uid  int
	gid  int

	atime time.Time
	mtime time.Time
	ctime time.Time

	// content holds bytes for KindRegular.
	content []byte

	// children maps basename to child Inode for KindDirectory. Insertion
	// order is immaterial; uniqueness is by name.
	children map[string]*Inode

	// parent is a weak back-reference used only for lookup (e.g. "..",
	// cache invalidation by prefix), never for ownership: the parent's
	// children map is what keeps a non-root inode alive in the tree.
	parent *Inode
	name   string // this inode's name in parent.children

	// target holds the symlink destination for KindSymlink.
	target string
}

// newInode allocates a bare inode of the given kind with the given
// owner/mode, stamping all three timestamps to now.
func newInode(ino uint64, kind Kind, uid, gid int, mode uint32) *Inode {
	now := time.Now()
	n := &Inode{
		Ino:   ino,
		kind:  kind,
		mode:  mode &^ ModeTypeMask & ModePerm | (mode & (ModeSticky | ModeSetgid | ModeSetuid)),
		uid:   uid,
		gid:   gid,
		atime: now,
		mtime: now,
		ctime: now,
	}
	if kind == KindDirectory {
		n.children = make(map[string]*Inode)
	}
	return n
}

// Kind returns the inode's kind.
func (n *Inode) Kind() Kind {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind
}

// IsDir reports whether n is a directory.
func (n *Inode) IsDir() bool { return n.Kind() == KindDirectory }

// IsSymlink reports whether n is a symlink.
func (n *Inode) IsSymlink() bool { return n.Kind() == KindSymlink }

// Mode returns the full mode word: type bits (per Kind) plus permission
// bits, in the familiar S_IFREG/S_IFDIR/... encoding.
func (n *Inode) Mode() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.typeBitsLocked() | n.mode
}

func (n *Inode) typeBitsLocked() uint32 {
	switch n.kind {
	case KindDirectory:
		return ModeIFDIR
	case KindSymlink:
		return ModeIFLNK
	case KindCharDevice:
		return ModeIFCHR
	case KindBlockDevice:
		return ModeIFBLK
	case KindFIFO:
		return ModeIFIFO
	case KindSocket:
		return ModeIFSOCK
	default:
		return ModeIFREG
	}
}

// Perm returns only the permission bits (no type bits).
func (n *Inode) Perm() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.mode & ModePerm
}

// SetMode sets the permission bits (chmod) and bumps ctime.
func (n *Inode) SetMode(mode uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode & (ModePerm | ModeSticky | ModeSetgid | ModeSetuid)
	n.ctime = time.Now()
}

// Owner returns (uid, gid).
func (n *Inode) Owner() (int, int) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.uid, n.gid
}

// SetOwner sets (uid, gid) (chown) and bumps ctime.
func (n *Inode) SetOwner(uid, gid int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uid, n.gid = uid, gid
	n.ctime = time.Now()
}

// Size returns the byte length of regular-file content, or the number
// of directory entries for directories (a conventional approximation;
// it does not affect semantics).
func (n *Inode) Size() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch n.kind {
	case KindRegular:
		return int64(len(n.content))
	case KindDirectory:
		return int64(len(n.children))
	default:
		return 0
	}
}

// Times returns (atime, mtime, ctime).
func (n *Inode) Times() (time.Time, time.Time, time.Time) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.atime, n.mtime, n.ctime
}

func (n *Inode) touchAccess() {
	n.mu.Lock()
	n.atime = time.Now()
	n.mu.Unlock()
}

// ReadAt returns a copy of n's content (regular files only).
func (n *Inode) ReadAt() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]byte, len(n.content))
	copy(out, n.content)
	return out
}

// Write replaces n's content wholesale and updates size/mtime.
func (n *Inode) Write(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.content = append([]byte(nil), data...)
	now := time.Now()
	n.mtime = now
	n.ctime = now
}

// Target returns the symlink target (symlinks only).
func (n *Inode) Target() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.target
}

// lookupChild returns the named child of a directory inode, if present.
func (n *Inode) lookupChild(name string) (*Inode, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.children[name]
	return c, ok
}

// addChild inserts child under name, bumping n's mtime/ctime. Caller
// must already have verified name does not exist (or intends to
// overwrite, which callers never do in this model).
func (n *Inode) addChild(name string, child *Inode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children[name] = child
	now := time.Now()
	n.mtime, n.ctime = now, now
	child.parent = n
	child.name = name
}

// removeChild deletes the named entry, bumping mtime/ctime. Returns the
// removed inode, if any.
func (n *Inode) removeChild(name string) *Inode {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.children[name]
	if !ok {
		return nil
	}
	delete(n.children, name)
	now := time.Now()
	n.mtime, n.ctime = now, now
	return c
}

// childCount returns the number of directory entries.
func (n *Inode) childCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

// Entries returns a snapshot of (name, inode) pairs for a directory.
func (n *Inode) Entries() map[string]*Inode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]*Inode, len(n.children))
	for k, v := range n.children {
		out[k] = v
	}
	return out
}

// Parent returns the weak parent back-reference and this inode's name
// within it. Used only for lookup (dirname resolution, cache
// invalidation), never for ownership traversal that could outlive an
// unlink.
func (n *Inode) Parent() (*Inode, string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent, n.name
}
