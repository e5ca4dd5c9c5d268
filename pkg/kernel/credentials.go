package kernel

import (
	"github.com/mohae/deepcopy"
	"github.com/syndtr/gocapability/capability"
)

// Capabilities is a bounded bitmask over gocapability's named POSIX
// capability constants (CAP_CHOWN, CAP_KILL, ...), used in place of a
// bare uint64 so credentials print and compare by name.
type Capabilities struct {
	bits uint64
}

// Set adds cp to the set.
func (c *Capabilities) Set(cp capability.Cap) { c.bits |= 1 << uint(cp) }

// Clear removes cp from the set.
func (c *Capabilities) Clear(cp capability.Cap) { c.bits &^= 1 << uint(cp) }

// Has reports whether cp is in the set.
func (c Capabilities) Has(cp capability.Cap) bool { return c.bits&(1<<uint(cp)) != 0 }

// List returns the named capabilities currently set.
func (c Capabilities) List() []capability.Cap {
	var out []capability.Cap
	for _, cp := range capability.List() {
		if c.Has(cp) {
			out = append(out, cp)
		}
	}
	return out
}

// Credentials holds the real/effective/saved uid+gid, supplementary
// groups, and capability bitmask attached to a process.
type Credentials struct {
	UID, EUID, SUID int
	GID, EGID, SGID int
	Groups          []int
	Caps            Capabilities
}

// NewCredentials builds a Credentials with real==effective==saved.
func NewCredentials(uid, gid int, groups []int) *Credentials {
	g := append([]int(nil), groups...)
	return &Credentials{
		UID: uid, EUID: uid, SUID: uid,
		GID: gid, EGID: gid, SGID: gid,
		Groups: g,
	}
}

// Fork returns a deep copy of c, so a child process adopts the
// parent's credentials duplicated rather than shared, and never aliases
// the parent's mutable supplementary-groups slice. The groups slice is
// copied with deepcopy's reflection-based copy; the ids and the
// capability set are plain values copied with the struct.
func (c *Credentials) Fork() *Credentials {
	cp := *c
	cp.Groups = deepcopy.Copy(c.Groups).([]int)
	return &cp
}
