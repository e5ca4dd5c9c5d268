//go:build unix

package fim

import (
	"os"
	"syscall"
)

// ownerGroup extracts the owning uid/gid from a *syscall.Stat_t, the
// same platform-specific stat attribute gvisor's fsimpl layer reads off
// host files when bridging into its in-kernel inode cache.
func ownerGroup(info os.FileInfo) (uid, gid uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return st.Uid, st.Gid
}
