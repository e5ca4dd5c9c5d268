package vfs

import (
	"strings"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// MaxSymlinkDepth bounds recursive symlink following: resolution fails
// with Loop beyond 40 hops.
const MaxSymlinkDepth = 40

// MaxPathLength bounds a path string.
const MaxPathLength = 4096

// splitPath lexically normalizes path, eliminating "." and ".." segments
// without consulting the filesystem, and returns the remaining
// components. It does not resolve symlinks; that happens component by
// component during the walk.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	var out []string
	for _, c := range raw {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// splitParentBase splits path into its parent directory path and final
// component, both lexically normalized.
func splitParentBase(path string) (parent string, base string) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return "/", ""
	}
	base = comps[len(comps)-1]
	if len(comps) == 1 {
		if strings.HasPrefix(path, "/") {
			return "/", base
		}
		return "", base
	}
	rest := comps[:len(comps)-1]
	p := "/" + strings.Join(rest, "/")
	if !strings.HasPrefix(path, "/") {
		p = strings.Join(rest, "/")
	}
	return p, base
}

// resolveResult is the outcome of a successful path walk.
type resolveResult struct {
	inode *Inode
}

// resolve walks path to its target inode, starting at v.root if path is
// absolute or cwd otherwise: cache lookup, lexical normalization,
// component walk, symlink following with depth tracking, and result
// caching.
//
// Concurrent resolutions of the same cold path are coalesced through
// the cache's singleflight group so a burst of lookups against an
// uncached path performs one walk, not N.
func (v *VFS) resolve(path string, cwd *Inode) (*Inode, error) {
	if cached, ok := v.cache.get(path); ok {
		return cached, nil
	}
	result, err, _ := v.cache.group.Do(path, func() (any, error) {
		return v.resolveDepth(path, cwd, 0)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Inode), nil
}

func (v *VFS) resolveDepth(path string, cwd *Inode, depth int) (*Inode, error) {
	if len(path) > MaxPathLength {
		return nil, kerr.New(kerr.NameTooLong, "resolve", path, "")
	}
	if depth > MaxSymlinkDepth {
		return nil, kerr.New(kerr.Loop, "resolve", path, "")
	}

	if cached, ok := v.cache.get(path); ok {
		return cached, nil
	}

	start := cwd
	if strings.HasPrefix(path, "/") || cwd == nil {
		start = v.root
	}

	cur := start
	comps := splitPath(path)
	for i, c := range comps {
		cur.touchAccess()
		if !cur.IsDir() {
			return nil, kerr.New(kerr.NotADirectory, "resolve", path, "")
		}
		child, ok := cur.lookupChild(c)
		if !ok {
			return nil, kerr.New(kerr.NotFound, "resolve", path, "")
		}
		if child.IsSymlink() {
			target := child.Target()
			var base *Inode
			if strings.HasPrefix(target, "/") {
				base = v.root
			} else {
				base, _ = child.Parent()
				if base == nil {
					base = v.root
				}
			}
			resolved, err := v.resolveDepth(target, base, depth+1)
			if err != nil {
				return nil, err
			}
			child = resolved
		}
		cur = child
		_ = i
	}

	v.cache.put(path, cur)
	return cur, nil
}

// resolveParent resolves path's parent directory, requiring it to exist
// and be a directory, and returns (parentInode, basename).
func (v *VFS) resolveParent(path string, cwd *Inode) (*Inode, string, error) {
	parentPath, base := splitParentBase(path)
	if base == "" {
		return nil, "", kerr.New(kerr.InvalidArgument, "resolveParent", path, "empty basename")
	}
	parent, err := v.resolve(parentPath, cwd)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", kerr.New(kerr.NotADirectory, "resolveParent", path, "")
	}
	return parent, base, nil
}
