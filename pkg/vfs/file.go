package vfs

import (
	"sync"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// Open flags (bitset).
const (
	ORDONLY  = 0
	OWRONLY  = 1
	ORDWR    = 2
	OCREAT   = 0o100
	OEXCL    = 0o200
	OTRUNC   = 0o1000
	OAPPEND  = 0o2000
	ONONBLOCK = 0o4000
	ODIRECTORY = 0o200000
)

// Whence values for Lseek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// File is an open-file description: an inode handle plus a seek
// cursor. FDs are owned exclusively by a process record, but a File
// itself may be shared by more than one FD (dup-style duplication
// shares the cursor), so it carries its own refcount.
type File struct {
	mu     sync.Mutex
	inode  *Inode
	flags  int
	offset int64
	refs   int
}

// OpenFile constructs a new open-file description over inode.
func OpenFile(inode *Inode, flags int) *File {
	return &File{inode: inode, flags: flags, refs: 1}
}

// Ref increments the reference count (used by dup).
func (f *File) Ref() *File {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

// Unref decrements the reference count; returns true if it reached zero.
func (f *File) Unref() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	return f.refs <= 0
}

// Inode returns the underlying inode.
func (f *File) Inode() *Inode { return f.inode }

// Read copies up to n bytes starting at the current cursor, advancing
// it, and returns what was read.
func (f *File) Read(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags&0o3 == OWRONLY {
		return nil, kerr.New(kerr.BadDescriptor, "read", "", "file not open for reading")
	}
	content := f.inode.ReadAt()
	if f.offset >= int64(len(content)) {
		return nil, nil
	}
	end := f.offset + int64(n)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	out := append([]byte(nil), content[f.offset:end]...)
	f.offset = end
	return out, nil
}

// Write writes data at the current cursor (or at EOF if opened with
// OAPPEND), overwriting any bytes already there and zero-filling a gap
// past EOF, advances the cursor, and returns the number of bytes
// written.
func (f *File) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags&0o3 == ORDONLY {
		return 0, kerr.New(kerr.BadDescriptor, "write", "", "file not open for writing")
	}
	content := f.inode.ReadAt()
	pos := f.offset
	if f.flags&OAPPEND != 0 {
		pos = int64(len(content))
	}
	if pos > int64(len(content)) {
		padded := make([]byte, pos)
		copy(padded, content)
		content = padded
	}
	merged := append(content[:pos:pos], data...)
	if int(pos)+len(data) < len(content) {
		merged = append(merged, content[int(pos)+len(data):]...)
	}
	f.inode.Write(merged)
	f.offset = pos + int64(len(data))
	return len(data), nil
}

// Lseek repositions the cursor per whence and returns the new offset.
func (f *File) Lseek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.offset
	case SeekEnd:
		base = int64(len(f.inode.ReadAt()))
	default:
		return 0, kerr.New(kerr.InvalidArgument, "lseek", "", "bad whence")
	}
	newOffset := base + offset
	if newOffset < 0 {
		return 0, kerr.New(kerr.InvalidArgument, "lseek", "", "negative offset")
	}
	f.offset = newOffset
	return newOffset, nil
}
