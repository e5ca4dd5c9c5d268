package vfs

import (
	"strings"
	"testing"

	"github.com/kos-sentry/kos/pkg/kerr"
)

func TestCreateReadDelete(t *testing.T) {
	v := New()
	if err := v.Mkdir("/a", 0o755, 0, 0); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := v.CreateFile("/a/b.txt", []byte("hello"), 0o644, 0, 0); err != nil {
		t.Fatalf("create_file: %v", err)
	}
	got, err := v.ReadFile("/a/b.txt", v.Root())
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("read_file = %q, want hello", got)
	}
	if err := v.Unlink("/a/b.txt", v.Root()); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, err := v.ReadFile("/a/b.txt", v.Root()); !kerr.Is(err, kerr.NotFound) {
		t.Fatalf("read_file after unlink = %v, want NotFound", err)
	}
	if err := v.Rmdir("/a", v.Root()); err != nil {
		t.Fatalf("rmdir: %v", err)
	}
}

func TestSymlinkTraversal(t *testing.T) {
	v := New()
	if err := v.CreateFile("/t", []byte("x"), 0o644, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.Symlink("/t", "/s", 0, 0); err != nil {
		t.Fatal(err)
	}
	got, err := v.ReadFile("/s", v.Root())
	if err != nil || string(got) != "x" {
		t.Fatalf("read_file(/s) = %q, %v; want x, nil", got, err)
	}
	if err := v.Symlink("/s", "/t2", 0, 0); err != nil {
		t.Fatal(err)
	}
	got, err = v.ReadFile("/t2", v.Root())
	if err != nil || string(got) != "x" {
		t.Fatalf("read_file(/t2) = %q, %v; want x, nil", got, err)
	}
}

func TestSymlinkLoop(t *testing.T) {
	v := New()
	if err := v.Symlink("/b", "/a", 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.Symlink("/a", "/b", 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := v.ReadFile("/a", v.Root()); !kerr.Is(err, kerr.Loop) {
		t.Fatalf("expected Loop, got %v", err)
	}
}

func TestPathTooLong(t *testing.T) {
	v := New()
	long := "/" + strings.Repeat("a", MaxPathLength+1)
	if _, err := v.Stat(long, v.Root()); !kerr.Is(err, kerr.NameTooLong) {
		t.Fatalf("expected NameTooLong, got %v", err)
	}
}

func TestMkdirIdempotentButNotOnFile(t *testing.T) {
	v := New()
	if err := v.Mkdir("/d", 0o755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.Mkdir("/d", 0o755, 0, 0); err != nil {
		t.Fatalf("mkdir on existing dir should be idempotent: %v", err)
	}
	if err := v.CreateFile("/f", nil, 0o644, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.Mkdir("/f", 0o755, 0, 0); !kerr.Is(err, kerr.AlreadyExists) {
		t.Fatalf("mkdir on existing file should fail AlreadyExists, got %v", err)
	}
}

func TestRmdirNotEmpty(t *testing.T) {
	v := New()
	if err := v.Makedirs("/a/b", 0o755, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := v.Rmdir("/a", v.Root()); !kerr.Is(err, kerr.NotEmpty) {
		t.Fatalf("expected NotEmpty, got %v", err)
	}
}

func TestCacheInvalidationOnWrite(t *testing.T) {
	v := New()
	if err := v.CreateFile("/f", []byte("a"), 0o644, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Stat("/f", v.Root()); err != nil {
		t.Fatal(err)
	}
	if v.cache.len() == 0 {
		t.Fatal("expected cache to be populated after stat")
	}
	if err := v.WriteFile("/f", []byte("bb"), v.Root()); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.cache.get("/f"); ok {
		t.Fatal("expected write to invalidate the cached /f entry")
	}
	got, err := v.ReadFile("/f", v.Root())
	if err != nil || string(got) != "bb" {
		t.Fatalf("read after write = %q, %v; want bb, nil", got, err)
	}
}

func TestMountUnmount(t *testing.T) {
	v := New()
	fst := stubFSType{name: "stub"}
	if err := v.Mount("/mnt", fst, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.mounts.lookup("/mnt"); !ok {
		t.Fatal("expected mount to be registered")
	}
	if err := v.Unmount("/mnt"); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.mounts.lookup("/mnt"); ok {
		t.Fatal("expected mount to be gone")
	}
	// unmount never destroys the underlying inode tree.
	if _, err := v.Stat("/mnt", v.Root()); err != nil {
		t.Fatalf("expected /mnt to still exist after unmount: %v", err)
	}
}

type stubFSType struct{ name string }

func (s stubFSType) Name() string { return s.name }
