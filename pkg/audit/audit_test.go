package audit

import (
	"path/filepath"
	"testing"

	"github.com/kos-sentry/kos/pkg/kctx"
)

func newTestLog(t *testing.T) (*Log, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		LogPath:        filepath.Join(dir, "audit.log"),
		StructuredPath: filepath.Join(dir, "audit.json"),
		MaxLogBytes:    1 << 20,
		MaxRotatedLogs: 3,
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return l, cfg
}

func TestAppendChainsHashes(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := kctx.Background()

	e1, err := l.Append(ctx, "process", "create", "root", "kernel", nil, 3, OutcomeSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevHash != "" {
		t.Fatalf("first event should have empty prev_hash, got %q", e1.PrevHash)
	}

	e2, err := l.Append(ctx, "process", "terminate", "root", "kernel", map[string]any{"pid": 7}, 3, OutcomeSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if e2.PrevHash != e1.Hash {
		t.Fatalf("second event prev_hash = %q, want %q", e2.PrevHash, e1.Hash)
	}

	ok, idx, reason := l.VerifyIntegrity()
	if !ok {
		t.Fatalf("expected chain to verify, failed at %d: %s", idx, reason)
	}
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := kctx.Background()
	l.Append(ctx, "file_access", "read", "root", "vfs", nil, 2, OutcomeSuccess)
	l.Append(ctx, "file_access", "write", "root", "vfs", nil, 2, OutcomeSuccess)

	l.mu.Lock()
	h := l.events[0].Hash
	last := "0"
	if h[len(h)-1] == '0' {
		last = "1"
	}
	l.events[0].Hash = h[:len(h)-1] + last
	l.mu.Unlock()

	ok, idx, reason := l.VerifyIntegrity()
	if ok {
		t.Fatal("expected tampered chain to fail verification")
	}
	if idx != 0 {
		t.Fatalf("expected failure at index 0, got %d (%s)", idx, reason)
	}
}

func TestSubscribeFiltersBySeverity(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := kctx.Background()

	ch, cancel := l.Subscribe(8)
	defer cancel()

	l.Append(ctx, "file_access", "check", "root", "fim", nil, 3, OutcomeSuccess)
	select {
	case e := <-ch:
		t.Fatalf("low-severity event should not have been delivered: %+v", e)
	default:
	}

	l.Append(ctx, "file_access", "alert", "root", "fim", nil, 9, OutcomeFailure)
	select {
	case e := <-ch:
		if e.Severity != 9 {
			t.Fatalf("severity = %d, want 9", e.Severity)
		}
	default:
		t.Fatal("expected high-severity event to be delivered")
	}
}

func TestReloadsExistingStructuredFile(t *testing.T) {
	l, cfg := newTestLog(t)
	ctx := kctx.Background()
	last, _ := l.Append(ctx, "process", "create", "root", "kernel", nil, 1, OutcomeSuccess)

	reopened, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.Events()) != 1 {
		t.Fatalf("expected 1 event reloaded, got %d", len(reopened.Events()))
	}

	next, err := reopened.Append(ctx, "process", "terminate", "root", "kernel", nil, 1, OutcomeSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if next.PrevHash != last.Hash {
		t.Fatalf("reloaded log did not chain off the prior event: got prev=%q want %q", next.PrevHash, last.Hash)
	}
}
