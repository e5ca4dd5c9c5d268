package fim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kos-sentry/kos/pkg/audit"
)

func newTestMonitor(t *testing.T, auditLog *audit.Log) *Monitor {
	t.Helper()
	m, err := New(Config{Algorithm: SHA256, MaxAlertHistory: 4}, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAddFileAndCheckNoChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := newTestMonitor(t, nil)
	if err := m.AddFile(path); err != nil {
		t.Fatal(err)
	}
	alerts, err := m.Check(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts for unchanged file, got %d", len(alerts))
	}
}

func TestCheckDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello"), 0o644)
	m := newTestMonitor(t, nil)
	m.AddFile(path)

	os.WriteFile(path, []byte("hello world, modified"), 0o644)
	alerts, err := m.Check(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected at least one alert for content change")
	}
	var sawHash bool
	for _, a := range alerts {
		if a.Field == "hash" {
			sawHash = true
		}
	}
	if !sawHash {
		t.Fatal("expected a hash-field alert among the deviations")
	}

	// The baseline should have rolled forward: re-checking the same
	// content must not re-alert.
	alerts2, err := m.Check(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts2) != 0 {
		t.Fatalf("expected no re-alert after baseline rolled forward, got %d", len(alerts2))
	}
}

func TestCheckMissingFileDisablesFurtherChecks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	m := newTestMonitor(t, nil)
	m.AddFile(path)
	os.Remove(path)

	alerts, err := m.Check(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Type != AlertMissing {
		t.Fatalf("expected a single missing alert, got %+v", alerts)
	}

	rec, _ := m.Record(path)
	if !rec.Disabled {
		t.Fatal("expected record to be disabled after missing alert")
	}

	alerts2, err := m.Check(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts2) != 0 {
		t.Fatal("expected no further checks once disabled")
	}
}

func TestIntegrityAlertForwardedToAuditChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello"), 0o644)

	auditDir := t.TempDir()
	auditLog, err := audit.New(audit.Config{
		LogPath:        filepath.Join(auditDir, "audit.log"),
		StructuredPath: filepath.Join(auditDir, "audit.json"),
	})
	if err != nil {
		t.Fatal(err)
	}

	m := newTestMonitor(t, auditLog)
	m.AddFile(path)
	os.WriteFile(path, []byte("changed"), 0o644)
	if _, err := m.Check(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	events := auditLog.Events()
	if len(events) == 0 {
		t.Fatal("expected at least one audit event forwarded")
	}
	for _, e := range events {
		if e.Category != audit.CategoryFileAccess {
			t.Fatalf("category = %q, want %q", e.Category, audit.CategoryFileAccess)
		}
		if e.Severity < 8 {
			t.Fatalf("severity = %d, want >= 8", e.Severity)
		}
		if e.Outcome != audit.OutcomeFailure {
			t.Fatalf("outcome = %q, want failure", e.Outcome)
		}
	}
}

func TestAddDirectoryRecursive(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	sub := filepath.Join(root, "sub")
	os.Mkdir(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "b.txt"), []byte("b"), 0o644)

	m := newTestMonitor(t, nil)
	if err := m.AddDirectory(context.Background(), root, true); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Record(filepath.Join(root, "a.txt")); !ok {
		t.Fatal("expected a.txt to be monitored")
	}
	if _, ok := m.Record(filepath.Join(sub, "b.txt")); !ok {
		t.Fatal("expected sub/b.txt to be monitored")
	}
}

func TestIgnorePatternsExcludeMatches(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "keep.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("b"), 0o644)

	m, err := New(Config{Algorithm: SHA256, IgnorePatterns: []string{`.*\.tmp`}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddDirectory(context.Background(), root, false); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Record(filepath.Join(root, "skip.tmp")); ok {
		t.Fatal("expected .tmp file to be ignored")
	}
	if _, ok := m.Record(filepath.Join(root, "keep.txt")); !ok {
		t.Fatal("expected keep.txt to be monitored")
	}
}

func TestSaveAndLoadBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello"), 0o644)

	baselinePath := filepath.Join(dir, "baseline.json")
	m := newTestMonitor(t, nil)
	m.cfg.BaselinePath = baselinePath
	m.AddFile(path)

	if err := m.SaveBaseline(); err != nil {
		t.Fatal(err)
	}

	m2, err := New(Config{Algorithm: SHA256, BaselinePath: baselinePath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.LoadBaseline(); err != nil {
		t.Fatal(err)
	}
	rec, ok := m2.Record(path)
	if !ok {
		t.Fatal("expected loaded baseline to contain the saved record")
	}
	if rec.Size != 5 {
		t.Fatalf("size = %d, want 5", rec.Size)
	}
}
