package fim

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mattbaird/jsonpatch"
	"golang.org/x/sync/errgroup"

	"github.com/kos-sentry/kos/pkg/audit"
	"github.com/kos-sentry/kos/pkg/kerr"
)

// Config controls the monitor's defaults and ignore rules.
type Config struct {
	Algorithm       string
	IgnorePatterns  []string
	MaxAlertHistory int
	BaselinePath    string
}

// Monitor is the FIM subsystem: a baseline of monitored File Records,
// checked against the live filesystem on demand, forwarding
// integrity-violation alerts into the audit chain.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	records  map[string]*Record
	ignore   []*regexp.Regexp
	auditLog   *audit.Log
	loop       *loopState
	serviceCfg ServiceConfig
}

// SetServiceConfig sets the pacing used by Start's background loop.
// Must be called before Start; a zero value falls back to the defaults
// StartLoop applies.
func (m *Monitor) SetServiceConfig(cfg ServiceConfig) {
	m.serviceCfg = cfg
}

// New constructs a Monitor. auditLog may be nil in tests that only
// exercise baseline/check behavior without persistence.
func New(cfg Config, auditLog *audit.Log) (*Monitor, error) {
	m := &Monitor{
		cfg:      cfg,
		records:  make(map[string]*Record),
		auditLog: auditLog,
	}
	for _, pat := range cfg.IgnorePatterns {
		// Patterns are anchored regular expressions already, so they
		// are compiled as given.
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, kerr.Wrap(kerr.InvalidArgument, "fim.New", pat, err)
		}
		m.ignore = append(m.ignore, re)
	}
	if cfg.Algorithm == "" {
		m.cfg.Algorithm = SHA256
	}
	return m, nil
}

func (m *Monitor) ignored(path string) bool {
	base := filepath.Base(path)
	for _, re := range m.ignore {
		if re.MatchString(base) || re.MatchString(path) {
			return true
		}
	}
	return false
}

// AddFile stats path, hashes its content under the configured
// algorithm, and stores the resulting Record as the baseline.
func (m *Monitor) AddFile(path string) error {
	rec, err := snapshot(path, m.cfg.Algorithm)
	if err != nil {
		return kerr.Wrap(kerr.NotFound, "fim.AddFile", path, err)
	}
	m.mu.Lock()
	m.records[path] = &rec
	m.mu.Unlock()
	return nil
}

// AddDirectory walks path, adding every non-ignored regular file found.
// When recursive, subdirectories are walked concurrently via an
// errgroup, mirroring the dependency-ordered concurrent startup used
// elsewhere in the module.
func (m *Monitor) AddDirectory(ctx context.Context, path string, recursive bool) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return kerr.Wrap(kerr.NotFound, "fim.AddDirectory", path, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		full := filepath.Join(path, entry.Name())
		if m.ignored(full) {
			continue
		}
		if entry.IsDir() {
			if recursive {
				g.Go(func() error {
					return m.AddDirectory(gctx, full, recursive)
				})
			}
			continue
		}
		g.Go(func() error {
			return m.AddFile(full)
		})
	}
	return g.Wait()
}

// Check recomputes path's live metadata/hash and compares it against
// the stored record. Every differing field emits an Alert, appended to
// the record's history; the record is then rolled forward to the new
// values so the same change never re-alerts. Integrity-violation
// alerts are forwarded to the audit chain with category=file_access,
// severity>=8, outcome=failure.
func (m *Monitor) Check(ctx context.Context, path string) ([]Alert, error) {
	m.mu.Lock()
	rec, ok := m.records[path]
	m.mu.Unlock()
	if !ok {
		return nil, kerr.New(kerr.NotFound, "fim.Check", path, "not a monitored file")
	}

	m.mu.Lock()
	disabled := rec.Disabled
	m.mu.Unlock()
	if disabled {
		return nil, nil
	}

	live, err := snapshot(path, rec.Algorithm)
	if err != nil {
		if os.IsNotExist(err) {
			return m.emitMissing(ctx, rec)
		}
		return m.emitHashError(ctx, rec, err)
	}

	var alerts []Alert
	now := time.Now().UTC()

	type fieldDiff struct {
		name        string
		before, after any
	}
	diffs := []fieldDiff{}
	if live.Size != rec.Size {
		diffs = append(diffs, fieldDiff{"size", rec.Size, live.Size})
	}
	if live.Mode != rec.Mode {
		diffs = append(diffs, fieldDiff{"mode", rec.Mode.String(), live.Mode.String()})
	}
	if !live.ModTime.Equal(rec.ModTime) {
		diffs = append(diffs, fieldDiff{"mtime", rec.ModTime, live.ModTime})
	}
	if live.Owner != rec.Owner {
		diffs = append(diffs, fieldDiff{"owner", rec.Owner, live.Owner})
	}
	if live.Group != rec.Group {
		diffs = append(diffs, fieldDiff{"group", rec.Group, live.Group})
	}
	if live.Hash != rec.Hash {
		diffs = append(diffs, fieldDiff{"hash", rec.Hash, live.Hash})
	}

	if len(diffs) > 0 {
		patch, _ := recordPatch(*rec, live)
		for _, d := range diffs {
			alert := Alert{
				Path:      path,
				Type:      AlertModified,
				Field:     d.name,
				Old:       d.before,
				New:       d.after,
				Patch:     patch,
				Timestamp: now,
			}
			alerts = append(alerts, alert)
			m.forwardToAudit(ctx, alert)
		}
	}

	m.mu.Lock()
	live.Alerts = appendBounded(rec.Alerts, alerts, m.cfg.MaxAlertHistory)
	*rec = live
	rec.LastChecked = now
	m.mu.Unlock()

	return alerts, nil
}

func appendBounded(existing, fresh []Alert, max int) []Alert {
	out := append(existing, fresh...)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// recordPatch computes a JSON patch between the old and new record
// snapshots, carried in the Alert's Patch field.
func recordPatch(before, after Record) ([]byte, error) {
	oldJSON, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	newJSON, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	ops, err := jsonpatch.CreatePatch(oldJSON, newJSON)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ops)
}

// CheckAll checks every monitored file and returns the union of every
// alert emitted.
func (m *Monitor) CheckAll(ctx context.Context) ([]Alert, error) {
	m.mu.Lock()
	paths := make([]string, 0, len(m.records))
	for p := range m.records {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	var all []Alert
	for _, p := range paths {
		alerts, err := m.Check(ctx, p)
		if err != nil {
			return all, err
		}
		all = append(all, alerts...)
	}
	return all, nil
}

func (m *Monitor) emitMissing(ctx context.Context, rec *Record) ([]Alert, error) {
	m.mu.Lock()
	rec.Disabled = true
	m.mu.Unlock()
	alert := Alert{Path: rec.Path, Type: AlertMissing, Timestamp: time.Now().UTC()}
	m.forwardToAudit(ctx, alert)
	return []Alert{alert}, nil
}

func (m *Monitor) emitHashError(ctx context.Context, rec *Record, cause error) ([]Alert, error) {
	alert := Alert{
		Path:      rec.Path,
		Type:      AlertHashError,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{"error": cause.Error()},
	}
	m.forwardToAudit(ctx, alert)
	return []Alert{alert}, kerr.Wrap(kerr.HashMismatch, "fim.Check", rec.Path, cause)
}

func (m *Monitor) forwardToAudit(ctx context.Context, a Alert) {
	if m.auditLog == nil {
		return
	}
	details := map[string]any{"alert_type": a.Type}
	if a.Field != "" {
		details["field"] = a.Field
		details["old"] = a.Old
		details["new"] = a.New
	}
	for k, v := range a.Details {
		details[k] = v
	}
	m.auditLog.Append(ctx, audit.CategoryFileAccess, "fim_"+a.Type, "system", a.Path, details, 8, audit.OutcomeFailure)
}

// Record returns a copy of the stored baseline for path, if monitored.
func (m *Monitor) Record(path string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[path]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
