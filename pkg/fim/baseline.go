package fim

import (
	"encoding/json"
	"os"

	"github.com/kos-sentry/kos/pkg/kerr"
)

// SaveBaseline persists every monitored record to cfg.BaselinePath as
// JSON, so a restart doesn't require re-hashing untouched files.
func (m *Monitor) SaveBaseline() error {
	if m.cfg.BaselinePath == "" {
		return kerr.New(kerr.InvalidArgument, "fim.SaveBaseline", "", "no baseline path configured")
	}
	m.mu.Lock()
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.cfg.BaselinePath, data, 0o644)
}

// LoadBaseline replaces the in-memory baseline with the contents of
// cfg.BaselinePath. Existing Check/Alert semantics are unaffected: a
// loaded record behaves exactly as one populated by AddFile.
func (m *Monitor) LoadBaseline() error {
	if m.cfg.BaselinePath == "" {
		return kerr.New(kerr.InvalidArgument, "fim.LoadBaseline", "", "no baseline path configured")
	}
	data, err := os.ReadFile(m.cfg.BaselinePath)
	if err != nil {
		return err
	}
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return kerr.Wrap(kerr.InvalidArgument, "fim.LoadBaseline", m.cfg.BaselinePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*Record, len(records))
	for _, r := range records {
		m.records[r.Path] = r
	}
	return nil
}
