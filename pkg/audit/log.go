package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"

	"github.com/kos-sentry/kos/pkg/kctx"
	"github.com/kos-sentry/kos/pkg/kerr"
)

// Config controls the audit log's persistence behavior.
type Config struct {
	LogPath          string
	StructuredPath   string
	MaxLogBytes      int64
	MaxRotatedLogs   int
	SynchronousFlush bool
}

// Log is the audit chain: an append-only, hash-linked sequence of
// events, durably mirrored to a human-readable text log and a
// canonical-JSON structured file. Appends linearize under mu.
type Log struct {
	mu sync.Mutex

	cfg Config

	events   []Event
	lastHash string

	subs []subscriber
}

type subscriber struct {
	minSeverity int
	ch          chan Event
}

// New constructs a Log against the given persistence configuration. If
// the structured file already exists it is loaded so a restart resumes
// the chain rather than starting a new one.
func New(cfg Config) (*Log, error) {
	l := &Log{cfg: cfg}
	if cfg.StructuredPath != "" {
		if err := l.loadStructured(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) loadStructured() error {
	data, err := os.ReadFile(l.cfg.StructuredPath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return kerr.Wrap(kerr.CorruptAuditChain, "audit.load", l.cfg.StructuredPath, err)
	}
	l.events = events
	if n := len(events); n > 0 {
		l.lastHash = events[n-1].Hash
	}
	return nil
}

// Append adds a new event to the chain: sets prev_hash to the last
// event's hash (or empty for the first event), computes its own hash,
// appends it in memory, and persists both the text and structured
// files. Rotation failures are logged but never lose the event itself.
func (l *Log) Append(ctx context.Context, category, eventType, user, source string, details map[string]any, severity int, outcome string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Event{
		Timestamp: time.Now().UTC(),
		Monotonic: time.Now().UnixNano(),
		Category:  category,
		EventType: eventType,
		User:      user,
		Source:    source,
		Details:   details,
		Severity:  clampSeverity(severity),
		Outcome:   outcome,
		PrevHash:  l.lastHash,
	}
	hash, err := computeHash(e)
	if err != nil {
		return Event{}, kerr.Wrap(kerr.InvalidArgument, "audit.append", "", err)
	}
	e.Hash = hash

	l.events = append(l.events, e)
	l.lastHash = e.Hash

	if err := l.persistLocked(ctx, e); err != nil {
		kctx.Log(ctx).WithFields(map[string]any{"error": err}).Warn("audit: persistence failed, event retained in memory")
	}

	l.notifyLocked(e)
	return e, nil
}

func (l *Log) persistLocked(ctx context.Context, e Event) error {
	if err := l.appendTextLocked(ctx, e); err != nil {
		return err
	}
	return l.rewriteStructuredLocked(ctx)
}

func (l *Log) appendTextLocked(ctx context.Context, e Event) error {
	if l.cfg.LogPath == "" {
		return nil
	}
	if l.cfg.MaxLogBytes > 0 {
		if info, err := os.Stat(l.cfg.LogPath); err == nil && info.Size() >= l.cfg.MaxLogBytes {
			if err := l.rotateLocked(ctx); err != nil {
				kctx.Log(ctx).WithFields(map[string]any{"error": err}).Warn("audit: log rotation failed")
			}
		}
	}

	detailsJSON, err := canonicalDetails(e.Details)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s [%s] %s (User: %s, Source: %s, Outcome: %s) - Details: %s\n",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.EventType, e.User, e.Source, e.Outcome, detailsJSON)

	return l.withFlock(l.cfg.LogPath, func() error {
		f, err := os.OpenFile(l.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if l.cfg.SynchronousFlush {
			return f.Sync()
		}
		return nil
	})
}

// rotateLocked renames log -> log.1 -> ... -> log.N, dropping log.N,
// and starts a fresh log file, guarded by an exponential-backoff retry
// since a concurrent reader (e.g. fsck-audit) may be holding the file
// open transiently.
func (l *Log) rotateLocked(ctx context.Context) error {
	maxN := l.cfg.MaxRotatedLogs
	if maxN <= 0 {
		maxN = 5
	}
	op := func() error {
		return l.withFlock(l.cfg.LogPath, func() error {
			oldest := fmt.Sprintf("%s.%d", l.cfg.LogPath, maxN)
			os.Remove(oldest)
			for n := maxN - 1; n >= 1; n-- {
				src := fmt.Sprintf("%s.%d", l.cfg.LogPath, n)
				dst := fmt.Sprintf("%s.%d", l.cfg.LogPath, n+1)
				if _, err := os.Stat(src); err == nil {
					if err := os.Rename(src, dst); err != nil {
						return err
					}
				}
			}
			if _, err := os.Stat(l.cfg.LogPath); err == nil {
				return os.Rename(l.cfg.LogPath, l.cfg.LogPath+".1")
			}
			return nil
		})
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(op, b)
}

func (l *Log) rewriteStructuredLocked(ctx context.Context) error {
	if l.cfg.StructuredPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.events, "", "  ")
	if err != nil {
		return err
	}
	return l.withFlock(l.cfg.StructuredPath, func() error {
		tmp := l.cfg.StructuredPath + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, l.cfg.StructuredPath)
	})
}

// withFlock runs fn while holding an advisory flock on path+".lock".
// Only processes that take the same lock file are kept out of the
// rotation/rewrite window; if the lock cannot be taken, fn runs
// without it.
func (l *Log) withFlock(path string, fn func() error) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fn()
	}
	defer lock.Unlock()
	return fn()
}

// Events returns a snapshot of the in-memory event list.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// VerifyIntegrity walks the event list in order, recomputing each
// event's hash and checking the prev_hash linkage.
func (l *Log) VerifyIntegrity() (ok bool, failIndex int, reason string) {
	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return false, i, "prev_hash does not match preceding event's hash"
		}
		want, err := computeHash(e)
		if err != nil {
			return false, i, err.Error()
		}
		if want != e.Hash {
			return false, i, "stored hash does not match recomputed hash"
		}
		prev = e.Hash
	}
	return true, -1, ""
}

// Subscribe registers a channel that receives a copy of every future
// event whose severity is >= minSeverity. The returned func unsubscribes
// and closes the channel, giving an external collaborator (e.g. an IDS
// layer) a severity-routing hook without the log depending on one.
func (l *Log) Subscribe(minSeverity int) (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Event, 16)
	idx := len(l.subs)
	l.subs = append(l.subs, subscriber{minSeverity: minSeverity, ch: ch})
	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.subs) && l.subs[idx].ch == ch {
			close(ch)
			l.subs[idx].ch = nil
		}
	}
	return ch, cancel
}

func (l *Log) notifyLocked(e Event) {
	for _, s := range l.subs {
		if s.ch == nil || e.Severity < s.minSeverity {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}
