package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/recall/pkg/lock"
	"github.com/entrhq/recall/pkg/security/boundary"
)

const (
	manifestFile = "distill-manifest.json"
	manifestLock = "distill-manifest.lock"

	// DefaultInProgressTimeout is how long an in-progress entry may sit
	// before it is treated as abandoned by a crashed extractor.
	DefaultInProgressTimeout = 30 * time.Minute

	// DefaultBatchSize bounds how much background work one session start
	// may queue.
	DefaultBatchSize = 3

	// DefaultLockTimeout bounds manifest lock acquisition.
	DefaultLockTimeout = 2 * time.Second

	// transcriptExt is the raw transcript file extension.
	transcriptExt = ".jsonl"
)

// Entry is the manifest record for one transcript.
type Entry struct {
	Status      Status    `json:"status"`
	EventIDs    []string  `json:"event_ids,omitempty"`
	LessonCount int       `json:"lesson_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Options tunes a Manifest. Zero values select defaults.
type Options struct {
	InProgressTimeout time.Duration
	BatchSize         int
	LockTimeout       time.Duration
	Now               func() time.Time
}

// Manifest tracks transcript distillation state in a single JSON file under
// the raw-transcript directory. All mutations happen under the manifest lock;
// a corrupt manifest is treated as empty and heals on the next mark.
type Manifest struct {
	rawDir            string
	inProgressTimeout time.Duration
	batchSize         int
	lockTimeout       time.Duration
	now               func() time.Time
}

func NewManifest(rawDir string, opts Options) *Manifest {
	m := &Manifest{
		rawDir:            rawDir,
		inProgressTimeout: opts.InProgressTimeout,
		batchSize:         opts.BatchSize,
		lockTimeout:       opts.LockTimeout,
		now:               opts.Now,
	}
	if m.inProgressTimeout <= 0 {
		m.inProgressTimeout = DefaultInProgressTimeout
	}
	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}
	if m.lockTimeout <= 0 {
		m.lockTimeout = DefaultLockTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manifest) path() string     { return filepath.Join(m.rawDir, manifestFile) }
func (m *Manifest) lockPath() string { return filepath.Join(m.rawDir, manifestLock) }

// load reads the manifest map. Missing or corrupt files come back empty:
// unknown transcripts simply count as unprocessed and get retried.
func (m *Manifest) load() map[string]Entry {
	b, err := os.ReadFile(m.path())
	if err != nil {
		return map[string]Entry{}
	}
	var entries map[string]Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		slog.Warn("distill: corrupt manifest, treating as empty", "path", m.path(), "err", err)
		return map[string]Entry{}
	}
	return entries
}

func (m *Manifest) save(entries map[string]Entry) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("distill: marshal manifest: %w", err)
	}
	tmp := m.path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("distill: write manifest temp: %w", err)
	}
	if err := os.Rename(tmp, m.path()); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("distill: rename manifest: %w", err)
	}
	return nil
}

// abandoned reports whether an in-progress entry has outlived the timeout.
func (m *Manifest) abandoned(e Entry) bool {
	return e.Status == StatusInProgress && m.now().Sub(e.UpdatedAt) > m.inProgressTimeout
}

// UnprocessedTranscripts returns transcript names awaiting distillation,
// oldest first, capped at the batch size. In-progress entries past the
// abandonment timeout are included again (crash recovery); processed and
// skipped entries never return.
func (m *Manifest) UnprocessedTranscripts(_ context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(m.rawDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("distill: read raw dir %s: %w", m.rawDir, err)
	}

	entries := m.load()
	type candidate struct {
		name    string
		modTime time.Time
	}
	var pending []candidate
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, transcriptExt) {
			continue
		}
		e, tracked := entries[name]
		if tracked && e.Status != StatusUnprocessed && !m.abandoned(e) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		pending = append(pending, candidate{name: name, modTime: info.ModTime()})
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].modTime.Before(pending[j].modTime)
	})
	if len(pending) > m.batchSize {
		pending = pending[:m.batchSize]
	}
	out := make([]string, len(pending))
	for i, c := range pending {
		out[i] = c.name
	}
	return out, nil
}

// MarkStatus records a transition for one transcript under the manifest
// lock. Marking is idempotent: repeating the current status with the same
// arguments is a no-op. Illegal transitions are construction-time errors;
// the in-progress → unprocessed recovery edge is additionally gated on the
// abandonment timeout.
func (m *Manifest) MarkStatus(ctx context.Context, name string, status Status, eventIDs []string, lessonCount int) error {
	if err := boundary.ValidateName("transcript name", name); err != nil {
		return fmt.Errorf("distill: %w", err)
	}
	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	l, err := lock.Acquire(lctx, m.lockPath(), lock.Options{})
	if err != nil {
		return fmt.Errorf("distill: manifest lock: %w", err)
	}
	defer l.Release()

	entries := m.load()
	current, tracked := entries[name]
	if tracked {
		if current.Status == status {
			// Idempotent re-mark (e.g. a retried completion call).
			return nil
		}
		if !current.Status.CanTransition(status) {
			return fmt.Errorf("distill: illegal transition %s -> %s for %s", current.Status, status, name)
		}
		if current.Status == StatusInProgress && status == StatusUnprocessed && !m.abandoned(current) {
			return fmt.Errorf("distill: refusing to reset live in-progress entry %s", name)
		}
	} else if status == StatusUnprocessed {
		// Untracked already reads as unprocessed. Claims, skips, and
		// completions are all accepted: a completion may arrive after the
		// manifest was lost or corrupted away, and refusing it would force
		// a pointless re-extraction.
		return fmt.Errorf("distill: %s is already unprocessed", name)
	}

	entries[name] = Entry{
		Status:      status,
		EventIDs:    eventIDs,
		LessonCount: lessonCount,
		UpdatedAt:   m.now().UTC(),
	}
	return m.save(entries)
}

// StatusOf returns the tracked entry for a transcript; untracked transcripts
// report unprocessed.
func (m *Manifest) StatusOf(name string) Entry {
	if e, ok := m.load()[name]; ok {
		return e
	}
	return Entry{Status: StatusUnprocessed}
}
