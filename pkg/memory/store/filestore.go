package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/entrhq/recall/pkg/lock"
	"github.com/entrhq/recall/pkg/memory/event"
	"github.com/entrhq/recall/pkg/security/boundary"
)

const (
	manifestFile = "manifest.json"
	manifestLock = "manifest.lock"

	// DefaultLockTimeout bounds how long an append waits for the manifest
	// lock before letting the manifest lag.
	DefaultLockTimeout = 2 * time.Second
)

// Options tunes a FileStore. Zero values select defaults.
type Options struct {
	MaxManifestEntries int
	LockTimeout        time.Duration
}

// FileStore is the local file-system implementation of Store. All paths are
// project-scoped under <root>/<projectKey>/; the directory is shared by every
// concurrent process working on the same project.
type FileStore struct {
	dir                string
	maxManifestEntries int
	lockTimeout        time.Duration
}

func NewFileStore(root, projectKey string, opts Options) (*FileStore, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("store: empty project key")
	}
	fs := &FileStore{
		dir:                filepath.Join(root, projectKey),
		maxManifestEntries: opts.MaxManifestEntries,
		lockTimeout:        opts.LockTimeout,
	}
	if fs.maxManifestEntries <= 0 {
		fs.maxManifestEntries = DefaultMaxManifestEntries
	}
	if fs.lockTimeout <= 0 {
		fs.lockTimeout = DefaultLockTimeout
	}
	for _, dir := range []string{fs.EventsDir(), fs.RawDir(), fs.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: init directory %s: %w", dir, err)
		}
	}
	return fs, nil
}

// Dir returns the project-scoped store root.
func (fs *FileStore) Dir() string { return fs.dir }

// EventsDir holds one JSON file per event; filenames sort lexically in
// creation order.
func (fs *FileStore) EventsDir() string { return filepath.Join(fs.dir, "events") }

// RawDir holds archived raw transcripts and the distillation manifest.
func (fs *FileStore) RawDir() string { return filepath.Join(fs.dir, "raw") }

// SessionsDir holds per-session injection logs.
func (fs *FileStore) SessionsDir() string { return filepath.Join(fs.dir, "sessions") }

func (fs *FileStore) manifestPath() string { return filepath.Join(fs.dir, manifestFile) }
func (fs *FileStore) lockPath() string     { return filepath.Join(fs.dir, manifestLock) }

func (fs *FileStore) eventPath(id string) (string, error) {
	if err := boundary.ValidateName("event id", id); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return filepath.Join(fs.EventsDir(), id+".json"), nil
}

// AppendEvent writes the event durably (temp file, fsync, atomic rename) and
// then folds it into the manifest under the manifest lock. Events are
// immutable and filenames unique, so the write itself needs no lock; only the
// manifest read-modify-write is serialized. A contended manifest lock is not
// an append failure: the event is already durable and reads self-heal.
func (fs *FileStore) AppendEvent(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return &event.ValidationError{Field: "event", Reason: "nil event"}
	}
	path, err := fs.eventPath(ev.ID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal event %s: %w", ev.ID, err)
	}
	if err := writeFileDurable(path, b); err != nil {
		return err
	}
	fs.updateManifest(ctx, summarize(ev))
	return nil
}

// writeFileDurable guarantees that once it returns nil the content is visible
// to any subsequent reader, including across a process crash immediately
// after the call: fsync the temp file before the atomic rename, then fsync
// the containing directory.
func writeFileDurable(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: create temp %s: %w", tmp, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store: write temp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: close temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: atomic rename %s: %w", path, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir makes the rename itself durable. Failure here is logged, not
// propagated: some filesystems reject directory fsync and the write is
// already atomic.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		slog.Debug("store: directory fsync failed", "dir", dir, "err", err)
	}
}

// updateManifest performs a locked read-modify-write of the manifest. Blind
// overwrites would lose concurrent appends, so a missing or corrupt manifest
// is rebuilt from the log before the new summary is folded in.
func (fs *FileStore) updateManifest(ctx context.Context, s Summary) {
	lctx, cancel := context.WithTimeout(ctx, fs.lockTimeout)
	defer cancel()
	l, err := lock.Acquire(lctx, fs.lockPath(), lock.Options{})
	if err != nil {
		slog.Warn("store: manifest update skipped, lock contended", "event", s.ID, "err", err)
		return
	}
	defer l.Release()

	m, ok := loadManifest(fs.manifestPath())
	if !ok {
		m = fs.rebuildManifest()
	}
	m.append(s, fs.maxManifestEntries)
	if err := m.save(fs.manifestPath()); err != nil {
		slog.Warn("store: manifest save failed", "event", s.ID, "err", err)
	}
}

// rebuildManifest reconstructs the index from a full log scan. Corrupt event
// files are skipped; a corrupt manifest degrades performance, never
// correctness.
func (fs *FileStore) rebuildManifest() *manifest {
	events := fs.scanLog()
	m := &manifest{}
	start := 0
	if len(events) > fs.maxManifestEntries {
		start = len(events) - fs.maxManifestEntries
	}
	for _, ev := range events[start:] {
		m.append(summarize(ev), fs.maxManifestEntries)
	}
	return m
}

// scanLog reads every event file in creation (filename) order.
func (fs *FileStore) scanLog() []*event.Event {
	entries, err := os.ReadDir(fs.EventsDir())
	if err != nil {
		slog.Debug("store: log scan failed", "dir", fs.EventsDir(), "err", err)
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]*event.Event, 0, len(names))
	for _, name := range names {
		ev, err := fs.readEventFile(filepath.Join(fs.EventsDir(), name))
		if err != nil {
			slog.Debug("store: skipping corrupt event file", "file", name, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (fs *FileStore) readEventFile(path string) (*event.Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ev event.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("store: event file %s missing id", path)
	}
	return &ev, nil
}

// RecentEvents returns up to limit events, newest first. The manifest drives
// the happy path; entries whose backing event file has vanished are dropped
// (self-healing), and an unreadable manifest falls back to a full-log scan.
func (fs *FileStore) RecentEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = fs.maxManifestEntries
	}
	m, ok := loadManifest(fs.manifestPath())
	if !ok {
		return fs.recentFromScan(limit), nil
	}
	out := make([]*event.Event, 0, limit)
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		path, err := fs.eventPath(m.Entries[i].ID)
		if err != nil {
			continue
		}
		ev, err := fs.readEventFile(path)
		if err != nil {
			slog.Debug("store: dropping manifest entry without backing event", "id", m.Entries[i].ID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		// Manifest may be stale-empty while the log has events (e.g. a
		// fresh manifest written by a crashed rebuild).
		return fs.recentFromScan(limit), nil
	}
	return out, nil
}

func (fs *FileStore) recentFromScan(limit int) []*event.Event {
	events := fs.scanLog()
	fs.repairManifest()
	out := make([]*event.Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out
}

// repairManifest rewrites the manifest from the log, best-effort. Readers
// that hit the slow path pay the rebuild once rather than on every call.
func (fs *FileStore) repairManifest() {
	l, err := lock.TryAcquire(fs.lockPath(), lock.Options{})
	if err != nil {
		return
	}
	defer l.Release()
	if err := fs.rebuildManifest().save(fs.manifestPath()); err != nil {
		slog.Debug("store: manifest repair failed", "err", err)
	}
}

// RecentSummaries returns manifest summaries, newest first, for scoring
// candidate pools without opening event files.
func (fs *FileStore) RecentSummaries(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = fs.maxManifestEntries
	}
	m, ok := loadManifest(fs.manifestPath())
	if !ok {
		events := fs.recentFromScan(limit)
		out := make([]Summary, 0, len(events))
		for _, ev := range events {
			out = append(out, summarize(ev))
		}
		return out, nil
	}
	out := make([]Summary, 0, limit)
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Entries[i])
	}
	return out, nil
}

// GetEvent loads a single event by ID.
func (fs *FileStore) GetEvent(_ context.Context, id string) (*event.Event, error) {
	path, err := fs.eventPath(id)
	if err != nil {
		return nil, err
	}
	ev, err := fs.readEventFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// MarkArchivedBy adds meta.archived_by to an existing event: the only
// mutation the log permits, recording logical supersession. Marking an
// already-marked event with the same value is a no-op.
func (fs *FileStore) MarkArchivedBy(ctx context.Context, id, by string) error {
	ev, err := fs.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if ev.Meta[event.MetaArchivedBy] == by {
		return nil
	}
	if ev.Meta == nil {
		ev.Meta = make(map[string]string, 1)
	}
	ev.Meta[event.MetaArchivedBy] = by
	b, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal event %s: %w", id, err)
	}
	path, err := fs.eventPath(id)
	if err != nil {
		return err
	}
	return writeFileDurable(path, b)
}
