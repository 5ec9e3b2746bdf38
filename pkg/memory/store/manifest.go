package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/entrhq/recall/pkg/memory/event"
)

const (
	manifestVersion = 1

	// DefaultMaxManifestEntries caps the manifest index. Older entries are
	// pruned from the manifest only; the underlying log keeps them.
	DefaultMaxManifestEntries = 200

	// excerptLength bounds the cached content excerpt per summary.
	excerptLength = 160
)

// Summary is the lightweight per-event record cached in the manifest. It
// carries exactly what the scoring engine needs so candidates can be ranked
// without opening event files.
type Summary struct {
	ID        string         `json:"id"`
	Entities  []string       `json:"entities"`
	Type      event.Type     `json:"event_type"`
	Source    string         `json:"source"`
	Category  event.Category `json:"category"`
	CreatedAt time.Time      `json:"created_at"`
	Excerpt   string         `json:"excerpt"`
}

// manifest is the on-disk index. Entries are kept in append (creation)
// order; readers reverse for newest-first. Invariant: entries are a subset
// of the underlying log, in the same relative order.
type manifest struct {
	Version int       `json:"version"`
	Entries []Summary `json:"entries"`
}

func summarize(ev *event.Event) Summary {
	excerpt := ev.Content
	if len(excerpt) > excerptLength {
		excerpt = strings.TrimSpace(excerpt[:excerptLength])
	}
	return Summary{
		ID:        ev.ID,
		Entities:  ev.Entities,
		Type:      ev.Type,
		Source:    ev.Source,
		Category:  ev.Category,
		CreatedAt: ev.CreatedAt,
		Excerpt:   excerpt,
	}
}

// loadManifest reads and parses the manifest file. A missing or corrupt
// manifest is reported via ok=false, never via error: the caller falls back
// to a full-log scan.
func loadManifest(path string) (*manifest, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return &m, true
}

// append adds a summary and prunes the oldest entries past the cap.
func (m *manifest) append(s Summary, maxEntries int) {
	// Re-appending the same ID (retry after a partial failure) must not
	// duplicate the entry.
	for _, e := range m.Entries {
		if e.ID == s.ID {
			return
		}
	}
	m.Entries = append(m.Entries, s)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

// save writes the manifest atomically via a temporary file.
func (m *manifest) save(path string) error {
	m.Version = manifestVersion
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("store: write manifest temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("store: rename manifest: %w", err)
	}
	return nil
}
