// Package store is the durable append-only event log behind compound memory.
// One store serves one project, keyed by the project's remote identity so
// that clones and worktrees of the same repository share memory. Events live
// one JSON file apiece under events/, with a single manifest.json providing
// O(1) recent-event listing; the manifest is an index only, and every read
// path self-heals when it is missing, stale, or corrupt.
package store

import (
	"context"
	"errors"

	"github.com/entrhq/recall/pkg/memory/event"
)

var ErrNotFound = errors.New("store: event not found")

// Store is the read/write interface over the project event log.
type Store interface {
	// AppendEvent durably persists a new immutable event and then updates
	// the manifest. When AppendEvent returns nil the event is visible to
	// any subsequent reader, across process crashes; the manifest update
	// is best-effort and may lag under lock contention.
	AppendEvent(ctx context.Context, ev *event.Event) error

	// RecentEvents returns up to limit events, newest first. Corruption
	// anywhere on the read path degrades to a slower full-log scan, never
	// to an error.
	RecentEvents(ctx context.Context, limit int) ([]*event.Event, error)

	// RecentSummaries returns lightweight manifest summaries for scoring
	// without opening every event file.
	RecentSummaries(ctx context.Context, limit int) ([]Summary, error)

	// GetEvent loads one event by ID.
	GetEvent(ctx context.Context, id string) (*event.Event, error)

	// MarkArchivedBy records the sole permitted post-creation mutation:
	// tagging an event as logically superseded.
	MarkArchivedBy(ctx context.Context, id, by string) error
}
