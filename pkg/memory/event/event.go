// Package event defines the immutable memory event record: the single unit of
// knowledge the compound memory system captures, persists, and re-injects.
// Events are created once via the store's append path and never mutated, with
// the sole exception of the archival marker added when an event is logically
// superseded.
package event

import (
	"fmt"
	"strings"
	"time"
)

// Type records how an event came into existence.
type Type string

const (
	TypeDistilled Type = "distilled"
	TypeManual    Type = "manual"
	TypeBootstrap Type = "bootstrap"
)

// Category classifies the kind of lesson an event encodes.
type Category string

const (
	CategoryBugfix       Category = "bugfix"
	CategoryPattern      Category = "pattern"
	CategoryConfig       Category = "config"
	CategoryArchitecture Category = "architecture"
	CategoryTooling      Category = "tooling"
	CategorySession      Category = "session"
	CategoryGotcha       Category = "gotcha"
	CategoryRefactor     Category = "refactor"
)

// DefaultCategory is used when a caller supplies a category outside the
// closed set. Coercion, not rejection: a mislabelled lesson is still a lesson.
const DefaultCategory = CategorySession

var validCategories = map[Category]bool{
	CategoryBugfix:       true,
	CategoryPattern:      true,
	CategoryConfig:       true,
	CategoryArchitecture: true,
	CategoryTooling:      true,
	CategorySession:      true,
	CategoryGotcha:       true,
	CategoryRefactor:     true,
}

// CoerceCategory maps an arbitrary string onto the closed category set,
// falling back to DefaultCategory.
func CoerceCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if validCategories[c] {
		return c
	}
	return DefaultCategory
}

const (
	// MinContentLength is the minimum trimmed content length for a valid event.
	MinContentLength = 20

	// MaxEntities caps the number of entities retained per event.
	MaxEntities = 10

	// minEntityLength drops noise tokens ("a", "x") during normalization.
	minEntityLength = 2

	// MetaArchivedBy marks an event as logically superseded. It is the only
	// field ever added to an event after creation.
	MetaArchivedBy = "archived_by"
)

// ValidationError reports an event that was rejected before being stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: invalid %s: %s", e.Field, e.Reason)
}

// Event is one immutable fact learned during a session. Content is free text,
// conventionally prefixed "LESSON:" for insights. Entities are normalized
// lowercase tokens used to match the event against future session context.
type Event struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Entities  []string          `json:"entities"`
	Type      Type              `json:"event_type"`
	Source    string            `json:"source"`
	Category  Category          `json:"category"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// New validates and constructs an event. The category is coerced to the
// closed set rather than rejected; content and entities are validated
// strictly so a malformed event is never partially stored.
func New(content string, entities []string, typ Type, source string, category string, meta map[string]string) (*Event, error) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < MinContentLength {
		return nil, &ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("must be at least %d characters after trimming (got %d)", MinContentLength, len(trimmed)),
		}
	}

	normalized := NormalizeEntities(entities)
	if len(normalized) == 0 {
		return nil, &ValidationError{
			Field:  "entities",
			Reason: "at least one non-trivial entity is required",
		}
	}

	var metaCopy map[string]string
	if len(meta) > 0 {
		metaCopy = make(map[string]string, len(meta))
		for k, v := range meta {
			metaCopy[k] = v
		}
	}

	return &Event{
		ID:        NewEventID(),
		Content:   trimmed,
		Entities:  normalized,
		Type:      typ,
		Source:    source,
		Category:  CoerceCategory(category),
		CreatedAt: timeNow().UTC(),
		Meta:      metaCopy,
	}, nil
}

// NormalizeEntities lowercases and trims entity tokens, drops tokens too
// short to carry signal, removes duplicates, and caps the result at
// MaxEntities. Order of first appearance is preserved.
func NormalizeEntities(entities []string) []string {
	seen := make(map[string]bool, len(entities))
	var out []string
	for _, raw := range entities {
		e := strings.ToLower(strings.TrimSpace(raw))
		if len(e) < minEntityLength || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
		if len(out) == MaxEntities {
			break
		}
	}
	return out
}

// Archived reports whether the event carries the archival marker.
func (e *Event) Archived() bool {
	return e.Meta[MetaArchivedBy] != ""
}
