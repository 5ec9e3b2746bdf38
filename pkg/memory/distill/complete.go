package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/entrhq/recall/pkg/memory/event"
	"github.com/entrhq/recall/pkg/memory/store"
)

// Source is the provenance tag stamped on every distilled event.
const Source = "distill-daemon"

// MetaTranscript is the meta key recording which transcript produced an
// event.
const MetaTranscript = "transcript"

// Lesson is one candidate lesson reported by the external extraction step.
type Lesson struct {
	Content  string   `json:"content"`
	Entities []string `json:"entities"`
	Category string   `json:"category"`
}

// CompletionRequest is the sole integration point between the core and the
// external "what makes a good lesson" judgment step.
type CompletionRequest struct {
	CWD        string   `json:"cwd"`
	Transcript string   `json:"transcript"`
	Lessons    []Lesson `json:"lessons"`
}

// Completer lands extracted lessons in the event store and closes out the
// transcript's manifest entry.
type Completer struct {
	store    store.Store
	manifest *Manifest
}

func NewCompleter(s store.Store, manifest *Manifest) *Completer {
	return &Completer{store: s, manifest: manifest}
}

// Complete appends one event per valid lesson and marks the transcript
// processed exactly once, even for an empty lesson list. Invalid lessons are
// dropped individually; they never poison the batch. The call is idempotent:
// a transcript already marked processed appends nothing.
func (c *Completer) Complete(ctx context.Context, req CompletionRequest) (int, error) {
	if req.Transcript == "" {
		return 0, fmt.Errorf("distill: completion missing transcript name")
	}
	if c.manifest.StatusOf(req.Transcript).Status == StatusProcessed {
		slog.Debug("distill: transcript already processed, completion is a no-op", "transcript", req.Transcript)
		return 0, nil
	}

	var eventIDs []string
	for _, lesson := range req.Lessons {
		ev, err := event.New(
			lesson.Content,
			lesson.Entities,
			event.TypeDistilled,
			Source,
			lesson.Category,
			map[string]string{MetaTranscript: req.Transcript},
		)
		if err != nil {
			var verr *event.ValidationError
			if errors.As(err, &verr) {
				slog.Warn("distill: dropping invalid lesson", "transcript", req.Transcript, "err", err)
				continue
			}
			return len(eventIDs), err
		}
		if err := c.store.AppendEvent(ctx, ev); err != nil {
			return len(eventIDs), fmt.Errorf("distill: append lesson event: %w", err)
		}
		eventIDs = append(eventIDs, ev.ID)
	}

	if err := c.manifest.MarkStatus(ctx, req.Transcript, StatusProcessed, eventIDs, len(eventIDs)); err != nil {
		return len(eventIDs), err
	}
	return len(eventIDs), nil
}
