// Package distill drives raw session transcripts through the distillation
// pipeline: unprocessed transcripts are digested, handed to an external
// lesson-extraction step, and finally marked processed (or skipped when the
// digest is too thin to bother). The package owns the per-transcript state
// machine and its on-disk manifest; the external step interacts with it only
// through PendingDigests and Complete.
package distill

import (
	"encoding/json"
	"fmt"
)

// Status is the distillation state of one transcript. Transitions are
// monotonic forward only, with a single time-gated exception: an in-progress
// entry older than the abandonment timeout reverts to unprocessed so a
// crashed extractor's work is retried.
type Status int

const (
	StatusUnprocessed Status = iota
	StatusInProgress
	StatusProcessed
	StatusSkipped
)

var statusNames = map[Status]string{
	StatusUnprocessed: "unprocessed",
	StatusInProgress:  "in-progress",
	StatusProcessed:   "processed",
	StatusSkipped:     "skipped",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus maps the wire string onto the enum, rejecting unknown values
// at construction time rather than letting them drift through comparisons.
func ParseStatus(raw string) (Status, error) {
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return StatusUnprocessed, fmt.Errorf("distill: unknown status %q", raw)
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusSkipped
}

// CanTransition enumerates the legal edges. The in-progress → unprocessed
// recovery edge is legal here; the manifest additionally gates it on the
// abandonment timeout.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusUnprocessed:
		return to == StatusInProgress || to == StatusSkipped
	case StatusInProgress:
		return to == StatusProcessed || to == StatusSkipped || to == StatusUnprocessed
	case StatusProcessed, StatusSkipped:
		return false
	default:
		return false
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("distill: marshal unknown status %d", int(s))
	}
	return json.Marshal(name)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("distill: unmarshal status: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
