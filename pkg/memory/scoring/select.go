package scoring

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/recall/pkg/memory/store"
)

// Ellipsis marks a hard truncation that could not land on a sentence
// boundary.
const Ellipsis = "…"

// Scored pairs a candidate with its score and its allotted output budget in
// characters.
type Scored struct {
	Summary store.Summary
	Score   float64
	Budget  int
}

// SelectTop implements the session-start selection policy: drop candidates
// below the noise floor, sort descending by score (newest first on ties),
// keep the top MaxEvents, and allot each a character budget by score band.
// High-confidence matches get proportionally more verbatim text; the running
// total never exceeds TotalBudget.
func (e *Engine) SelectTop(candidates []store.Summary, ctx Context) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, s := range candidates {
		sc := e.Score(s, ctx)
		if sc < e.cfg.Threshold || sc == 0 {
			continue
		}
		scored = append(scored, Scored{Summary: s, Score: sc})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Summary.CreatedAt.After(scored[j].Summary.CreatedAt)
	})
	if len(scored) > e.cfg.MaxEvents {
		scored = scored[:e.cfg.MaxEvents]
	}

	remaining := e.cfg.TotalBudget
	out := scored[:0]
	for _, s := range scored {
		if remaining <= 0 {
			break
		}
		budget := e.bandBudget(s.Score)
		if budget > remaining {
			budget = remaining
		}
		s.Budget = budget
		remaining -= budget
		out = append(out, s)
	}
	return out
}

func (e *Engine) bandBudget(score float64) int {
	switch {
	case score >= e.cfg.HighBand:
		return e.cfg.HighBudget
	case score >= e.cfg.MediumBand:
		return e.cfg.MediumBudget
	default:
		return e.cfg.LowBudget
	}
}

// Threshold exposes the configured noise floor for callers that score single
// candidates (mid-session recall).
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// MaxEvents exposes the configured injection count bound.
func (e *Engine) MaxEvents() int {
	return e.cfg.MaxEvents
}

// Truncate fits text into budget characters, preferring to cut at a sentence
// boundary. When no boundary falls in the back half of the budget it cuts
// hard and appends the ellipsis marker, never splitting a UTF-8 sequence.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(text) <= budget {
		return text
	}
	if budget <= len(Ellipsis) {
		// No room for the marker; a bare prefix is all the budget buys.
		return safeCut(text, budget)
	}
	cut := safeCut(text, budget)
	if idx := lastSentenceEnd(cut); idx >= budget/2 {
		return strings.TrimSpace(cut[:idx])
	}
	cut = safeCut(text, budget-len(Ellipsis))
	return strings.TrimSpace(cut) + Ellipsis
}

// safeCut truncates to at most n bytes without splitting a rune.
func safeCut(text string, n int) string {
	if n >= len(text) {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// lastSentenceEnd returns the byte offset just past the final sentence
// terminator in s, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(s, sep); idx != -1 && idx+1 > best {
			best = idx + 1
		}
	}
	if best == -1 && strings.HasSuffix(s, ".") {
		best = len(s)
	}
	return best
}
