package inject

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/entrhq/recall/pkg/memory/scoring"
	"github.com/entrhq/recall/pkg/memory/session"
	"github.com/entrhq/recall/pkg/memory/store"
	"github.com/entrhq/recall/pkg/tokenizer"
)

const (
	// DefaultCandidatePool is how many recent events are considered.
	DefaultCandidatePool = 100

	// DefaultMaxTokens caps the injected block in model tokens, on top of
	// the engine's character budget.
	DefaultMaxTokens = 2500
)

// Loader assembles the session-start memory block.
type Loader struct {
	store         store.Store
	engine        *scoring.Engine
	ledger        *session.Ledger
	tok           *tokenizer.Tokenizer
	candidatePool int
	maxTokens     int
	now           func() time.Time
}

// LoaderOptions tunes a Loader. Zero values select defaults. Tok may be nil;
// token counting then falls back to an estimate.
type LoaderOptions struct {
	CandidatePool int
	MaxTokens     int
	Tok           *tokenizer.Tokenizer
	Now           func() time.Time
}

func NewLoader(s store.Store, engine *scoring.Engine, ledger *session.Ledger, opts LoaderOptions) *Loader {
	ld := &Loader{
		store:         s,
		engine:        engine,
		ledger:        ledger,
		tok:           opts.Tok,
		candidatePool: opts.CandidatePool,
		maxTokens:     opts.MaxTokens,
		now:           opts.Now,
	}
	if ld.candidatePool <= 0 {
		ld.candidatePool = DefaultCandidatePool
	}
	if ld.maxTokens <= 0 {
		ld.maxTokens = DefaultMaxTokens
	}
	if ld.now == nil {
		ld.now = time.Now
	}
	return ld
}

// SessionStart scores the recent-event pool against the session's context
// entities and returns the rendered injection block, empty when nothing
// clears the noise floor. The injected IDs are recorded in the session
// ledger so mid-session recall never repeats them.
func (ld *Loader) SessionStart(ctx context.Context, sessionID string, contextEntities []string) (string, error) {
	candidates, err := ld.store.RecentSummaries(ctx, ld.candidatePool)
	if err != nil {
		return "", fmt.Errorf("inject: load candidates: %w", err)
	}
	logRec := ld.ledger.Load(sessionID)
	fresh := candidates[:0]
	for _, c := range candidates {
		if !logRec.Has(c.ID) {
			fresh = append(fresh, c)
		}
	}

	sctx := scoring.NewContext(ld.now(), contextEntities)
	selected := ld.engine.SelectTop(fresh, sctx)
	if len(selected) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Memory from previous sessions\n\n")
	tokens := ld.tok.Count(sb.String())
	var injected []string
	for _, s := range selected {
		ev, err := ld.store.GetEvent(ctx, s.Summary.ID)
		if err != nil {
			slog.Debug("inject: skipping candidate without backing event", "id", s.Summary.ID, "err", err)
			continue
		}
		line := fmt.Sprintf("- [%s] %s\n", ev.Category, scoring.Truncate(ev.Content, s.Budget))
		cost := ld.tok.Count(line)
		if tokens+cost > ld.maxTokens {
			break
		}
		tokens += cost
		sb.WriteString(line)
		injected = append(injected, ev.ID)
	}
	if len(injected) == 0 {
		return "", nil
	}

	if err := ld.ledger.RecordInjected(sessionID, injected); err != nil {
		// Bookkeeping is best-effort; the injection itself stands.
		slog.Warn("inject: failed to record injected events", "session", sessionID, "err", err)
	}
	return sb.String(), nil
}
