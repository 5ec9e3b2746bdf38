package inject

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/recall/pkg/memory/scoring"
	"github.com/entrhq/recall/pkg/memory/session"
	"github.com/entrhq/recall/pkg/memory/store"
)

// Recaller opportunistically injects one relevant event when tool use
// touches files. It is throttled per session and strictly best-effort: any
// failure means no injection, never an error surfaced to the host.
type Recaller struct {
	store         store.Store
	engine        *scoring.Engine
	ledger        *session.Ledger
	throttle      session.Throttle
	ignore        []glob.Glob
	candidatePool int
	now           func() time.Time
}

// RecallerOptions tunes a Recaller. Zero values select defaults.
type RecallerOptions struct {
	Throttle      session.Throttle
	Ignore        []string
	CandidatePool int
	Now           func() time.Time
}

func NewRecaller(s store.Store, engine *scoring.Engine, ledger *session.Ledger, opts RecallerOptions) *Recaller {
	r := &Recaller{
		store:         s,
		engine:        engine,
		ledger:        ledger,
		throttle:      opts.Throttle,
		candidatePool: opts.CandidatePool,
		now:           opts.Now,
	}
	if r.throttle.MaxRecalls == 0 {
		r.throttle = session.NewThrottle(0, 0)
	}
	patterns := opts.Ignore
	if patterns == nil {
		patterns = DefaultIgnorePatterns
	}
	r.ignore = CompileIgnore(patterns)
	if r.candidatePool <= 0 {
		r.candidatePool = DefaultCandidatePool
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// OnToolUse derives entities from the touched paths and, when the throttle
// allows, injects the single best-scoring event not yet seen this session.
// Already-injected events are excluded before scoring, not filtered after,
// so duplicate output is impossible by construction.
func (r *Recaller) OnToolUse(ctx context.Context, sessionID, trigger string, paths []string) (string, bool) {
	now := r.now()
	logRec := r.ledger.Load(sessionID)
	if !r.throttle.AllowRecall(logRec, now) {
		return "", false
	}

	entities := EntitiesFromPaths(paths, r.ignore)
	if len(entities) == 0 {
		return "", false
	}

	candidates, err := r.store.RecentSummaries(ctx, r.candidatePool)
	if err != nil {
		slog.Debug("inject: recall candidate load failed", "err", err)
		return "", false
	}
	fresh := candidates[:0]
	for _, c := range candidates {
		if !logRec.Has(c.ID) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return "", false
	}

	sctx := scoring.NewContext(now, entities)
	selected := r.engine.SelectTop(fresh, sctx)
	if len(selected) == 0 {
		return "", false
	}
	best := selected[0]

	ev, err := r.store.GetEvent(ctx, best.Summary.ID)
	if err != nil {
		slog.Debug("inject: recall event load failed", "id", best.Summary.ID, "err", err)
		return "", false
	}

	if err := r.ledger.RecordRecall(sessionID, ev.ID, best.Score, trigger, now); err != nil {
		slog.Debug("inject: recall record failed", "id", ev.ID, "err", err)
		return "", false
	}
	text := fmt.Sprintf("Relevant memory [%s]: %s\n", ev.Category, scoring.Truncate(ev.Content, best.Budget))
	return text, true
}
