package inject

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/recall/pkg/memory/event"
	"github.com/entrhq/recall/pkg/memory/scoring"
	"github.com/entrhq/recall/pkg/memory/session"
	"github.com/entrhq/recall/pkg/memory/store"
)

type testEnv struct {
	store  *store.FileStore
	engine *scoring.Engine
	ledger *session.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir(), "proj0123456789ab", store.Options{})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return &testEnv{
		store:  fs,
		engine: scoring.NewEngine(scoring.DefaultConfig()),
		ledger: session.NewLedger(fs.SessionsDir()),
	}
}

func (e *testEnv) seed(t *testing.T, content string, entities []string, typ event.Type) *event.Event {
	t.Helper()
	ev, err := event.New(content, entities, typ, "test", "pattern", nil)
	if err != nil {
		t.Fatalf("event.New failed: %v", err)
	}
	if err := e.store.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	return ev
}

func TestEntitiesFromPaths(t *testing.T) {
	ignore := CompileIgnore(DefaultIgnorePatterns)

	got := EntitiesFromPaths([]string{"pkg/memory/store/filestore.go"}, ignore)
	want := map[string]bool{"filestore.go": true, "filestore": true, "pkg": true, "memory": true, "store": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d entities, got %v", len(want), got)
	}
	for _, e := range got {
		if !want[e] {
			t.Errorf("unexpected entity %q", e)
		}
	}
}

func TestEntitiesFromPathsIgnoresNoise(t *testing.T) {
	ignore := CompileIgnore(DefaultIgnorePatterns)

	tests := []struct {
		name  string
		paths []string
	}{
		{"vendor", []string{"vendor/github.com/lib/pq/conn.go"}},
		{"node_modules", []string{"web/node_modules/react/index.js"}},
		{"lockfile", []string{"app/go.lock"}},
		{"empty and whitespace", []string{"", "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntitiesFromPaths(tt.paths, ignore); len(got) != 0 {
				t.Errorf("expected no entities, got %v", got)
			}
		})
	}
}

func TestEntitiesFromPathsDedupes(t *testing.T) {
	got := EntitiesFromPaths([]string{"a/b/one.go", "a/b/two.go"}, nil)
	seen := map[string]bool{}
	for _, e := range got {
		if seen[e] {
			t.Errorf("duplicate entity %q", e)
		}
		seen[e] = true
	}
}

func TestCompileIgnoreSkipsBadPatterns(t *testing.T) {
	globs := CompileIgnore([]string{"[", "**/vendor/**"})
	if len(globs) != 1 {
		t.Errorf("expected bad pattern dropped, got %d globs", len(globs))
	}
}

func TestSessionStartInjectsAndDedupes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	ev := env.seed(t, "LESSON: use atomic rename for crash safety", []string{"filestore.go"}, event.TypeManual)
	ld := NewLoader(env.store, env.engine, env.ledger, LoaderOptions{Now: func() time.Time { return now }})

	block, err := ld.SessionStart(ctx, "sess_1", []string{"filestore.go"})
	if err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}
	if !strings.HasPrefix(block, "## Memory from previous sessions\n\n") {
		t.Errorf("missing block header: %q", block)
	}
	if !strings.Contains(block, ev.Content) {
		t.Errorf("block missing event content: %q", block)
	}
	if !env.ledger.Load("sess_1").Has(ev.ID) {
		t.Error("injected event not recorded in session ledger")
	}

	// Same session: everything is already injected, so nothing comes back.
	again, err := ld.SessionStart(ctx, "sess_1", []string{"filestore.go"})
	if err != nil {
		t.Fatalf("second SessionStart failed: %v", err)
	}
	if again != "" {
		t.Errorf("expected empty block on repeat session start, got %q", again)
	}

	// A new session sees the event fresh.
	other, err := ld.SessionStart(ctx, "sess_2", []string{"filestore.go"})
	if err != nil {
		t.Fatalf("SessionStart for new session failed: %v", err)
	}
	if !strings.Contains(other, ev.Content) {
		t.Error("new session must receive the event again")
	}
}

func TestSessionStartNothingAboveThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "bootstrap import of legacy notes file", []string{"legacy.md"}, event.TypeBootstrap)
	ld := NewLoader(env.store, env.engine, env.ledger, LoaderOptions{})

	block, err := ld.SessionStart(context.Background(), "sess_1", nil)
	if err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}
	if block != "" {
		t.Errorf("bootstrap events must never be injected, got %q", block)
	}
}

func TestSessionStartTokenCap(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "LESSON: token budgets trump character budgets", []string{"loader.go"}, event.TypeManual)
	// The header alone consumes the whole allowance, so no line fits.
	ld := NewLoader(env.store, env.engine, env.ledger, LoaderOptions{MaxTokens: 9})

	block, err := ld.SessionStart(context.Background(), "sess_1", []string{"loader.go"})
	if err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}
	if block != "" {
		t.Errorf("expected empty block under the token cap, got %q", block)
	}
	if env.ledger.Load("sess_1").Has("") || len(env.ledger.Load("sess_1").Events) != 0 {
		t.Error("nothing was injected, so nothing may be recorded")
	}
}

func TestRecallInjectsOnceAndExcludesSeen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clock := time.Now()

	ev := env.seed(t, "LESSON: manifest corruption degrades reads, never fails them", []string{"filestore.go"}, event.TypeManual)
	r := NewRecaller(env.store, env.engine, env.ledger, RecallerOptions{
		Throttle: session.NewThrottle(3, time.Minute),
		Now:      func() time.Time { return clock },
	})

	text, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"pkg/store/filestore.go"})
	if !ok {
		t.Fatal("expected a recall injection")
	}
	if !strings.HasPrefix(text, "Relevant memory [pattern]:") || !strings.Contains(text, ev.Content) {
		t.Errorf("unexpected recall text: %q", text)
	}

	// The only relevant event is now in the ledger; past the cooldown there
	// is still nothing fresh to inject.
	clock = clock.Add(2 * time.Minute)
	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"pkg/store/filestore.go"}); ok {
		t.Error("already-injected event must not be recalled again")
	}
}

func TestRecallThrottleCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clock := time.Now()

	env.seed(t, "LESSON: first event about the store layer here", []string{"filestore.go"}, event.TypeManual)
	env.seed(t, "LESSON: second event about the store layer too", []string{"filestore.go"}, event.TypeManual)
	r := NewRecaller(env.store, env.engine, env.ledger, RecallerOptions{
		Throttle: session.NewThrottle(1, time.Minute),
		Now:      func() time.Time { return clock },
	})

	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"filestore.go"}); !ok {
		t.Fatal("first recall must succeed")
	}
	clock = clock.Add(time.Hour)
	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"filestore.go"}); ok {
		t.Error("recall count cap must hold regardless of elapsed time")
	}
}

func TestRecallCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clock := time.Now()

	env.seed(t, "LESSON: first event about the store layer here", []string{"filestore.go"}, event.TypeManual)
	env.seed(t, "LESSON: second event about the store layer too", []string{"filestore.go"}, event.TypeManual)
	r := NewRecaller(env.store, env.engine, env.ledger, RecallerOptions{
		Throttle: session.NewThrottle(3, 5*time.Minute),
		Now:      func() time.Time { return clock },
	})

	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"filestore.go"}); !ok {
		t.Fatal("first recall must succeed")
	}
	clock = clock.Add(time.Minute)
	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"filestore.go"}); ok {
		t.Error("recall inside the cooldown must be blocked")
	}
	clock = clock.Add(10 * time.Minute)
	if _, ok := r.OnToolUse(ctx, "sess_1", "post-tool", []string{"filestore.go"}); !ok {
		t.Error("recall after the cooldown must succeed")
	}
}

func TestRecallIgnoredPathsYieldNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "LESSON: vendored code never drives recall", []string{"conn.go"}, event.TypeManual)
	r := NewRecaller(env.store, env.engine, env.ledger, RecallerOptions{Now: time.Now})

	if _, ok := r.OnToolUse(context.Background(), "sess_1", "post-tool", []string{"vendor/lib/conn.go"}); ok {
		t.Error("ignored paths must not trigger recall")
	}
}
