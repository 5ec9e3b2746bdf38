package distill

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write transcript %s: %v", name, err)
	}
}

func setModTime(t *testing.T, dir, name string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(filepath.Join(dir, name), ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestUnprocessedOldestFirstAndCapped(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for _, name := range []string{"session_003.jsonl", "session_001.jsonl", "session_004.jsonl", "session_002.jsonl"} {
		writeTranscript(t, dir, name, "transcript body")
	}
	// session_001 gets the oldest mtime, session_004 the newest.
	setModTime(t, dir, "session_001.jsonl", base)
	setModTime(t, dir, "session_002.jsonl", base.Add(time.Minute))
	setModTime(t, dir, "session_003.jsonl", base.Add(2*time.Minute))
	setModTime(t, dir, "session_004.jsonl", base.Add(3*time.Minute))
	writeTranscript(t, dir, "notes.txt", "not a transcript")

	m := NewManifest(dir, Options{BatchSize: 3})
	got, err := m.UnprocessedTranscripts(ctx)
	if err != nil {
		t.Fatalf("UnprocessedTranscripts failed: %v", err)
	}
	want := []string{"session_001.jsonl", "session_002.jsonl", "session_003.jsonl"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSkippedNeverReturns(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writeTranscript(t, dir, "session_001.jsonl", "transcript body")

	m := NewManifest(dir, Options{})
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusSkipped, nil, 0); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}
	got, err := m.UnprocessedTranscripts(ctx)
	if err != nil {
		t.Fatalf("UnprocessedTranscripts failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("skipped transcript must not be returned, got %v", got)
	}
}

func TestInProgressHiddenUntilAbandoned(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writeTranscript(t, dir, "session_001.jsonl", "transcript body")

	clock := time.Now()
	m := NewManifest(dir, Options{Now: func() time.Time { return clock }})
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}

	got, err := m.UnprocessedTranscripts(ctx)
	if err != nil {
		t.Fatalf("UnprocessedTranscripts failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("live in-progress transcript must be hidden, got %v", got)
	}

	// 31 minutes later the extractor is presumed dead and the work returns.
	clock = clock.Add(31 * time.Minute)
	got, err = m.UnprocessedTranscripts(ctx)
	if err != nil {
		t.Fatalf("UnprocessedTranscripts failed: %v", err)
	}
	if len(got) != 1 || got[0] != "session_001.jsonl" {
		t.Errorf("abandoned transcript must be returned, got %v", got)
	}
}

func TestMarkStatusIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writeTranscript(t, dir, "session_001.jsonl", "transcript body")

	m := NewManifest(dir, Options{})
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err != nil {
		t.Fatalf("repeated mark must be a no-op, got %v", err)
	}
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusProcessed, []string{"evt_a"}, 1); err != nil {
		t.Fatalf("processed mark failed: %v", err)
	}
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusProcessed, []string{"evt_a"}, 1); err != nil {
		t.Fatalf("repeated processed mark must be a no-op, got %v", err)
	}

	e := m.StatusOf("session_001.jsonl")
	if e.Status != StatusProcessed || e.LessonCount != 1 || len(e.EventIDs) != 1 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestMarkStatusRejectsIllegalTransitions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m := NewManifest(dir, Options{})

	// Untracked transcripts already read as unprocessed.
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusUnprocessed, nil, 0); err == nil {
		t.Error("untracked -> unprocessed must be rejected")
	}

	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	// A live in-progress entry cannot be reset.
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusUnprocessed, nil, 0); err == nil {
		t.Error("resetting a live in-progress entry must be rejected")
	}
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusProcessed, nil, 0); err != nil {
		t.Fatalf("processed mark failed: %v", err)
	}
	// Terminal states are final.
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err == nil {
		t.Error("processed -> in-progress must be rejected")
	}

	if err := m.MarkStatus(ctx, "../escape.jsonl", StatusSkipped, nil, 0); err == nil {
		t.Error("path traversal in transcript name must be rejected")
	}
}

func TestAbandonedEntryCanBeReset(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	clock := time.Now()
	m := NewManifest(dir, Options{Now: func() time.Time { return clock }})

	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusInProgress, nil, 0); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	clock = clock.Add(31 * time.Minute)
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusUnprocessed, nil, 0); err != nil {
		t.Errorf("abandoned entry reset must succeed, got %v", err)
	}
	if got := m.StatusOf("session_001.jsonl").Status; got != StatusUnprocessed {
		t.Errorf("expected unprocessed after reset, got %v", got)
	}
}

func TestUntrackedCompletionAccepted(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m := NewManifest(dir, Options{})

	// A completion may arrive for a transcript the manifest no longer
	// tracks (the file was lost after the claim); it still lands.
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusProcessed, []string{"evt_a"}, 1); err != nil {
		t.Fatalf("untracked completion must be accepted, got %v", err)
	}
	e := m.StatusOf("session_001.jsonl")
	if e.Status != StatusProcessed || e.LessonCount != 1 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestCorruptManifestTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writeTranscript(t, dir, "session_001.jsonl", "transcript body")
	if err := os.WriteFile(filepath.Join(dir, manifestFile), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("corrupt manifest: %v", err)
	}

	m := NewManifest(dir, Options{})
	got, err := m.UnprocessedTranscripts(ctx)
	if err != nil {
		t.Fatalf("UnprocessedTranscripts failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("corrupt manifest must read as empty, got %v", got)
	}
	// The next mark heals the file.
	if err := m.MarkStatus(ctx, "session_001.jsonl", StatusSkipped, nil, 0); err != nil {
		t.Fatalf("MarkStatus failed: %v", err)
	}
	if got := m.StatusOf("session_001.jsonl").Status; got != StatusSkipped {
		t.Errorf("expected skipped after heal, got %v", got)
	}
}

func TestMissingRawDirIsEmpty(t *testing.T) {
	m := NewManifest(filepath.Join(t.TempDir(), "nope"), Options{})
	got, err := m.UnprocessedTranscripts(context.Background())
	if err != nil {
		t.Fatalf("missing raw dir must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected nothing, got %v", got)
	}
}
