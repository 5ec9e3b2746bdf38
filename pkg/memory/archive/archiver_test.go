package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSnapshotCreatesStableName(t *testing.T) {
	rawDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "live.jsonl")
	writeFile(t, src, `{"role":"user","content":"hello"}`+"\n")

	a := NewArchiver(rawDir)
	name, err := a.Snapshot(context.Background(), src, "session_001", TriggerSessionEnd)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if name != "session_001.jsonl" {
		t.Errorf("expected session-derived name, got %q", name)
	}
	got, err := os.ReadFile(filepath.Join(rawDir, name))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(got), "hello") {
		t.Errorf("snapshot content mismatch: %q", got)
	}
}

func TestSnapshotIdempotentOnSameContent(t *testing.T) {
	rawDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "live.jsonl")
	writeFile(t, src, "same content both times\n")

	a := NewArchiver(rawDir)
	ctx := context.Background()
	name1, err := a.Snapshot(ctx, src, "session_001", TriggerPreCompaction)
	if err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}
	before, err := os.Stat(filepath.Join(rawDir, name1))
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}

	name2, err := a.Snapshot(ctx, src, "session_001", TriggerSessionEnd)
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}
	if name2 != name1 {
		t.Errorf("triggers must not change the name: %q vs %q", name1, name2)
	}
	after, err := os.Stat(filepath.Join(rawDir, name1))
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("identical content must not rewrite the snapshot")
	}

	entries, err := os.ReadDir(rawDir)
	if err != nil {
		t.Fatalf("read raw dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one snapshot, got %d", len(entries))
	}
}

func TestSnapshotReplacesGrownTranscript(t *testing.T) {
	rawDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "live.jsonl")
	writeFile(t, src, "first turn\n")

	a := NewArchiver(rawDir)
	ctx := context.Background()
	name, err := a.Snapshot(ctx, src, "session_001", TriggerPreCompaction)
	if err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}

	// The session continued after compaction; the final snapshot wins.
	writeFile(t, src, "first turn\nsecond turn\n")
	if _, err := a.Snapshot(ctx, src, "session_001", TriggerSessionEnd); err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(rawDir, name))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(got) != "first turn\nsecond turn\n" {
		t.Errorf("expected replaced content, got %q", got)
	}
}

func TestSnapshotGeneratesIDWhenMissing(t *testing.T) {
	rawDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "live.jsonl")
	writeFile(t, src, "orphaned transcript\n")

	a := NewArchiver(rawDir)
	name, err := a.Snapshot(context.Background(), src, "  ", TriggerSessionEnd)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".jsonl") {
		t.Errorf("unexpected generated name %q", name)
	}
	if _, err := os.Stat(filepath.Join(rawDir, name)); err != nil {
		t.Errorf("generated snapshot missing: %v", err)
	}
}

func TestSnapshotRejectsBadSessionID(t *testing.T) {
	a := NewArchiver(t.TempDir())
	src := filepath.Join(t.TempDir(), "live.jsonl")
	writeFile(t, src, "content\n")

	if _, err := a.Snapshot(context.Background(), src, "../escape", TriggerSessionEnd); err == nil {
		t.Error("expected rejection of path separators in session id")
	}
}

func TestSnapshotMissingTranscript(t *testing.T) {
	a := NewArchiver(t.TempDir())
	if _, err := a.Snapshot(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl"), "session_001", TriggerSessionEnd); err == nil {
		t.Error("expected error for missing transcript")
	}
}
