// Package archive snapshots raw session transcripts into the project store's
// raw-transcript directory. Two hooks fire the same operation: pre-compaction
// (before the host discards conversation history) and session end (any
// termination path). Snapshots feed the distillation pipeline; losing one
// loses a session's lessons, so both hooks exist as redundant safety points.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/entrhq/recall/pkg/security/boundary"
)

// Trigger records which safety point fired the snapshot.
type Trigger string

const (
	TriggerPreCompaction Trigger = "pre-compaction"
	TriggerSessionEnd    Trigger = "session-end"
)

// Archiver copies transcripts into a raw directory under a stable name so
// retries of the same logical transcript are detected and skipped.
type Archiver struct {
	rawDir string
}

func NewArchiver(rawDir string) *Archiver {
	return &Archiver{rawDir: rawDir}
}

// Snapshot archives the transcript at transcriptPath for the given session.
// The destination name is derived from the session ID alone, so re-archiving
// the same logical transcript never creates a second manifest entry:
// identical content is skipped, newer content for the same session replaces
// the earlier snapshot atomically.
func (a *Archiver) Snapshot(ctx context.Context, transcriptPath, sessionID string, trigger Trigger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := snapshotName(sessionID)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(a.rawDir, name)

	src, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", fmt.Errorf("archive: read transcript %s: %w", transcriptPath, err)
	}

	if same, err := sameContent(dst, src); err == nil && same {
		slog.Debug("archive: snapshot already current", "session", sessionID, "trigger", trigger)
		return name, nil
	}

	if err := os.MkdirAll(a.rawDir, 0o750); err != nil {
		return "", fmt.Errorf("archive: init raw dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, src, 0o600); err != nil {
		return "", fmt.Errorf("archive: write snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return "", fmt.Errorf("archive: rename snapshot: %w", err)
	}
	slog.Debug("archive: transcript snapshotted", "session", sessionID, "trigger", trigger, "bytes", len(src))
	return name, nil
}

// snapshotName builds the stable per-session destination name. A session ID
// is required for idempotence; when the host fails to provide one a random
// identity still preserves the data, at the cost of possible duplicates.
func snapshotName(sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		id = "session_" + uuid.NewString()
		slog.Warn("archive: missing session id, generated one", "session", id)
	}
	if err := boundary.ValidateName("session id", id); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if !strings.HasSuffix(id, ".jsonl") {
		id += ".jsonl"
	}
	return id, nil
}

// sameContent reports whether dst already holds exactly src, comparing
// length first and hashes only when lengths agree.
func sameContent(dst string, src []byte) (bool, error) {
	f, err := os.Open(dst)
	if err != nil {
		return false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() != int64(len(src)) {
		return false, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	want := sha256.Sum256(src)
	return bytes.Equal(h.Sum(nil), want[:]), nil
}
