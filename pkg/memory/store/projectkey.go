package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitTimeout bounds the subprocess call; a hung git must never block a hook.
const gitTimeout = 2 * time.Second

// ProjectKey derives the stable project-scoped store key. Clones and
// worktrees of the same repository must share one store, so the key comes
// from the remote identity when one exists, falling back to the absolute
// working directory path.
func ProjectKey(ctx context.Context, workingDir string) string {
	identity := remoteIdentity(ctx, workingDir)
	if identity == "" {
		abs, err := filepath.Abs(workingDir)
		if err != nil {
			abs = workingDir
		}
		identity = abs
	}
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:16]
}

func remoteIdentity(ctx context.Context, workingDir string) string {
	gctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(gctx, "git", "config", "--get", "remote.origin.url")
	cmd.Dir = workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		// Not a repository, no remote, or git timed out: all fine,
		// the path fallback covers it.
		slog.Debug("store: no remote identity", "dir", workingDir, "err", err)
		return ""
	}
	return normalizeRemote(stdout.String())
}

// normalizeRemote reduces equivalent remote URL spellings
// (https://github.com/org/repo.git, git@github.com:org/repo,
// ssh://git@github.com/org/repo) to one canonical host/path form.
func normalizeRemote(raw string) string {
	url := strings.ToLower(strings.TrimSpace(raw))
	if url == "" {
		return ""
	}
	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		url = strings.TrimPrefix(url, scheme)
	}
	if at := strings.Index(url, "@"); at != -1 {
		url = url[at+1:]
	}
	// scp-like syntax: host:org/repo
	if colon := strings.Index(url, ":"); colon != -1 && !strings.Contains(url[:colon], "/") {
		url = url[:colon] + "/" + url[colon+1:]
	}
	url = strings.TrimSuffix(url, ".git")
	return strings.TrimSuffix(url, "/")
}
