// Package logging wires slog to a per-invocation debug log file. Hook
// invocations are short-lived sibling processes sharing one store, so their
// logs append to a shared session file named by a generated invocation ID.
//
// The log directory is passed in explicitly; nothing in this package reads
// process-wide state, and setup never fails hard: when the directory or file
// cannot be created the logger falls back to stderr so memory features keep
// working without diagnostics on disk.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Setup installs the default slog handler writing to <dir>/<id>-recall.log
// at the given level. It returns a cleanup func closing the file, and the
// error that forced a stderr fallback, if any; callers may log the error but
// should not abort on it.
func Setup(dir string, level slog.Level) (cleanup func(), err error) {
	cleanup = func() {}
	opts := &slog.HandlerOptions{Level: level}

	if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return cleanup, fmt.Errorf("logging: create log dir %s: %w", dir, mkErr)
	}

	path := filepath.Join(dir, uuid.NewString()+"-recall.log")
	f, openErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if openErr != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return cleanup, fmt.Errorf("logging: open log file %s: %w", path, openErr)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return func() { _ = f.Close() }, nil
}
