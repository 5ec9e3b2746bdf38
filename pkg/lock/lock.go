// Package lock provides a small advisory cross-process file lock used to
// serialize writers of shared JSON files (the event manifest, the distillation
// manifest, per-session injection logs). Hook invocations are short-lived
// independent processes, so in-process mutexes cannot coordinate them; a
// lockfile created with O_EXCL can.
//
// Locks are advisory and crash-tolerant: a lockfile older than its staleness
// window is treated as abandoned by a crashed holder and broken. Every acquire
// is bounded, either by a context deadline or by being a single non-blocking
// attempt, so lock trouble degrades a feature instead of hanging the host.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrContended is returned when the lock could not be acquired within the
// caller's bound. Best-effort callers swallow it and skip their update.
var ErrContended = errors.New("lock: contended")

const (
	// DefaultStaleAfter is how old a lockfile must be before it is treated
	// as abandoned by a crashed process and broken.
	DefaultStaleAfter = 30 * time.Second

	// defaultRetryInterval is the initial backoff between acquire attempts.
	defaultRetryInterval = 20 * time.Millisecond

	// maxRetryInterval caps backoff growth.
	maxRetryInterval = 250 * time.Millisecond
)

// Options configures acquisition behavior.
type Options struct {
	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration

	// RetryInterval overrides the initial backoff when positive.
	RetryInterval time.Duration
}

func (o Options) staleAfter() time.Duration {
	if o.StaleAfter > 0 {
		return o.StaleAfter
	}
	return DefaultStaleAfter
}

func (o Options) retryInterval() time.Duration {
	if o.RetryInterval > 0 {
		return o.RetryInterval
	}
	return defaultRetryInterval
}

// Lock is a held advisory lock. Release is idempotent.
type Lock struct {
	path     string
	released bool
}

// Acquire blocks with backoff until the lock is held or ctx expires.
// Callers on durability-critical paths should pass a context with a
// deadline; expiry returns ErrContended wrapped with the path.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	interval := opts.retryInterval()
	for {
		l, err := attempt(path, opts.staleAfter())
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrContended) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: acquire %s: %w", path, ErrContended)
		case <-time.After(interval):
		}
		if interval *= 2; interval > maxRetryInterval {
			interval = maxRetryInterval
		}
	}
}

// TryAcquire makes a single non-blocking attempt. Used on best-effort paths
// (throttle state, injection log) where contention means "skip this update".
func TryAcquire(path string, opts Options) (*Lock, error) {
	return attempt(path, opts.staleAfter())
}

func attempt(path string, staleAfter time.Duration) (*Lock, error) {
	for tries := 0; tries < 2; tries++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Holder identity is diagnostic only; correctness comes
			// from O_EXCL and the staleness window.
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("lock: write %s: %w", path, cerr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock: create %s: %w", path, err)
		}
		if !breakIfStale(path, staleAfter) {
			return nil, fmt.Errorf("lock: %s held: %w", path, ErrContended)
		}
	}
	return nil, fmt.Errorf("lock: %s held: %w", path, ErrContended)
}

// breakIfStale removes a lockfile whose mtime is older than the staleness
// window. Returns true when a retry is worthwhile.
func breakIfStale(path string, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Holder released between our attempts; retry immediately.
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) < staleAfter {
		return false
	}
	return os.Remove(path) == nil || !fileExists(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Release removes the lockfile. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: release %s: %w", l.path, err)
	}
	return nil
}
