// Package session owns the per-session injection ledger: which events have
// already been placed into the session's context, and how often opportunistic
// recall has fired. The ledger exists so the same event is never injected
// twice in one session and so recall cannot pollute the context without
// bound.
//
// The ledger is session-scoped state. It is written best-effort: every update
// takes a non-blocking lock and fails open on contention, because skipping
// one bookkeeping write is better than stalling a user-visible feature.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/recall/pkg/lock"
	"github.com/entrhq/recall/pkg/security/boundary"
)

// RecalledEvent records one opportunistic mid-session injection.
type RecalledEvent struct {
	ID      string    `json:"id"`
	Score   float64   `json:"score"`
	Trigger string    `json:"trigger"`
	TS      time.Time `json:"ts"`
}

// Log is the on-disk per-session injection record. Invariant: an event ID
// appears at most once across Events and Recalled.
type Log struct {
	SessionID string          `json:"session_id"`
	Events    []string        `json:"events"`
	Recalled  []RecalledEvent `json:"recalled_events"`
}

// Has reports whether the event was already injected this session, through
// either the session-start or the recall path.
func (l *Log) Has(id string) bool {
	for _, e := range l.Events {
		if e == id {
			return true
		}
	}
	for _, r := range l.Recalled {
		if r.ID == id {
			return true
		}
	}
	return false
}

// LastRecall returns the timestamp of the most recent recall, zero if none.
func (l *Log) LastRecall() time.Time {
	var last time.Time
	for _, r := range l.Recalled {
		if r.TS.After(last) {
			last = r.TS
		}
	}
	return last
}

// Ledger reads and writes session logs under a sessions directory.
type Ledger struct {
	dir string
}

func NewLedger(dir string) *Ledger {
	return &Ledger{dir: dir}
}

func (g *Ledger) logPath(sessionID string) (string, error) {
	if err := boundary.ValidateName("session id", sessionID); err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return filepath.Join(g.dir, sessionID+".json"), nil
}

// Load returns the session's log, or a fresh empty log when the file is
// missing or corrupt. Corruption here costs at worst a duplicate injection,
// never a failure.
func (g *Ledger) Load(sessionID string) *Log {
	fresh := &Log{SessionID: sessionID}
	path, err := g.logPath(sessionID)
	if err != nil {
		return fresh
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fresh
	}
	var l Log
	if err := json.Unmarshal(b, &l); err != nil {
		slog.Debug("session: corrupt injection log, starting fresh", "session", sessionID, "err", err)
		return fresh
	}
	l.SessionID = sessionID
	return &l
}

// RecordInjected appends session-start injections to the ledger. Duplicate
// IDs are dropped. Fail-open: lock contention skips the update silently.
func (g *Ledger) RecordInjected(sessionID string, ids []string) error {
	return g.update(sessionID, func(l *Log) {
		for _, id := range ids {
			if !l.Has(id) {
				l.Events = append(l.Events, id)
			}
		}
	})
}

// RecordRecall appends one opportunistic injection. A duplicate ID is a
// no-op, preserving the at-most-once invariant even on racy retries.
func (g *Ledger) RecordRecall(sessionID, id string, score float64, trigger string, ts time.Time) error {
	return g.update(sessionID, func(l *Log) {
		if l.Has(id) {
			return
		}
		l.Recalled = append(l.Recalled, RecalledEvent{ID: id, Score: score, Trigger: trigger, TS: ts})
	})
}

// update performs a best-effort locked read-modify-write. Contention is not
// an error for the caller.
func (g *Ledger) update(sessionID string, mutate func(*Log)) error {
	path, err := g.logPath(sessionID)
	if err != nil {
		return err
	}
	l, err := lock.TryAcquire(path+".lock", lock.Options{})
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			slog.Debug("session: injection log update skipped, lock contended", "session", sessionID)
			return nil
		}
		return err
	}
	defer l.Release()

	logRec := g.Load(sessionID)
	mutate(logRec)

	b, err := json.MarshalIndent(logRec, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal injection log: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("session: write injection log temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("session: rename injection log: %w", err)
	}
	return nil
}
