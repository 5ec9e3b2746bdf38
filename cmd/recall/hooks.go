package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/memory/archive"
	"github.com/entrhq/recall/pkg/memory/distill"
	"github.com/entrhq/recall/pkg/memory/inject"
	"github.com/entrhq/recall/pkg/memory/scoring"
	"github.com/entrhq/recall/pkg/memory/session"
	"github.com/entrhq/recall/pkg/memory/store"
	"github.com/entrhq/recall/pkg/tokenizer"
)

// core bundles the wired components one hook invocation needs.
type core struct {
	cfg      config.Config
	store    *store.FileStore
	engine   *scoring.Engine
	ledger   *session.Ledger
	manifest *distill.Manifest
}

func buildCore(ctx context.Context) (*core, func(), error) {
	cfg := loadConfig()
	cleanup := setupLogging(cfg)

	key := store.ProjectKey(ctx, workingDir)
	fs, err := store.NewFileStore(cfg.StoreRoot, key, store.Options{})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return &core{
		cfg:    cfg,
		store:  fs,
		engine: scoring.NewEngine(cfg.EngineConfig()),
		ledger: session.NewLedger(fs.SessionsDir()),
		manifest: distill.NewManifest(fs.RawDir(), distill.Options{
			InProgressTimeout: cfg.InProgressTimeout(),
			BatchSize:         cfg.Distill.BatchSize,
		}),
	}, cleanup, nil
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-start",
		Short: "Inject the highest-scoring memory events into a new session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, cleanup, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tok, err := tokenizer.New()
			if err != nil {
				slog.Warn("recall: tokenizer unavailable, estimating", "err", err)
			}
			loader := inject.NewLoader(c.store, c.engine, c.ledger, inject.LoaderOptions{
				CandidatePool: c.cfg.Inject.CandidatePool,
				MaxTokens:     c.cfg.Inject.MaxTokens,
				Tok:           tok,
			})
			patterns := c.cfg.Inject.IgnorePatterns
			if patterns == nil {
				patterns = inject.DefaultIgnorePatterns
			}
			entities := inject.EntitiesFromPaths(changedFiles(ctx), inject.CompileIgnore(patterns))
			block, err := loader.SessionStart(ctx, sessionID, entities)
			if err != nil {
				return err
			}
			if block != "" {
				fmt.Print(block)
			}
			return nil
		},
	}
}

func postToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post-tool [paths...]",
		Short: "Opportunistically recall one relevant event after file-touching tool use",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			recaller := inject.NewRecaller(c.store, c.engine, c.ledger, inject.RecallerOptions{
				Throttle:      session.NewThrottle(c.cfg.Throttle.MaxRecalls, c.cfg.Cooldown()),
				Ignore:        c.cfg.Inject.IgnorePatterns,
				CandidatePool: c.cfg.Inject.CandidatePool,
			})
			if text, ok := recaller.OnToolUse(ctx, sessionID, "post-tool", args); ok {
				fmt.Print(text)
			}
			return nil
		},
	}
}

func snapshotCmd(use, short string, trigger archive.Trigger) *cobra.Command {
	var transcript string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, cleanup, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			archiver := archive.NewArchiver(c.store.RawDir())
			name, err := archiver.Snapshot(ctx, transcript, sessionID, trigger)
			if err != nil {
				return err
			}
			slog.Info("recall: transcript archived", "name", name, "trigger", trigger)
			return nil
		},
	}
	cmd.Flags().StringVar(&transcript, "transcript", "", "path to the raw session transcript")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func preCompactCmd() *cobra.Command {
	return snapshotCmd("pre-compact", "Snapshot the transcript before the host compacts context", archive.TriggerPreCompaction)
}

func sessionEndCmd() *cobra.Command {
	return snapshotCmd("session-end", "Snapshot the transcript when the session terminates", archive.TriggerSessionEnd)
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Claim the next batch of unprocessed transcripts and print their digests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, cleanup, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			pipeline := distill.NewPipeline(c.manifest, c.store.RawDir(), distill.PipelineOptions{
				DigestBudget:   c.cfg.Distill.DigestBudget,
				MinDigestChars: c.cfg.Distill.MinDigestChars,
			})
			digests, err := pipeline.PendingDigests(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(digests)
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Store extracted lessons and mark their transcript processed (reads JSON on stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, cleanup, err := buildCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var req distill.CompletionRequest
			if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
				return fmt.Errorf("recall: decode completion request: %w", err)
			}
			completer := distill.NewCompleter(c.store, c.manifest)
			stored, err := completer.Complete(ctx, req)
			if err != nil {
				return err
			}
			slog.Info("recall: completion recorded", "transcript", req.Transcript, "lessons", stored)
			return nil
		},
	}
}

// changedFiles asks git for the working tree's modified paths: the best
// cheap signal for what this session is about. Any git trouble yields an
// empty context, which simply weakens entity matching.
func changedFiles(ctx context.Context) []string {
	gctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(gctx, "git", "status", "--porcelain")
	cmd.Dir = workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		slog.Debug("recall: git status unavailable", "err", err)
		return nil
	}
	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	return paths
}
