package distill

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDigestBudget is the character cap applied to every digest,
	// regardless of transcript size.
	DefaultDigestBudget = 10000

	// DefaultMinDigestChars is the floor below which a transcript is
	// skipped as too low-signal for lesson extraction.
	DefaultMinDigestChars = 200

	// digestParallelism bounds concurrent transcript reads.
	digestParallelism = 4
)

// ExtractDigest produces the bounded text excerpt handed to the external
// lesson-extraction step. The transform is deterministic and favors the most
// recent conversation turns: whole lines are kept from the end of the
// transcript until the budget is spent.
func ExtractDigest(path string, budget int) (string, error) {
	if budget <= 0 {
		budget = DefaultDigestBudget
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("distill: read transcript %s: %w", path, err)
	}
	text := strings.TrimRight(string(b), "\n")
	if len(text) <= budget {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	size := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := len(lines[i]) + 1
		if size+cost > budget {
			break
		}
		size += cost
		start = i
	}
	if start == len(lines) {
		// A single turn larger than the whole budget: keep its tail,
		// advancing past any multi-byte rune the cut would split.
		last := lines[len(lines)-1]
		at := len(last) - budget
		for at < len(last) && !utf8.RuneStart(last[at]) {
			at++
		}
		return last[at:], nil
	}
	return strings.Join(lines[start:], "\n"), nil
}

// Digest pairs a transcript name with its extracted excerpt.
type Digest struct {
	Transcript string
	Text       string
}

// Pipeline strings the manifest and digest extraction together: it claims
// the next batch of unprocessed transcripts, skips the ones whose digest is
// too thin, and hands the rest over marked in-progress.
type Pipeline struct {
	manifest *Manifest
	rawDir   string
	budget   int
	minChars int
}

// PipelineOptions tunes a Pipeline. Zero values select defaults.
type PipelineOptions struct {
	DigestBudget   int
	MinDigestChars int
}

func NewPipeline(manifest *Manifest, rawDir string, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		manifest: manifest,
		rawDir:   rawDir,
		budget:   opts.DigestBudget,
		minChars: opts.MinDigestChars,
	}
	if p.budget <= 0 {
		p.budget = DefaultDigestBudget
	}
	if p.minChars <= 0 {
		p.minChars = DefaultMinDigestChars
	}
	return p
}

// PendingDigests extracts digests for the next batch of unprocessed
// transcripts in bounded parallel, marks too-short ones skipped locally
// (without involving the external step), and marks the returned ones
// in-progress. Transcripts that fail to read are left for a later retry.
func (p *Pipeline) PendingDigests(ctx context.Context) ([]Digest, error) {
	names, err := p.manifest.UnprocessedTranscripts(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	texts := make([]string, len(names))
	failed := make([]bool, len(names))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(digestParallelism)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			text, err := ExtractDigest(filepath.Join(p.rawDir, name), p.budget)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Debug("distill: digest extraction failed, will retry", "transcript", name, "err", err)
				failed[i] = true
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Digest
	for i, name := range names {
		if failed[i] {
			continue
		}
		text := texts[i]
		if len(text) < p.minChars {
			if err := p.manifest.MarkStatus(ctx, name, StatusSkipped, nil, 0); err != nil {
				slog.Debug("distill: failed to mark short transcript skipped", "transcript", name, "err", err)
			}
			continue
		}
		if err := p.manifest.MarkStatus(ctx, name, StatusInProgress, nil, 0); err != nil {
			slog.Debug("distill: failed to claim transcript", "transcript", name, "err", err)
			continue
		}
		out = append(out, Digest{Transcript: name, Text: text})
	}
	return out, nil
}
