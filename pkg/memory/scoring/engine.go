// Package scoring ranks stored memory events against the current session
// context. The engine is a pure function over manifest summaries: four
// weighted signals (entity overlap, recency, content quality, source quality)
// combine into a score in [0,1], and a selection policy turns scores into a
// budgeted set of events to inject.
package scoring

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/recall/pkg/memory/event"
	"github.com/entrhq/recall/pkg/memory/store"
)

// Weights are the relative contributions of the four signals. They should
// sum to 1 so scores stay in [0,1]; Config.Validate enforces it.
type Weights struct {
	Entity  float64 `yaml:"entity"`
	Recency float64 `yaml:"recency"`
	Content float64 `yaml:"content"`
	Source  float64 `yaml:"source"`
}

// DefaultWeights reflect long-observed tuning: entity overlap dominates,
// recency close behind, content and source convention round it out.
func DefaultWeights() Weights {
	return Weights{Entity: 0.35, Recency: 0.30, Content: 0.20, Source: 0.15}
}

// Entity match tiers. Best single match per event; matches never sum, so an
// event cannot inflate its score by listing many entities.
const (
	matchBasename = 1.0
	matchStem     = 0.6
	matchToken    = 0.5
)

// Content and source quality levels.
const (
	contentConventional = 1.0
	contentFreeform     = 0.4
	sourceDistilled     = 0.8
	sourceDefault       = 1.0
)

// Config holds every tunable of the engine. The decay curve shape is a
// deliberate parameter: the contract is monotonic decay, bounded above zero
// inside the relevance window, never negative.
type Config struct {
	Weights Weights `yaml:"weights"`

	// Threshold is the noise floor; candidates scoring below it are never
	// injected.
	Threshold float64 `yaml:"threshold"`

	// MaxEvents bounds how many events one session start may inject.
	MaxEvents int `yaml:"max_events"`

	// HalfLife controls the exponential recency decay.
	HalfLife time.Duration `yaml:"half_life"`

	// RelevanceWindow is the age within which recency never reaches zero.
	RelevanceWindow time.Duration `yaml:"relevance_window"`

	// RecencyFloor is the minimum recency signal inside the window.
	RecencyFloor float64 `yaml:"recency_floor"`

	// TotalBudget caps the combined character volume of injected text.
	TotalBudget int `yaml:"total_budget"`

	// Per-event character budgets by score band.
	HighBudget   int `yaml:"high_budget"`
	MediumBudget int `yaml:"medium_budget"`
	LowBudget    int `yaml:"low_budget"`

	// Band boundaries.
	HighBand   float64 `yaml:"high_band"`
	MediumBand float64 `yaml:"medium_band"`
}

func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		Threshold:       0.3,
		MaxEvents:       10,
		HalfLife:        14 * 24 * time.Hour,
		RelevanceWindow: 90 * 24 * time.Hour,
		RecencyFloor:    0.05,
		TotalBudget:     8000,
		HighBudget:      700,
		MediumBudget:    400,
		LowBudget:       200,
		HighBand:        0.75,
		MediumBand:      0.5,
	}
}

// Context is the retrieval-time side of scoring: normalized entity tokens
// from the current session, pre-indexed into the three match tiers.
type Context struct {
	now       time.Time
	basenames map[string]bool
	stems     map[string]bool
	tokens    map[string]bool
}

// NewContext indexes the given entities. Tokens containing a dot are treated
// as file basenames and contribute their stem as well; everything else is a
// bare keyword or directory token. Unlike event entities, context entities
// are not capped: a busy session legitimately touches many files.
func NewContext(now time.Time, entities []string) Context {
	c := Context{
		now:       now,
		basenames: make(map[string]bool),
		stems:     make(map[string]bool),
		tokens:    make(map[string]bool),
	}
	for _, raw := range entities {
		e := strings.ToLower(strings.TrimSpace(raw))
		if len(e) < 2 {
			continue
		}
		c.tokens[e] = true
		if ext := filepath.Ext(e); ext != "" && ext != e {
			c.basenames[e] = true
			c.stems[strings.TrimSuffix(e, ext)] = true
		}
	}
	return c
}

// Empty reports whether the context carries no entities at all.
func (c Context) Empty() bool {
	return len(c.tokens) == 0
}

// Engine scores events. It holds configuration only; Score is pure.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Score combines the four weighted signals. Bootstrap-generated events are
// known low signal and are filtered entirely, regardless of other signals.
func (e *Engine) Score(s store.Summary, ctx Context) float64 {
	if s.Type == event.TypeBootstrap {
		return 0
	}
	w := e.cfg.Weights
	return w.Entity*e.entitySignal(s, ctx) +
		w.Recency*e.recencySignal(s.CreatedAt, ctx.now) +
		w.Content*contentSignal(s.Excerpt) +
		w.Source*sourceSignal(s.Source)
}

// entitySignal returns the single best match tier across the event's
// entities.
func (e *Engine) entitySignal(s store.Summary, ctx Context) float64 {
	best := 0.0
	for _, ent := range s.Entities {
		tier := 0.0
		switch {
		case ctx.basenames[ent]:
			tier = matchBasename
		case ctx.stems[ent] || ctx.stems[stem(ent)]:
			tier = matchStem
		case ctx.tokens[ent]:
			tier = matchToken
		}
		if tier > best {
			best = tier
		}
		if best == matchBasename {
			break
		}
	}
	return best
}

func stem(name string) string {
	if ext := filepath.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// recencySignal decays exponentially with age and is floored inside the
// relevance window so a still-relevant event never scores exactly zero.
func (e *Engine) recencySignal(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	decay := math.Exp2(-float64(age) / float64(e.cfg.HalfLife))
	if age <= e.cfg.RelevanceWindow && decay < e.cfg.RecencyFloor {
		return e.cfg.RecencyFloor
	}
	return decay
}

// contentSignal rewards the structured-lesson convention.
func contentSignal(content string) float64 {
	if strings.HasPrefix(content, "LESSON:") || strings.HasPrefix(content, "SCHEMA:") {
		return contentConventional
	}
	return contentFreeform
}

func sourceSignal(source string) float64 {
	if source == "distill-daemon" {
		return sourceDistilled
	}
	return sourceDefault
}
