// Package config holds every tunable of the compound memory core in one
// explicit structure. Components never read process-wide state; the
// resolved Config is passed into each constructor, which keeps tests able to
// run against temporary directories and custom knobs.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/recall/pkg/memory/scoring"
	"github.com/entrhq/recall/pkg/memory/session"
)

// Config is the full configuration tree, loadable from YAML.
type Config struct {
	// StoreRoot is the directory holding all project-scoped stores.
	StoreRoot string `yaml:"store_root"`

	Scoring  ScoringConfig  `yaml:"scoring"`
	Inject   InjectConfig   `yaml:"inject"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Distill  DistillConfig  `yaml:"distill"`
}

// ScoringConfig mirrors the engine tunables in file-friendly units. The
// weight split and curve shape are tunable parameters behind a fixed
// contract (monotonic decay, floored inside the relevance window).
type ScoringConfig struct {
	EntityWeight  float64 `yaml:"entity_weight"`
	RecencyWeight float64 `yaml:"recency_weight"`
	ContentWeight float64 `yaml:"content_weight"`
	SourceWeight  float64 `yaml:"source_weight"`

	Threshold           float64 `yaml:"threshold"`
	MaxEvents           int     `yaml:"max_events"`
	HalfLifeDays        float64 `yaml:"half_life_days"`
	RelevanceWindowDays float64 `yaml:"relevance_window_days"`
	RecencyFloor        float64 `yaml:"recency_floor"`

	TotalBudget  int     `yaml:"total_budget"`
	HighBudget   int     `yaml:"high_budget"`
	MediumBudget int     `yaml:"medium_budget"`
	LowBudget    int     `yaml:"low_budget"`
	HighBand     float64 `yaml:"high_band"`
	MediumBand   float64 `yaml:"medium_band"`
}

// InjectConfig bounds the injection surface.
type InjectConfig struct {
	CandidatePool  int      `yaml:"candidate_pool"`
	MaxTokens      int      `yaml:"max_tokens"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// ThrottleConfig bounds opportunistic recall per session.
type ThrottleConfig struct {
	MaxRecalls      int `yaml:"max_recalls"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// DistillConfig bounds the distillation pipeline.
type DistillConfig struct {
	BatchSize                int `yaml:"batch_size"`
	InProgressTimeoutMinutes int `yaml:"in_progress_timeout_minutes"`
	DigestBudget             int `yaml:"digest_budget"`
	MinDigestChars           int `yaml:"min_digest_chars"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	sc := scoring.DefaultConfig()
	return Config{
		StoreRoot: defaultStoreRoot(),
		Scoring: ScoringConfig{
			EntityWeight:        sc.Weights.Entity,
			RecencyWeight:       sc.Weights.Recency,
			ContentWeight:       sc.Weights.Content,
			SourceWeight:        sc.Weights.Source,
			Threshold:           sc.Threshold,
			MaxEvents:           sc.MaxEvents,
			HalfLifeDays:        sc.HalfLife.Hours() / 24,
			RelevanceWindowDays: sc.RelevanceWindow.Hours() / 24,
			RecencyFloor:        sc.RecencyFloor,
			TotalBudget:         sc.TotalBudget,
			HighBudget:          sc.HighBudget,
			MediumBudget:        sc.MediumBudget,
			LowBudget:           sc.LowBudget,
			HighBand:            sc.HighBand,
			MediumBand:          sc.MediumBand,
		},
		Inject: InjectConfig{
			CandidatePool: 100,
			MaxTokens:     2500,
		},
		Throttle: ThrottleConfig{
			MaxRecalls:      session.DefaultMaxRecalls,
			CooldownSeconds: int(session.DefaultCooldown.Seconds()),
		},
		Distill: DistillConfig{
			BatchSize:                3,
			InProgressTimeoutMinutes: 30,
			DigestBudget:             10000,
			MinDigestChars:           200,
		},
	}
}

func defaultStoreRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// Load overlays a YAML file onto the defaults. A missing file is not an
// error; a malformed one is, and the caller decides whether to fall back.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Default(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate rejects configurations that would break the scoring contract.
func (c Config) Validate() error {
	sum := c.Scoring.EntityWeight + c.Scoring.RecencyWeight + c.Scoring.ContentWeight + c.Scoring.SourceWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("config: score weights must sum to 1.0 (got %.3f)", sum)
	}
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold >= 1 {
		return fmt.Errorf("config: threshold must be in [0,1) (got %.3f)", c.Scoring.Threshold)
	}
	if c.Scoring.MaxEvents <= 0 || c.Scoring.TotalBudget <= 0 {
		return fmt.Errorf("config: max_events and total_budget must be positive")
	}
	if c.Scoring.HalfLifeDays <= 0 || c.Scoring.RelevanceWindowDays <= 0 {
		return fmt.Errorf("config: decay parameters must be positive")
	}
	return nil
}

// EngineConfig converts the file representation into the scoring engine's
// native configuration.
func (c Config) EngineConfig() scoring.Config {
	day := 24 * time.Hour
	return scoring.Config{
		Weights: scoring.Weights{
			Entity:  c.Scoring.EntityWeight,
			Recency: c.Scoring.RecencyWeight,
			Content: c.Scoring.ContentWeight,
			Source:  c.Scoring.SourceWeight,
		},
		Threshold:       c.Scoring.Threshold,
		MaxEvents:       c.Scoring.MaxEvents,
		HalfLife:        time.Duration(c.Scoring.HalfLifeDays * float64(day)),
		RelevanceWindow: time.Duration(c.Scoring.RelevanceWindowDays * float64(day)),
		RecencyFloor:    c.Scoring.RecencyFloor,
		TotalBudget:     c.Scoring.TotalBudget,
		HighBudget:      c.Scoring.HighBudget,
		MediumBudget:    c.Scoring.MediumBudget,
		LowBudget:       c.Scoring.LowBudget,
		HighBand:        c.Scoring.HighBand,
		MediumBand:      c.Scoring.MediumBand,
	}
}

// Cooldown returns the throttle cooldown as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Throttle.CooldownSeconds) * time.Second
}

// InProgressTimeout returns the distillation abandonment timeout.
func (c Config) InProgressTimeout() time.Duration {
	return time.Duration(c.Distill.InProgressTimeoutMinutes) * time.Minute
}
