// Package app wires the configuration and every runtime component into a
// running assistant.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the assistant daemon.
type Config struct {
	// Router (fast tier) LLM endpoint.
	RouterBaseURL string `yaml:"router_base_url"`
	RouterModel   string `yaml:"router_model"`
	RouterAPIKey  string `yaml:"router_api_key"`

	// Finalizer (quality tier) LLM endpoint.
	FinalizerBaseURL string `yaml:"finalizer_base_url"`
	FinalizerModel   string `yaml:"finalizer_model"`
	FinalizerAPIKey  string `yaml:"finalizer_api_key"`
	// FinalizerType selects "quality" (remote) vs "local".
	FinalizerType string `yaml:"finalizer_type"`
	// FinalizeWithFinalizer is the kill-switch; default on.
	FinalizeWithFinalizer bool `yaml:"finalize_with_finalizer"`
	// CloudMode "local" disables any cloud finalizer regardless of flags.
	CloudMode string `yaml:"cloud_mode"`

	// Quality gate.
	FinalizerMode           string  `yaml:"finalizer_mode"` // auto | always | never
	QualityScoreThreshold   float64 `yaml:"quality_score_threshold"`
	FastMaxThreshold        float64 `yaml:"fast_max_threshold"`
	MinComplexityForQuality float64 `yaml:"min_complexity_for_quality"`
	MinWritingForQuality    float64 `yaml:"min_writing_for_quality"`
	QualityRateLimit        int     `yaml:"quality_rate_limit"`
	RateWindowSeconds       int     `yaml:"rate_window_seconds"`
	QualityBypassPatterns   string  `yaml:"quality_bypass_patterns"`
	ForceQualityPatterns    string  `yaml:"force_quality_patterns"`

	// Grounding guard.
	NoNewFactsGuard bool `yaml:"no_new_facts_guard"`

	// Storage paths.
	MemoryDBPath     string `yaml:"memory_db_path"`
	TrackerDBPath    string `yaml:"tracker_db_path"`
	IdempotencyStore string `yaml:"idempotency_store"`

	// Memory reload limits.
	MemoryMaxSessions int  `yaml:"memory_max_sessions"`
	MemoryMaxTurns    int  `yaml:"memory_max_turns"`
	MemoryPIIFilter   bool `yaml:"memory_pii_filter"`

	// Metrics.
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsFile    string `yaml:"metrics_file"`

	// Profile.
	ProfilePath     string `yaml:"profile_path"`
	PersonalityPath string `yaml:"personality_path"`

	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the baseline configuration rooted under ~/.bantz.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".bantz")
	return Config{
		RouterBaseURL:         "http://127.0.0.1:8000/v1",
		RouterModel:           "qwen2.5-3b-instruct",
		FinalizerBaseURL:      "http://127.0.0.1:8001/v1",
		FinalizerModel:        "qwen2.5-14b-instruct",
		FinalizerType:         "local",
		FinalizeWithFinalizer: true,
		FinalizerMode:         "auto",
		NoNewFactsGuard:       true,
		MemoryDBPath:          filepath.Join(base, "memory.db"),
		TrackerDBPath:         filepath.Join(base, "runs.db"),
		IdempotencyStore:      filepath.Join(base, "idempotency.json"),
		MemoryMaxSessions:     5,
		MemoryMaxTurns:        50,
		MemoryPIIFilter:       true,
		MetricsFile:           filepath.Join(base, "llm_metrics.jsonl"),
		ProfilePath:           filepath.Join(base, "profile.md"),
		PersonalityPath:       filepath.Join(base, "personality.md"),
	}
}

// LoadConfigFile reads a YAML config file. A missing file yields the zero
// config without error. Callers layer the result under flags and env via
// MergeUnset.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// MergeUnset fills dst's zero-valued fields from src. Booleans that default
// on (kill-switch, guard, PII filter) are handled by the caller since a zero
// bool is indistinguishable from an explicit false.
func MergeUnset(dst *Config, src Config) {
	mergeStr := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	mergeInt := func(d *int, s int) {
		if *d == 0 {
			*d = s
		}
	}
	mergeFloat := func(d *float64, s float64) {
		if *d == 0 {
			*d = s
		}
	}
	mergeStr(&dst.RouterBaseURL, src.RouterBaseURL)
	mergeStr(&dst.RouterModel, src.RouterModel)
	mergeStr(&dst.RouterAPIKey, src.RouterAPIKey)
	mergeStr(&dst.FinalizerBaseURL, src.FinalizerBaseURL)
	mergeStr(&dst.FinalizerModel, src.FinalizerModel)
	mergeStr(&dst.FinalizerAPIKey, src.FinalizerAPIKey)
	mergeStr(&dst.FinalizerType, src.FinalizerType)
	mergeStr(&dst.CloudMode, src.CloudMode)
	mergeStr(&dst.FinalizerMode, src.FinalizerMode)
	mergeFloat(&dst.QualityScoreThreshold, src.QualityScoreThreshold)
	mergeFloat(&dst.FastMaxThreshold, src.FastMaxThreshold)
	mergeFloat(&dst.MinComplexityForQuality, src.MinComplexityForQuality)
	mergeFloat(&dst.MinWritingForQuality, src.MinWritingForQuality)
	mergeInt(&dst.QualityRateLimit, src.QualityRateLimit)
	mergeInt(&dst.RateWindowSeconds, src.RateWindowSeconds)
	mergeStr(&dst.QualityBypassPatterns, src.QualityBypassPatterns)
	mergeStr(&dst.ForceQualityPatterns, src.ForceQualityPatterns)
	mergeStr(&dst.MemoryDBPath, src.MemoryDBPath)
	mergeStr(&dst.TrackerDBPath, src.TrackerDBPath)
	mergeStr(&dst.IdempotencyStore, src.IdempotencyStore)
	mergeInt(&dst.MemoryMaxSessions, src.MemoryMaxSessions)
	mergeInt(&dst.MemoryMaxTurns, src.MemoryMaxTurns)
	mergeStr(&dst.MetricsFile, src.MetricsFile)
	mergeStr(&dst.ProfilePath, src.ProfilePath)
	mergeStr(&dst.PersonalityPath, src.PersonalityPath)
}
