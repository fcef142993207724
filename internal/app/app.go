package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/brain"
	"github.com/bantz-ai/bantz/internal/codec"
	"github.com/bantz-ai/bantz/internal/compose"
	"github.com/bantz-ai/bantz/internal/gate"
	"github.com/bantz-ai/bantz/internal/guard"
	"github.com/bantz-ai/bantz/internal/hybrid"
	"github.com/bantz-ai/bantz/internal/idempotency"
	"github.com/bantz-ai/bantz/internal/llm"
	"github.com/bantz-ai/bantz/internal/memory"
	"github.com/bantz-ai/bantz/internal/obs"
	"github.com/bantz-ai/bantz/internal/profile"
	"github.com/bantz-ai/bantz/internal/report"
	"github.com/bantz-ai/bantz/internal/risk"
	"github.com/bantz-ai/bantz/internal/router"
	"github.com/bantz-ai/bantz/internal/tools"
)

// App owns every runtime component and their storage handles.
type App struct {
	Config  Config
	Brain   *brain.Brain
	State   *brain.State
	Tracker *obs.RunTracker
	Bus     *obs.Bus
	Metrics *obs.MetricsLog
	Idem    *idempotency.Store

	memManager *memory.Manager
	log        zerolog.Logger
}

// New builds the full pipeline from configuration. The returned App must be
// Closed to release SQLite handles and end the session.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	metrics := obs.NewMetricsLog(cfg.MetricsFile, cfg.MetricsEnabled)

	tracker, err := obs.NewRunTracker(cfg.TrackerDBPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	bus := obs.NewBus(0)

	store, err := memory.OpenStore(cfg.MemoryDBPath)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	// Keep the dialog database bounded to what reload would ever read.
	if cfg.MemoryMaxSessions > 0 {
		if err := store.PruneOldSessions(ctx, cfg.MemoryMaxSessions); err != nil {
			log.Warn().Err(err).Msg("old sessions not pruned")
		}
	}
	memManager, err := memory.NewManager(ctx, store, cfg.MemoryMaxSessions, cfg.MemoryMaxTurns, cfg.MemoryPIIFilter, log)
	if err != nil {
		store.Close()
		tracker.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	idem := idempotency.NewStore(cfg.IdempotencyStore)

	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.ProfilePath).Msg("profile unreadable; continuing without it")
	}
	personality, err := profile.LoadPersonality(cfg.PersonalityPath)
	if err != nil {
		log.Warn().Err(err).Msg("personality unreadable; using default")
		personality = profile.DefaultPersonality
	}
	builder := compose.NewBuilder(prof, personality, cfg.MemoryPIIFilter, log)

	risks := risk.NewRegistry()
	registry := tools.NewRegistry(risks)
	if err := RegisterBuiltinTools(registry, idem); err != nil {
		memManager.Close(ctx)
		tracker.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	executor := tools.NewExecutor(registry, risks, bus, log)

	routerProvider := &llm.Provider{
		Client:  llm.NewOpenAIClient(cfg.RouterBaseURL, cfg.RouterAPIKey),
		Model:   cfg.RouterModel,
		Backend: "vllm",
	}
	rt := router.NewRouter(routerProvider, metrics, log)

	finalizerProvider := buildFinalizer(cfg)

	limiter := gate.NewLimiter(cfg.QualityRateLimit, cfg.RateWindowSeconds)
	policy := gate.NewPolicy(gate.Mode(cfg.FinalizerMode), limiter, log)
	if cfg.QualityScoreThreshold > 0 {
		policy.QualityThreshold = cfg.QualityScoreThreshold
	}
	if cfg.FastMaxThreshold > 0 {
		policy.FastMaxThreshold = cfg.FastMaxThreshold
	}
	if cfg.MinComplexityForQuality > 0 {
		policy.MinComplexity = cfg.MinComplexityForQuality
	}
	if cfg.MinWritingForQuality > 0 {
		policy.MinWriting = cfg.MinWritingForQuality
	}
	policy.SetPatterns(cfg.QualityBypassPatterns, cfg.ForceQualityPatterns)

	g := &guard.Guard{}
	orch := hybrid.NewOrchestrator(rt, finalizerProvider, policy, g, metrics, log)
	orch.GuardEnabled = cfg.NoNewFactsGuard

	br := brain.New(memManager, builder, orch, executor, registry, tracker, bus, log)

	return &App{
		Config:     cfg,
		Brain:      br,
		State:      brain.NewState(memManager.SessionID()),
		Tracker:    tracker,
		Bus:        bus,
		Metrics:    metrics,
		Idem:       idem,
		memManager: memManager,
		log:        log.With().Str("stage", "app").Logger(),
	}, nil
}

// buildFinalizer returns nil when the quality tier is disabled: the kill
// switch is off, or cloud mode forbids a remote finalizer.
func buildFinalizer(cfg Config) *llm.Provider {
	if !cfg.FinalizeWithFinalizer {
		return nil
	}
	if cfg.CloudMode == "local" && cfg.FinalizerType == "quality" {
		return nil
	}
	backend := "vllm"
	if cfg.FinalizerType == "quality" {
		backend = "gemini"
	}
	return &llm.Provider{
		Client:          llm.NewOpenAIClient(cfg.FinalizerBaseURL, cfg.FinalizerAPIKey),
		Model:           cfg.FinalizerModel,
		Backend:         backend,
		ProbeTimeout:    2 * time.Second,
		AvailabilityTTL: time.Minute,
	}
}

// ProcessTurn runs one turn against the app's session state.
func (a *App) ProcessTurn(ctx context.Context, userInput string) codec.Output {
	out, state := a.Brain.ProcessTurn(ctx, userInput, a.State)
	a.State = state
	return out
}

// LatestRunReport renders the report of the most recent run and stores it
// (with a PDF rendition) as run artifacts. Returns the Markdown.
func (a *App) LatestRunReport(ctx context.Context) (string, error) {
	runs, err := a.Tracker.ListRuns(ctx, 1, 0)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("henüz kayıtlı çalışma yok")
	}
	var entries []obs.Metric
	if a.Metrics.Enabled() {
		if loaded, loadErr := obs.Load(a.Config.MetricsFile); loadErr == nil {
			entries = loaded
		}
	}
	md, err := report.BuildMarkdown(ctx, a.Tracker, runs[0].RunID, entries)
	if err != nil {
		return "", err
	}
	if _, _, err := report.SaveRunReport(ctx, a.Tracker, runs[0].RunID, entries, true); err != nil {
		a.log.Warn().Err(err).Msg("run report artifacts not stored")
	}
	return md, nil
}

// Close ends the session and releases every storage handle.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.memManager.Close(ctx); err != nil {
		firstErr = err
	}
	if err := a.Tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
