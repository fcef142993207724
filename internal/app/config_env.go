package app

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.RouterBaseURL == "" {
		cfg.RouterBaseURL = os.Getenv("ROUTER_BASE_URL")
	}
	if cfg.RouterModel == "" {
		cfg.RouterModel = os.Getenv("ROUTER_MODEL")
	}
	if cfg.RouterAPIKey == "" {
		cfg.RouterAPIKey = os.Getenv("ROUTER_API_KEY")
	}

	if cfg.FinalizerBaseURL == "" {
		cfg.FinalizerBaseURL = os.Getenv("FINALIZER_BASE_URL")
	}
	if cfg.FinalizerModel == "" {
		cfg.FinalizerModel = os.Getenv("FINALIZER_MODEL")
	}
	if cfg.FinalizerAPIKey == "" {
		cfg.FinalizerAPIKey = os.Getenv("FINALIZER_API_KEY")
	}
	if cfg.FinalizerType == "" {
		cfg.FinalizerType = os.Getenv("FINALIZER_TYPE")
	}
	if cfg.CloudMode == "" {
		cfg.CloudMode = os.Getenv("CLOUD_MODE")
	}
	if cfg.FinalizerMode == "" {
		cfg.FinalizerMode = os.Getenv("FINALIZER_MODE")
	}

	if cfg.QualityScoreThreshold == 0 {
		cfg.QualityScoreThreshold = envFloat("QUALITY_SCORE_THRESHOLD")
	}
	if cfg.FastMaxThreshold == 0 {
		cfg.FastMaxThreshold = envFloat("FAST_MAX_THRESHOLD")
	}
	if cfg.MinComplexityForQuality == 0 {
		cfg.MinComplexityForQuality = envFloat("MIN_COMPLEXITY_FOR_QUALITY")
	}
	if cfg.MinWritingForQuality == 0 {
		cfg.MinWritingForQuality = envFloat("MIN_WRITING_FOR_QUALITY")
	}
	if cfg.QualityRateLimit == 0 {
		cfg.QualityRateLimit = envInt("QUALITY_RATE_LIMIT")
	}
	if cfg.RateWindowSeconds == 0 {
		cfg.RateWindowSeconds = envInt("RATE_WINDOW_SECONDS")
	}
	if cfg.QualityBypassPatterns == "" {
		cfg.QualityBypassPatterns = os.Getenv("QUALITY_BYPASS_PATTERNS")
	}
	if cfg.ForceQualityPatterns == "" {
		cfg.ForceQualityPatterns = os.Getenv("FORCE_QUALITY_PATTERNS")
	}

	if cfg.MemoryDBPath == "" {
		cfg.MemoryDBPath = os.Getenv("MEMORY_DB_PATH")
	}
	if cfg.MemoryMaxSessions == 0 {
		cfg.MemoryMaxSessions = envInt("MEMORY_MAX_SESSIONS")
	}
	if cfg.MemoryMaxTurns == 0 {
		cfg.MemoryMaxTurns = envInt("MEMORY_MAX_TURNS")
	}
	if cfg.IdempotencyStore == "" {
		cfg.IdempotencyStore = os.Getenv("IDEMPOTENCY_STORE")
	}
	if cfg.MetricsFile == "" {
		cfg.MetricsFile = os.Getenv("LLM_METRICS_FILE")
	}
}

// ApplyEnvOverrides applies env switches that win over both file and
// defaults. These are the operational kill-switches and toggles.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v, ok := envBool("FINALIZE_WITH_FINALIZER"); ok {
		cfg.FinalizeWithFinalizer = v
	}
	if v, ok := envBool("NO_NEW_FACTS_GUARD"); ok {
		cfg.NoNewFactsGuard = v
	}
	if v, ok := envBool("MEMORY_PII_FILTER"); ok {
		cfg.MemoryPIIFilter = v
	}
	if v, ok := envBool("LLM_METRICS_ENABLED"); ok {
		cfg.MetricsEnabled = v
	}
	if mode := strings.TrimSpace(os.Getenv("FINALIZER_MODE")); mode != "" {
		cfg.FinalizerMode = mode
	}
	if mode := strings.TrimSpace(os.Getenv("CLOUD_MODE")); mode != "" {
		cfg.CloudMode = mode
	}
}

func envInt(name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return 0
	}
	return n
}

func envFloat(name string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(name)), 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
