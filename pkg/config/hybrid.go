package config

import (
	"os"
	"strconv"
)

// HybridConfig holds the environment-tunable parameters for the hybrid
// inference stack (circuit breaker, model router, compaction gate). Unlike
// Config/SystemConfig, which are sourced from config.json/system.json and
// hot-reloaded via WatchConfig, these values rarely change per-deployment
// and are read once from the environment at startup.
type HybridConfig struct {
	// PrimaryModel, ExtendedModel, FallbackModel name the three upstream
	// models the ModelRouter chooses between, in priority order.
	PrimaryModel  string
	ExtendedModel string
	FallbackModel string

	// MaxFunctionCalls bounds a single FunctionCallingLoop invocation.
	MaxFunctionCalls int

	// CircuitFailureThreshold and CircuitRecoverySeconds configure the
	// per-model circuit breaker.
	CircuitFailureThreshold int
	CircuitRecoverySeconds  int

	// ExtendedContextThreshold is the token count at or above which the
	// router skips straight to the extended-context model.
	ExtendedContextThreshold int

	// SafetyFallbackTextThreshold is the character-count threshold below
	// which a SAFETY-finished response is treated as a truncation artifact.
	SafetyFallbackTextThreshold int

	// HistoryKeep is read from the environment but is not passed to the
	// engine, which always loads its own default of 30 most recent messages
	// per turn through HistoryStore.Recent.
	HistoryKeep int

	// CompactionRatio is the fraction of a model's token limit at which the
	// compaction gate fires.
	CompactionRatio float64
}

// DefaultHybridConfig returns the documented defaults for every hybrid
// inference parameter, used whenever its environment variable is unset.
func DefaultHybridConfig() *HybridConfig {
	return &HybridConfig{
		PrimaryModel:                "primary",
		ExtendedModel:               "extended",
		FallbackModel:               "fallback",
		MaxFunctionCalls:            5,
		CircuitFailureThreshold:     5,
		CircuitRecoverySeconds:      60,
		ExtendedContextThreshold:    150000,
		SafetyFallbackTextThreshold: 800,
		HistoryKeep:                 30,
		CompactionRatio:             0.75,
	}
}

// LoadHybridConfigEnv layers environment overrides on top of
// DefaultHybridConfig. Unset or malformed numeric variables fall back to
// the default silently, mirroring LoadSystemConfig's fail-open posture.
func LoadHybridConfigEnv() *HybridConfig {
	cfg := DefaultHybridConfig()

	if v := os.Getenv("PRIMARY_MODEL"); v != "" {
		cfg.PrimaryModel = v
	}
	if v := os.Getenv("EXTENDED_MODEL"); v != "" {
		cfg.ExtendedModel = v
	}
	if v := os.Getenv("FALLBACK_MODEL"); v != "" {
		cfg.FallbackModel = v
	}

	cfg.MaxFunctionCalls = envInt("MAX_FUNCTION_CALLS", cfg.MaxFunctionCalls)
	cfg.CircuitFailureThreshold = envInt("CIRCUIT_FAILURE_THRESHOLD", cfg.CircuitFailureThreshold)
	cfg.CircuitRecoverySeconds = envInt("CIRCUIT_RECOVERY_SECONDS", cfg.CircuitRecoverySeconds)
	cfg.ExtendedContextThreshold = envInt("EXTENDED_CONTEXT_THRESHOLD", cfg.ExtendedContextThreshold)
	cfg.SafetyFallbackTextThreshold = envInt("SAFETY_FALLBACK_TEXT_THRESHOLD", cfg.SafetyFallbackTextThreshold)
	cfg.HistoryKeep = envInt("HISTORY_KEEP", cfg.HistoryKeep)
	cfg.CompactionRatio = envFloat("COMPACTION_RATIO", cfg.CompactionRatio)

	return cfg
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
