package passport

import (
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/memtrace/types"
)

// RiskLevel grades how likely a foreign function is to take or release
// ownership of memory passed to it.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// FunctionCategory classifies a resolved foreign function.
type FunctionCategory string

const (
	CategoryAllocation   FunctionCategory = "allocation"
	CategoryDeallocation FunctionCategory = "deallocation"
	CategoryMemoryOp     FunctionCategory = "memory_op"
	CategoryStringOp     FunctionCategory = "string_op"
	CategoryIO           FunctionCategory = "io"
	CategoryOther        FunctionCategory = "other"
)

// ResolvedFunction is the classification of one foreign function name.
type ResolvedFunction struct {
	Name           string           `json:"name"`
	Category       FunctionCategory `json:"category"`
	Risk           RiskLevel        `json:"risk"`
	Library        string           `json:"library,omitempty"`
	TakesOwnership bool             `json:"takes_ownership"`
}

// ResolverConfig controls the foreign function resolver.
type ResolverConfig struct {
	// ResolutionTimeout bounds a single resolution; exceeding it
	// returns a PerformanceError.
	ResolutionTimeout time.Duration
	// CacheResults keeps resolved classifications for reuse.
	CacheResults bool
}

// DefaultResolverConfig returns the resolver defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		ResolutionTimeout: 100 * time.Millisecond,
		CacheResults:      true,
	}
}

// ResolverStats counts resolution outcomes.
type ResolverStats struct {
	Resolutions     uint64 `json:"resolutions"`
	CacheHits       uint64 `json:"cache_hits"`
	TimeoutFailures uint64 `json:"timeout_failures"`
}

// Resolver classifies foreign function names by category and ownership
// risk. Known libc/system allocator entry points resolve from a builtin
// database; everything else is classified heuristically by name.
type Resolver struct {
	config ResolverConfig

	mu    sync.Mutex
	cache map[string]ResolvedFunction
	stats ResolverStats
}

// NewResolver creates a resolver with the given config.
func NewResolver(config ResolverConfig) *Resolver {
	return &Resolver{
		config: config,
		cache:  make(map[string]ResolvedFunction),
	}
}

// builtin classifications for common allocator and memory entry points.
var builtinFunctions = map[string]ResolvedFunction{
	"malloc":   {Name: "malloc", Category: CategoryAllocation, Risk: RiskHigh, Library: "libc", TakesOwnership: true},
	"calloc":   {Name: "calloc", Category: CategoryAllocation, Risk: RiskHigh, Library: "libc", TakesOwnership: true},
	"realloc":  {Name: "realloc", Category: CategoryAllocation, Risk: RiskCritical, Library: "libc", TakesOwnership: true},
	"free":     {Name: "free", Category: CategoryDeallocation, Risk: RiskCritical, Library: "libc", TakesOwnership: true},
	"memcpy":   {Name: "memcpy", Category: CategoryMemoryOp, Risk: RiskMedium, Library: "libc"},
	"memmove":  {Name: "memmove", Category: CategoryMemoryOp, Risk: RiskMedium, Library: "libc"},
	"memset":   {Name: "memset", Category: CategoryMemoryOp, Risk: RiskLow, Library: "libc"},
	"strcpy":   {Name: "strcpy", Category: CategoryStringOp, Risk: RiskHigh, Library: "libc"},
	"strdup":   {Name: "strdup", Category: CategoryStringOp, Risk: RiskHigh, Library: "libc", TakesOwnership: true},
	"read":     {Name: "read", Category: CategoryIO, Risk: RiskMedium, Library: "libc"},
	"write":    {Name: "write", Category: CategoryIO, Risk: RiskMedium, Library: "libc"},
}

// Resolve classifies a foreign function name. Results are cached when
// configured. Exceeding the resolution timeout returns a
// PerformanceError and counts a timeout failure.
func (r *Resolver) Resolve(functionName string) (ResolvedFunction, error) {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Resolutions++

	if r.config.CacheResults {
		if cached, ok := r.cache[functionName]; ok {
			r.stats.CacheHits++
			return cached, nil
		}
	}

	resolved, ok := builtinFunctions[functionName]
	if !ok {
		resolved = classifyByName(functionName)
	}

	if elapsed := time.Since(start); elapsed > r.config.ResolutionTimeout {
		r.stats.TimeoutFailures++
		return ResolvedFunction{}, types.NewTrackError(types.KindPerformanceError,
			"function resolution timeout for %q after %s", functionName, elapsed)
	}

	if r.config.CacheResults {
		r.cache[functionName] = resolved
	}
	return resolved, nil
}

// Stats returns a snapshot of resolver counters.
func (r *Resolver) Stats() ResolverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ClearDatabase drops all cached classifications.
func (r *Resolver) ClearDatabase() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]ResolvedFunction)
}

// classifyByName is the heuristic fallback for unknown functions.
func classifyByName(name string) ResolvedFunction {
	lower := strings.ToLower(name)
	out := ResolvedFunction{Name: name, Category: CategoryOther, Risk: RiskLow}
	switch {
	case strings.Contains(lower, "alloc"):
		out.Category = CategoryAllocation
		out.Risk = RiskHigh
		out.TakesOwnership = true
	case strings.Contains(lower, "free") || strings.Contains(lower, "release") || strings.Contains(lower, "destroy"):
		out.Category = CategoryDeallocation
		out.Risk = RiskCritical
		out.TakesOwnership = true
	case strings.HasPrefix(lower, "mem"):
		out.Category = CategoryMemoryOp
		out.Risk = RiskMedium
	case strings.HasPrefix(lower, "str"):
		out.Category = CategoryStringOp
		out.Risk = RiskMedium
	case strings.Contains(lower, "read") || strings.Contains(lower, "write") || strings.Contains(lower, "open"):
		out.Category = CategoryIO
		out.Risk = RiskMedium
	}
	return out
}
