package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Dispatcher is what the Coalescer sits in front of: the Retry Controller's
// Execute method, in the normal wiring (spec §2's data flow: Coalescer ->
// Retry Controller -> Task Engine).
type Dispatcher func(ctx context.Context, d TaskDescriptor) *Future[any]

// nonDeterminismPatterns is the fixed set spec §4.5 describes: time
// sources, random sources, UUID generators, process high-resolution
// clocks. Since this module's Callable is a native Go function value
// rather than marshalled source text (spec §1's out-of-scope serialization
// boundary), the pattern match runs against TaskDescriptor.Source — a
// caller-supplied descriptive tag that defaults to the callable's
// runtime-resolved qualified name — instead of literal source text. See
// DESIGN.md for this substitution.
var nonDeterminismPatterns = []string{
	"time.Now", "time.Since", "time.Until",
	"rand.", "math/rand",
	"uuid.", "NewUUID", "NewV4", "NewRandom",
	"runtime.nano", "hrtime", "MonotonicNow",
}

// maxPatternCacheSize and the half-clear-on-overflow policy mirror the
// affinity set's bounded-reset idiom (spec §4.1/§9) applied to the
// Coalescer's own bounded cache (spec §4.5).
const maxPatternCacheSize = 500

// Coalescer is the Coalescer (C5): deduplicates in-flight requests keyed on
// (fingerprint, args, env) so that K identical submissions share one
// dispatch and one future.
type Coalescer struct {
	cfg     *engineConfig
	metrics *metrics

	mu       sync.Mutex
	inFlight map[string]*Future[any]

	patternMu    sync.Mutex
	patternCache map[string]bool
}

// NewCoalescer wires a Coalescer against the engine's configuration and
// metrics bag.
func NewCoalescer(cfg *engineConfig, m *metrics) *Coalescer {
	return &Coalescer{
		cfg:          cfg,
		metrics:      m,
		inFlight:     make(map[string]*Future[any]),
		patternCache: make(map[string]bool),
	}
}

// Execute runs d through the Coalescer in front of next. Coalescing is
// skipped entirely (no counters touched, no in-flight bookkeeping) when
// disabled globally, when d.NoCoalesce is set, or when the callable's
// Source matches a non-determinism pattern (spec §4.5's skip rules).
func (c *Coalescer) Execute(ctx context.Context, d TaskDescriptor, next Dispatcher) *Future[any] {
	if !c.cfg.coalescingEnabled || d.NoCoalesce || c.isNonDeterministic(d) {
		return next(ctx, d)
	}

	key := c.key(d)

	c.mu.Lock()
	if shared, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		c.metrics.coalescedCount.Add(1)
		return shared
	}

	future := next(ctx, d)
	c.inFlight[key] = future
	c.mu.Unlock()
	c.metrics.uniqueCount.Add(1)

	go func() {
		<-future.Done()
		c.mu.Lock()
		if c.inFlight[key] == future {
			delete(c.inFlight, key)
		}
		c.mu.Unlock()
	}()

	return future
}

// key computes the InFlightKey: fingerprint joined with the structural
// keys of args and env (spec §3, §4.5).
func (c *Coalescer) key(d TaskDescriptor) string {
	var b strings.Builder
	fp := d.resolveFingerprint()
	b.WriteString(strconv.FormatUint(uint64(fp), 16))
	b.WriteByte('|')
	b.WriteString(structuralKeyOfArgs(d.Args))
	b.WriteByte('|')
	b.WriteString(structuralKeyOfEnv(d.Env))
	return b.String()
}

// isNonDeterministic reports whether d's callable is known-unsafe to
// coalesce, caching the verdict per Source string (bounded at
// maxPatternCacheSize, half-cleared on overflow — spec §4.5).
func (c *Coalescer) isNonDeterministic(d TaskDescriptor) bool {
	source := d.Source
	if source == "" {
		source = callableSourceHint(d.Callable)
	}
	if source == "" {
		return false
	}

	c.patternMu.Lock()
	defer c.patternMu.Unlock()

	if v, ok := c.patternCache[source]; ok {
		return v
	}

	if len(c.patternCache) >= maxPatternCacheSize {
		halfClear(c.patternCache)
	}

	v := matchesNonDeterminismPattern(source)
	c.patternCache[source] = v
	return v
}

func matchesNonDeterminismPattern(source string) bool {
	for _, p := range nonDeterminismPatterns {
		if strings.Contains(source, p) {
			return true
		}
	}
	return false
}

// halfClear drops roughly half of m's entries, the bounded-cache idiom
// spec §4.5 asks for as an alternative to tracking LRU order.
func halfClear(m map[string]bool) {
	target := len(m) / 2
	for k := range m {
		if target <= 0 {
			return
		}
		delete(m, k)
		target--
	}
}

// Snapshot returns the Coalescer's own read view (spec §4.5): coalesced,
// unique, current in-flight count, and the coalescing rate.
func (c *Coalescer) Snapshot() CoalesceSnapshot {
	coalesced := c.metrics.coalescedCount.Load()
	unique := c.metrics.uniqueCount.Load()

	c.mu.Lock()
	inFlight := len(c.inFlight)
	c.mu.Unlock()

	total := coalesced + unique
	var rate float64
	if total > 0 {
		rate = float64(coalesced) / float64(total)
	}

	return CoalesceSnapshot{Coalesced: coalesced, Unique: unique, InFlight: inFlight, Rate: rate}
}
