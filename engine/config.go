package engine

import (
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/arkwell-io/jobengine/internal/backoff"
)

// Priority is one of the three bands the Queue Layer consults in strict order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// coerce returns p if it is one of the three recognized bands, else Normal —
// matching the Queue Layer's contract that an unrecognized priority is
// coerced rather than rejected.
func (p Priority) coerce() Priority {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p
	default:
		return PriorityNormal
	}
}

// PoolType selects which independent worker pool a task runs on. A
// WorkerEntry never migrates between pool types.
type PoolType int

const (
	PoolNormal PoolType = iota
	PoolGenerator
)

// Option configures an Engine at construction time, mirroring the teacher's
// WorkerPoolOption functional-option style.
type Option func(*engineConfig)

type engineConfig struct {
	poolSize            int
	minThreads          int
	maxQueueSize        int
	maxTemporaryWorkers int
	workerIdleTimeout   time.Duration
	functionCacheSize   int
	lowMemoryMode       bool
	resourceLimits      any
	coalescingEnabled   bool
	pinWorkers          bool
	rateLimiter         *rate.Limiter
	logger              Logger
	backoffKind         backoff.BackoffType

	defaultRetry RetryPolicy
}

// Config is the frozen, read-only snapshot of an Engine's configuration,
// returned by Engine.Config(). It is copied by value so callers can never
// mutate a running engine through it.
type Config struct {
	PoolSize            int
	MinThreads          int
	MaxQueueSize        int
	MaxTemporaryWorkers int
	WorkerIdleTimeout   time.Duration
	FunctionCacheSize   int
	LowMemoryMode       bool
	CoalescingEnabled   bool
	PinWorkers          bool
	DefaultRetry        RetryPolicy
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		poolSize:            runtime.GOMAXPROCS(0),
		minThreads:          1,
		maxQueueSize:        1024,
		maxTemporaryWorkers: runtime.GOMAXPROCS(0),
		workerIdleTimeout:   30 * time.Second,
		functionCacheSize:   128,
		coalescingEnabled:   true,
		defaultRetry: RetryPolicy{
			MaxAttempts:   1,
			BaseDelay:     100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
		},
		logger: NewDefaultLogger(),
	}
}

// WithPoolSize sets the number of pooled (non-overflow) workers per pool type.
// If not specified, defaults to runtime.GOMAXPROCS(0).
func WithPoolSize(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithMinThreads sets the floor below which idle reclamation will not shrink
// a pool. Defaults to 1.
func WithMinThreads(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.minThreads = n
		}
	}
}

// WithMaxQueueSize bounds how many QueuedTasks a pool's three bands may hold
// in total before acquire() fails fast with QUEUE_FULL.
func WithMaxQueueSize(n int) Option {
	return func(c *engineConfig) {
		if n >= 0 {
			c.maxQueueSize = n
		}
	}
}

// WithMaxTemporaryWorkers bounds overflow (non-pooled) worker creation.
func WithMaxTemporaryWorkers(n int) Option {
	return func(c *engineConfig) {
		if n >= 0 {
			c.maxTemporaryWorkers = n
		}
	}
}

// WithWorkerIdleTimeout sets how long an idle pooled worker waits before the
// Pool Manager considers reclaiming it.
func WithWorkerIdleTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.workerIdleTimeout = d
		}
	}
}

// WithFunctionCacheSize sets the per-worker function cache capacity recorded
// in Config. The default goroutine worker keeps no function cache and does
// not read this value.
func WithFunctionCacheSize(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.functionCacheSize = n
		}
	}
}

// WithLowMemoryMode disables affinity-set retention on release, trading
// affinity hit rate for a smaller per-worker footprint.
func WithLowMemoryMode(enabled bool) Option {
	return func(c *engineConfig) { c.lowMemoryMode = enabled }
}

// WithCoalescingEnabled toggles the Coalescer globally. Defaults to enabled.
func WithCoalescingEnabled(enabled bool) Option {
	return func(c *engineConfig) { c.coalescingEnabled = enabled }
}

// WithPinWorkers pins each pooled worker's goroutine to a CPU core via
// internal/cpu, the way the teacher's benchmark harness pins goroutines for
// reproducible measurements — here applied per worker for CPU-bound
// callables instead of per benchmark iteration.
func WithPinWorkers(enabled bool) Option {
	return func(c *engineConfig) { c.pinWorkers = enabled }
}

// WithRateLimit throttles dispatch admission across an entire engine,
// enforced by the Task Engine immediately before a worker is dispatched a
// task, reusing the teacher's golang.org/x/time/rate wiring (WithRateLimit
// on WorkerPool, applied at the same point in its own worker loop).
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(c *engineConfig) {
		if tasksPerSecond > 0 && burst > 0 {
			c.rateLimiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithDefaultRetryPolicy sets the RetryPolicy used when a TaskDescriptor does
// not specify one of its own.
func WithDefaultRetryPolicy(p RetryPolicy) Option {
	return func(c *engineConfig) {
		if p.MaxAttempts > 0 {
			c.defaultRetry = p
		}
	}
}

// WithBackoffType overrides the Retry Controller's delay-growth algorithm.
// Defaults to backoff.TypeJittered, matching spec §4.4's jitter formula
// exactly.
func WithBackoffType(kind backoff.BackoffType) Option {
	return func(c *engineConfig) { c.backoffKind = kind }
}

// WithLogger overrides the default logger.
func WithLogger(l Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func (c *engineConfig) snapshot() Config {
	return Config{
		PoolSize:            c.poolSize,
		MinThreads:          c.minThreads,
		MaxQueueSize:        c.maxQueueSize,
		MaxTemporaryWorkers: c.maxTemporaryWorkers,
		WorkerIdleTimeout:   c.workerIdleTimeout,
		FunctionCacheSize:   c.functionCacheSize,
		LowMemoryMode:       c.lowMemoryMode,
		CoalescingEnabled:   c.coalescingEnabled,
		PinWorkers:          c.pinWorkers,
		DefaultRetry:        c.defaultRetry,
	}
}
