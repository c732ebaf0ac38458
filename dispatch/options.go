package dispatch

import (
	"fmt"
	"time"

	"github.com/dshills/dispatch-go/dispatch/checkpoint"
	"github.com/dshills/dispatch-go/dispatch/emit"
)

// Defaults applied when no option overrides them.
const (
	// DefaultWorkTimeout is how long an issued item may stay silent before
	// it is eligible for reissue.
	DefaultWorkTimeout = 900 * time.Second

	// DefaultCheckpointInterval is the minimum time between checkpoint
	// writes triggered by completions.
	DefaultCheckpointInterval = 60 * time.Second

	// DefaultMaxRetries is how many times an item is reissued before it is
	// dead-lettered.
	DefaultMaxRetries = 3
)

// Option is a functional option for configuring a Tracker.
//
// Example:
//
//	tracker, err := dispatch.NewTracker(
//	    "input.jsonl", "output.jsonl", "progress.ckpt",
//	    dispatch.WithWorkTimeout(5*time.Minute),
//	    dispatch.WithMaxRetries(2),
//	    dispatch.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	)
type Option func(*trackerConfig) error

// trackerConfig collects options before they are applied to a Tracker.
type trackerConfig struct {
	workTimeout        time.Duration
	checkpointInterval time.Duration
	maxRetries         int
	emitter            emit.Emitter
	metrics            *Metrics
	store              checkpoint.Store
	now                func() time.Time
}

// WithWorkTimeout sets how long an in-flight item may stay silent before it
// becomes eligible for reissue. Default: 900s.
func WithWorkTimeout(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return fmt.Errorf("work timeout must be positive, got %v", d)
		}
		cfg.workTimeout = d
		return nil
	}
}

// WithCheckpointInterval sets the minimum time between checkpoint writes.
// Default: 60s.
func WithCheckpointInterval(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d < 0 {
			return fmt.Errorf("checkpoint interval must not be negative, got %v", d)
		}
		cfg.checkpointInterval = d
		return nil
	}
}

// WithMaxRetries sets how many times an item is reissued after timing out
// before it is dead-lettered with a tombstone result. -1 means unbounded.
// Default: 3.
func WithMaxRetries(n int) Option {
	return func(cfg *trackerConfig) error {
		if n < -1 {
			return fmt.Errorf("max retries must be >= -1, got %d", n)
		}
		cfg.maxRetries = n
		return nil
	}
}

// WithEmitter sets the observability emitter. Default: emit.NewNullEmitter().
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return fmt.Errorf("emitter must not be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics sets the Prometheus metrics collector. Default: none.
func WithMetrics(m *Metrics) Option {
	return func(cfg *trackerConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithCheckpointStore replaces the default file-based checkpoint store.
// When set, the checkpointPath argument to NewTracker is ignored and may be
// empty.
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore("./progress.db", "run-7")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tracker, err := dispatch.NewTracker(in, out, "", dispatch.WithCheckpointStore(store))
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(cfg *trackerConfig) error {
		if s == nil {
			return fmt.Errorf("checkpoint store must not be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithClock replaces the wall clock, letting tests control issue timestamps
// and checkpoint timing.
func WithClock(now func() time.Time) Option {
	return func(cfg *trackerConfig) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		cfg.now = now
		return nil
	}
}
