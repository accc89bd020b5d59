package scan

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashplane/asicscan/internal/logging"
	"go.uber.org/zap"
)

// Defaults for the adaptive permit pool
const (
	// DefaultInitialPermits is the conservative starting concurrency
	DefaultInitialPermits = 4

	// DefaultMaxPermits is the hard ceiling on concurrency
	DefaultMaxPermits = 64

	// minPermits is the hard floor; a sweep always makes forward progress
	minPermits = 1

	// DefaultLatencyBand is the acceptable attempt latency. Successful
	// attempts slower than this count against the permit pool.
	DefaultLatencyBand = 1500 * time.Millisecond

	// DefaultIncreaseChance is the probability a fast success grows the pool
	DefaultIncreaseChance = 0.5
)

// ErrLimiterClosed is returned by Acquire after the limiter is closed
var ErrLimiterClosed = errors.New("limiter closed")

// LimiterConfig tunes an adaptive limiter. Zero values take defaults.
type LimiterConfig struct {
	Initial        int
	Ceiling        int
	LatencyBand    time.Duration
	IncreaseChance float64
}

// outcome is a worker's report of one completed identification attempt
type outcome struct {
	latency time.Duration
	failed  bool
}

// Limiter is an adaptive counting semaphore bounding in-flight
// identification attempts. Workers acquire a permit before dispatching an
// attempt and release it with the attempt's outcome; a single feedback
// goroutine owns the capacity and applies additive-increase /
// multiplicative-decrease to it. Workers never mutate the bound directly.
//
// State does not persist across sweeps: every sweep builds a fresh limiter
// starting from the initial permit count.
type Limiter struct {
	latencyBand    time.Duration
	increaseChance float64
	ceiling        int

	permits  chan struct{}
	outcomes chan outcome
	done     chan struct{}
	closer   sync.Once

	// capacity is owned by the feedback goroutine; the atomic mirrors it
	// for observers
	capacity int
	debt     int
	limit    atomic.Int64

	rng *rand.Rand
}

// NewLimiter creates an adaptive limiter and starts its feedback goroutine.
// Callers must Close it when the sweep ends.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitialPermits
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultMaxPermits
	}
	if cfg.Initial > cfg.Ceiling {
		cfg.Initial = cfg.Ceiling
	}
	if cfg.LatencyBand <= 0 {
		cfg.LatencyBand = DefaultLatencyBand
	}
	if cfg.IncreaseChance <= 0 {
		cfg.IncreaseChance = DefaultIncreaseChance
	}

	l := &Limiter{
		latencyBand:    cfg.LatencyBand,
		increaseChance: cfg.IncreaseChance,
		ceiling:        cfg.Ceiling,
		permits:        make(chan struct{}, cfg.Ceiling),
		outcomes:       make(chan outcome),
		done:           make(chan struct{}),
		capacity:       cfg.Initial,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.limit.Store(int64(cfg.Initial))

	for i := 0; i < cfg.Initial; i++ {
		l.permits <- struct{}{}
	}

	go l.run()
	return l
}

// Acquire blocks until a permit is available, the context is done, or the
// limiter is closed.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLimiterClosed
	}
}

// Release returns a permit together with the attempt's outcome. The
// feedback goroutine decides whether the permit comes back alone, with a
// bonus permit, or not at all.
func (l *Limiter) Release(latency time.Duration, failed bool) {
	select {
	case l.outcomes <- outcome{latency: latency, failed: failed}:
	case <-l.done:
	}
}

// Limit returns the current permit capacity, for observability
func (l *Limiter) Limit() int {
	return int(l.limit.Load())
}

// Close stops the feedback goroutine and unblocks pending acquires.
// Idempotent.
func (l *Limiter) Close() {
	l.closer.Do(func() { close(l.done) })
}

// run is the feedback controller. It is the only goroutine that touches
// capacity and debt, so no lock guards them.
func (l *Limiter) run() {
	for {
		select {
		case <-l.done:
			return
		case o := <-l.outcomes:
			old := l.capacity
			switch {
			case o.failed || o.latency > l.latencyBand:
				// Multiplicative decrease down to the floor
				l.capacity /= 2
				if l.capacity < minPermits {
					l.capacity = minPermits
				}
			case l.rng.Float64() < l.increaseChance:
				// Probabilistic additive increase up to the ceiling
				if l.capacity < l.ceiling {
					l.capacity++
				}
			}

			if l.capacity != old {
				l.limit.Store(int64(l.capacity))
				logging.Debug("Permit capacity adjusted",
					zap.Int("from", old),
					zap.Int("to", l.capacity),
					zap.Bool("failed", o.failed),
					zap.Duration("latency", o.latency),
				)
			}

			// The released permit plus the capacity delta decide how many
			// tokens flow back. A shrink leaves a debt that swallows
			// future releases until the pool matches the new capacity.
			credit := 1 + (l.capacity - old)
			if credit < 0 {
				l.debt += -credit
				credit = 0
			}
			if l.debt > 0 && credit > 0 {
				pay := l.debt
				if pay > credit {
					pay = credit
				}
				l.debt -= pay
				credit -= pay
			}
			for i := 0; i < credit; i++ {
				select {
				case l.permits <- struct{}{}:
				default:
					// Pool already at ceiling capacity
				}
			}
		}
	}
}
