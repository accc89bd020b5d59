package scan

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/hashplane/asicscan/internal/logging"
	"github.com/hashplane/asicscan/internal/miner"
	"github.com/hashplane/asicscan/internal/registry"
	"go.uber.org/zap"
)

// DefaultRetries is how many additional identification attempts follow a
// transient failure. Retries count attempts BEYOND the first: Retries=2
// allows up to three attempts total.
const DefaultRetries = 2

// State is the lifecycle state of a sweep
type State int

const (
	// StateRunning means addresses are still being worked
	StateRunning State = iota + 1
	// StateCompleted means every address reached a terminal state
	StateCompleted
	// StateCancelled means the sweep was cancelled before completing
	StateCancelled
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options tunes one sweep
type Options struct {
	// IdentifyTimeout bounds a single identification attempt (default 5s)
	IdentifyTimeout time.Duration

	// Retries is the number of additional attempts after a transient
	// failure. Zero means a single attempt; negative selects DefaultRetries.
	Retries int

	// PortCheck enables the cheap reachability probe before identification
	PortCheck bool

	// ProbeTimeout bounds the reachability probe (default 5s)
	ProbeTimeout time.Duration

	// Limiter tunes the adaptive concurrency bound
	Limiter LimiterConfig
}

// withDefaults fills unset option fields
func (o Options) withDefaults() Options {
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = miner.DefaultTimeout
	}
	if o.Retries < 0 {
		o.Retries = DefaultRetries
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

// Progress is a point-in-time view of a running sweep. Completed and Found
// are monotonically non-decreasing while the sweep runs and freeze on
// cancellation.
type Progress struct {
	Total     int
	Completed int
	Found     int
	InFlight  []string
}

// Coordinator starts sweeps against a registry using a device identifier
type Coordinator struct {
	identifier miner.Identifier
	registry   *registry.Registry
	probePort  int

	// probeDial overrides the reachability dial, for tests
	probeDial dialFunc
}

// NewCoordinator creates a sweep coordinator. Identified devices are merged
// into reg as they resolve.
func NewCoordinator(id miner.Identifier, reg *registry.Registry) *Coordinator {
	return &Coordinator{
		identifier: id,
		registry:   reg,
		probePort:  miner.DefaultAPIPort,
	}
}

// SetProbePort overrides the TCP port used by the reachability probe
func (c *Coordinator) SetProbePort(port int) {
	c.probePort = port
}

// Start validates the range and launches the sweep asynchronously.
// The only failure surfaced here is ErrInvalidRange; every per-address
// failure during the sweep is recovered locally and reflected in progress.
func (c *Coordinator) Start(rng Range, opts Options) (*Sweep, error) {
	if !rng.Start.IsValid() || !rng.End.IsValid() {
		return nil, fmt.Errorf("%w: unset endpoint", ErrInvalidRange)
	}
	if rng.End.Less(rng.Start) {
		return nil, fmt.Errorf("%w: end %s is below start %s", ErrInvalidRange, rng.End, rng.Start)
	}

	opts = opts.withDefaults()
	total := rng.Count()

	buf := total
	if buf > 256 {
		buf = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweep{
		rng:      rng,
		opts:     opts,
		total:    total,
		state:    StateRunning,
		inFlight: make(map[string]struct{}),
		results:  make(chan *registry.Record, buf),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	logging.LogSweep("started", total, 0, 0)
	go s.run(c)
	return s, nil
}

// Sweep is one asynchronous execution of a scan over an address range
type Sweep struct {
	rng   Range
	opts  Options
	total int

	mu        sync.Mutex
	state     State
	completed int
	found     int
	inFlight  map[string]struct{}

	results chan *registry.Record
	done    chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// Progress returns a consistent snapshot of the sweep counters.
// Safe to call from any goroutine at any time.
func (s *Sweep) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	inflight := make([]string, 0, len(s.inFlight))
	for addr := range s.inFlight {
		inflight = append(inflight, addr)
	}
	sort.Strings(inflight)

	return Progress{
		Total:     s.total,
		Completed: s.completed,
		Found:     s.found,
		InFlight:  inflight,
	}
}

// State returns the sweep lifecycle state
func (s *Sweep) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns the stream of identified devices in completion order.
// The channel is closed when the sweep completes or is cancelled; it is
// finite and not restartable.
func (s *Sweep) Results() <-chan *registry.Record {
	return s.results
}

// Done returns a channel closed when every worker has exited
func (s *Sweep) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the sweep reaches a terminal state
func (s *Sweep) Wait() {
	<-s.done
}

// Cancel requests cooperative cancellation: progress freezes immediately,
// no new identification attempts are dispatched, and in-flight attempts are
// abandoned once they finish or time out naturally. Idempotent.
func (s *Sweep) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateRunning {
			s.state = StateCancelled
		}
		s.mu.Unlock()
		s.cancel()
	})
}

// run executes the sweep and closes the result stream when done.
// Addresses are dispatched through a fixed pool of workers sized to the
// permit ceiling, so the reachability probes are bounded the same way the
// identification attempts are; a wide range never bursts one connect per
// address onto the network.
func (s *Sweep) run(c *Coordinator) {
	limiter := NewLimiter(s.opts.Limiter)
	defer limiter.Close()

	prober := &Prober{Port: c.probePort, Timeout: s.opts.ProbeTimeout, dialer: c.probeDial}

	workers := s.opts.Limiter.Ceiling
	if workers <= 0 {
		workers = DefaultMaxPermits
	}
	if workers > s.total {
		workers = s.total
	}

	addrs := make(chan netip.Addr)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range addrs {
				s.scanAddress(c, limiter, prober, addr)
			}
		}()
	}

feed:
	for addr := range s.rng.Addrs() {
		select {
		case addrs <- addr:
		case <-s.ctx.Done():
			break feed
		}
	}
	close(addrs)
	wg.Wait()

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateCompleted
	}
	final := s.state
	completed, found := s.completed, s.found
	s.mu.Unlock()

	close(s.results)
	close(s.done)
	logging.LogSweep(final.String(), s.total, completed, found)
}

// scanAddress drives one address through its state machine:
// Pending -> Probing -> Identifying -> {Identified, Failed}, where an
// unreachable probe is terminal without identification.
func (s *Sweep) scanAddress(c *Coordinator, limiter *Limiter, prober *Prober, addr netip.Addr) {
	ip := addr.String()

	if s.opts.PortCheck {
		result := prober.Probe(s.ctx, addr)
		if s.ctx.Err() != nil {
			// Probe aborted by cancellation; the address never reached a
			// terminal state, so it does not count as completed.
			return
		}
		if result != Reachable {
			logging.Debug("Address culled by probe",
				zap.String("addr", ip),
				zap.String("result", result.String()),
			)
			s.settle(false)
			return
		}
	}

	s.markInFlight(ip, true)
	defer s.markInFlight(ip, false)

	attempts := s.opts.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if s.ctx.Err() != nil {
			// No new attempts after cancellation
			return
		}
		if err := limiter.Acquire(s.ctx); err != nil {
			return
		}

		start := time.Now()
		attemptCtx, cancelAttempt := context.WithTimeout(context.Background(), s.opts.IdentifyTimeout)
		snap, err := c.identifier.Identify(attemptCtx, ip)
		cancelAttempt()
		latency := time.Since(start)

		limiter.Release(latency, err != nil)
		logging.LogIdentify(ip, attempt, err)

		if err == nil {
			if s.ctx.Err() != nil {
				// Attempt finished after cancellation: abandoned, not merged
				return
			}
			rec := c.registry.Merge(snap)
			s.settle(true)
			select {
			case s.results <- rec:
			case <-s.ctx.Done():
			}
			return
		}

		if !miner.IsTransient(err) {
			// Definitive failure (protocol mismatch): no retry
			break
		}
	}

	// Retries exhausted or definitive failure. Any pre-existing record for
	// this identity is left untouched.
	s.settle(false)
}

// settle marks one address terminal. Counters freeze once the sweep leaves
// the running state.
func (s *Sweep) settle(found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.completed++
	if found {
		s.found++
	}
}

// markInFlight tracks which addresses are currently identifying
func (s *Sweep) markInFlight(ip string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.inFlight[ip] = struct{}{}
	} else {
		delete(s.inFlight, ip)
	}
}
