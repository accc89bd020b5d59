package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashplane/asicscan/internal/logging"
	"github.com/hashplane/asicscan/internal/miner"
	"go.uber.org/zap"
)

// Poll interval bounds. Requested intervals are clamped into this window.
const (
	DefaultPollInterval = 10 * time.Second
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 60 * time.Second
)

// Poller periodically re-identifies one miner and merges each fresh
// snapshot into the registry. A failed poll leaves the record untouched
// and only bumps the consecutive-failure counter; the device stays listed
// with its last good data until it answers again.
type Poller struct {
	addr       string
	interval   time.Duration
	identifier miner.Identifier
	registry   *Registry

	// OnSample, when set, receives a copy of each successfully merged
	// record. Used by CSV recorders and the telemetry feed. Set before
	// Start.
	OnSample func(*Record)

	failures atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewPoller creates a poller for addr. The interval is clamped to the
// [MinPollInterval, MaxPollInterval] window; zero selects the default.
// The poller does not run until Start.
func NewPoller(reg *Registry, id miner.Identifier, addr string, interval time.Duration) *Poller {
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if interval > MaxPollInterval {
		interval = MaxPollInterval
	}
	return &Poller{
		addr:       addr,
		interval:   interval,
		identifier: id,
		registry:   reg,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Interval returns the effective (clamped) poll interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Failures returns the current consecutive-failure count. Observability
// only: no failure count changes registry contents.
func (p *Poller) Failures() int {
	return int(p.failures.Load())
}

// Start launches the poll loop. The first poll fires immediately.
// Calling Start more than once has no effect.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.loop()
	})
}

// Stop halts the loop and waits for it to exit. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Poller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), miner.DefaultTimeout)
	snap, err := p.identifier.Identify(ctx, p.addr)
	cancel()

	if err != nil {
		n := p.failures.Add(1)
		logging.Debug("Poll failed",
			zap.String("addr", p.addr),
			zap.Int64("consecutive_failures", n),
			zap.Error(err),
		)
		return
	}

	p.failures.Store(0)
	rec := p.registry.Merge(snap)
	if p.OnSample != nil {
		p.OnSample(rec)
	}
}
