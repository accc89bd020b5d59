package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashplane/asicscan/internal/miner"
)

// scriptedIdentifier replays a fixed sequence of identification outcomes
type scriptedIdentifier struct {
	mu      sync.Mutex
	outcome []func() (*miner.Snapshot, error)
	calls   int
}

func (s *scriptedIdentifier) Identify(_ context.Context, _ string) (*miner.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.outcome) {
		i = len(s.outcome) - 1
	}
	return s.outcome[i]()
}

func (s *scriptedIdentifier) SendCommand(_ context.Context, _ string, _ miner.Command) error {
	return nil
}

func pollFailure(addr string) func() (*miner.Snapshot, error) {
	return func() (*miner.Snapshot, error) {
		return nil, &miner.IdentifyError{
			Kind: miner.IdentifyTimeout,
			Addr: addr,
			Err:  errors.New("i/o timeout"),
		}
	}
}

func pollSuccess(addr string, ths float64, taken time.Time) func() (*miner.Snapshot, error) {
	return func() (*miner.Snapshot, error) {
		return testSnapshot(addr, "AA:BB:CC:00:11:55", ths, taken), nil
	}
}

func TestPoller_FailuresLeaveRecordUntouched(t *testing.T) {
	t0 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	reg := New()
	reg.Merge(testSnapshot("10.0.0.5", "AA:BB:CC:00:11:55", 100, t0))

	id := &scriptedIdentifier{outcome: []func() (*miner.Snapshot, error){
		pollFailure("10.0.0.5"),
		pollFailure("10.0.0.5"),
		pollFailure("10.0.0.5"),
	}}
	p := NewPoller(reg, id, "10.0.0.5", DefaultPollInterval)

	for i := 0; i < 3; i++ {
		p.poll()
	}

	if p.Failures() != 3 {
		t.Errorf("Failures() = %d, want 3", p.Failures())
	}
	rec, ok := reg.Get("AA:BB:CC:00:11:55")
	if !ok {
		t.Fatal("record vanished after failed polls")
	}
	if rec.HashrateTHS != 100 || !rec.UpdatedAt.Equal(t0) {
		t.Errorf("record changed by failed polls: ths=%v updated=%v", rec.HashrateTHS, rec.UpdatedAt)
	}
}

func TestPoller_SuccessResetsFailuresAndMerges(t *testing.T) {
	t0 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	reg := New()
	reg.Merge(testSnapshot("10.0.0.5", "AA:BB:CC:00:11:55", 100, t0))

	id := &scriptedIdentifier{outcome: []func() (*miner.Snapshot, error){
		pollFailure("10.0.0.5"),
		pollFailure("10.0.0.5"),
		pollSuccess("10.0.0.5", 108, t0.Add(30*time.Second)),
	}}
	p := NewPoller(reg, id, "10.0.0.5", DefaultPollInterval)

	var samples []*Record
	p.OnSample = func(rec *Record) { samples = append(samples, rec) }

	for i := 0; i < 3; i++ {
		p.poll()
	}

	if p.Failures() != 0 {
		t.Errorf("Failures() = %d after success, want 0", p.Failures())
	}
	rec, _ := reg.Get("AA:BB:CC:00:11:55")
	if rec.HashrateTHS != 108 {
		t.Errorf("HashrateTHS = %v, want 108", rec.HashrateTHS)
	}
	if len(samples) != 1 {
		t.Errorf("OnSample fired %d times, want 1", len(samples))
	}
}

func TestPoller_IntervalClamping(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero selects default", 0, DefaultPollInterval},
		{"below floor clamps up", time.Second, MinPollInterval},
		{"above ceiling clamps down", 5 * time.Minute, MaxPollInterval},
		{"in range passes through", 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPoller(New(), &scriptedIdentifier{outcome: []func() (*miner.Snapshot, error){pollFailure("x")}}, "10.0.0.1", tt.in)
			if p.Interval() != tt.want {
				t.Errorf("Interval() = %v, want %v", p.Interval(), tt.want)
			}
		})
	}
}

func TestPoller_StopIdempotent(t *testing.T) {
	id := &scriptedIdentifier{outcome: []func() (*miner.Snapshot, error){
		pollSuccess("10.0.0.5", 100, time.Now()),
	}}
	p := NewPoller(New(), id, "10.0.0.5", DefaultPollInterval)
	p.Start()
	p.Start() // second Start is a no-op

	p.Stop()
	p.Stop() // second Stop must not panic or hang

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("poller loop did not exit after Stop")
	}
}
