package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hashplane/asicscan/internal/config"
	"github.com/hashplane/asicscan/internal/miner"
	"github.com/hashplane/asicscan/internal/registry"
	"github.com/hashplane/asicscan/internal/scan"
)

type stubIdentifier struct{}

func (stubIdentifier) Identify(_ context.Context, addr string) (*miner.Snapshot, error) {
	return &miner.Snapshot{Addr: addr, Model: "Antminer S19", HashrateTHS: 104.5, Taken: time.Now()}, nil
}

func (stubIdentifier) SendCommand(context.Context, string, miner.Command) error {
	return nil
}

// collect runs a command tree and flattens batches into their messages
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var msgs []tea.Msg
		for _, c := range msg {
			msgs = append(msgs, collect(c)...)
		}
		return msgs
	default:
		return []tea.Msg{msg}
	}
}

func testModel(t *testing.T) Model {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Scan.PortCheck = false
	cfg.Scan.AutoScanSecs = 0

	rng, err := scan.ParseRange("127.0.0.1", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	return NewModel(cfg, registry.New(), stubIdentifier{}, rng)
}

func TestWatch_InitDeliversSweepHandle(t *testing.T) {
	m := testModel(t)

	// Init returns value receivers' commands only; the sweep handle must
	// come back as a message so it survives onto the updated model.
	var started *sweepStartedMsg
	for _, msg := range collect(m.Init()) {
		if s, ok := msg.(sweepStartedMsg); ok {
			started = &s
		}
	}
	if started == nil {
		t.Fatal("Init produced no sweep start message")
	}
	if started.err != nil {
		t.Fatal(started.err)
	}

	next, _ := m.Update(*started)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	if got.sweep == nil {
		t.Fatal("sweep handle missing from the updated model")
	}
	if got.sweepPending {
		t.Error("sweepPending still set after the handle arrived")
	}

	got.sweep.Wait()

	// The next refresh tick sees completion and attaches a poller
	next, _ = got.Update(tickMsg(time.Now()))
	got = next.(Model)
	if !got.sweepSeen {
		t.Error("sweep completion not observed on refresh")
	}
	if len(got.pollers) != 1 {
		t.Errorf("pollers = %d, want 1", len(got.pollers))
	}
	got.shutdown()
}

func TestWatch_ScanKeyGuardsPendingStart(t *testing.T) {
	m := testModel(t)
	m.sweepPending = true

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	if cmd != nil {
		t.Error("scan key issued a second start while one was pending")
	}
	got := next.(Model)
	if got.status == "" {
		t.Error("expected a status line explaining the running scan")
	}
}
