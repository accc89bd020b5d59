// Package tui implements the interactive fleet dashboard: a live device
// table fed by the registry, sweep progress while a scan runs, and
// keyboard control of individual miners (pause, resume, fault light,
// web interface, CSV recording).
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hashplane/asicscan/internal/config"
	"github.com/hashplane/asicscan/internal/miner"
	"github.com/hashplane/asicscan/internal/recording"
	"github.com/hashplane/asicscan/internal/registry"
	"github.com/hashplane/asicscan/internal/scan"
)

// refreshPeriod is how often the dashboard re-reads the registry
const refreshPeriod = 500 * time.Millisecond

// recordingDir is where per-device CSV recordings are written
const recordingDir = "recordings"

// tickMsg drives the periodic UI refresh
type tickMsg time.Time

// commandDoneMsg reports the outcome of a miner control command
type commandDoneMsg struct {
	addr string
	cmd  miner.Command
	err  error
}

// sweepStartedMsg delivers the handle of a freshly launched sweep
type sweepStartedMsg struct {
	sweep *scan.Sweep
	err   error
}

// watchKeyMap defines key bindings for the dashboard
type watchKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Scan   key.Binding
	Cancel key.Binding
	Pause  key.Binding
	Resume key.Binding
	Light  key.Binding
	Web    key.Binding
	Record key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Scan, k.Pause, k.Resume, k.Light, k.Web, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Scan, k.Cancel},
		{k.Pause, k.Resume, k.Light, k.Web},
		{k.Record, k.Help, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Scan: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "rescan"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel scan"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause"),
		),
		Resume: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "resume"),
		),
		Light: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "fault light"),
		),
		Web: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "web ui"),
		),
		Record: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "record csv"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Model is the dashboard state
type Model struct {
	cfg        *config.Config
	registry   *registry.Registry
	identifier miner.Identifier
	coord      *scan.Coordinator
	rng        scan.Range

	sweep        *scan.Sweep
	sweepSeen    bool // sweep completion already handled
	sweepPending bool // a start command is in flight
	lastSweep    time.Time

	devices  []*registry.Record
	cursor   int
	status   string
	statusAt time.Time

	pollers   map[string]*registry.Poller
	recorders map[string]*recording.Recorder
	recorded  map[string]time.Time // last UpdatedAt written per recorder

	spinner  spinner.Model
	progress progress.Model
	help     help.Model
	keys     watchKeyMap

	width  int
	height int
}

// NewModel builds the dashboard. The first sweep starts on Init.
func NewModel(cfg *config.Config, reg *registry.Registry, id miner.Identifier, rng scan.Range) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		cfg:          cfg,
		registry:     reg,
		identifier:   id,
		coord:        scan.NewCoordinator(id, reg),
		rng:          rng,
		sweepPending: true, // Init launches the first sweep
		pollers:      make(map[string]*registry.Poller),
		recorders:    make(map[string]*recording.Recorder),
		recorded:     make(map[string]time.Time),
		spinner:      s,
		progress:     bar,
		help:         help.New(),
		keys:         newWatchKeyMap(),
	}
}

// Run starts the dashboard and blocks until the user quits
func Run(cfg *config.Config, reg *registry.Registry, id miner.Identifier, rng scan.Range) error {
	m := NewModel(cfg, reg, id, rng)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init kicks off the first sweep and the refresh loop
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startSweep(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// startSweep returns a command launching a sweep over the configured range.
// The handle comes back in a sweepStartedMsg so Update stores it on the
// model bubbletea keeps, never on a discarded copy.
func (m Model) startSweep() tea.Cmd {
	coord, rng, opts := m.coord, m.rng, m.cfg.SweepOptions()
	return func() tea.Msg {
		s, err := coord.Start(rng, opts)
		return sweepStartedMsg{sweep: s, err: err}
	}
}

func (m *Model) setStatus(text string) {
	m.status = text
	m.statusAt = time.Now()
}

// Update handles all dashboard messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		cmd := m.refresh()
		return m, tea.Batch(tick(), cmd)

	case sweepStartedMsg:
		m.sweepPending = false
		if msg.err != nil {
			m.setStatus(ErrorStyle.Render(msg.err.Error()))
			return m, nil
		}
		m.sweep = msg.sweep
		m.sweepSeen = false
		return m, nil

	case commandDoneMsg:
		if msg.err != nil {
			m.setStatus(ErrorStyle.Render(fmt.Sprintf("%s on %s failed: %v", msg.cmd, msg.addr, msg.err)))
		} else {
			m.setStatus(StatusStyle.Render(fmt.Sprintf("%s sent to %s", msg.cmd, msg.addr)))
		}
		return m, nil
	}

	return m, nil
}

// refresh re-reads the registry, reconciles pollers and recorders, and
// fires the auto-rescan when the interval has passed.
func (m *Model) refresh() tea.Cmd {
	m.devices = m.registry.List()
	if m.cursor >= len(m.devices) {
		m.cursor = len(m.devices) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}

	if m.sweep != nil && m.sweep.State() != scan.StateRunning && !m.sweepSeen {
		m.sweepSeen = true
		m.lastSweep = time.Now()
		p := m.sweep.Progress()
		m.setStatus(StatusStyle.Render(
			fmt.Sprintf("Scan %s: %d of %d addresses, %d miners", m.sweep.State(), p.Completed, p.Total, p.Found)))
		m.attachPollers()
	}

	m.appendRecordings()

	// Status lines expire after a few seconds
	if m.status != "" && time.Since(m.statusAt) > 5*time.Second {
		m.status = ""
	}

	// Auto-rescan once the configured interval has elapsed
	if interval := m.cfg.AutoScanInterval(); interval > 0 &&
		m.sweepSeen && !m.sweepPending && !m.lastSweep.IsZero() && time.Since(m.lastSweep) >= interval {
		m.sweepPending = true
		return m.startSweep()
	}
	return nil
}

// attachPollers starts a poller for every device that lacks one
func (m *Model) attachPollers() {
	for _, rec := range m.devices {
		identity := rec.Identity()
		if _, ok := m.pollers[identity]; ok {
			continue
		}
		p := registry.NewPoller(m.registry, m.identifier, rec.Addr, m.cfg.PollInterval())
		p.Start()
		m.pollers[identity] = p
	}
}

// appendRecordings writes any fresh sample to the active recorders
func (m *Model) appendRecordings() {
	for _, rec := range m.devices {
		identity := rec.Identity()
		r, ok := m.recorders[identity]
		if !ok {
			continue
		}
		if last, ok := m.recorded[identity]; ok && !rec.UpdatedAt.After(last) {
			continue
		}
		if err := r.Append(rec); err != nil {
			m.setStatus(ErrorStyle.Render(fmt.Sprintf("recording %s: %v", rec.Addr, err)))
			continue
		}
		m.recorded[identity] = rec.UpdatedAt
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Scan):
		if m.sweepRunning() || m.sweepPending {
			m.setStatus(SubtitleStyle.Render("A scan is already running"))
			return m, nil
		}
		m.sweepPending = true
		return m, m.startSweep()

	case key.Matches(msg, m.keys.Cancel):
		if m.sweepRunning() {
			m.sweep.Cancel()
		}
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		return m, m.sendCommand(miner.CommandStop)

	case key.Matches(msg, m.keys.Resume):
		return m, m.sendCommand(miner.CommandStart)

	case key.Matches(msg, m.keys.Light):
		return m, m.sendCommand(miner.CommandToggleFaultLight)

	case key.Matches(msg, m.keys.Web):
		if rec := m.selected(); rec != nil {
			if err := miner.OpenWebInterface(rec.Addr); err != nil {
				m.setStatus(ErrorStyle.Render(err.Error()))
			} else {
				m.setStatus(StatusStyle.Render("Opened " + miner.WebURL(rec.Addr)))
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.Record):
		m.toggleRecording()
		return m, nil
	}

	return m, nil
}

func (m Model) sweepRunning() bool {
	return m.sweep != nil && m.sweep.State() == scan.StateRunning
}

func (m Model) selected() *registry.Record {
	if m.cursor < 0 || m.cursor >= len(m.devices) {
		return nil
	}
	return m.devices[m.cursor]
}

// sendCommand dispatches a control command to the selected miner
func (m *Model) sendCommand(cmd miner.Command) tea.Cmd {
	rec := m.selected()
	if rec == nil {
		return nil
	}
	addr := rec.Addr
	id := m.identifier
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), miner.DefaultTimeout)
		defer cancel()
		return commandDoneMsg{addr: addr, cmd: cmd, err: id.SendCommand(ctx, addr, cmd)}
	}
}

// toggleRecording starts or stops the CSV recording for the selection
func (m *Model) toggleRecording() {
	rec := m.selected()
	if rec == nil {
		return
	}
	identity := rec.Identity()

	if r, ok := m.recorders[identity]; ok {
		_ = r.Close()
		delete(m.recorders, identity)
		delete(m.recorded, identity)
		m.setStatus(StatusStyle.Render("Recording stopped: " + r.Path()))
		return
	}

	r, err := recording.NewRecorder(recordingDir, rec)
	if err != nil {
		m.setStatus(ErrorStyle.Render(err.Error()))
		return
	}
	m.recorders[identity] = r
	m.setStatus(StatusStyle.Render("Recording to " + r.Path()))
}

// shutdown stops pollers and closes recorders before the program exits
func (m *Model) shutdown() {
	for _, p := range m.pollers {
		p.Stop()
	}
	for _, r := range m.recorders {
		_ = r.Close()
	}
}

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Starting..."
	}

	var b strings.Builder

	b.WriteString(m.scanLine())
	b.WriteString("\n\n")
	b.WriteString(m.deviceTable())

	if m.status != "" {
		b.WriteString("\n\n")
		b.WriteString(m.status)
	}

	return RenderContainer(b.String(), m.help.View(m.keys), m.width, m.height)
}

// scanLine renders the sweep progress while scanning, or a summary after
func (m Model) scanLine() string {
	if m.sweepRunning() {
		p := m.sweep.Progress()
		frac := 0.0
		if p.Total > 0 {
			frac = float64(p.Completed) / float64(p.Total)
		}
		return fmt.Sprintf("%s Scanning %s  %s  %d/%d done, %d found, %d in flight",
			m.spinner.View(),
			m.rng,
			m.progress.ViewAs(frac),
			p.Completed, p.Total, p.Found, len(p.InFlight),
		)
	}

	line := TitleStyle.Render(fmt.Sprintf("%d miners", len(m.devices)))
	if !m.lastSweep.IsZero() {
		line += SubtitleStyle.Render(fmt.Sprintf("  last scan %s ago", time.Since(m.lastSweep).Round(time.Second)))
	}
	if interval := m.cfg.AutoScanInterval(); interval > 0 {
		line += SubtitleStyle.Render(fmt.Sprintf("  auto-rescan every %s", interval))
	}
	return line
}

const rowFormat = "%-15s  %-17s  %-20s  %9s  %7s  %7s  %6s  %-18s"

// deviceTable renders the live device list
func (m Model) deviceTable() string {
	if len(m.devices) == 0 {
		return SubtitleStyle.Render("No miners found yet")
	}

	var b strings.Builder
	b.WriteString(HeaderRowStyle.Render(fmt.Sprintf(rowFormat,
		"IP", "MAC", "Model", "TH/s", "Temp", "Power", "Fans", "Worker")))
	b.WriteString("\n")

	for i, rec := range m.devices {
		row := fmt.Sprintf(rowFormat,
			rec.Addr,
			rec.MAC,
			truncate(rec.Model, 20),
			fmt.Sprintf("%.1f", rec.HashrateTHS),
			fmt.Sprintf("%.0f°C", rec.AvgTempC),
			fmt.Sprintf("%.0fW", rec.PowerW),
			fanSummary(rec.FanRPM),
			truncate(rec.Worker, 18),
		)

		style := RowStyle
		switch {
		case i == m.cursor:
			style = SelectedRowStyle
		case time.Since(rec.UpdatedAt) > 3*m.cfg.PollInterval():
			// No fresh data for several poll intervals: stale but present
			style = StaleRowStyle
		}

		marks := ""
		if rec.FaultLight {
			marks += FaultStyle.Render(" ⚠")
		}
		if _, recording := m.recorders[rec.Identity()]; recording {
			marks += StatusStyle.Render(" ●")
		}

		b.WriteString(style.Render(row) + marks)
		if i < len(m.devices)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func fanSummary(rpm []int) string {
	if len(rpm) == 0 {
		return "-"
	}
	sum := 0
	for _, r := range rpm {
		sum += r
	}
	return fmt.Sprintf("%d", sum/len(rpm))
}

func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
