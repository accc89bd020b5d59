package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hashplane/asicscan/internal/config"
	"github.com/hashplane/asicscan/internal/discovery"
	"github.com/hashplane/asicscan/internal/miner"
	"github.com/hashplane/asicscan/internal/recording"
	"github.com/hashplane/asicscan/internal/registry"
	"github.com/hashplane/asicscan/internal/scan"
	"github.com/hashplane/asicscan/internal/server"
	"github.com/hashplane/asicscan/internal/tui"
)

// Command flags
var (
	apiPort      int
	savedName    string
	retries      int
	timeoutSecs  int
	noPortCheck  bool
	outputFormat string
	exportPath   string
	serveHost    string
	servePort    int
	scanTimeout  int
)

func init() {
	rootCmd.PersistentFlags().IntVar(&apiPort, "api-port", miner.DefaultAPIPort, "Miner API port")
	rootCmd.PersistentFlags().StringVar(&savedName, "saved", "", "Use a saved range by name (see 'ranges')")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(webCmd)
}

// newIdentifier builds the API client from the command flags and config
func newIdentifier(cfg *config.Config) *miner.Client {
	client := miner.NewClient()
	client.Port = apiPort
	if timeoutSecs > 0 {
		client.SetTimeout(time.Duration(timeoutSecs) * time.Second)
	} else {
		client.SetTimeout(cfg.IdentifyTimeout())
	}
	return client
}

// resolveRange turns the command arguments into a scan range. Accepts a
// single "start-end" argument, separate start and end arguments, or the
// --saved flag.
func resolveRange(cfg *config.Config, args []string) (scan.Range, error) {
	if savedName != "" {
		saved, ok := cfg.FindRange(savedName)
		if !ok {
			return scan.Range{}, fmt.Errorf("no saved range named %q (see 'asicscan ranges list')", savedName)
		}
		return saved.Range()
	}

	switch len(args) {
	case 1:
		start, end, found := strings.Cut(args[0], "-")
		if !found {
			// A bare address scans just that host
			return scan.ParseRange(args[0], args[0])
		}
		return scan.ParseRange(start, end)
	case 2:
		return scan.ParseRange(args[0], args[1])
	case 0:
		if len(cfg.Ranges) > 0 {
			return cfg.Ranges[0].Range()
		}
		return scan.Range{}, fmt.Errorf("no range given: pass start-end, or save one with 'asicscan ranges add'")
	default:
		return scan.Range{}, fmt.Errorf("expected at most two range arguments, got %d", len(args))
	}
}

// sweepOptions merges config defaults with command flags
func sweepOptions(cfg *config.Config) scan.Options {
	opts := cfg.SweepOptions()
	if retries >= 0 {
		opts.Retries = retries
	}
	if timeoutSecs > 0 {
		opts.IdentifyTimeout = time.Duration(timeoutSecs) * time.Second
	}
	if noPortCheck {
		opts.PortCheck = false
	}
	return opts
}

// scanCmd sweeps a range once and prints what it finds
var scanCmd = &cobra.Command{
	Use:   "scan [start-end | start end]",
	Short: "Scan an address range for miners",
	Long: `Sweep an IPv4 range for hosts speaking the miner API.

Each address is probed on the API port, and responders are identified
(model, hashrate, temperatures, pools). Results print in completion
order as they resolve.`,
	Example: `  # Scan a range
  asicscan scan 192.168.1.1-192.168.1.255

  # Scan a single host
  asicscan scan 192.168.1.50

  # Scan a saved range
  asicscan scan --saved office

  # JSON output for scripting
  asicscan scan 10.0.0.1-10.0.0.254 --format json`,
	Args: cobra.MaximumNArgs(2),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&retries, "retries", -1, "Additional attempts after a transient failure (-1 = config default)")
	scanCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Identification timeout in seconds (0 = config default)")
	scanCmd.Flags().BoolVar(&noPortCheck, "no-port-check", false, "Skip the TCP reachability probe")
	scanCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rng, err := resolveRange(cfg, args)
	if err != nil {
		return err
	}

	reg := registry.New()
	coord := scan.NewCoordinator(newIdentifier(cfg), reg)
	coord.SetProbePort(apiPort)

	fmt.Printf("Scanning %s (%d addresses)...\n\n", rng, rng.Count())

	sweep, err := coord.Start(rng, sweepOptions(cfg))
	if err != nil {
		return err
	}

	for rec := range sweep.Results() {
		if outputFormat != "json" {
			fmt.Printf("  %-15s  %-17s  %-24s  %7.1f TH/s  %5.0f°C  %s\n",
				rec.Addr, rec.MAC, rec.Model, rec.HashrateTHS, rec.AvgTempC, rec.Worker)
		}
	}
	sweep.Wait()

	if outputFormat == "json" {
		data, err := json.MarshalIndent(reg.List(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	p := sweep.Progress()
	fmt.Printf("\n%s: %d of %d addresses checked, %d miners found\n",
		sweep.State(), p.Completed, p.Total, p.Found)
	return nil
}

// watchCmd runs the interactive dashboard
var watchCmd = &cobra.Command{
	Use:   "watch [start-end | start end]",
	Short: "Live fleet dashboard",
	Long: `Scan a range and watch the fleet live.

Found miners are polled on the configured interval and shown in an
interactive table. The range is rescanned automatically when auto-scan
is enabled in the configuration.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("watch needs an interactive terminal (use 'asicscan scan' or 'asicscan serve' instead)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rng, err := resolveRange(cfg, args)
	if err != nil {
		return err
	}

	return tui.Run(cfg, registry.New(), newIdentifier(cfg), rng)
}

// rangesCmd manages saved ranges
var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Manage saved scan ranges",
}

var rangesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved ranges",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if len(cfg.Ranges) == 0 {
			fmt.Println("No saved ranges. Add one with 'asicscan ranges add <name> <start> <end>'.")
			return nil
		}
		for _, r := range cfg.Ranges {
			fmt.Printf("  %-20s %s-%s\n", r.Name, r.Start, r.End)
		}
		return nil
	},
}

var rangesAddCmd = &cobra.Command{
	Use:   "add <name> <start> <end>",
	Short: "Save a named range",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.AddRange(args[0], args[1], args[2]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Saved range %q (%s-%s)\n", args[0], args[1], args[2])
		return nil
	},
}

var rangesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a saved range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.RemoveRange(args[0]) {
			return fmt.Errorf("no saved range named %q", args[0])
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Removed range %q\n", args[0])
		return nil
	},
}

func init() {
	rangesCmd.AddCommand(rangesListCmd)
	rangesCmd.AddCommand(rangesAddCmd)
	rangesCmd.AddCommand(rangesRemoveCmd)
}

// ctlCmd sends control commands to one miner
var ctlCmd = &cobra.Command{
	Use:   "ctl <start|stop|light> <addr>",
	Short: "Control a miner (resume, pause, toggle fault light)",
	Long: `Send a control command to one miner over its API.

  start   resume hashing
  stop    pause hashing
  light   toggle the locate/fault light

Not every firmware supports every command; unsupported commands are
reported as such.`,
	Example: `  asicscan ctl stop 192.168.1.50
  asicscan ctl light 192.168.1.50`,
	Args: cobra.ExactArgs(2),
	RunE: runCtl,
}

func runCtl(cmd *cobra.Command, args []string) error {
	var command miner.Command
	switch args[0] {
	case "start":
		command = miner.CommandStart
	case "stop":
		command = miner.CommandStop
	case "light":
		command = miner.CommandToggleFaultLight
	default:
		return fmt.Errorf("unknown control %q (want start, stop or light)", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := newIdentifier(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
	defer cancel()
	if err := client.SendCommand(ctx, args[1], command); err != nil {
		return err
	}
	fmt.Printf("%s sent to %s\n", command, args[1])
	return nil
}

// exportCmd scans and writes a fleet CSV
var exportCmd = &cobra.Command{
	Use:   "export [start-end | start end]",
	Short: "Scan a range and export the fleet as CSV",
	Example: `  asicscan export 192.168.1.1-192.168.1.255 --out fleet.csv
  asicscan export --saved office --out office.csv`,
	Args: cobra.MaximumNArgs(2),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportPath, "out", "miners.csv", "Output CSV path")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rng, err := resolveRange(cfg, args)
	if err != nil {
		return err
	}

	reg := registry.New()
	coord := scan.NewCoordinator(newIdentifier(cfg), reg)
	coord.SetProbePort(apiPort)

	fmt.Printf("Scanning %s...\n", rng)
	sweep, err := coord.Start(rng, sweepOptions(cfg))
	if err != nil {
		return err
	}
	for range sweep.Results() {
	}
	sweep.Wait()

	f, err := os.Create(exportPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", exportPath, err)
	}
	defer f.Close()

	if err := recording.ExportFleet(f, reg.List()); err != nil {
		return err
	}
	fmt.Printf("Wrote %d miners to %s\n", reg.Len(), exportPath)
	return nil
}

// serveCmd runs the telemetry server
var serveCmd = &cobra.Command{
	Use:   "serve [start-end | start end]",
	Short: "Serve fleet telemetry over HTTP and WebSocket",
	Long: `Scan a range, keep polling what it finds, and serve the registry:

  GET /api/devices        all devices as JSON
  GET /api/devices/{id}   one device with metric history
  GET /api/export         fleet CSV
  GET /ws                 WebSocket feed of registry snapshots

Runs until interrupted.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Listen address")
	serveCmd.Flags().IntVar(&servePort, "listen", 8743, "Listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rng, err := resolveRange(cfg, args)
	if err != nil {
		return err
	}

	reg := registry.New()
	client := newIdentifier(cfg)
	coord := scan.NewCoordinator(client, reg)
	coord.SetProbePort(apiPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The sweep fills the registry while the server comes up; pollers keep
	// every found miner fresh afterwards.
	var pollerMu sync.Mutex
	pollers := make(map[string]*registry.Poller)
	defer func() {
		pollerMu.Lock()
		defer pollerMu.Unlock()
		for _, p := range pollers {
			p.Stop()
		}
	}()

	sweep, err := coord.Start(rng, sweepOptions(cfg))
	if err != nil {
		return err
	}
	go func() {
		for rec := range sweep.Results() {
			identity := rec.Identity()
			pollerMu.Lock()
			if _, ok := pollers[identity]; !ok {
				p := registry.NewPoller(reg, client, rec.Addr, cfg.PollInterval())
				p.Start()
				pollers[identity] = p
			}
			pollerMu.Unlock()
		}
	}()

	fmt.Printf("Scanning %s, serving on %s:%d (Ctrl-C to stop)\n", rng, serveHost, servePort)
	return server.New(&server.Config{Host: serveHost, Port: servePort}, reg).Start(ctx)
}

// discoverCmd browses mDNS for candidates and identifies them
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find miners via mDNS",
	Long: `Browse the local network for mDNS-advertised miner hostnames and
identify each candidate over the API port.

Only some firmwares advertise over mDNS; a range scan is the thorough
option.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Browse timeout in seconds")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(scanTimeout) * time.Second

	fmt.Printf("Browsing mDNS for miner hostnames (timeout: %ds)...\n\n", scanTimeout)
	candidates, err := scanner.Scan(context.Background())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No candidates found. Stock firmwares rarely advertise over mDNS;")
		fmt.Println("try 'asicscan scan <start-end>' for a full range sweep.")
		return nil
	}

	client := newIdentifier(cfg)
	for _, c := range candidates {
		fmt.Printf("%s (%s)\n", c.Hostname, c.Addr)
		ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
		snap, err := client.Identify(ctx, c.Addr)
		cancel()
		if err != nil {
			fmt.Printf("   not identified: %v\n", err)
			continue
		}
		fmt.Printf("   %s  %.1f TH/s  %s\n", snap.Model, snap.HashrateTHS, snap.Worker)
	}
	return nil
}

// webCmd opens a miner's web interface in the browser
var webCmd = &cobra.Command{
	Use:   "web <addr>",
	Short: "Open a miner's web interface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := miner.OpenWebInterface(args[0]); err != nil {
			return err
		}
		fmt.Printf("Opened %s\n", miner.WebURL(args[0]))
		return nil
	},
}
