package config

import (
	"fmt"
	"time"

	"github.com/hashplane/asicscan/internal/scan"
)

// Defaults for scan tuning. Durations are stored as whole seconds in the
// YAML file.
const (
	DefaultIdentifyTimeoutSecs = 5
	DefaultProbeTimeoutSecs    = 5
	DefaultRetries             = 2
	DefaultPollIntervalSecs    = 10
	DefaultAutoScanSecs        = 120
)

// Config is the persisted application configuration (version 1)
type Config struct {
	// Version is the config schema version
	Version int `yaml:"version"`

	// Scan holds the sweep and poll tuning knobs
	Scan ScanSettings `yaml:"scan"`

	// Ranges are the user's saved address ranges, in insertion order
	Ranges []SavedRange `yaml:"ranges,omitempty"`
}

// ScanSettings tunes sweeps and pollers
type ScanSettings struct {
	// IdentifyTimeoutSecs bounds one identification attempt
	IdentifyTimeoutSecs int `yaml:"identify_timeout_secs"`

	// ProbeTimeoutSecs bounds the TCP reachability probe
	ProbeTimeoutSecs int `yaml:"probe_timeout_secs"`

	// Retries is the number of additional identification attempts after a
	// transient failure
	Retries int `yaml:"retries"`

	// PortCheck enables the reachability probe before identification
	PortCheck bool `yaml:"port_check"`

	// PollIntervalSecs is the per-device refresh cadence
	PollIntervalSecs int `yaml:"poll_interval_secs"`

	// AutoScanSecs is the interval between automatic re-sweeps in watch
	// mode. Zero disables auto-scan.
	AutoScanSecs int `yaml:"auto_scan_secs"`
}

// SavedRange is a named address range the user scans repeatedly
type SavedRange struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Range parses the saved endpoints into a scan range
func (s SavedRange) Range() (scan.Range, error) {
	return scan.ParseRange(s.Start, s.End)
}

// NewConfig returns a configuration with all defaults applied
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Scan: ScanSettings{
			IdentifyTimeoutSecs: DefaultIdentifyTimeoutSecs,
			ProbeTimeoutSecs:    DefaultProbeTimeoutSecs,
			Retries:             DefaultRetries,
			PortCheck:           true,
			PollIntervalSecs:    DefaultPollIntervalSecs,
			AutoScanSecs:        DefaultAutoScanSecs,
		},
	}
}

// applyDefaults fills zero-valued fields after a load. Retries stays as
// written: zero is a meaningful setting (single attempt).
func (c *Config) applyDefaults() {
	if c.Scan.IdentifyTimeoutSecs <= 0 {
		c.Scan.IdentifyTimeoutSecs = DefaultIdentifyTimeoutSecs
	}
	if c.Scan.ProbeTimeoutSecs <= 0 {
		c.Scan.ProbeTimeoutSecs = DefaultProbeTimeoutSecs
	}
	if c.Scan.Retries < 0 {
		c.Scan.Retries = DefaultRetries
	}
	if c.Scan.PollIntervalSecs <= 0 {
		c.Scan.PollIntervalSecs = DefaultPollIntervalSecs
	}
	if c.Scan.AutoScanSecs < 0 {
		c.Scan.AutoScanSecs = 0
	}
}

// IdentifyTimeout returns the identification attempt timeout
func (c *Config) IdentifyTimeout() time.Duration {
	return time.Duration(c.Scan.IdentifyTimeoutSecs) * time.Second
}

// ProbeTimeout returns the reachability probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Scan.ProbeTimeoutSecs) * time.Second
}

// PollInterval returns the per-device refresh cadence
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scan.PollIntervalSecs) * time.Second
}

// AutoScanInterval returns the auto-rescan interval, zero when disabled
func (c *Config) AutoScanInterval() time.Duration {
	return time.Duration(c.Scan.AutoScanSecs) * time.Second
}

// SweepOptions translates the settings into sweep options
func (c *Config) SweepOptions() scan.Options {
	return scan.Options{
		IdentifyTimeout: c.IdentifyTimeout(),
		Retries:         c.Scan.Retries,
		PortCheck:       c.Scan.PortCheck,
		ProbeTimeout:    c.ProbeTimeout(),
	}
}

// AddRange saves a named range. The endpoints are validated and the name
// must be unique.
func (c *Config) AddRange(name, start, end string) error {
	if name == "" {
		return fmt.Errorf("range name must not be empty")
	}
	if _, ok := c.FindRange(name); ok {
		return fmt.Errorf("range %q already exists", name)
	}
	if _, err := scan.ParseRange(start, end); err != nil {
		return err
	}
	c.Ranges = append(c.Ranges, SavedRange{Name: name, Start: start, End: end})
	return nil
}

// RemoveRange deletes the named range, reporting whether it existed
func (c *Config) RemoveRange(name string) bool {
	for i, r := range c.Ranges {
		if r.Name == name {
			c.Ranges = append(c.Ranges[:i], c.Ranges[i+1:]...)
			return true
		}
	}
	return false
}

// FindRange looks up a saved range by name
func (c *Config) FindRange(name string) (SavedRange, bool) {
	for _, r := range c.Ranges {
		if r.Name == name {
			return r, true
		}
	}
	return SavedRange{}, false
}
