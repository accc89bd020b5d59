package miner

import (
	"context"
	"fmt"
	"time"
)

// DefaultAPIPort is the TCP port the CGMiner-style control API listens on
const DefaultAPIPort = 4028

// Pool describes one stratum pool endpoint configured on a miner
type Pool struct {
	URL    string `json:"url"`
	User   string `json:"user"`
	Status string `json:"status"`
}

// Snapshot is the telemetry captured from one successful identification
// of a miner. All per-board slices are index-aligned (board 0 first).
type Snapshot struct {
	// Addr is the IPv4 address the snapshot was taken from
	Addr string `json:"addr"`

	// MAC is the hardware address reported by the miner, if any.
	// When empty, the address is used as the identity key instead.
	MAC string `json:"mac,omitempty"`

	Hostname     string `json:"hostname,omitempty"`
	Model        string `json:"model"`
	Firmware     string `json:"firmware,omitempty"`
	ControlBoard string `json:"control_board,omitempty"`

	// HashrateTHS is the total hashrate in TH/s
	HashrateTHS float64 `json:"hashrate_ths"`

	// BoardHashrates holds per-hashboard hashrates in TH/s
	BoardHashrates []float64 `json:"board_hashrates,omitempty"`

	// AvgTempC is the average board temperature in Celsius
	AvgTempC float64 `json:"avg_temp_c"`

	// BoardTemps holds per-hashboard temperatures in Celsius
	BoardTemps []float64 `json:"board_temps,omitempty"`

	// FanRPM holds per-fan speeds
	FanRPM []int `json:"fan_rpm,omitempty"`

	// PowerW is the wall power draw in watts (0 when not reported)
	PowerW float64 `json:"power_w,omitempty"`

	Pools  []Pool `json:"pools,omitempty"`
	Worker string `json:"worker,omitempty"`

	// FaultLight reports whether the locate/fault LED is flashing
	FaultLight bool `json:"fault_light"`

	// Taken is when the snapshot was captured
	Taken time.Time `json:"taken"`
}

// Identity returns the stable identity key for this snapshot: the MAC
// address when the miner reports one, otherwise the IP address.
func (s *Snapshot) Identity() string {
	if s.MAC != "" {
		return s.MAC
	}
	return s.Addr
}

// EfficiencyWTH returns the power efficiency in W/TH, or 0 when either
// power or hashrate is unknown.
func (s *Snapshot) EfficiencyWTH() float64 {
	if s.PowerW <= 0 || s.HashrateTHS <= 0 {
		return 0
	}
	return s.PowerW / s.HashrateTHS
}

// String returns a human-readable one-line summary of the snapshot
func (s *Snapshot) String() string {
	return fmt.Sprintf("%s %s %.2f TH/s %.1f°C", s.Addr, s.Model, s.HashrateTHS, s.AvgTempC)
}

// Command is a state-changing operation sent to a miner.
// Commands are never retried automatically.
type Command int

const (
	// CommandStart resumes hashing on a paused miner
	CommandStart Command = iota
	// CommandStop pauses hashing
	CommandStop
	// CommandToggleFaultLight toggles the locate/fault LED
	CommandToggleFaultLight
)

// String returns the human-readable command name
func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandToggleFaultLight:
		return "toggle-fault-light"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// wire returns the API command name and parameter for this command
func (c Command) wire() (name, parameter string) {
	switch c {
	case CommandStart:
		return "resume", ""
	case CommandStop:
		return "pause", ""
	case CommandToggleFaultLight:
		return "fault_light", "toggle"
	default:
		return "", ""
	}
}

// Identifier is the device-communication surface consumed by sweeps and
// pollers. Client is the production implementation; tests substitute fakes.
type Identifier interface {
	// Identify performs the full protocol handshake against addr and
	// returns identity plus telemetry. The context bounds the attempt.
	Identify(ctx context.Context, addr string) (*Snapshot, error)

	// SendCommand issues a state-changing control command to addr
	SendCommand(ctx context.Context, addr string, cmd Command) error
}
