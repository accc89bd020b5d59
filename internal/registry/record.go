package registry

import (
	"slices"
	"time"

	"github.com/hashplane/asicscan/internal/miner"
)

// Record is the last known state of one miner. Field names and types are
// stable: external serializers (CSV recordings, the telemetry feed) rely
// on them.
type Record struct {
	Addr         string     `json:"addr"`
	MAC          string     `json:"mac,omitempty"`
	Hostname     string     `json:"hostname,omitempty"`
	Model        string     `json:"model"`
	Firmware     string     `json:"firmware,omitempty"`
	ControlBoard string     `json:"control_board,omitempty"`
	Pools        []miner.Pool `json:"pools,omitempty"`
	Worker       string     `json:"worker,omitempty"`

	HashrateTHS    float64   `json:"hashrate_ths"`
	BoardHashrates []float64 `json:"board_hashrates,omitempty"`
	AvgTempC       float64   `json:"avg_temp_c"`
	BoardTemps     []float64 `json:"board_temps,omitempty"`
	PowerW         float64   `json:"power_w,omitempty"`
	EfficiencyWTH  float64   `json:"efficiency_wth,omitempty"`
	FanRPM         []int     `json:"fan_rpm,omitempty"`
	FaultLight     bool      `json:"fault_light"`

	// UpdatedAt is the capture time of the snapshot this record reflects.
	// It orders concurrent updates: older-or-equal snapshots are rejected.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds a record from an identification snapshot
func NewRecord(snap *miner.Snapshot) *Record {
	return &Record{
		Addr:           snap.Addr,
		MAC:            snap.MAC,
		Hostname:       snap.Hostname,
		Model:          snap.Model,
		Firmware:       snap.Firmware,
		ControlBoard:   snap.ControlBoard,
		Pools:          slices.Clone(snap.Pools),
		Worker:         snap.Worker,
		HashrateTHS:    snap.HashrateTHS,
		BoardHashrates: slices.Clone(snap.BoardHashrates),
		AvgTempC:       snap.AvgTempC,
		BoardTemps:     slices.Clone(snap.BoardTemps),
		PowerW:         snap.PowerW,
		EfficiencyWTH:  snap.EfficiencyWTH(),
		FanRPM:         slices.Clone(snap.FanRPM),
		FaultLight:     snap.FaultLight,
		UpdatedAt:      snap.Taken,
	}
}

// Identity returns the stable identity key: MAC when known, address otherwise
func (r *Record) Identity() string {
	if r.MAC != "" {
		return r.MAC
	}
	return r.Addr
}

// Clone returns a deep copy, so readers never share slices with the registry
func (r *Record) Clone() *Record {
	c := *r
	c.Pools = slices.Clone(r.Pools)
	c.BoardHashrates = slices.Clone(r.BoardHashrates)
	c.BoardTemps = slices.Clone(r.BoardTemps)
	c.FanRPM = slices.Clone(r.FanRPM)
	return &c
}

// Sample is one timestamped metrics point in a record's history
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	HashrateTHS    float64   `json:"hashrate_ths"`
	PowerW         float64   `json:"power_w"`
	BoardHashrates []float64 `json:"board_hashrates,omitempty"`
	AvgTempC       float64   `json:"avg_temp_c"`
	BoardTemps     []float64 `json:"board_temps,omitempty"`
	FanRPM         []int     `json:"fan_rpm,omitempty"`
}

// SampleOf extracts the history sample from a snapshot
func SampleOf(snap *miner.Snapshot) Sample {
	return Sample{
		Timestamp:      snap.Taken,
		HashrateTHS:    snap.HashrateTHS,
		PowerW:         snap.PowerW,
		BoardHashrates: slices.Clone(snap.BoardHashrates),
		AvgTempC:       snap.AvgTempC,
		BoardTemps:     slices.Clone(snap.BoardTemps),
		FanRPM:         slices.Clone(snap.FanRPM),
	}
}
