package miner

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"strconv"
	"testing"
	"time"
)

// startFakeMiner runs a minimal control-API server for tests. It answers
// each connection with the canned reply for the requested command (plus the
// NUL terminator real firmwares append) and then closes the connection.
// Returns the listen address and port.
func startFakeMiner(t *testing.T, replies map[string]string) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer func() { _ = conn.Close() }()

				var req map[string]string
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				reply, ok := replies[req["command"]]
				if !ok {
					reply = `{"STATUS":[{"STATUS":"E","Msg":"Invalid command"}],"id":1}`
				}
				_, _ = conn.Write(append([]byte(reply), 0x00))
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to split listen address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// antminerReplies mimics an Antminer S19 Pro with boards on chains 6-8
var antminerReplies = map[string]string{
	"version": `{"STATUS":[{"STATUS":"S","Msg":"CGMiner versions"}],` +
		`"VERSION":[{"BMMiner":"1.0.0","Miner":"49.0.1.3","CompileTime":"Fri Nov 8 2024",` +
		`"Type":"Antminer S19 Pro","API":"3.1","MAC":"aa:bb:cc:00:11:22"}],"id":1}`,
	"summary": `{"STATUS":[{"STATUS":"S","Msg":"Summary"}],` +
		`"SUMMARY":[{"Elapsed":93021,"GHS 5s":"110524.32","GHS av":110250.18,"Power":3250}],"id":1}`,
	"stats": `{"STATUS":[{"STATUS":"S","Msg":"Stats"}],` +
		`"STATS":[{"BMMiner":"1.0.0","Type":"Antminer S19 Pro"},` +
		`{"STATS":0,"chain_rate6":"36841.25","chain_rate7":"36861.12","chain_rate8":"36821.95",` +
		`"temp2_6":58,"temp2_7":61,"temp2_8":59,"fan1":4320,"fan2":4380,"Fault Light":"false"}],"id":1}`,
	"pools": `{"STATUS":[{"STATUS":"S","Msg":"Pools"}],` +
		`"POOLS":[{"POOL":0,"URL":"stratum+tcp://pool.example.com:3333","User":"wallet.worker1","Status":"Alive"},` +
		`{"POOL":1,"URL":"stratum+tcp://backup.example.com:3333","User":"wallet.worker1","Status":"Dead"}],"id":1}`,
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestClient_Identify(t *testing.T) {
	host, port := startFakeMiner(t, antminerReplies)

	client := NewClient()
	client.Port = port
	client.Timeout = 2 * time.Second

	snap, err := client.Identify(context.Background(), host)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if snap.Addr != host {
		t.Errorf("Addr = %v, want %v", snap.Addr, host)
	}
	if snap.MAC != "AA:BB:CC:00:11:22" {
		t.Errorf("MAC = %v, want AA:BB:CC:00:11:22", snap.MAC)
	}
	if snap.Model != "Antminer S19 Pro" {
		t.Errorf("Model = %v, want Antminer S19 Pro", snap.Model)
	}
	if snap.Firmware != "49.0.1.3" {
		t.Errorf("Firmware = %v, want 49.0.1.3", snap.Firmware)
	}
	if !almostEqual(snap.HashrateTHS, 110.52432) {
		t.Errorf("HashrateTHS = %v, want 110.52432", snap.HashrateTHS)
	}
	if len(snap.BoardHashrates) != 3 || !almostEqual(snap.BoardHashrates[0], 36.84125) {
		t.Errorf("BoardHashrates = %v, want 3 boards starting at 36.84125", snap.BoardHashrates)
	}
	if len(snap.BoardTemps) != 3 || snap.BoardTemps[1] != 61 {
		t.Errorf("BoardTemps = %v, want [58 61 59]", snap.BoardTemps)
	}
	if !almostEqual(snap.AvgTempC, (58.0+61.0+59.0)/3.0) {
		t.Errorf("AvgTempC = %v, want %v", snap.AvgTempC, (58.0+61.0+59.0)/3.0)
	}
	if len(snap.FanRPM) != 2 || snap.FanRPM[0] != 4320 {
		t.Errorf("FanRPM = %v, want [4320 4380]", snap.FanRPM)
	}
	if snap.PowerW != 3250 {
		t.Errorf("PowerW = %v, want 3250", snap.PowerW)
	}
	if len(snap.Pools) != 2 || snap.Pools[0].URL != "stratum+tcp://pool.example.com:3333" {
		t.Errorf("Pools = %v, want primary pool first", snap.Pools)
	}
	if snap.Worker != "wallet.worker1" {
		t.Errorf("Worker = %v, want wallet.worker1", snap.Worker)
	}
	if snap.FaultLight {
		t.Error("FaultLight = true, want false")
	}
	if snap.Taken.IsZero() {
		t.Error("Taken is zero, want capture timestamp")
	}
}

func TestClient_Identify_ProtocolMismatch(t *testing.T) {
	// A web server on the control port is not a miner
	host, port := startFakeMiner(t, map[string]string{
		"version": "HTTP/1.1 400 Bad Request\r\n\r\n",
	})

	client := NewClient()
	client.Port = port
	client.Timeout = 2 * time.Second

	_, err := client.Identify(context.Background(), host)
	if err == nil {
		t.Fatal("Identify() error = nil, want protocol mismatch")
	}

	var idErr *IdentifyError
	if !errors.As(err, &idErr) {
		t.Fatalf("error type = %T, want *IdentifyError", err)
	}
	if idErr.Kind != IdentifyProtocolMismatch {
		t.Errorf("Kind = %v, want %v", idErr.Kind, IdentifyProtocolMismatch)
	}
	if idErr.Transient() {
		t.Error("Transient() = true, want false for protocol mismatch")
	}
}

func TestClient_Identify_ConnectionRefused(t *testing.T) {
	// Grab a port and close it again so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	_ = ln.Close()

	client := NewClient()
	client.Port = port
	client.Timeout = 2 * time.Second

	_, err = client.Identify(context.Background(), host)
	if err == nil {
		t.Fatal("Identify() error = nil, want connection refused")
	}

	var idErr *IdentifyError
	if !errors.As(err, &idErr) {
		t.Fatalf("error type = %T, want *IdentifyError", err)
	}
	if idErr.Kind != IdentifyConnectionRefused {
		t.Errorf("Kind = %v, want %v", idErr.Kind, IdentifyConnectionRefused)
	}
	if !idErr.Transient() {
		t.Error("Transient() = false, want true for connection refused")
	}
}

func TestClient_SendCommand(t *testing.T) {
	tests := []struct {
		name     string
		replies  map[string]string
		cmd      Command
		wantKind CommandErrorKind
		wantErr  bool
	}{
		{
			name: "stop accepted",
			replies: map[string]string{
				"pause": `{"STATUS":[{"STATUS":"S","Msg":"Paused"}],"id":1}`,
			},
			cmd:     CommandStop,
			wantErr: false,
		},
		{
			name: "start accepted",
			replies: map[string]string{
				"resume": `{"STATUS":[{"STATUS":"S","Msg":"Resumed"}],"id":1}`,
			},
			cmd:     CommandStart,
			wantErr: false,
		},
		{
			name: "fault light unsupported by firmware",
			replies: map[string]string{
				"fault_light": `{"STATUS":[{"STATUS":"E","Msg":"Invalid command"}],"id":1}`,
			},
			cmd:      CommandToggleFaultLight,
			wantErr:  true,
			wantKind: CommandUnsupported,
		},
		{
			name: "stop rejected",
			replies: map[string]string{
				"pause": `{"STATUS":[{"STATUS":"E","Msg":"Access denied"}],"id":1}`,
			},
			cmd:      CommandStop,
			wantErr:  true,
			wantKind: CommandRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := startFakeMiner(t, tt.replies)

			client := NewClient()
			client.Port = port
			client.Timeout = 2 * time.Second

			err := client.SendCommand(context.Background(), host, tt.cmd)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("SendCommand() error = %v, want nil", err)
				}
				return
			}

			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) {
				t.Fatalf("error type = %T, want *CommandError", err)
			}
			if cmdErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", cmdErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestSnapshot_Identity(t *testing.T) {
	tests := []struct {
		name     string
		snap     *Snapshot
		expected string
	}{
		{
			name:     "MAC preferred when present",
			snap:     &Snapshot{Addr: "10.0.81.3", MAC: "AA:BB:CC:00:11:22"},
			expected: "AA:BB:CC:00:11:22",
		},
		{
			name:     "address fallback without MAC",
			snap:     &Snapshot{Addr: "10.0.81.3"},
			expected: "10.0.81.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.Identity(); got != tt.expected {
				t.Errorf("Identity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSnapshot_EfficiencyWTH(t *testing.T) {
	tests := []struct {
		name     string
		snap     *Snapshot
		expected float64
	}{
		{
			name:     "normal ratio",
			snap:     &Snapshot{PowerW: 3250, HashrateTHS: 110},
			expected: 3250.0 / 110.0,
		},
		{
			name:     "zero power",
			snap:     &Snapshot{HashrateTHS: 110},
			expected: 0,
		},
		{
			name:     "zero hashrate",
			snap:     &Snapshot{PowerW: 3250},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.EfficiencyWTH(); !almostEqual(got, tt.expected) {
				t.Errorf("EfficiencyWTH() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trailing NUL stripped",
			input:    `{"STATUS":[]}` + "\x00",
			expected: `{"STATUS":[]}`,
		},
		{
			name:     "whitespace trimmed",
			input:    "  {\"STATUS\":[]}\r\n",
			expected: `{"STATUS":[]}`,
		},
		{
			name:     "antminer section quirk repaired",
			input:    `{"STATS":[{"a":1}{"b":2}]}`,
			expected: `{"STATS":[{"a":1},{"b":2}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(cleanReply([]byte(tt.input))); got != tt.expected {
				t.Errorf("cleanReply() = %q, want %q", got, tt.expected)
			}
		})
	}
}
