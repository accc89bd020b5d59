package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashplane/asicscan/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default per-attempt timeout for API calls
	DefaultTimeout = 5 * time.Second

	// maxReplySize bounds how much of a reply we are willing to read.
	// Real miners send a few KB; anything bigger is not a miner.
	maxReplySize = 1 << 20
)

// Client talks the CGMiner-style JSON API to miners. It implements
// Identifier. A zero-value Client is not usable; construct with NewClient.
type Client struct {
	// Port is the TCP control port (default 4028)
	Port int

	// Timeout bounds each API call (dial + request + response)
	Timeout time.Duration

	dialer net.Dialer
}

// NewClient creates a client with default port and timeout
func NewClient() *Client {
	return &Client{
		Port:    DefaultAPIPort,
		Timeout: DefaultTimeout,
	}
}

// SetTimeout sets the per-attempt API call timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.Timeout = timeout
}

// apiStatus is the STATUS header every API reply carries
type apiStatus struct {
	Status string `json:"STATUS"`
	Msg    string `json:"Msg"`
}

// apiNumber accepts both JSON numbers and numeric strings; miner firmwares
// disagree on which one they emit.
type apiNumber float64

func (n *apiNumber) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*n = 0
		return nil // tolerate junk values, the field just stays zero
	}
	*n = apiNumber(f)
	return nil
}

// call performs one API request/response round trip. The miner closes the
// connection after replying, so every call dials a fresh connection.
func (c *Client) call(ctx context.Context, addr, command, parameter string) (map[string]json.RawMessage, error) {
	hostport := net.JoinHostPort(addr, strconv.Itoa(c.Port))

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, classifyNetErr(err, addr)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, classifyNetErr(err, addr)
		}
	}

	req := map[string]string{"command": command}
	if parameter != "" {
		req["parameter"] = parameter
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, classifyNetErr(err, addr)
	}

	reply, err := io.ReadAll(io.LimitReader(conn, maxReplySize))
	if err != nil && len(reply) == 0 {
		return nil, classifyNetErr(err, addr)
	}

	cleaned := cleanReply(reply)
	if len(cleaned) == 0 {
		return nil, newProtocolError(addr, fmt.Errorf("empty reply to %q", command))
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(cleaned, &sections); err != nil {
		return nil, newProtocolError(addr, fmt.Errorf("malformed reply to %q: %w", command, err))
	}

	return sections, nil
}

// cleanReply strips the trailing NUL terminator and other firmware quirks
// (some miners emit a stray "}{" between sections of multi-command replies,
// some pad with whitespace).
func cleanReply(reply []byte) []byte {
	reply = bytes.Trim(reply, "\x00 \t\r\n")
	// Known Antminer quirk: literal "}{" inside the STATUS section
	reply = bytes.ReplaceAll(reply, []byte("}{"), []byte("},{"))
	return reply
}

// replyStatus extracts the STATUS header from a reply, if present
func replyStatus(sections map[string]json.RawMessage) (apiStatus, bool) {
	raw, ok := sections["STATUS"]
	if !ok {
		return apiStatus{}, false
	}
	var statuses []apiStatus
	if err := json.Unmarshal(raw, &statuses); err != nil || len(statuses) == 0 {
		return apiStatus{}, false
	}
	return statuses[0], true
}

// Identify performs the full handshake against addr: version for identity,
// summary for totals, stats for per-board telemetry, pools for endpoints.
// The version call is the gate: a host that does not answer it correctly is
// not a miner and yields a protocol mismatch. Later calls are best-effort;
// firmwares differ in which commands they implement.
func (c *Client) Identify(ctx context.Context, addr string) (*Snapshot, error) {
	version, err := c.call(ctx, addr, "version", "")
	if err != nil {
		return nil, err
	}
	if _, ok := replyStatus(version); !ok {
		return nil, newProtocolError(addr, fmt.Errorf("reply has no STATUS section"))
	}

	snap := &Snapshot{
		Addr:  addr,
		Taken: time.Now(),
	}
	if !c.parseVersion(version, snap) {
		return nil, newProtocolError(addr, fmt.Errorf("reply has no VERSION section"))
	}

	if summary, err := c.call(ctx, addr, "summary", ""); err == nil {
		c.parseSummary(summary, snap)
	} else if !IsTransient(err) {
		logging.Debug("Summary command not answered", zap.String("addr", addr), zap.Error(err))
	}

	if stats, err := c.call(ctx, addr, "stats", ""); err == nil {
		c.parseStats(stats, snap)
	}

	if pools, err := c.call(ctx, addr, "pools", ""); err == nil {
		c.parsePools(pools, snap)
	}

	logging.Debug("Identified miner",
		zap.String("addr", addr),
		zap.String("mac", snap.MAC),
		zap.String("model", snap.Model),
		zap.Float64("hashrate_ths", snap.HashrateTHS),
	)

	return snap, nil
}

// parseVersion fills identity fields from the VERSION section.
// Returns false when the section is missing.
func (c *Client) parseVersion(sections map[string]json.RawMessage, snap *Snapshot) bool {
	raw, ok := sections["VERSION"]
	if !ok {
		return false
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		return false
	}
	entry := entries[0]

	snap.Model = stringField(entry, "Type", "Model", "ProdType")
	snap.Firmware = stringField(entry, "Miner", "CompileTime", "VERSION")
	snap.ControlBoard = stringField(entry, "CONTROL_BOARD", "BMMiner", "CGMiner", "BOSminer")
	snap.MAC = strings.ToUpper(stringField(entry, "MAC", "mac"))
	snap.Hostname = stringField(entry, "Hostname", "hostname")
	return true
}

// parseSummary fills totals from the SUMMARY section
func (c *Client) parseSummary(sections map[string]json.RawMessage, snap *Snapshot) {
	raw, ok := sections["SUMMARY"]
	if !ok {
		return
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		return
	}
	entry := entries[0]

	// Hashrate units vary: GH/s on Antminer, MH/s on classic cgminer
	if ghs := numberField(entry, "GHS 5s", "GHS av"); ghs > 0 {
		snap.HashrateTHS = ghs / 1e3
	} else if mhs := numberField(entry, "MHS 5s", "MHS av"); mhs > 0 {
		snap.HashrateTHS = mhs / 1e6
	}

	if power := numberField(entry, "Power", "Power Rate"); power > 0 {
		snap.PowerW = power
	}
	if mac := stringField(entry, "MAC", "mac"); mac != "" && snap.MAC == "" {
		snap.MAC = strings.ToUpper(mac)
	}
}

// parseStats fills per-board and fan telemetry from the STATS section.
// The section is an array mixing a firmware banner element with the real
// stats element(s); numbered keys are scanned across all of them.
func (c *Client) parseStats(sections map[string]json.RawMessage, snap *Snapshot) {
	raw, ok := sections["STATS"]
	if !ok {
		return
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return
	}

	for _, entry := range entries {
		// Per-board hashrates arrive as GH/s in chain_rate1..chain_rateN
		if rates := numberedFields(entry, "chain_rate"); len(rates) > 0 {
			snap.BoardHashrates = snap.BoardHashrates[:0]
			for _, r := range rates {
				snap.BoardHashrates = append(snap.BoardHashrates, r/1e3)
			}
		}

		// Chip temperatures (temp2_N) are preferred over PCB ones (tempN)
		if temps := numberedFields(entry, "temp2_"); len(temps) > 0 {
			snap.BoardTemps = temps
		} else if temps := numberedFields(entry, "temp"); len(temps) > 0 && snap.BoardTemps == nil {
			snap.BoardTemps = temps
		}

		if fans := numberedFields(entry, "fan"); len(fans) > 0 {
			snap.FanRPM = snap.FanRPM[:0]
			for _, f := range fans {
				snap.FanRPM = append(snap.FanRPM, int(f))
			}
		}

		if light := stringField(entry, "Fault Light", "RedLed", "red_led"); light != "" {
			snap.FaultLight = light == "true" || light == "on" || light == "1"
		}
		if mac := stringField(entry, "MAC", "mac"); mac != "" && snap.MAC == "" {
			snap.MAC = strings.ToUpper(mac)
		}
	}

	if len(snap.BoardTemps) > 0 {
		var sum float64
		var n int
		for _, t := range snap.BoardTemps {
			if t > 0 {
				sum += t
				n++
			}
		}
		if n > 0 {
			snap.AvgTempC = sum / float64(n)
		}
	}

	// Some firmwares only report hashrate in stats
	if snap.HashrateTHS == 0 && len(snap.BoardHashrates) > 0 {
		for _, r := range snap.BoardHashrates {
			snap.HashrateTHS += r
		}
	}
}

// parsePools fills pool endpoints from the POOLS section
func (c *Client) parsePools(sections map[string]json.RawMessage, snap *Snapshot) {
	raw, ok := sections["POOLS"]
	if !ok {
		return
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return
	}

	for _, entry := range entries {
		pool := Pool{
			URL:    stringField(entry, "URL", "Stratum URL"),
			User:   stringField(entry, "User"),
			Status: stringField(entry, "Status"),
		}
		if pool.URL == "" {
			continue
		}
		snap.Pools = append(snap.Pools, pool)
	}

	if len(snap.Pools) > 0 {
		snap.Worker = snap.Pools[0].User
	}
}

// SendCommand issues a state-changing control command. Failures are
// surfaced to the caller and never retried here.
func (c *Client) SendCommand(ctx context.Context, addr string, cmd Command) error {
	name, parameter := cmd.wire()
	if name == "" {
		return &CommandError{Kind: CommandUnsupported, Addr: addr, Command: cmd, Msg: "unknown command"}
	}

	sections, err := c.call(ctx, addr, name, parameter)
	if err != nil {
		return &CommandError{Kind: CommandUnreachable, Addr: addr, Command: cmd, Err: err}
	}

	status, ok := replyStatus(sections)
	if !ok {
		return &CommandError{Kind: CommandRejected, Addr: addr, Command: cmd, Msg: "reply has no STATUS section"}
	}

	if status.Status == "E" {
		msg := strings.ToLower(status.Msg)
		if strings.Contains(msg, "invalid command") || strings.Contains(msg, "unknown command") ||
			strings.Contains(msg, "unavailable") {
			return &CommandError{Kind: CommandUnsupported, Addr: addr, Command: cmd, Msg: status.Msg}
		}
		return &CommandError{Kind: CommandRejected, Addr: addr, Command: cmd, Msg: status.Msg}
	}

	logging.Info("Command accepted",
		zap.String("addr", addr),
		zap.String("command", cmd.String()),
		zap.String("status_msg", status.Msg),
	)
	return nil
}

// stringField returns the first present key decoded as a string
func stringField(entry map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// numberField returns the first present key decoded as a number
func numberField(entry map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		var n apiNumber
		if err := json.Unmarshal(raw, &n); err == nil && n != 0 {
			return float64(n)
		}
	}
	return 0
}

// numberedFields collects prefix1..prefixN values in index order. Boards are
// not always numbered contiguously (an S19 reports chains 6-8), so gaps do
// not stop the scan.
func numberedFields(entry map[string]json.RawMessage, prefix string) []float64 {
	var values []float64
	for i := 1; i <= 16; i++ {
		raw, ok := entry[prefix+strconv.Itoa(i)]
		if !ok {
			continue
		}
		var n apiNumber
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		if n == 0 {
			continue
		}
		values = append(values, float64(n))
	}
	return values
}
