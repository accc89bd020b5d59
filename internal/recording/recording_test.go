package recording

import (
	"bytes"
	"encoding/csv"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashplane/asicscan/internal/miner"
	"github.com/hashplane/asicscan/internal/registry"
)

func testRecord(addr string, boards, fans int, taken time.Time) *registry.Record {
	snap := &miner.Snapshot{
		Addr:        addr,
		MAC:         "AA:BB:CC:00:11:22",
		Model:       "Antminer S19 Pro",
		Firmware:    "Fri Nov 17 2023",
		HashrateTHS: 110.52,
		AvgTempC:    59.33,
		PowerW:      3250,
		Worker:      "wallet.worker1",
		Pools:       []miner.Pool{{URL: "stratum+tcp://pool.example:3333", User: "wallet.worker1", Status: "Alive"}},
		Taken:       taken,
	}
	for i := 0; i < boards; i++ {
		snap.BoardHashrates = append(snap.BoardHashrates, 36.8+float64(i))
		snap.BoardTemps = append(snap.BoardTemps, 58.0+float64(i))
	}
	for i := 0; i < fans; i++ {
		snap.FanRPM = append(snap.FanRPM, 4320+60*i)
	}
	return registry.NewRecord(snap)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()
	// Rows may be ragged when a sample has fewer boards than the layout
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	return rows
}

func TestRecorder_HeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rec := testRecord("10.0.0.5", 3, 2, t0)

	r, err := NewRecorder(dir, rec)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := r.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.Append(testRecord("10.0.0.5", 3, 2, t0.Add(10*time.Second))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows := readCSV(t, r.Path())
	if len(rows) != 3 {
		t.Fatalf("recording has %d rows, want header + 2 samples", len(rows))
	}

	header := rows[0]
	// 4 fixed + 3 board hashrates + 3 board temps + 2 fans
	if len(header) != 12 {
		t.Fatalf("header has %d columns, want 12: %v", len(header), header)
	}
	for _, want := range []string{"Timestamp", "Board 1 Hashrate (TH/s)", "Board 3 Temp (C)", "Fan 2 RPM"} {
		found := false
		for _, col := range header {
			if col == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("header missing column %q", want)
		}
	}

	if rows[1][0] != "2026-08-23T12:00:00Z" {
		t.Errorf("timestamp = %s", rows[1][0])
	}
	if rows[1][1] != "110.52" {
		t.Errorf("hashrate cell = %s, want 110.52", rows[1][1])
	}
	if rows[1][4] != "36.80" {
		t.Errorf("board 1 hashrate cell = %s, want 36.80", rows[1][4])
	}
	if rows[1][10] != "4320" {
		t.Errorf("fan 1 cell = %s, want 4320", rows[1][10])
	}
}

func TestRecorder_ShortSampleLeavesCellsEmpty(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Now()

	r, err := NewRecorder(dir, testRecord("10.0.0.5", 3, 2, t0))
	if err != nil {
		t.Fatal(err)
	}
	// A later poll that reports only two boards and one fan
	if err := r.Append(testRecord("10.0.0.5", 2, 1, t0.Add(10*time.Second))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	r.Close()

	rows := readCSV(t, r.Path())
	row := rows[1]
	if len(row) != 12 {
		t.Fatalf("row has %d cells, want 12", len(row))
	}
	if row[6] != "" { // board 3 hashrate
		t.Errorf("board 3 hashrate = %q, want empty", row[6])
	}
	if row[11] != "" { // fan 2
		t.Errorf("fan 2 = %q, want empty", row[11])
	}
}

func TestRecorder_FilenameSanitized(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord("10.0.0.5", 1, 1, time.Now())
	rec.Model = "Whatsminer M30S++/VH30"

	r, err := NewRecorder(dir, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	base := r.Path()[len(dir)+1:]
	if strings.ContainsAny(base, "/\\:*?\"<>| ") {
		t.Errorf("filename %q contains unsafe characters", base)
	}
}

func TestRecorder_AppendAfterClose(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord("10.0.0.5", 1, 1, time.Now())

	r, err := NewRecorder(dir, rec)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := r.Append(rec); err == nil {
		t.Error("Append after Close succeeded")
	}
}

func TestExportFleet(t *testing.T) {
	t0 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	records := []*registry.Record{
		testRecord("10.0.0.5", 3, 2, t0),
		testRecord("10.0.0.6", 3, 4, t0),
	}

	var buf bytes.Buffer
	if err := ExportFleet(&buf, records); err != nil {
		t.Fatalf("ExportFleet: %v", err)
	}

	r := csv.NewReader(&buf)
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("export has %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "Address" || rows[0][5] != "Hashrate (TH/s)" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "10.0.0.5" || rows[2][0] != "10.0.0.6" {
		t.Errorf("rows out of order: %v / %v", rows[1][0], rows[2][0])
	}
	if rows[1][10] != "stratum+tcp://pool.example:3333" {
		t.Errorf("pool cell = %s", rows[1][10])
	}
}

func TestExportHistory(t *testing.T) {
	t0 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	samples := []registry.Sample{
		{Timestamp: t0, HashrateTHS: 100.5, PowerW: 3200, AvgTempC: 58},
		{Timestamp: t0.Add(10 * time.Second), HashrateTHS: 101.2, PowerW: 3210, AvgTempC: 58.5},
	}

	var buf bytes.Buffer
	if err := ExportHistory(&buf, samples); err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}

	r := csv.NewReader(&buf)
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("history export has %d rows, want 3", len(rows))
	}
	if rows[2][1] != "101.20" {
		t.Errorf("second sample hashrate = %s, want 101.20", rows[2][1])
	}
}
