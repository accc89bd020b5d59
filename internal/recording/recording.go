// Package recording writes miner telemetry to CSV files: a per-device
// recorder that appends one row per poll sample, and a one-shot fleet
// export of the whole registry.
package recording

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashplane/asicscan/internal/registry"
)

// Recorder appends poll samples for one device to a CSV file. The column
// layout (how many board and fan columns) is fixed by the first record;
// later samples with fewer boards or fans leave the extra cells empty and
// extra values beyond the layout are dropped.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	path   string
	boards int
	fans   int
	closed bool
}

// NewRecorder creates a CSV file under dir for the device and writes the
// header row. The filename combines model, address and start time.
func NewRecorder(dir string, rec *registry.Record) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.csv",
		sanitizeFilename(rec.Model),
		sanitizeFilename(rec.Addr),
		time.Now().Format("20060102-150405"),
	)
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	r := &Recorder{
		file:   file,
		w:      csv.NewWriter(file),
		path:   path,
		boards: len(rec.BoardHashrates),
		fans:   len(rec.FanRPM),
	}
	if r.boards < len(rec.BoardTemps) {
		r.boards = len(rec.BoardTemps)
	}

	if err := r.w.Write(r.header()); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write recording header: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write recording header: %w", err)
	}
	return r, nil
}

// Path returns the recording file path
func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) header() []string {
	cols := []string{"Timestamp", "Hashrate (TH/s)", "Power (W)", "Avg Temp (C)"}
	for i := 1; i <= r.boards; i++ {
		cols = append(cols, fmt.Sprintf("Board %d Hashrate (TH/s)", i))
	}
	for i := 1; i <= r.boards; i++ {
		cols = append(cols, fmt.Sprintf("Board %d Temp (C)", i))
	}
	for i := 1; i <= r.fans; i++ {
		cols = append(cols, fmt.Sprintf("Fan %d RPM", i))
	}
	return cols
}

// Append writes one sample row and flushes it to disk
func (r *Recorder) Append(rec *registry.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder for %s is closed", rec.Addr)
	}

	row := []string{
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		formatFloat(rec.HashrateTHS),
		formatFloat(rec.PowerW),
		formatFloat(rec.AvgTempC),
	}
	for i := 0; i < r.boards; i++ {
		row = append(row, floatAt(rec.BoardHashrates, i))
	}
	for i := 0; i < r.boards; i++ {
		row = append(row, floatAt(rec.BoardTemps, i))
	}
	for i := 0; i < r.fans; i++ {
		if i < len(rec.FanRPM) {
			row = append(row, strconv.Itoa(rec.FanRPM[i]))
		} else {
			row = append(row, "")
		}
	}

	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("failed to write recording row: %w", err)
	}
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the recording file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func floatAt(vals []float64, i int) string {
	if i < len(vals) {
		return formatFloat(vals[i])
	}
	return ""
}

// sanitizeFilename keeps filenames portable across platforms
func sanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	repl := strings.NewReplacer(
		" ", "-",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
	)
	return repl.Replace(s)
}
