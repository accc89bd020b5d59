package recording

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hashplane/asicscan/internal/registry"
)

var fleetHeader = []string{
	"Address", "MAC", "Hostname", "Model", "Firmware",
	"Hashrate (TH/s)", "Avg Temp (C)", "Power (W)", "Efficiency (W/TH)",
	"Worker", "Pool", "Fault Light", "Updated",
}

// ExportFleet writes a summary CSV of every record, one device per row,
// in registry list order.
func ExportFleet(w io.Writer, records []*registry.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(fleetHeader); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for _, rec := range records {
		pool := ""
		if len(rec.Pools) > 0 {
			pool = rec.Pools[0].URL
		}
		row := []string{
			rec.Addr,
			rec.MAC,
			rec.Hostname,
			rec.Model,
			rec.Firmware,
			formatFloat(rec.HashrateTHS),
			formatFloat(rec.AvgTempC),
			formatFloat(rec.PowerW),
			formatFloat(rec.EfficiencyWTH),
			rec.Worker,
			pool,
			strconv.FormatBool(rec.FaultLight),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write export row for %s: %w", rec.Addr, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportHistory writes a device's metric history as CSV, oldest first
func ExportHistory(w io.Writer, samples []registry.Sample) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Timestamp", "Hashrate (TH/s)", "Power (W)", "Avg Temp (C)"}); err != nil {
		return fmt.Errorf("failed to write history header: %w", err)
	}
	for _, s := range samples {
		row := []string{
			s.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(s.HashrateTHS),
			formatFloat(s.PowerW),
			formatFloat(s.AvgTempC),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write history row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
