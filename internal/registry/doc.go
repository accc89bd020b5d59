// Package registry holds the last known state of every discovered miner.
//
// The registry is the single shared resource of the application: sweep
// workers and per-device pollers write into it concurrently while the TUI,
// the telemetry server and CSV exporters read from it. Updates are atomic
// per record and ordered by snapshot timestamp: an update carrying an
// older-or-equal timestamp than the stored record is silently dropped, so
// an in-flight stale response can never clobber a newer one. Failed polls
// never modify a record: a miner that stops answering stays visible with
// its last good data (stale-but-present).
//
// Each record carries a bounded ring of historical metric samples; once the
// ring is full the oldest sample is evicted on every append, keeping memory
// flat regardless of session length.
package registry
