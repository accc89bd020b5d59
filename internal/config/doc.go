// Package config persists user settings between sessions: saved scan
// ranges and the scan/poll tuning knobs. The configuration lives in a
// single YAML file under the OS-appropriate config directory and is
// written atomically (temp file plus rename) so a crash mid-save never
// leaves a corrupt file behind.
package config
