package miner

import (
	"fmt"
	"os/exec"
	"runtime"
)

// WebURL returns the address of the miner's web dashboard
func WebURL(addr string) string {
	return fmt.Sprintf("http://%s/", addr)
}

// OpenWebInterface launches the system browser pointed at the miner's web
// dashboard. Fire-and-forget: the browser process is started and not waited
// on, and failures are reported only to the caller that asked.
func OpenWebInterface(addr string) error {
	url := WebURL(addr)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open web interface for %s: %w", addr, err)
	}
	return nil
}
