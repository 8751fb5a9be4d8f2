//go:build windows

package tmux

import "os"

// killProcessGroup is best-effort on Windows: tmux itself only runs under
// unix-like environments, but the build must still succeed cross-platform.
func killProcessGroup(pgid int) {
	if proc, err := os.FindProcess(pgid); err == nil {
		_ = proc.Kill()
	}
}

func getProcessGroupID(pid string) string {
	return ""
}
