//go:build windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

const processQueryLimitedInformation = 0x1000

// setSysProcAttr is a no-op on Windows; run the gateway under a service
// manager there instead of --daemon.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning opens a query-only handle to pid. OpenProcess fails once
// the process has exited.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(h)

	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

// stopProcess terminates the process. Windows has no SIGTERM equivalent for
// console-less children.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
