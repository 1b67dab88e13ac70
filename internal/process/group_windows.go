//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGTERM; the graceful step is skipped.
func interruptGroup(p *os.Process) {
	p.Kill()
}

func killGroup(p *os.Process) {
	p.Kill()
}
