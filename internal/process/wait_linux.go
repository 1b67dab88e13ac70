package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until p exits without reaping it. The zombie keeps the
// pid, and so the process group id, reserved until Wait.
func awaitExit(p *os.Process) bool {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, p.Pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return err == nil
		}
	}
}
