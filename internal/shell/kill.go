package shell

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// killGracePeriod is how long killProcessTree waits after SIGTERM before
// escalating to SIGKILL.
const killGracePeriod = 3 * time.Second

// killProcessTree signals the whole process group led by pid: SIGTERM
// first, then, if the group hasn't exited within killGracePeriod,
// SIGKILL. Each session's child is started in its own process group
// (Setpgid via exec.Cmd.SysProcAttr in pipe mode; a new session via
// pty.StartWithSize in PTY mode), so signalling -pid reaches any
// descendants it spawned too. exited is consulted between the two
// phases so an already-finished session is a silent no-op rather than
// an error.
func killProcessTree(pid int, exited <-chan struct{}) error {
	if pid <= 0 {
		return nil
	}

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Process is already gone; nothing to signal.
		return nil
	}

	if err := signalGroup(pgid, syscall.SIGTERM); err != nil && err != unix.ESRCH {
		return err
	}

	select {
	case <-exited:
		return nil
	case <-time.After(killGracePeriod):
	}

	if err := signalGroup(pgid, syscall.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

// signalGroup signals every process in the given process group. Negating
// the pgid is the POSIX convention for "target the group, not the
// leader".
func signalGroup(pgid int, sig syscall.Signal) error {
	err := unix.Kill(-pgid, sig)
	if err == unix.ESRCH {
		// Group already empty: tolerate descendants that exited on
		// their own between our Getpgid and this signal.
		return nil
	}
	return err
}
