package shell

import (
	"errors"
	"fmt"
	"sync"

	"github.com/creack/pty"
)

// ErrPTYUnavailable is wrapped into the cached failure so every caller
// after the first sees the same underlying reason.
var ErrPTYUnavailable = errors.New("shell: pty backend unavailable")

// ptyProbe caches whether the PTY backend is usable on this host. The
// probe runs at most once per process: creack/pty opens a real
// master/slave pair to test kernel support, which is too expensive (and
// too noisy, on hosts without /dev/ptmx) to redo per session.
var (
	ptyProbeOnce sync.Once
	ptyProbeErr  error

	// ptyOpen is a var so tests can substitute a failing probe without a
	// real PTY-less host.
	ptyOpen = pty.Open
)

// ptyAvailable reports whether PTY sessions can be started on this host,
// probing (and caching the result, success or failure) on first use.
func ptyAvailable() error {
	ptyProbeOnce.Do(func() {
		f, tty, err := ptyOpen()
		if err != nil {
			ptyProbeErr = fmt.Errorf("%w: %w", ErrPTYUnavailable, err)
			return
		}
		f.Close()
		tty.Close()
	})
	return ptyProbeErr
}
