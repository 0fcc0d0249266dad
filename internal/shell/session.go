// Package shell implements a shell-session execution service: it launches
// shell commands as child processes, streams their output, optionally
// backgrounds them with bounded buffering, and exposes follow-up
// operations (poll, tail, write, kill, remove) over a stable session id.
package shell

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// StdinMode selects the stdio transport used for a session.
type StdinMode string

const (
	StdinPipe StdinMode = "pipe"
	StdinPTY  StdinMode = "pty"
)

// Status is the terminal (or running) classification of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ptyGeometry is the fixed initial PTY size; no resize negotiation is
// exposed (spec: fixed initial geometry, no interactive resize).
var ptyGeometry = &pty.Winsize{Cols: 120, Rows: 30}

// sliceSize bounds how much output is appended (and delivered to
// onUpdate) in one step.
const sliceSize = 8 * 1024 // 8 KiB

// defaultTailChars bounds the cheap-preview tail; large enough to be a
// useful preview, small enough to stay cheap to carry around.
const defaultTailChars = 4 * 1024

// Session is a running or recently-finished shell invocation.
//
// Immutable fields are set once at creation and never change. Mutable
// fields are protected by mu; callers outside this package must go
// through Registry/Controller methods rather than touching them directly.
type Session struct {
	// Immutable after creation.
	ID             string
	Command        string
	Cwd            string
	StdinMode      StdinMode
	MaxOutputChars int
	StartedAt      time.Time

	mu sync.Mutex

	pid        int
	endedAt    time.Time
	aggregated []byte
	tail       []byte

	pendingStdout []byte
	pendingStderr []byte

	totalOutputChars int
	truncated        bool
	backgrounded     bool

	exited     bool
	exitCode   *int
	exitSignal string
	status     Status

	// Transport handles; discriminated by StdinMode. For StdinPTY, only
	// ptyMaster/ptyCmd are set. For StdinPipe, pipeStdin/pipeCmd plus the
	// two read ends are set.
	pipeStdin   io.WriteCloser
	pipeStdoutR io.ReadCloser
	pipeStderrR io.ReadCloser
	pipeCmd     *exec.Cmd
	ptyMaster   *os.File
	ptyCmd      *exec.Cmd

	exitedCh chan struct{} // closed exactly once, when markExited first runs
}

func newSession(id, command, cwd string, mode StdinMode, maxOutputChars int) *Session {
	return &Session{
		ID:             id,
		Command:        command,
		Cwd:            cwd,
		StdinMode:      mode,
		MaxOutputChars: maxOutputChars,
		StartedAt:      time.Now(),
		status:         StatusRunning,
		exitedCh:       make(chan struct{}),
	}
}

func newSessionID() string {
	return uuid.NewString()
}

// Snapshot is a point-in-time, lock-free copy of a Session's fields,
// safe to read and pass around after it is produced.
type Snapshot struct {
	ID               string
	Command          string
	Cwd              string
	StdinMode        StdinMode
	PID              int
	StartedAt        time.Time
	EndedAt          time.Time
	MaxOutputChars   int
	Aggregated       string
	Tail             string
	TotalOutputChars int
	Truncated        bool
	Backgrounded     bool
	Exited           bool
	ExitCode         *int
	ExitSignal       string
	Status           Status
}

// snapshot returns a copy of s's state under lock.
func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	var exitCode *int
	if s.exitCode != nil {
		v := *s.exitCode
		exitCode = &v
	}
	return Snapshot{
		ID:               s.ID,
		Command:          s.Command,
		Cwd:              s.Cwd,
		StdinMode:        s.StdinMode,
		PID:              s.pid,
		StartedAt:        s.StartedAt,
		EndedAt:          s.endedAt,
		MaxOutputChars:   s.MaxOutputChars,
		Aggregated:       string(s.aggregated),
		Tail:             string(s.tail),
		TotalOutputChars: s.totalOutputChars,
		Truncated:        s.truncated,
		Backgrounded:     s.backgrounded,
		Exited:           s.exited,
		ExitCode:         exitCode,
		ExitSignal:       s.exitSignal,
		Status:           s.status,
	}
}

// IsBackgrounded reports whether the executor has already yielded control
// to the caller for this session.
func (s *Session) IsBackgrounded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backgrounded
}

// IsExited reports whether the process has finished.
func (s *Session) IsExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// PID returns the OS process id, or 0 if the session never got one.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// ErrSessionExited is returned by writeStdin once the process has
// finished; there is no pipe or PTY master left to write to.
var ErrSessionExited = errors.New("shell: session has already exited")

// writeStdin sends data to the child's input stream. If appendEOF is
// set, the stdin pipe is closed afterward (PTY mode has no clean
// half-close, so EOF there is simulated with the ASCII EOT byte
// instead, matching a real terminal's Ctrl-D behavior).
func (s *Session) writeStdin(data []byte, appendEOF bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return ErrSessionExited
	}

	switch s.StdinMode {
	case StdinPTY:
		if s.ptyMaster == nil {
			return ErrSessionExited
		}
		if len(data) > 0 {
			if _, err := s.ptyMaster.Write(data); err != nil {
				return err
			}
		}
		if appendEOF {
			_, err := s.ptyMaster.Write([]byte{0x04}) // Ctrl-D / EOT
			return err
		}
		return nil

	default: // StdinPipe
		if s.pipeStdin == nil {
			return ErrSessionExited
		}
		if len(data) > 0 {
			if _, err := s.pipeStdin.Write(data); err != nil {
				return err
			}
		}
		if appendEOF {
			return s.pipeStdin.Close()
		}
		return nil
	}
}
