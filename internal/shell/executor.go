package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/ianremillard/shellsession/internal/logger"
	"go.uber.org/zap"
)

// Default timeout, used when a caller doesn't specify one, and the size of
// each read from the child's output stream(s).
const (
	DefaultTimeoutSeconds = 1800
	readChunkSize         = 4096
)

// StartParams configures a single shell invocation.
type StartParams struct {
	Command        string
	Cwd            string
	Env            map[string]string
	PreferPTY      bool
	Background     bool // start already-backgrounded: no yield wait at all
	YieldMs        int  // 0 means "use the process default"
	TimeoutSeconds int  // 0 means "use the process default"; <0 disables the timeout
	MaxOutputChars int  // 0 means "use the process default"
}

// Update is delivered to the caller's onUpdate callback as new output
// arrives, while the caller is still attached (i.e. before yield/return).
type Update struct {
	SessionID string
	Stdout    string
	Stderr    string
}

// Outcome classifies how Start returned control to its caller.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeBackgrounded Outcome = "backgrounded"
	OutcomeTimedOut     Outcome = "timed_out"
)

// Result is what Start returns once it yields control, one way or another.
type Result struct {
	Session Snapshot
	Outcome Outcome
	// Reason explains an OutcomeTimedOut result: "timed out after N
	// seconds" when the timeout fired, "aborted before exit code" when
	// ctx was cancelled. Empty for a completed or backgrounded outcome,
	// including a completed outcome whose status is failed.
	Reason string
	// Warning is set when the requested transport degraded silently from
	// the caller's point of view (currently: PTY unavailable, fell back
	// to pipe mode). Empty when nothing degraded. Set regardless of
	// Outcome, since the degradation happens before the yield/timeout
	// race even starts.
	Warning string
}

// Executor starts and supervises shell sessions.
type Executor struct {
	log      *logger.Logger
	registry *Registry
	defaults EnvDefaults
}

// NewExecutor builds an Executor backed by the given Registry. If
// defaults is the zero value, it is populated from DefaultsFromEnv.
func NewExecutor(registry *Registry, log *logger.Logger, defaults EnvDefaults) *Executor {
	if log == nil {
		log = logger.Default()
	}
	if defaults == (EnvDefaults{}) {
		defaults = DefaultsFromEnv()
	}
	if defaults.YieldMs == 0 {
		defaults.YieldMs = defaultYieldMs
	}
	if defaults.MaxOutputChars == 0 {
		defaults.MaxOutputChars = defaultMaxOutputChars
	}
	return &Executor{
		log:      log.WithFields(zap.String("component", "executor")),
		registry: registry,
		defaults: defaults,
	}
}

// Start launches p.Command as a child process and supervises it until one
// of four things happens: the process exits within the yield window (and
// Background wasn't requested), the yield window elapses (caller is
// handed a backgrounded session), the timeout elapses (the process tree
// is killed), or ctx is cancelled (treated the same as abort/timeout:
// the process tree is killed and the session is marked failed, per the
// documented default for abort-before-yield). onUpdate is called for
// every output chunk observed before Start returns; it is never called
// afterward — callers poll the session for output once backgrounded.
func (e *Executor) Start(ctx context.Context, p StartParams, onUpdate func(Update)) (Result, error) {
	maxOutputChars := p.MaxOutputChars
	if maxOutputChars <= 0 {
		maxOutputChars = e.defaults.MaxOutputChars
	}
	maxOutputChars = clampInt(maxOutputChars, minMaxOutputChars, maxMaxOutputChars)

	yieldMs := p.YieldMs
	if yieldMs <= 0 {
		yieldMs = e.defaults.YieldMs
	}
	yieldMs = clampInt(yieldMs, minYieldMs, maxYieldMs)

	timeoutSeconds := p.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}

	mode := StdinPipe
	var warning string
	if p.PreferPTY {
		if err := ptyAvailable(); err == nil {
			mode = StdinPTY
		} else {
			warning = "pty unavailable, falling back to pipe mode."
			e.log.Warn(warning, zap.Error(err))
		}
	}

	sess := newSession(newSessionID(), p.Command, p.Cwd, mode, maxOutputChars)
	e.registry.add(sess)
	log := e.log.WithFields(zap.String("session_id", sess.ID))

	if err := e.spawn(sess, p, mode, log); err != nil {
		e.registry.markExited(sess, nil, "", StatusFailed)
		e.registry.delete(sess.ID)
		return Result{}, fmt.Errorf("shell: spawn: %w", err)
	}

	go e.pump(sess, onUpdate, log)

	result := e.supervise(ctx, sess, p.Background, yieldMs, timeoutSeconds, log)
	result.Warning = warning
	return result, nil
}

// spawn resolves the shell, builds the child's environment, and starts
// the process attached to either a PTY or three pipes.
func (e *Executor) spawn(sess *Session, p StartParams, mode StdinMode, log *logger.Logger) error {
	invocation := resolveShell()
	cmd := exec.Command(invocation.bin, invocation.cmdFlag, p.Command)
	cmd.Dir = p.Cwd

	env := os.Environ()
	if mode == StdinPTY {
		env = append(env, "TERM=xterm-256color")
	}
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if mode == StdinPTY {
		// pty.Start sets Setsid:true on the child, creating a new session
		// and process group (pgid == child pid); that alone gives us
		// kill(-pid, sig) semantics without also needing Setpgid, which
		// fails with EPERM on a session leader on some platforms.
		master, err := pty.StartWithSize(cmd, ptyGeometry)
		if err != nil {
			return fmt.Errorf("pty.StartWithSize: %w", err)
		}
		sess.mu.Lock()
		sess.ptyMaster = master
		sess.ptyCmd = cmd
		sess.pid = cmd.Process.Pid
		sess.mu.Unlock()
		return nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	sess.mu.Lock()
	sess.pipeStdin = stdin
	sess.pipeStdoutR = stdout
	sess.pipeStderrR = stderr
	sess.pipeCmd = cmd
	sess.pid = cmd.Process.Pid
	sess.mu.Unlock()

	log.Debug("spawned", zap.Int("pid", sess.pid))
	return nil
}

// pump drains the process's output stream(s) into the registry and the
// caller's onUpdate callback until the process exits, then records the
// terminal status.
func (e *Executor) pump(sess *Session, onUpdate func(Update), log *logger.Logger) {
	var wg sync.WaitGroup

	readInto := func(r io.Reader, stream string) {
		defer wg.Done()
		buf := make([]byte, readChunkSize)
		sani := &sanitizer{}
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := sani.Sanitize(buf[:n])
				if len(chunk) > 0 {
					e.appendChunked(sess, stream, chunk, onUpdate)
				}
			}
			if err != nil {
				return
			}
		}
	}

	sess.mu.Lock()
	mode := sess.StdinMode
	master := sess.ptyMaster
	pipeCmd := sess.pipeCmd
	ptyCmd := sess.ptyCmd
	stdoutR := sess.pipeStdoutR
	stderrR := sess.pipeStderrR
	sess.mu.Unlock()

	if mode == StdinPTY {
		wg.Add(1)
		go readInto(master, "stdout")
	} else {
		wg.Add(2)
		go readInto(stdoutR, "stdout")
		go readInto(stderrR, "stderr")
	}
	wg.Wait()

	var waitErr error
	if mode == StdinPTY {
		waitErr = ptyCmd.Wait()
		master.Close()
	} else {
		waitErr = pipeCmd.Wait()
	}

	exitCode, exitSignal, status := classifyExit(waitErr)
	e.registry.markExited(sess, exitCode, exitSignal, status)
	log.Debug("process exited", zap.Any("exit_code", exitCode), zap.String("signal", exitSignal))
}

// appendChunked slices chunk into sliceSize pieces so a single giant
// write can't be appended (and delivered to onUpdate) as one unbroken
// blob.
func (e *Executor) appendChunked(sess *Session, stream string, chunk []byte, onUpdate func(Update)) {
	for len(chunk) > 0 {
		n := len(chunk)
		if n > sliceSize {
			n = sliceSize
		}
		piece := chunk[:n]
		chunk = chunk[n:]

		e.registry.appendOutput(sess, stream, piece)
		if onUpdate != nil && !sess.IsBackgrounded() {
			u := Update{SessionID: sess.ID}
			if stream == "stdout" {
				u.Stdout = string(piece)
			} else {
				u.Stderr = string(piece)
			}
			onUpdate(u)
		}
	}
}

// classifyExit maps a cmd.Wait() error into an exit code/signal/status
// triple per the documented classification: a clean exit(0) is
// completed, anything else (non-zero exit, signal, spawn error
// surfaced through Wait) is failed.
func classifyExit(waitErr error) (*int, string, Status) {
	if waitErr == nil {
		code := 0
		return &code, "", StatusCompleted
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				sig := ws.Signal().String()
				return nil, sig, StatusFailed
			}
			code := ws.ExitStatus()
			status := StatusFailed
			if code == 0 {
				status = StatusCompleted
			}
			return &code, "", status
		}
		code := exitErr.ExitCode()
		return &code, "", StatusFailed
	}
	return nil, "", StatusFailed
}

// supervise races the yield window, the timeout, ctx cancellation, and
// process exit, settling exactly once on whichever happens first.
func (e *Executor) supervise(ctx context.Context, sess *Session, background bool, yieldMs, timeoutSeconds int, log *logger.Logger) Result {
	if background {
		e.registry.markBackgrounded(sess)
		return Result{Session: sess.snapshot(), Outcome: OutcomeBackgrounded}
	}

	yieldTimer := time.NewTimer(time.Duration(yieldMs) * time.Millisecond)
	defer yieldTimer.Stop()

	var timeoutCh <-chan time.Time
	if timeoutSeconds > 0 {
		timeoutTimer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
		defer timeoutTimer.Stop()
		timeoutCh = timeoutTimer.C
	}

	select {
	case <-sess.exitedCh:
		return Result{Session: sess.snapshot(), Outcome: OutcomeCompleted}

	case <-yieldTimer.C:
		e.registry.markBackgrounded(sess)
		return Result{Session: sess.snapshot(), Outcome: OutcomeBackgrounded}

	case <-timeoutCh:
		log.Warn("session timed out, killing process tree")
		e.abort(sess)
		reason := fmt.Sprintf("timed out after %d seconds", timeoutSeconds)
		return Result{Session: sess.snapshot(), Outcome: OutcomeTimedOut, Reason: reason}

	case <-ctx.Done():
		log.Warn("context cancelled before yield, killing process tree")
		e.abort(sess)
		return Result{Session: sess.snapshot(), Outcome: OutcomeTimedOut, Reason: "aborted before exit code"}
	}
}

// abort kills the process tree and waits up to killGracePeriod+1s for
// pump's exit handler to record the terminal status, so the snapshot
// returned to the caller is settled unless that wait runs out.
func (e *Executor) abort(sess *Session) {
	pid := sess.PID()
	if err := killProcessTree(pid, sess.exitedCh); err != nil {
		e.log.WithError(err).Warn("kill process tree failed", zap.String("session_id", sess.ID))
	}
	select {
	case <-sess.exitedCh:
	case <-time.After(killGracePeriod + time.Second):
		// pump should have observed the exit by now; don't block forever
		// if something unexpected is holding the fds open.
	}
}
