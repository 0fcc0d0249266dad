package shell

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ianremillard/shellsession/internal/logger"
	"go.uber.org/zap"
)

// Action names accepted by Dispatch.
const (
	ActionList   = "list"
	ActionPoll   = "poll"
	ActionLog    = "log"
	ActionWrite  = "write"
	ActionKill   = "kill"
	ActionClear  = "clear"
	ActionRemove = "remove"
)

// ControllerParams carries every field any action might need; unused
// fields for a given action are ignored.
type ControllerParams struct {
	Action    string
	SessionID string
	Data      string
	EOF       bool
	Offset    *int
	Limit     *int
}

// ListEntry is one row of a `list` result.
type ListEntry struct {
	ID           string
	ShortID      string
	Name         string
	Status       Status
	PID          int
	Cwd          string
	Command      string
	StartedAt    time.Time
	EndedAt      time.Time
	Tail         string
	Truncated    bool
	Backgrounded bool
	ExitCode     *int
	ExitSignal   string
}

// PollResult is the `poll` response shape.
type PollResult struct {
	Output     string
	Running    bool
	ExitCode   *int
	ExitSignal string
}

// LogResult is the `log` response shape.
type LogResult struct {
	Lines      []string
	TotalLines int
	TotalChars int
}

// ControllerError is a structured, non-exceptional failure: invalid
// arguments, a missing session, or an operation attempted in the wrong
// session phase. Controller never panics or returns a bare error for
// these cases — callers render Error as the result's failure text.
type ControllerError struct {
	Message string
}

func (e *ControllerError) Error() string { return e.Message }

func fail(format string, args ...any) *ControllerError {
	return &ControllerError{Message: fmt.Sprintf(format, args...)}
}

// Controller is a stateless dispatcher over a Registry; it holds no
// per-call state of its own.
type Controller struct {
	registry *Registry
	log      *logger.Logger
}

// NewController builds a Controller over the given Registry.
func NewController(registry *Registry, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Default()
	}
	return &Controller{registry: registry, log: log}
}

// List returns every running and finished session, sorted by StartedAt
// descending.
func (c *Controller) List() []ListEntry {
	running := c.registry.listRunning()
	finished := c.registry.listFinished()

	entries := make([]ListEntry, 0, len(running)+len(finished))
	for _, s := range running {
		entries = append(entries, toListEntry(s))
	}
	for _, s := range finished {
		entries = append(entries, toListEntry(s))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	return entries
}

func toListEntry(s Snapshot) ListEntry {
	shortID := s.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return ListEntry{
		ID:           s.ID,
		ShortID:      shortID,
		Name:         deriveName(s.Command),
		Status:       s.Status,
		PID:          s.PID,
		Cwd:          s.Cwd,
		Command:      s.Command,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Tail:         s.Tail,
		Truncated:    s.Truncated,
		Backgrounded: s.Backgrounded,
		ExitCode:     s.ExitCode,
		ExitSignal:   s.ExitSignal,
	}
}

// Poll requires a backgrounded session; it drains pending output and
// reports whether the process is still running.
func (c *Controller) Poll(sessionID string) (PollResult, error) {
	if sessionID == "" {
		return PollResult{}, fail("sessionId is required")
	}
	s := c.registry.get(sessionID)
	if s == nil {
		if c.registry.getFinished(sessionID) != nil {
			s = c.registry.getFinished(sessionID)
		} else {
			return PollResult{}, fail("no active session with id %s", sessionID)
		}
	}
	if !s.IsBackgrounded() {
		return PollResult{}, fail("session %s has not been backgrounded; poll only applies to backgrounded sessions", sessionID)
	}

	stdout, stderr := c.registry.drain(s)
	var parts []string
	if len(stdout) > 0 {
		parts = append(parts, string(stdout))
	}
	if len(stderr) > 0 {
		parts = append(parts, string(stderr))
	}
	output := strings.Join(parts, "\n")
	if output == "" {
		output = "(no new output)"
	}

	snap := s.snapshot()
	return PollResult{
		Output:     output,
		Running:    !snap.Exited,
		ExitCode:   snap.ExitCode,
		ExitSignal: snap.ExitSignal,
	}, nil
}

// Log reads a slice of aggregated output by line. If offset is nil and
// limit is non-nil, it returns the last *limit lines (tail view);
// otherwise it returns lines [offset, offset+limit).
func (c *Controller) Log(sessionID string, offset, limit *int) (LogResult, error) {
	if sessionID == "" {
		return LogResult{}, fail("sessionId is required")
	}
	s := c.registry.get(sessionID)
	if s == nil {
		s = c.registry.getFinished(sessionID)
	}
	if s == nil {
		return LogResult{}, fail("no session with id %s", sessionID)
	}

	snap := s.snapshot()
	allLines := splitLines(snap.Aggregated)
	total := len(allLines)

	var start, end int
	switch {
	case offset == nil && limit != nil:
		n := *limit
		if n < 0 {
			n = 0
		}
		start = total - n
		if start < 0 {
			start = 0
		}
		end = total
	case offset != nil && limit != nil:
		start = clampInt(*offset, 0, total)
		end = clampInt(*offset+*limit, start, total)
	case offset != nil && limit == nil:
		start = clampInt(*offset, 0, total)
		end = total
	default:
		start, end = 0, total
	}

	lines := append([]string(nil), allLines[start:end]...)
	return LogResult{
		Lines:      lines,
		TotalLines: total,
		TotalChars: len(snap.Aggregated),
	}, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// Write requires a backgrounded, non-exited session with writable
// stdin.
func (c *Controller) Write(sessionID, data string, eof bool) error {
	if sessionID == "" {
		return fail("sessionId is required")
	}
	s := c.registry.get(sessionID)
	if s == nil {
		return fail("no active session with id %s", sessionID)
	}
	if !s.IsBackgrounded() {
		return fail("session %s has not been backgrounded; write only applies to backgrounded sessions", sessionID)
	}
	if s.IsExited() {
		return fail("session %s has already exited", sessionID)
	}
	if err := s.writeStdin([]byte(data), eof); err != nil {
		return fail("write to session %s failed: %v", sessionID, err)
	}
	return nil
}

// Kill requires a backgrounded session; it signals the process tree and
// waits for the executor's own exit handler (pump, in executor.go) to
// observe the exit and record it, so output already enqueued by the OS
// before the process died is drained before the session is flipped to
// exited. Only once that has happened does it overwrite the recorded
// signal to the canonical "SIGKILL": pump itself may have observed a
// different signal name depending on platform, but the documented
// contract for this action is specifically "SIGKILL".
func (c *Controller) Kill(sessionID string) error {
	if sessionID == "" {
		return fail("sessionId is required")
	}
	s := c.registry.get(sessionID)
	if s == nil {
		return fail("no active session with id %s", sessionID)
	}
	if !s.IsBackgrounded() {
		return fail("session %s has not been backgrounded; kill only applies to backgrounded sessions", sessionID)
	}
	if err := killProcessTree(s.PID(), s.exitedCh); err != nil {
		c.log.WithError(err).Warn("kill process tree failed")
	}
	c.awaitExit(s, sessionID)
	c.registry.markExited(s, nil, "SIGKILL", StatusFailed)
	return nil
}

// awaitExit blocks until s.exitedCh closes (pump has recorded the
// terminal status) or killGracePeriod+1s elapses, whichever comes
// first; it never settles the session itself.
func (c *Controller) awaitExit(s *Session, sessionID string) {
	select {
	case <-s.exitedCh:
	case <-time.After(killGracePeriod + time.Second):
		c.log.Warn("timed out waiting for killed session to exit", zap.String("session_id", sessionID))
	}
}

// Clear removes a finished session from the registry. It is an error
// to clear a still-running session.
func (c *Controller) Clear(sessionID string) error {
	if sessionID == "" {
		return fail("sessionId is required")
	}
	if c.registry.get(sessionID) != nil {
		return fail("session %s is still running; use kill or remove instead", sessionID)
	}
	if c.registry.getFinished(sessionID) == nil {
		return fail("no finished session with id %s", sessionID)
	}
	c.registry.delete(sessionID)
	return nil
}

// Remove works for both live and finished sessions: a live session is
// killed first (waiting for pump's own exit handler and recording
// "SIGKILL", same as Kill), then deleted either way.
func (c *Controller) Remove(sessionID string) error {
	if sessionID == "" {
		return fail("sessionId is required")
	}
	if s := c.registry.get(sessionID); s != nil {
		if err := killProcessTree(s.PID(), s.exitedCh); err != nil {
			c.log.WithError(err).Warn("kill process tree failed")
		}
		c.awaitExit(s, sessionID)
		c.registry.markExited(s, nil, "SIGKILL", StatusFailed)
		c.registry.delete(sessionID)
		return nil
	}
	if c.registry.getFinished(sessionID) == nil {
		return fail("no session with id %s", sessionID)
	}
	c.registry.delete(sessionID)
	return nil
}

// DispatchResult is the uniform envelope Dispatch returns regardless of
// which action ran, so tool.go can render every action through one path.
type DispatchResult struct {
	Text string
	List []ListEntry
	Poll *PollResult
	Log  *LogResult
}

// Dispatch routes a ControllerParams to the method matching its Action.
// Every action but "list" requires a non-empty SessionID; that check
// happens inside each method so the message names the right session.
func (c *Controller) Dispatch(p ControllerParams) (DispatchResult, error) {
	switch p.Action {
	case ActionList:
		return DispatchResult{List: c.List()}, nil

	case ActionPoll:
		res, err := c.Poll(p.SessionID)
		if err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Poll: &res, Text: res.Output}, nil

	case ActionLog:
		res, err := c.Log(p.SessionID, p.Offset, p.Limit)
		if err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Log: &res, Text: strings.Join(res.Lines, "\n")}, nil

	case ActionWrite:
		if err := c.Write(p.SessionID, p.Data, p.EOF); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Text: "written"}, nil

	case ActionKill:
		if err := c.Kill(p.SessionID); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Text: "killed"}, nil

	case ActionClear:
		if err := c.Clear(p.SessionID); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Text: "cleared"}, nil

	case ActionRemove:
		if err := c.Remove(p.SessionID); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Text: "removed"}, nil

	default:
		return DispatchResult{}, fail("unknown action %q", p.Action)
	}
}

// deriveName tokenizes the command (quote-aware whitespace splitting),
// takes the first token as the verb and the first following non-flag
// token as the target (falling back to the second token), and returns
// "verb target" with target middle-truncated to 48 characters.
func deriveName(command string) string {
	tokens := tokenizeCommand(command)
	if len(tokens) == 0 {
		return ""
	}
	verb := tokens[0]

	var target string
	for _, t := range tokens[1:] {
		if !strings.HasPrefix(t, "-") {
			target = t
			break
		}
	}
	if target == "" && len(tokens) > 1 {
		target = tokens[1]
	}

	if target == "" {
		return verb
	}
	return verb + " " + middleTruncate(target, 48)
}

// tokenizeCommand splits on whitespace while treating single- and
// double-quoted spans as atomic, then strips the surrounding quotes
// from each token.
func tokenizeCommand(command string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func middleTruncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	half := (max - 3) / 2
	rest := max - 3 - half
	return s[:half] + "..." + s[len(s)-rest:]
}
