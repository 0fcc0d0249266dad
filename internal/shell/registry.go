package shell

import (
	"sync"
	"time"

	"github.com/ianremillard/shellsession/internal/logger"
	"go.uber.org/zap"
)

// TTL bounds for finished-session retention.
const (
	DefaultJobTTL = 10 * time.Minute
	MinJobTTL     = 0 // 0 disables the sweep entirely
	MaxJobTTL     = 24 * time.Hour
)

// Registry is the process-wide, in-memory mapping of session id to live
// session, plus a bounded store of recently-finished sessions. It owns the
// TTL sweeper. A Registry is safe for concurrent use.
type Registry struct {
	log *logger.Logger

	mu       sync.Mutex
	running  map[string]*Session
	finished map[string]*Session
	jobTTL   time.Duration

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewRegistry creates an empty Registry and starts its TTL sweeper.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	r := &Registry{
		log:      log.WithFields(zap.String("component", "registry")),
		running:  make(map[string]*Session),
		finished: make(map[string]*Session),
		jobTTL:   DefaultJobTTL,
	}
	r.startSweeper()
	return r
}

// add inserts a newly-created session into the live set. The id must be
// unique (ids come from a UUID source); a collision is a programmer
// error and panics rather than silently overwriting state.
func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[s.ID]; exists {
		panic("shell: duplicate session id " + s.ID)
	}
	if _, exists := r.finished[s.ID]; exists {
		panic("shell: duplicate session id " + s.ID)
	}
	r.running[s.ID] = s
}

// get returns the live session with the given id, or nil.
func (r *Registry) get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[id]
}

// getFinished returns the finished session with the given id, or nil.
func (r *Registry) getFinished(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished[id]
}

// appendOutput enforces the per-session output cap, updates the tail, and
// enqueues the chunk into the appropriate pending buffer. Exported stream
// names are "stdout" and "stderr".
func (r *Registry) appendOutput(s *Session, stream string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		// Invariant: no output is appended after exit.
		return
	}

	remaining := s.MaxOutputChars - len(s.aggregated)
	toAppend := chunk
	if remaining <= 0 {
		toAppend = nil
	} else if len(chunk) > remaining {
		toAppend = chunk[:remaining]
	}
	if len(toAppend) > 0 {
		s.aggregated = append(s.aggregated, toAppend...)
	}
	if len(toAppend) < len(chunk) {
		s.truncated = true
	}

	s.totalOutputChars += len(chunk)
	s.tail = tailBytes(s.aggregated, defaultTailChars)

	switch stream {
	case "stdout":
		s.pendingStdout = append(s.pendingStdout, chunk...)
	case "stderr":
		s.pendingStderr = append(s.pendingStderr, chunk...)
	}
}

func tailBytes(b []byte, n int) []byte {
	if len(b) <= n {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	out := make([]byte, n)
	copy(out, b[len(b)-n:])
	return out
}

// drain atomically swaps the pending stdout/stderr buffers for empty ones
// and returns what was swapped out. A chunk appended concurrently is
// observed either entirely before or entirely after the swap, because both
// appendOutput and drain hold s.mu for their whole critical section.
func (r *Registry) drain(s *Session) (stdout, stderr []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stdout, s.pendingStdout = s.pendingStdout, nil
	stderr, s.pendingStderr = s.pendingStderr, nil
	return stdout, stderr
}

// markBackgrounded performs the one-way false→true transition.
func (r *Registry) markBackgrounded(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgrounded = true
}

// markExited records terminal status on first call and moves the session
// from the live set to the finished set; subsequent calls (e.g.
// Controller.Kill overwriting the signal to the canonical "SIGKILL"
// after pump's own call already recorded the real exit and drained
// output) update the status fields in place without moving it again or
// re-closing exitedCh.
func (r *Registry) markExited(s *Session, exitCode *int, exitSignal string, status Status) {
	s.mu.Lock()
	first := !s.exited
	if first {
		s.exited = true
		s.endedAt = time.Now()
		close(s.exitedCh)
	}
	s.exitCode = exitCode
	s.exitSignal = exitSignal
	s.status = status
	s.tail = tailBytes(s.aggregated, defaultTailChars)
	s.mu.Unlock()

	if !first {
		return
	}

	r.mu.Lock()
	delete(r.running, s.ID)
	r.finished[s.ID] = s
	r.mu.Unlock()

	r.log.Debug("session finished", zap.String("id", s.ID), zap.String("status", string(status)))
}

// listRunning returns a snapshot of all live sessions, unordered.
func (r *Registry) listRunning() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.running))
	for _, s := range r.running {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		out[i] = s.snapshot()
	}
	return out
}

// listFinished returns a snapshot of all finished sessions, unordered.
func (r *Registry) listFinished() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.finished))
	for _, s := range r.finished {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		out[i] = s.snapshot()
	}
	return out
}

// delete removes a session from whichever set it is in.
func (r *Registry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
	delete(r.finished, id)
}

// setJobTTL configures the retention window for finished sessions. A
// non-positive ttl disables the sweep.
func (r *Registry) setJobTTL(ttl time.Duration) {
	if ttl > MaxJobTTL {
		ttl = MaxJobTTL
	}
	r.mu.Lock()
	r.jobTTL = ttl
	r.mu.Unlock()
}

// startSweeper launches the background goroutine that periodically walks
// the finished set and removes entries past their TTL. Never removes a
// live session — it only ever touches r.finished.
func (r *Registry) startSweeper() {
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})
	stop, done := r.sweepStop, r.sweepDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Close stops the TTL sweeper. Safe to call once; further use of the
// Registry after Close is undefined.
func (r *Registry) Close() {
	close(r.sweepStop)
	<-r.sweepDone
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.jobTTL)
	for id, s := range r.finished {
		s.mu.Lock()
		ended := s.endedAt
		s.mu.Unlock()
		if ended.Before(cutoff) {
			delete(r.finished, id)
			r.log.Debug("swept finished session", zap.String("id", id))
		}
	}
}
