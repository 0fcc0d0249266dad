package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(reg *Registry, maxOutputChars int) *Session {
	s := newSession(newSessionID(), "echo hi", "/tmp", StdinPipe, maxOutputChars)
	reg.add(s)
	return s
}

func TestRegistryAddDuplicateIDPanics(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, defaultMaxOutputChars)

	assert.Panics(t, func() {
		reg.add(s)
	})
}

func TestRegistryAppendOutputEnforcesCap(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, 10)

	reg.appendOutput(s, "stdout", []byte("0123456789ABCDEF"))

	snap := s.snapshot()
	assert.Len(t, snap.Aggregated, 10)
	assert.True(t, snap.Truncated)
	assert.Equal(t, 16, snap.TotalOutputChars)
}

func TestRegistryAppendOutputStopsAfterExit(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, defaultMaxOutputChars)

	code := 0
	reg.markExited(s, &code, "", StatusCompleted)
	reg.appendOutput(s, "stdout", []byte("too late"))

	snap := s.snapshot()
	assert.Empty(t, snap.Aggregated)
}

func TestRegistryDrainIsAtomicAndIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, defaultMaxOutputChars)

	reg.appendOutput(s, "stdout", []byte("out"))
	reg.appendOutput(s, "stderr", []byte("err"))

	stdout, stderr := reg.drain(s)
	assert.Equal(t, "out", string(stdout))
	assert.Equal(t, "err", string(stderr))

	stdout2, stderr2 := reg.drain(s)
	assert.Empty(t, stdout2)
	assert.Empty(t, stderr2)
}

func TestRegistryMarkExitedMovesSessionOnce(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, defaultMaxOutputChars)

	require.NotNil(t, reg.get(s.ID))
	require.Nil(t, reg.getFinished(s.ID))

	code := 0
	reg.markExited(s, &code, "", StatusCompleted)
	assert.Nil(t, reg.get(s.ID))
	assert.NotNil(t, reg.getFinished(s.ID))

	firstEndedAt := s.snapshot().EndedAt

	// Second call (e.g. Controller.Kill recording SIGKILL after the
	// executor's own exit handler already fired) updates fields in
	// place without moving the session again or re-closing exitedCh.
	assert.NotPanics(t, func() {
		reg.markExited(s, nil, "SIGKILL", StatusFailed)
	})
	snap := s.snapshot()
	assert.Equal(t, "SIGKILL", snap.ExitSignal)
	assert.Equal(t, firstEndedAt, snap.EndedAt)
}

func TestRegistryListRunningAndFinishedAreDisjoint(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s1 := newTestSession(reg, defaultMaxOutputChars)
	s2 := newTestSession(reg, defaultMaxOutputChars)

	code := 0
	reg.markExited(s1, &code, "", StatusCompleted)

	running := reg.listRunning()
	finished := reg.listFinished()
	require.Len(t, running, 1)
	require.Len(t, finished, 1)
	assert.Equal(t, s2.ID, running[0].ID)
	assert.Equal(t, s1.ID, finished[0].ID)
}

func TestRegistrySweepRemovesOnlyExpiredFinishedSessions(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	reg.setJobTTL(10 * time.Millisecond)

	s := newTestSession(reg, defaultMaxOutputChars)
	code := 0
	reg.markExited(s, &code, "", StatusCompleted)

	require.Eventually(t, func() bool {
		reg.sweep()
		return reg.getFinished(s.ID) == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistryDeleteRemovesFromEitherSet(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	s := newTestSession(reg, defaultMaxOutputChars)

	reg.delete(s.ID)
	assert.Nil(t, reg.get(s.ID))
}
