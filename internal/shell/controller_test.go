package shell

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeCommandRespectsQuotes(t *testing.T) {
	tokens := tokenizeCommand(`git commit -m "fix the thing" --amend`)
	assert.Equal(t, []string{"git", "commit", "-m", "fix the thing", "--amend"}, tokens)
}

func TestTokenizeCommandSingleQuotes(t *testing.T) {
	tokens := tokenizeCommand(`echo 'hello world'`)
	assert.Equal(t, []string{"echo", "hello world"}, tokens)
}

func TestDeriveNameSkipsFlags(t *testing.T) {
	assert.Equal(t, "npm install", deriveName("npm --silent install"))
}

func TestDeriveNameFallsBackToSecondToken(t *testing.T) {
	assert.Equal(t, "ls -la", deriveName("ls -la"))
}

func TestDeriveNameSingleToken(t *testing.T) {
	assert.Equal(t, "pwd", deriveName("pwd"))
}

func TestMiddleTruncateShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "short", middleTruncate("short", 48))
}

func TestMiddleTruncateLongStringKeepsEnds(t *testing.T) {
	s := strings.Repeat("a", 30) + strings.Repeat("b", 30)
	out := middleTruncate(s, 48)
	assert.Len(t, out, 48)
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "bbbb"))
	assert.Contains(t, out, "...")
}

func TestControllerPollRequiresSessionID(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	_, err := c.Poll("")
	require.Error(t, err)
}

func TestControllerPollRejectsNonBackgroundedSession(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "echo hi", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)

	_, err := c.Poll(s.ID)
	require.Error(t, err)
}

func TestControllerPollDrainsPendingOutput(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "cat", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)
	reg.markBackgrounded(s)
	reg.appendOutput(s, "stdout", []byte("line one"))

	res, err := c.Poll(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "line one", res.Output)
	assert.True(t, res.Running)

	// Drain idempotence: a second poll with no new output returns the
	// "no new output" placeholder, never re-emitting the first drain.
	res2, err := c.Poll(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "(no new output)", res2.Output)
}

func TestControllerLogTailView(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "seq 1 5", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)
	reg.appendOutput(s, "stdout", []byte("1\n2\n3\n4\n5\n"))

	limit := 2
	res, err := c.Log(s.ID, nil, &limit)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, res.Lines)
	assert.Equal(t, 5, res.TotalLines)
}

func TestControllerLogOffsetLimit(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "seq 1 5", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)
	reg.appendOutput(s, "stdout", []byte("1\n2\n3\n4\n5\n"))

	offset, limit := 1, 2
	res, err := c.Log(s.ID, &offset, &limit)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, res.Lines)
}

func TestControllerClearRejectsRunningSession(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "sleep 100", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)

	err := c.Clear(s.ID)
	require.Error(t, err)
}

func TestControllerClearRemovesFinishedSession(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	s := newSession(newSessionID(), "echo hi", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(s)
	code := 0
	reg.markExited(s, &code, "", StatusCompleted)

	require.NoError(t, c.Clear(s.ID))
	assert.Nil(t, reg.getFinished(s.ID))
}

func TestControllerListSortsByStartedAtDescending(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	c := NewController(reg, nil)

	older := newSession(newSessionID(), "echo old", "/tmp", StdinPipe, defaultMaxOutputChars)
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	reg.add(older)

	newer := newSession(newSessionID(), "echo new", "/tmp", StdinPipe, defaultMaxOutputChars)
	reg.add(newer)

	entries := c.List()
	require.Len(t, entries, 2)
	assert.Equal(t, newer.ID, entries[0].ID)
	assert.Equal(t, older.ID, entries[1].ID)
}
