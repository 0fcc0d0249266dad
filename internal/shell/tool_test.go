package shell

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTools(t *testing.T) (*BashTool, *ProcessTool) {
	t.Helper()
	reg := NewRegistry(nil)
	t.Cleanup(reg.Close)
	executor := NewExecutor(reg, nil, EnvDefaults{})
	controller := NewController(reg, nil)
	return NewBashTool(executor, nil), NewProcessTool(controller)
}

func TestBashToolRejectsEmptyCommand(t *testing.T) {
	bash, _ := newTestTools(t)
	res := bash.Execute(context.Background(), BashParams{}, nil)
	assert.Equal(t, ResultFailed, res.Details.Status)
}

func TestBashToolFastSuccess(t *testing.T) {
	bash, _ := newTestTools(t)
	res := bash.Execute(context.Background(), BashParams{
		Command: "echo hi",
		YieldMs: 1000,
	}, nil)

	require.Equal(t, ResultCompleted, res.Details.Status)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, "hi")
	require.NotNil(t, res.Details.ExitCode)
	assert.Equal(t, 0, *res.Details.ExitCode)
}

func TestBashToolBackgroundedThenProcessPoll(t *testing.T) {
	bash, process := newTestTools(t)
	res := bash.Execute(context.Background(), BashParams{
		Command:    "sleep 100",
		Background: true,
	}, nil)
	require.Equal(t, ResultRunning, res.Details.Status)
	sessionID := res.Details.SessionID
	require.NotEmpty(t, sessionID)

	pollRes := process.Execute(ProcessParams{Action: ActionPoll, SessionID: sessionID})
	assert.Equal(t, ResultRunning, pollRes.Details.Status)

	killRes := process.Execute(ProcessParams{Action: ActionKill, SessionID: sessionID})
	assert.Equal(t, ResultCompleted, killRes.Details.Status)
}

func TestProcessToolListRendersSessions(t *testing.T) {
	bash, process := newTestTools(t)
	bash.Execute(context.Background(), BashParams{Command: "echo hi", YieldMs: 1000}, nil)

	res := process.Execute(ProcessParams{Action: ActionList})
	assert.Equal(t, ResultCompleted, res.Details.Status)
	assert.NotEqual(t, "(no sessions)", res.Content[0].Text)
}

func TestBashToolPTYUnavailableWarnsAndFallsBackToPipe(t *testing.T) {
	forcePTYUnavailable(t)
	bash, _ := newTestTools(t)

	res := bash.Execute(context.Background(), BashParams{
		Command:   "echo hi",
		StdinMode: StdinPTY,
		YieldMs:   1000,
	}, nil)

	require.Equal(t, ResultCompleted, res.Details.Status)
	require.Len(t, res.Content, 1)
	text := res.Content[0].Text
	assert.True(t, strings.HasPrefix(text, "Warning: "), "text should start with Warning: , got %q", text)
	assert.Contains(t, text, "falling back to pipe mode.")
	assert.Contains(t, text, "hi")
}

func TestProcessToolUnknownActionFails(t *testing.T) {
	_, process := newTestTools(t)
	res := process.Execute(ProcessParams{Action: "bogus"})
	assert.Equal(t, ResultFailed, res.Details.Status)
}
