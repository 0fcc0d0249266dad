package shell

import (
	"context"
	"fmt"

	"github.com/ianremillard/shellsession/internal/logger"
)

// ContentBlock is one piece of a ToolResult's content array. Only the
// "text" type is produced today, but the shape leaves room for the
// agent framework's other block kinds.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResultStatus is the tri-state status surfaced to the agent layer.
type ResultStatus string

const (
	ResultRunning   ResultStatus = "running"
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// ResultDetails carries the machine-readable half of a ToolResult.
type ResultDetails struct {
	Status     ResultStatus `json:"status"`
	SessionID  string       `json:"sessionId,omitempty"`
	PID        int          `json:"pid,omitempty"`
	ExitCode   *int         `json:"exitCode,omitempty"`
	ExitSignal string       `json:"exitSignal,omitempty"`
}

// ToolResult is the shape every tool call returns to the agent layer.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	Details ResultDetails  `json:"details"`
}

func textResult(text string, details ResultDetails) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Details: details,
	}
}

// BashParams is the accepted parameter set for the `bash` tool.
type BashParams struct {
	Command    string
	Workdir    string
	Env        map[string]string
	YieldMs    int
	Background bool
	Timeout    int
	StdinMode  StdinMode
}

// BashTool implements the `bash` tool contract: start a command, wait
// briefly, and either report completion or hand back a running
// session id.
type BashTool struct {
	executor *Executor
	log      *logger.Logger
}

// NewBashTool builds a BashTool over the given Executor.
func NewBashTool(executor *Executor, log *logger.Logger) *BashTool {
	if log == nil {
		log = logger.Default()
	}
	return &BashTool{executor: executor, log: log}
}

// Execute runs params.Command. onUpdate, if non-nil, receives a
// progress notification for every output chunk observed before this
// call settles.
func (t *BashTool) Execute(ctx context.Context, params BashParams, onUpdate func(Update)) ToolResult {
	if params.Command == "" {
		return textResult("command is required", ResultDetails{Status: ResultFailed})
	}

	stdinMode := params.StdinMode
	preferPTY := stdinMode == StdinPTY

	result, err := t.executor.Start(ctx, StartParams{
		Command:        params.Command,
		Cwd:            params.Workdir,
		Env:            params.Env,
		PreferPTY:      preferPTY,
		Background:     params.Background,
		YieldMs:        params.YieldMs,
		TimeoutSeconds: params.Timeout,
	}, onUpdate)
	if err != nil {
		return textResult(err.Error(), ResultDetails{Status: ResultFailed})
	}

	snap := result.Session
	switch result.Outcome {
	case OutcomeBackgrounded:
		return textResult(withWarning(result.Warning, "(running in background)"), ResultDetails{
			Status:    ResultRunning,
			SessionID: snap.ID,
			PID:       snap.PID,
		})

	case OutcomeTimedOut:
		reason := result.Reason
		if reason == "" {
			reason = failureReason(snap)
		}
		return textResult(withWarning(result.Warning, reason), ResultDetails{
			Status:     ResultFailed,
			SessionID:  snap.ID,
			PID:        snap.PID,
			ExitCode:   snap.ExitCode,
			ExitSignal: snap.ExitSignal,
		})

	default: // OutcomeCompleted
		if snap.Status == StatusCompleted {
			text := snap.Aggregated
			if text == "" {
				text = "(no output)"
			}
			return textResult(withWarning(result.Warning, text), ResultDetails{
				Status:    ResultCompleted,
				SessionID: snap.ID,
				PID:       snap.PID,
				ExitCode:  snap.ExitCode,
			})
		}
		reason := failureReason(snap)
		return textResult(withWarning(result.Warning, reason), ResultDetails{
			Status:     ResultFailed,
			SessionID:  snap.ID,
			PID:        snap.PID,
			ExitCode:   snap.ExitCode,
			ExitSignal: snap.ExitSignal,
		})
	}
}

// withWarning prepends a "Warning: ..." line to text when warning is
// non-empty, per spec: the warning must explicitly name the fallback and
// the result text must begin with "Warning: ".
func withWarning(warning, text string) string {
	if warning == "" {
		return text
	}
	return "Warning: " + warning + "\n" + text
}

// failureReason derives a human-readable explanation for a completed-
// but-failed session (no timeout/abort Reason from the executor):
// signal name > "aborted before exit code" > "exited with code N".
func failureReason(snap Snapshot) string {
	if snap.ExitSignal != "" {
		return fmt.Sprintf("killed by signal %s", snap.ExitSignal)
	}
	if snap.ExitCode == nil {
		return "aborted before exit code"
	}
	return fmt.Sprintf("exited with code %d", *snap.ExitCode)
}

// ProcessParams is the accepted parameter set for the `process` tool.
type ProcessParams struct {
	Action    string
	SessionID string
	Data      string
	EOF       bool
	Offset    *int
	Limit     *int
}

// ProcessTool implements the `process` tool contract: the follow-up
// actions (list, poll, log, write, kill, clear, remove) against
// whatever sessions the BashTool has started.
type ProcessTool struct {
	controller *Controller
}

// NewProcessTool builds a ProcessTool over the given Controller.
func NewProcessTool(controller *Controller) *ProcessTool {
	return &ProcessTool{controller: controller}
}

// Execute dispatches params.Action and renders the result uniformly.
func (t *ProcessTool) Execute(params ProcessParams) ToolResult {
	res, err := t.controller.Dispatch(ControllerParams{
		Action:    params.Action,
		SessionID: params.SessionID,
		Data:      params.Data,
		EOF:       params.EOF,
		Offset:    params.Offset,
		Limit:     params.Limit,
	})
	if err != nil {
		return textResult(err.Error(), ResultDetails{Status: ResultFailed})
	}

	details := ResultDetails{Status: ResultCompleted, SessionID: params.SessionID}
	if res.Poll != nil {
		details.ExitCode = res.Poll.ExitCode
		details.ExitSignal = res.Poll.ExitSignal
		if res.Poll.Running {
			details.Status = ResultRunning
		}
	}
	text := res.Text
	if params.Action == ActionList {
		text = renderList(res.List)
	}
	return textResult(text, details)
}

func renderList(entries []ListEntry) string {
	if len(entries) == 0 {
		return "(no sessions)"
	}
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s  %-9s  %s", e.ShortID, e.Status, e.Name)
	}
	return out
}
