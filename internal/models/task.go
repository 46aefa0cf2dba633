package models

import (
	"log/slog"
	"time"
)

// Task status values. A task starts in_progress and moves exactly once
// into done or failed.
type TaskStatus string

const (
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// ExecutionRequest is the body of POST /execute. Secrets are forwarded to
// the runner verbatim and must never reach a log sink.
type ExecutionRequest struct {
	TaskDescription string            `json:"task_description"`
	Context         map[string]any    `json:"context,omitempty"`
	Secrets         map[string]string `json:"secrets,omitempty"`
}

// LogValue renders the request for slog with the secrets map masked.
func (r ExecutionRequest) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("task_description", r.TaskDescription),
		slog.Int("context_keys", len(r.Context)),
	}
	if len(r.Secrets) > 0 {
		attrs = append(attrs, slog.String("secrets", "***MASKED***"))
	}
	return slog.GroupValue(attrs...)
}

// TaskError describes why a task ended up failed.
type TaskError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Task is the repository's record of one accepted execution.
type Task struct {
	TaskID           string
	BuyerSecret      string
	Status           TaskStatus
	CreatedAt        time.Time
	ExpiresAt        time.Time
	ExecutionRequest ExecutionRequest
	Result           map[string]any
	Error            *TaskError
	ExecutionTimeMS  *int64
	ToolsUsed        []string
}

// ExecutionResult is the task envelope returned by /execute and /tasks/{id}.
// The repository maps Result to "data" and ExpiresAt to "deadline_at".
type ExecutionResult struct {
	TaskID          string         `json:"task_id"`
	BuyerSecret     string         `json:"buyer_secret"`
	Status          TaskStatus     `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	DeadlineAt      time.Time      `json:"deadline_at"`
	Data            map[string]any `json:"data"`
	Error           *TaskError     `json:"error"`
	ExecutionTimeMS *int64         `json:"execution_time_ms"`
}

// ToExecutionResult converts the task into its wire envelope. The data map
// is copied so callers never alias repository state, and tools_used is
// injected when the result does not already carry it.
func (t *Task) ToExecutionResult() *ExecutionResult {
	data := make(map[string]any, len(t.Result)+1)
	for k, v := range t.Result {
		data[k] = v
	}
	if _, ok := data["tools_used"]; !ok {
		tools := t.ToolsUsed
		if tools == nil {
			tools = []string{}
		}
		data["tools_used"] = tools
	}

	var taskErr *TaskError
	if t.Error != nil {
		e := *t.Error
		taskErr = &e
	}

	return &ExecutionResult{
		TaskID:          t.TaskID,
		BuyerSecret:     t.BuyerSecret,
		Status:          t.Status,
		CreatedAt:       t.CreatedAt.UTC(),
		DeadlineAt:      t.ExpiresAt.UTC(),
		Data:            data,
		Error:           taskErr,
		ExecutionTimeMS: t.ExecutionTimeMS,
	}
}
