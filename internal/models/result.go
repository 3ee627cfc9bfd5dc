package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// PromptInfo describes the prompt rule that matched a device.
type PromptInfo struct {
	Rule   string            `json:"rule"`
	Vendor string            `json:"vendor,omitempty"`
	OS     string            `json:"os,omitempty"`
	Shell  string            `json:"shell,omitempty"`
	Line   string            `json:"line"`
	Fields map[string]string `json:"fields,omitempty"`
}

// CommandResult is the outcome of one command sent to a device.
type CommandResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`

	// Prompt is the prompt line that terminated the output window.
	Prompt string `json:"prompt,omitempty"`

	// Error holds a device-reported error (e.g. "Command not found"). It does not
	// end the session.
	Error string `json:"error,omitempty"`

	// Closed is set when the device closed the channel in response to the command.
	Closed bool `json:"closed,omitempty"`

	SentAt      time.Time `json:"sent_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Failed reports whether the device flagged the command.
func (c *CommandResult) Failed() bool {
	return c.Error != ""
}

// TaskResult is the per-task outcome recorded by the orchestrator.
type TaskResult struct {
	TaskID      string `json:"task_id"`
	RunID       string `json:"run_id,omitempty"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Description string `json:"description,omitempty"`
	JumpHost    string `json:"jump_host,omitempty"`

	Status TaskStatus `json:"status"`
	Error  string     `json:"error,omitempty"`

	AuthenticatedAs string      `json:"authenticated_as,omitempty"`
	Vendor          string      `json:"vendor,omitempty"`
	ServerVersion   string      `json:"server_version,omitempty"`
	Prompt          *PromptInfo `json:"prompt,omitempty"`

	Commands []CommandResult `json:"commands"`
	History  string          `json:"history"`
	Raw      []byte          `json:"-"`

	Parameters map[string]string      `json:"parameters,omitempty"`
	Collection map[string]interface{} `json:"collection,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// CommandErrors counts commands the device reported as failed.
func (r *TaskResult) CommandErrors() int {
	n := 0
	for i := range r.Commands {
		if r.Commands[i].Failed() {
			n++
		}
	}
	return n
}

// Duration returns the wall time spent on the task.
func (r *TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run is one orchestrator pass over a batch of tasks.
type Run struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	TaskCount  int       `json:"task_count"`
	Failed     int       `json:"failed"`
}
