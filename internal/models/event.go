package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Run events
	EventTypeRunStarted  EventType = "run.started"
	EventTypeRunFinished EventType = "run.finished"

	// Task events
	EventTypeTaskQueued    EventType = "task.queued"
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeCommandError  EventType = "task.command_error"

	// Jump host events
	EventTypeJumpHostConnecting   EventType = "jump_host.connecting"
	EventTypeJumpHostConnected    EventType = "jump_host.connected"
	EventTypeJumpHostFailed       EventType = "jump_host.failed"
	EventTypeJumpHostDisconnected EventType = "jump_host.disconnected"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeRun      EntityType = "run"
	EntityTypeTask     EntityType = "task"
	EntityTypeJumpHost EntityType = "jump_host"
	EntityTypeSystem   EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskFinishedPayload is the payload for task.completed and task.failed events.
type TaskFinishedPayload struct {
	Host          string `json:"host"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	Vendor        string `json:"vendor,omitempty"`
	CommandErrors int    `json:"command_errors"`
}

// CommandErrorPayload is the payload for task.command_error events.
type CommandErrorPayload struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

// JumpHostPayload is the payload for jump_host.* events.
type JumpHostPayload struct {
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
	Slots   int    `json:"slots,omitempty"`
}
