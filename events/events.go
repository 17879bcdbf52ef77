// Package events defines the lifecycle events emitted by the engine and the
// orchestration client, and the publisher contract used to deliver them.
package events

import (
	"time"
)

// EventType identifies a workflow lifecycle transition.
type EventType string

const (
	WorkflowCreated   EventType = "workflow.created"
	WorkflowStarted   EventType = "workflow.started"
	WorkflowCompleted EventType = "workflow.completed"
	WorkflowFailed    EventType = "workflow.failed"
	WorkflowPaused    EventType = "workflow.paused"
	WorkflowResumed   EventType = "workflow.resumed"
	WorkflowCancelled EventType = "workflow.cancelled"
	WorkflowDeleted   EventType = "workflow.deleted"

	StepStarted   EventType = "workflow.step_started"
	StepCompleted EventType = "workflow.step_completed"
	StepFailed    EventType = "workflow.step_failed"

	NotificationSent EventType = "workflow.notification_sent"

	EngineStarted EventType = "workflow.engine_started"
	EngineStopped EventType = "workflow.engine_stopped"
)

// Event is a single lifecycle event.
type Event struct {
	Type       EventType      `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(eventType EventType, workflowID, stepID string, data map[string]any) Event {
	return Event{
		Type:       eventType,
		WorkflowID: workflowID,
		StepID:     stepID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}
