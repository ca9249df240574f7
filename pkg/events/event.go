package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "UPLOAD_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Lifecycle events emitted by the app builder.
const (
	TypeSessionCreated   = "APP_BUILDER_SESSION_CREATED"
	TypeUploadCompleted  = "APP_BUILDER_UPLOAD_COMPLETED"
	TypeArtifactVerified = "APP_BUILDER_ARTIFACT_VERIFIED"
	TypeSessionEvicted   = "APP_BUILDER_SESSION_EVICTED"

	// Published by external pipeline workers.
	TypeStepReported = "PIPELINE_STEP_REPORTED"
)

type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
