package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// EventKind — тип события жизненного цикла execution.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventStepStarted  EventKind = "step_started"
	EventStepProgress EventKind = "step_progress"
	EventStepFinished EventKind = "step_finished"
	EventPaused       EventKind = "paused"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
)

// Event — событие прогресса execution, доставляемое подписчикам.
//
// Доставка best-effort: события не переживают рестарт процесса и не
// доезжают до подписчиков, оформивших подписку после публикации.
type Event struct {
	Kind        EventKind      `json:"kind"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	StepName    string         `json:"step_name,omitempty"`
	Status      string         `json:"status,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
