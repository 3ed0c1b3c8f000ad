package bus

import "github.com/ldew/stride/pkg/models"

// EventType names one variant of the event vocabulary. The string values
// double as the log record type.
type EventType string

const (
	EventTaskCreate      EventType = "task:create"
	EventTaskUpdate      EventType = "task:update"
	EventTaskDelete      EventType = "task:delete"
	EventTaskComplete    EventType = "task:complete"
	EventTaskSelect      EventType = "task:select"
	EventTaskDismiss     EventType = "task:dismiss"
	EventTemplateAdd     EventType = "habit:template-add"
	EventTemplateUpdate  EventType = "habit:template-update"
	EventTemplateDelete  EventType = "habit:template-delete"
	EventTemplateReorder EventType = "habit:template-order-update"
	EventHabitSchedule   EventType = "habit:schedule"
	EventHabitComplete   EventType = "habit:complete"
	EventForceReload     EventType = "core:force-reload"
	EventStateChanged    EventType = "core:state-changed"
)

// Event is the closed union of bus payloads. Every variant is an immutable
// record of intent; handlers receive the concrete type via assertion.
type Event interface {
	Type() EventType
	sealed()
}

type TaskCreated struct {
	Task models.Task `json:"task"`
}

type TaskUpdated struct {
	TaskID string           `json:"task_id"`
	Patch  models.TaskPatch `json:"patch"`
}

type TaskDeleted struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

type TaskCompleted struct {
	TaskID  string              `json:"task_id"`
	Metrics *models.TaskMetrics `json:"metrics,omitempty"`
}

type TaskSelected struct {
	TaskID string `json:"task_id"`
}

type TaskDismissed struct {
	TaskID string `json:"task_id"`
}

type TemplateAdded struct {
	Template models.HabitTemplate `json:"template"`
}

type TemplateUpdated struct {
	Template models.HabitTemplate `json:"template"`
}

type TemplateRemoved struct {
	TemplateID string `json:"template_id"`
}

type TemplateReordered struct {
	TemplateIDs []string `json:"template_ids"`
}

// HabitScheduleRequested asks the generator to ensure a derived task exists
// for one habit occurrence. Duration is minutes, Date a YYYY-MM-DD key.
type HabitScheduleRequested struct {
	HabitID    string            `json:"habit_id"`
	TemplateID string            `json:"template_id"`
	Name       string            `json:"name"`
	Duration   int               `json:"duration"`
	Date       string            `json:"date"`
	MetricType models.MetricType `json:"metric_type"`
}

type HabitCompleted struct {
	HabitID string `json:"habit_id"`
	Date    string `json:"date"`
	// Actual is the achieved value in the habit's metric unit
	// (seconds for timer habits, count otherwise).
	Actual int `json:"actual"`
}

type ForceReload struct {
	Reason string `json:"reason,omitempty"`
}

// StateChanged is the companion signal the core emits after any applied
// mutation. UI layers subscribe to it as their re-render trigger.
type StateChanged struct {
	Origin EventType `json:"origin"`
}

func (TaskCreated) Type() EventType            { return EventTaskCreate }
func (TaskUpdated) Type() EventType            { return EventTaskUpdate }
func (TaskDeleted) Type() EventType            { return EventTaskDelete }
func (TaskCompleted) Type() EventType          { return EventTaskComplete }
func (TaskSelected) Type() EventType           { return EventTaskSelect }
func (TaskDismissed) Type() EventType          { return EventTaskDismiss }
func (TemplateAdded) Type() EventType          { return EventTemplateAdd }
func (TemplateUpdated) Type() EventType        { return EventTemplateUpdate }
func (TemplateRemoved) Type() EventType        { return EventTemplateDelete }
func (TemplateReordered) Type() EventType      { return EventTemplateReorder }
func (HabitScheduleRequested) Type() EventType { return EventHabitSchedule }
func (HabitCompleted) Type() EventType         { return EventHabitComplete }
func (ForceReload) Type() EventType            { return EventForceReload }
func (StateChanged) Type() EventType           { return EventStateChanged }

func (TaskCreated) sealed()            {}
func (TaskUpdated) sealed()            {}
func (TaskDeleted) sealed()            {}
func (TaskCompleted) sealed()          {}
func (TaskSelected) sealed()           {}
func (TaskDismissed) sealed()          {}
func (TemplateAdded) sealed()          {}
func (TemplateUpdated) sealed()        {}
func (TemplateRemoved) sealed()        {}
func (TemplateReordered) sealed()      {}
func (HabitScheduleRequested) sealed() {}
func (HabitCompleted) sealed()         {}
func (ForceReload) sealed()            {}
func (StateChanged) sealed()           {}
