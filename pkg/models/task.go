package models

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusStarted    TaskStatus = "started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDelayed    TaskStatus = "delayed"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusDismissed  TaskStatus = "dismissed"
)

type TaskKind string

const (
	TaskKindPlain      TaskKind = "plain"
	TaskKindTimed      TaskKind = "timed"
	TaskKindJournal    TaskKind = "journal"
	TaskKindChecklist  TaskKind = "checklist"
	TaskKindScreenshot TaskKind = "screenshot"
	TaskKindVoiceNote  TaskKind = "voice_note"
	TaskKindHabit      TaskKind = "habit"
)

// Relationships links a task back to the habit occurrence it was derived
// from. HabitID together with Date is the dedup key: at most one task may
// carry a given (habit_id, date) pair across the active and completed
// collections combined. Date is a calendar-day key (YYYY-MM-DD), not a
// timestamp.
type Relationships struct {
	HabitID    string `json:"habit_id"`
	TemplateID string `json:"template_id"`
	Date       string `json:"date"`
}

// TaskMetrics records how a completed task went against its estimate.
// All durations are seconds.
type TaskMetrics struct {
	ExpectedTime     int     `json:"expected_time"`
	ActualDuration   int     `json:"actual_duration"`
	PauseCount       int     `json:"pause_count"`
	PausedTime       int     `json:"paused_time"`
	ExtensionTime    int     `json:"extension_time"`
	NetEffectiveTime int     `json:"net_effective_time"`
	Efficiency       float64 `json:"efficiency"`
	CompletionStatus string  `json:"completion_status"`
}

type Task struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Kind          TaskKind       `json:"kind"`
	Status        TaskStatus     `json:"status"`
	Completed     bool           `json:"completed"`
	Duration      int            `json:"duration"` // estimate, seconds
	Tags          []string       `json:"tags,omitempty"`
	Metrics       *TaskMetrics   `json:"metrics,omitempty"`
	Relationships *Relationships `json:"relationships,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DismissedAt   *time.Time     `json:"dismissed_at,omitempty"`
}

// Protected reports whether the task is derived from a habit occurrence and
// must therefore be dismissed instead of hard-deleted.
func (t *Task) Protected() bool {
	return t.Relationships != nil && t.Relationships.HabitID != "" && t.Relationships.Date != ""
}

// Settled reports whether the task belongs in the completed collection.
func (t *Task) Settled() bool {
	return t.Completed || t.Status == TaskStatusCompleted || t.Status == TaskStatusDismissed
}

// Clone returns a deep copy, so snapshots handed to collaborators never
// alias live state.
func (t *Task) Clone() Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metrics != nil {
		m := *t.Metrics
		c.Metrics = &m
	}
	if t.Relationships != nil {
		r := *t.Relationships
		c.Relationships = &r
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.DismissedAt != nil {
		ts := *t.DismissedAt
		c.DismissedAt = &ts
	}
	return c
}

// TaskPatch is a partial update applied to an existing task. Nil fields are
// left untouched.
type TaskPatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Kind        *TaskKind    `json:"kind,omitempty"`
	Status      *TaskStatus  `json:"status,omitempty"`
	Duration    *int         `json:"duration,omitempty"`
	Tags        *[]string    `json:"tags,omitempty"`
	Completed   *bool        `json:"completed,omitempty"`
	Metrics     *TaskMetrics `json:"metrics,omitempty"`
}

// Apply returns a copy of t with the patch merged in.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Kind != nil {
		out.Kind = *p.Kind
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Duration != nil {
		out.Duration = *p.Duration
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Completed != nil {
		out.Completed = *p.Completed
	}
	if p.Metrics != nil {
		m := *p.Metrics
		out.Metrics = &m
	}
	return out
}
