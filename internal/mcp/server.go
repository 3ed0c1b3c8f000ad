package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/internal/habits"
	"github.com/ldew/stride/pkg/models"
)

// Snapshots is the read-only projection of engine state exposed as query
// tools.
type Snapshots interface {
	ActiveTasks() []models.Task
	CompletedTasks() []models.Task
	Templates() []models.HabitTemplate
	SelectedTaskID() string
}

// NewServer creates the MCP server. Query tools read snapshots; mutation
// tools emit events into the bus and never touch task storage directly.
func NewServer(b *bus.Bus, snap Snapshots, gen *habits.Generator) *server.MCPServer {
	s := server.NewMCPServer("Stride", "0.1.0")

	// Queries
	s.AddTool(mcp.NewTool("list_active_tasks",
		mcp.WithDescription("List all active (not yet completed or dismissed) tasks."),
	), listActiveTasksHandler(snap))

	s.AddTool(mcp.NewTool("list_completed_tasks",
		mcp.WithDescription("List all completed and dismissed tasks."),
	), listCompletedTasksHandler(snap))

	s.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List all habit templates."),
	), listTemplatesHandler(snap))

	s.AddTool(mcp.NewTool("get_selected_task",
		mcp.WithDescription("Get the currently selected task id."),
	), getSelectedTaskHandler(snap))

	// Task mutations
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task."),
		mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("kind", mcp.Description("Task kind (plain|timed|journal|checklist|screenshot|voice_note|habit)")),
		mcp.WithNumber("duration_minutes", mcp.Description("Duration estimate in minutes")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), createTaskHandler(b))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Apply a partial update to a task."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status (pending|started|in_progress|delayed|completed|dismissed)")),
		mcp.WithNumber("duration_minutes", mcp.Description("New duration estimate in minutes")),
	), updateTaskHandler(b))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Complete a task, recording actual duration against the estimate."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithNumber("actual_seconds", mcp.Description("Actual time spent, seconds")),
		mcp.WithNumber("paused_seconds", mcp.Description("Time spent paused, seconds")),
		mcp.WithNumber("pause_count", mcp.Description("Number of pauses")),
	), completeTaskHandler(b))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. Habit-linked tasks are dismissed instead."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("reason", mcp.Description("Reason for deletion")),
	), deleteTaskHandler(b))

	s.AddTool(mcp.NewTool("dismiss_task",
		mcp.WithDescription("Dismiss a task without deleting it. Reversible."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), dismissTaskHandler(b))

	s.AddTool(mcp.NewTool("select_task",
		mcp.WithDescription("Mark a task as the current selection."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), selectTaskHandler(b))

	s.AddTool(mcp.NewTool("force_reload",
		mcp.WithDescription("Request a full resync of in-memory state from storage."),
	), forceReloadHandler(b))

	// Template mutations
	s.AddTool(mcp.NewTool("add_template",
		mcp.WithDescription("Add a habit template."),
		mcp.WithString("name", mcp.Description("Template name")),
		mcp.WithString("description", mcp.Description("Template description")),
		mcp.WithString("active_days", mcp.Description("Comma-separated short weekday names (Mon,Tue,...)"), mcp.Required()),
		mcp.WithString("habits", mcp.Description(`JSON array of habits: [{"name":...,"metric":...,"goal":minutes}]`), mcp.Required()),
	), addTemplateHandler(b))

	s.AddTool(mcp.NewTool("update_template",
		mcp.WithDescription("Replace a habit template's definition."),
		mcp.WithString("id", mcp.Description("Template id"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Template name")),
		mcp.WithString("description", mcp.Description("Template description")),
		mcp.WithString("active_days", mcp.Description("Comma-separated short weekday names (Mon,Tue,...)"), mcp.Required()),
		mcp.WithString("habits", mcp.Description(`JSON array of habits: [{"id":...,"name":...,"metric":...,"goal":minutes}]`), mcp.Required()),
	), updateTemplateHandler(b))

	s.AddTool(mcp.NewTool("delete_template",
		mcp.WithDescription("Delete a habit template. Cascades to its derived tasks."),
		mcp.WithString("id", mcp.Description("Template id"), mcp.Required()),
	), deleteTemplateHandler(b))

	s.AddTool(mcp.NewTool("reorder_templates",
		mcp.WithDescription("Reorder habit templates."),
		mcp.WithString("ids", mcp.Description("Comma-separated template ids in the new order"), mcp.Required()),
	), reorderTemplatesHandler(b))

	// Habit scheduling
	s.AddTool(mcp.NewTool("schedule_habit",
		mcp.WithDescription("Ensure a derived task exists for one habit occurrence."),
		mcp.WithString("habit_id", mcp.Description("Habit id"), mcp.Required()),
		mcp.WithString("template_id", mcp.Description("Template id"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Habit display name"), mcp.Required()),
		mcp.WithNumber("duration_minutes", mcp.Description("Goal in minutes")),
		mcp.WithString("date", mcp.Description("Calendar day key YYYY-MM-DD (defaults to today)")),
		mcp.WithString("metric_type", mcp.Description("Metric type (boolean|timer|counter|rating|journal)")),
	), scheduleHabitHandler(b))

	s.AddTool(mcp.NewTool("complete_habit",
		mcp.WithDescription("Mark one habit occurrence complete, resolving its derived task."),
		mcp.WithString("habit_id", mcp.Description("Habit id"), mcp.Required()),
		mcp.WithString("date", mcp.Description("Calendar day key YYYY-MM-DD (defaults to today)")),
		mcp.WithNumber("actual_seconds", mcp.Description("Actual time spent, seconds")),
	), completeHabitHandler(b))

	s.AddTool(mcp.NewTool("run_sweep",
		mcp.WithDescription("Run the daily habit sweep for today."),
	), runSweepHandler(gen))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func listActiveTasksHandler(snap Snapshots) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{"tasks": snap.ActiveTasks()})
	}
}

func listCompletedTasksHandler(snap Snapshots) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{"tasks": snap.CompletedTasks()})
	}
}

func listTemplatesHandler(snap Snapshots) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{"templates": snap.Templates()})
	}
}

func getSelectedTaskHandler(snap Snapshots) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]string{"selected": snap.SelectedTaskID()})
	}
}

func createTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		task := models.Task{
			Name:        name,
			Description: mcp.ParseString(request, "description", ""),
			Kind:        models.TaskKind(mcp.ParseString(request, "kind", string(models.TaskKindPlain))),
			Status:      models.TaskStatusPending,
			Duration:    mcp.ParseInt(request, "duration_minutes", 0) * 60,
		}
		if tags := mcp.ParseString(request, "tags", ""); tags != "" {
			task.Tags = splitCSV(tags)
		}

		b.Emit(ctx, bus.TaskCreated{Task: task})
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' creation requested", name)), nil
	}
}

func updateTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		var patch models.TaskPatch
		args, _ := request.Params.Arguments.(map[string]any)
		if name, ok := args["name"].(string); ok {
			patch.Name = &name
		}
		if description, ok := args["description"].(string); ok {
			patch.Description = &description
		}
		if status, ok := args["status"].(string); ok {
			s := models.TaskStatus(status)
			patch.Status = &s
		}
		if minutes, ok := args["duration_minutes"].(float64); ok {
			d := int(minutes) * 60
			patch.Duration = &d
		}

		b.Emit(ctx, bus.TaskUpdated{TaskID: id, Patch: patch})
		return mcp.NewToolResultText("Task update requested"), nil
	}
}

func completeTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		metrics := &models.TaskMetrics{
			ActualDuration: mcp.ParseInt(request, "actual_seconds", 0),
			PausedTime:     mcp.ParseInt(request, "paused_seconds", 0),
			PauseCount:     mcp.ParseInt(request, "pause_count", 0),
		}

		b.Emit(ctx, bus.TaskCompleted{TaskID: id, Metrics: metrics})
		return mcp.NewToolResultText("Task completion requested"), nil
	}
}

func deleteTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		b.Emit(ctx, bus.TaskDeleted{
			TaskID: id,
			Reason: mcp.ParseString(request, "reason", ""),
		})
		return mcp.NewToolResultText("Task deletion requested"), nil
	}
}

func dismissTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		b.Emit(ctx, bus.TaskDismissed{TaskID: id})
		return mcp.NewToolResultText("Task dismissal requested"), nil
	}
}

func selectTaskHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		b.Emit(ctx, bus.TaskSelected{TaskID: id})
		return mcp.NewToolResultText("Task selected"), nil
	}
}

func forceReloadHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b.Emit(ctx, bus.ForceReload{Reason: "mcp"})
		return mcp.NewToolResultText("Reload requested"), nil
	}
}

func addTemplateHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		habitsJSON := mcp.ParseString(request, "habits", "")
		var habitList []models.Habit
		if err := json.Unmarshal([]byte(habitsJSON), &habitList); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid habits payload: %v", err)), nil
		}

		tpl := models.HabitTemplate{
			Name:        mcp.ParseString(request, "name", ""),
			Description: mcp.ParseString(request, "description", ""),
			ActiveDays:  splitCSV(mcp.ParseString(request, "active_days", "")),
			Habits:      habitList,
		}

		b.Emit(ctx, bus.TemplateAdded{Template: tpl})
		return mcp.NewToolResultText("Template add requested"), nil
	}
}

func updateTemplateHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		habitsJSON := mcp.ParseString(request, "habits", "")
		var habitList []models.Habit
		if err := json.Unmarshal([]byte(habitsJSON), &habitList); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid habits payload: %v", err)), nil
		}

		tpl := models.HabitTemplate{
			ID:          id,
			Name:        mcp.ParseString(request, "name", ""),
			Description: mcp.ParseString(request, "description", ""),
			ActiveDays:  splitCSV(mcp.ParseString(request, "active_days", "")),
			Habits:      habitList,
			Customized:  true,
		}

		b.Emit(ctx, bus.TemplateUpdated{Template: tpl})
		return mcp.NewToolResultText("Template update requested"), nil
	}
}

func deleteTemplateHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		b.Emit(ctx, bus.TemplateRemoved{TemplateID: id})
		return mcp.NewToolResultText("Template deletion requested"), nil
	}
}

func reorderTemplatesHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := splitCSV(mcp.ParseString(request, "ids", ""))
		if len(ids) == 0 {
			return mcp.NewToolResultError("ids is required"), nil
		}

		b.Emit(ctx, bus.TemplateReordered{TemplateIDs: ids})
		return mcp.NewToolResultText("Template reorder requested"), nil
	}
}

func scheduleHabitHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		habitID := mcp.ParseString(request, "habit_id", "")
		if habitID == "" {
			return mcp.NewToolResultError("habit_id is required"), nil
		}

		b.Emit(ctx, bus.HabitScheduleRequested{
			HabitID:    habitID,
			TemplateID: mcp.ParseString(request, "template_id", ""),
			Name:       mcp.ParseString(request, "name", ""),
			Duration:   mcp.ParseInt(request, "duration_minutes", 0),
			Date:       mcp.ParseString(request, "date", ""),
			MetricType: models.MetricType(mcp.ParseString(request, "metric_type", "")),
		})
		return mcp.NewToolResultText("Habit schedule requested"), nil
	}
}

func completeHabitHandler(b *bus.Bus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		habitID := mcp.ParseString(request, "habit_id", "")
		if habitID == "" {
			return mcp.NewToolResultError("habit_id is required"), nil
		}

		date := mcp.ParseString(request, "date", "")
		if date == "" {
			date = time.Now().Format("2006-01-02")
		}

		b.Emit(ctx, bus.HabitCompleted{
			HabitID: habitID,
			Date:    date,
			Actual:  mcp.ParseInt(request, "actual_seconds", 0),
		})
		return mcp.NewToolResultText("Habit completion requested"), nil
	}
}

func runSweepHandler(gen *habits.Generator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		created := gen.Sweep(ctx)
		return mcp.NewToolResultText(fmt.Sprintf("Sweep complete, %d task(s) created", created)), nil
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
