package store

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := Open(":memory:", log)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	return s
}

func TestCollectionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// 1. Fresh store yields empty collections, never nil
	if got := s.LoadActive(ctx); len(got) != 0 {
		t.Errorf("Expected empty active collection, got %d", len(got))
	}
	if got := s.LoadCompleted(ctx); len(got) != 0 {
		t.Errorf("Expected empty completed collection, got %d", len(got))
	}
	if got := s.LoadTemplates(ctx); len(got) != 0 {
		t.Errorf("Expected empty template collection, got %d", len(got))
	}

	// 2. Save and load active tasks
	tasks := []models.Task{
		{ID: "t1", Name: "Write report", Kind: models.TaskKindPlain, Status: models.TaskStatusPending},
		{ID: "t2", Name: "Morning run", Kind: models.TaskKindTimed, Status: models.TaskStatusStarted, Duration: 1800},
	}
	if err := s.SaveActive(ctx, tasks); err != nil {
		t.Fatalf("Failed to save active tasks: %v", err)
	}

	loaded := s.LoadActive(ctx)
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 active tasks, got %d", len(loaded))
	}
	if loaded[0].ID != "t1" || loaded[1].Duration != 1800 {
		t.Errorf("Unexpected round-trip result: %+v", loaded)
	}

	// 3. Save and load templates
	templates := []models.HabitTemplate{
		{
			ID:         "tpl1",
			Name:       "Morning Routine",
			Habits:     []models.Habit{{ID: "h1", Name: "Meditate", Metric: models.MetricTimer, Goal: 10}},
			ActiveDays: []string{"Mon", "Wed"},
		},
	}
	if err := s.SaveTemplates(ctx, templates); err != nil {
		t.Fatalf("Failed to save templates: %v", err)
	}

	gotTemplates := s.LoadTemplates(ctx)
	if len(gotTemplates) != 1 || gotTemplates[0].Habits[0].Goal != 10 {
		t.Errorf("Unexpected template round-trip: %+v", gotTemplates)
	}
}

func TestLoadMalformedCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Corrupt the stored payload directly
	_, err := s.ExecContext(ctx, `
		INSERT INTO collections (name, data) VALUES ('active-tasks', '{not json')
	`)
	if err != nil {
		t.Fatalf("Failed to corrupt collection: %v", err)
	}

	// Malformed data reads as empty, never errors
	if got := s.LoadActive(ctx); len(got) != 0 {
		t.Errorf("Expected empty collection for malformed data, got %d", len(got))
	}
}

func TestFindByHabitAndDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rel := &models.Relationships{HabitID: "h1", TemplateID: "tpl1", Date: "2026-08-31"}
	active := []models.Task{
		{ID: "t1", Name: "Meditate", Relationships: rel},
	}
	completed := []models.Task{
		{ID: "t2", Name: "Journal", Completed: true, Status: models.TaskStatusCompleted,
			Relationships: &models.Relationships{HabitID: "h2", TemplateID: "tpl1", Date: "2026-08-30"}},
	}
	if err := s.SaveActive(ctx, active); err != nil {
		t.Fatalf("Failed to save active: %v", err)
	}
	if err := s.SaveCompleted(ctx, completed); err != nil {
		t.Fatalf("Failed to save completed: %v", err)
	}

	// 1. Match in active collection
	found := s.FindByHabitAndDate(ctx, "h1", "2026-08-31")
	if found == nil || found.ID != "t1" {
		t.Errorf("Expected to find t1, got %+v", found)
	}

	// 2. Match in completed collection
	found = s.FindByHabitAndDate(ctx, "h2", "2026-08-30")
	if found == nil || found.ID != "t2" {
		t.Errorf("Expected to find t2, got %+v", found)
	}

	// 3. Same habit, different date: no match
	if found := s.FindByHabitAndDate(ctx, "h1", "2026-09-01"); found != nil {
		t.Errorf("Expected no match, got %+v", found)
	}
}

func TestUpsertTaskMovesSettledTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := models.Task{ID: "t1", Name: "Review PR", Status: models.TaskStatusPending}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	if got := s.LoadActive(ctx); len(got) != 1 {
		t.Fatalf("Expected 1 active task, got %d", len(got))
	}

	// Completing moves the task across collections atomically
	task.Status = models.TaskStatusCompleted
	task.Completed = true
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("Failed to upsert completed task: %v", err)
	}

	if got := s.LoadActive(ctx); len(got) != 0 {
		t.Errorf("Expected task gone from active, got %d", len(got))
	}
	if got := s.LoadCompleted(ctx); len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("Expected task in completed, got %+v", got)
	}

	// Reversal moves it back
	task.Status = models.TaskStatusPending
	task.Completed = false
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("Failed to upsert reverted task: %v", err)
	}

	if got := s.LoadCompleted(ctx); len(got) != 0 {
		t.Errorf("Expected task gone from completed, got %d", len(got))
	}
	if got := s.LoadActive(ctx); len(got) != 1 {
		t.Errorf("Expected task back in active, got %d", len(got))
	}
}

func TestRemoveTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTask(ctx, models.Task{ID: "t1", Name: "One"}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	removed, err := s.RemoveTask(ctx, "t1")
	if err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if !removed {
		t.Errorf("Expected removal to be reported")
	}
	if got := s.LoadActive(ctx); len(got) != 0 {
		t.Errorf("Expected empty active collection, got %d", len(got))
	}

	// Removing an unknown id is not an error
	removed, err = s.RemoveTask(ctx, "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if removed {
		t.Errorf("Expected no removal for unknown id")
	}
}

func TestRemoveByTemplate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active := []models.Task{
		{ID: "t1", Relationships: &models.Relationships{HabitID: "h1", TemplateID: "tpl1", Date: "2026-08-31"}},
		{ID: "t2", Name: "Unrelated"},
	}
	completed := []models.Task{
		{ID: "t3", Completed: true, Status: models.TaskStatusCompleted,
			Relationships: &models.Relationships{HabitID: "h2", TemplateID: "tpl1", Date: "2026-08-30"}},
	}
	if err := s.SaveActive(ctx, active); err != nil {
		t.Fatalf("Failed to save active: %v", err)
	}
	if err := s.SaveCompleted(ctx, completed); err != nil {
		t.Fatalf("Failed to save completed: %v", err)
	}

	removed, err := s.RemoveByTemplate(ctx, "tpl1")
	if err != nil {
		t.Fatalf("Failed to cascade delete: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	if got := s.LoadActive(ctx); len(got) != 1 || got[0].ID != "t2" {
		t.Errorf("Expected only unrelated task to survive, got %+v", got)
	}
	if got := s.LoadCompleted(ctx); len(got) != 0 {
		t.Errorf("Expected completed collection emptied, got %d", len(got))
	}
}
