package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ldew/stride/pkg/models"
)

const (
	collectionActive    = "active-tasks"
	collectionCompleted = "completed-tasks"
	collectionTemplates = "habit-templates"
)

func loadRaw(ctx context.Context, exec executor, name string) ([]byte, error) {
	var data string
	err := exec.QueryRowContext(ctx,
		`SELECT data FROM collections WHERE name = ?`, name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	return []byte(data), nil
}

func saveRaw(ctx context.Context, exec executor, name string, data []byte) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO collections (name, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to write collection %s: %w", name, err)
	}
	return nil
}

// loadTasks never fails outward: missing or malformed data yields an empty
// slice so the engine stays available.
func (s *Store) loadTasks(ctx context.Context, exec executor, name string) []models.Task {
	raw, err := loadRaw(ctx, exec, name)
	if err != nil {
		s.log.WithError(err).WithField("collection", name).Warn("collection read failed, treating as empty")
		return []models.Task{}
	}
	if len(raw) == 0 {
		return []models.Task{}
	}

	var tasks []models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		s.log.WithError(err).WithField("collection", name).Warn("collection parse failed, treating as empty")
		return []models.Task{}
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks
}

func (s *Store) saveTasks(ctx context.Context, exec executor, name string, tasks []models.Task) error {
	if tasks == nil {
		tasks = []models.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to serialize collection %s: %w", name, err)
	}
	return saveRaw(ctx, exec, name, data)
}

// LoadActive returns the active-task collection.
func (s *Store) LoadActive(ctx context.Context) []models.Task {
	return s.loadTasks(ctx, s.DB, collectionActive)
}

// LoadCompleted returns the completed-task collection.
func (s *Store) LoadCompleted(ctx context.Context) []models.Task {
	return s.loadTasks(ctx, s.DB, collectionCompleted)
}

func (s *Store) SaveActive(ctx context.Context, tasks []models.Task) error {
	return s.saveTasks(ctx, s.DB, collectionActive, tasks)
}

func (s *Store) SaveCompleted(ctx context.Context, tasks []models.Task) error {
	return s.saveTasks(ctx, s.DB, collectionCompleted, tasks)
}

// LoadTemplates returns the habit-template collection, empty on any failure.
func (s *Store) LoadTemplates(ctx context.Context) []models.HabitTemplate {
	raw, err := loadRaw(ctx, s.DB, collectionTemplates)
	if err != nil {
		s.log.WithError(err).Warn("template read failed, treating as empty")
		return []models.HabitTemplate{}
	}
	if len(raw) == 0 {
		return []models.HabitTemplate{}
	}

	var templates []models.HabitTemplate
	if err := json.Unmarshal(raw, &templates); err != nil {
		s.log.WithError(err).Warn("template parse failed, treating as empty")
		return []models.HabitTemplate{}
	}
	if templates == nil {
		templates = []models.HabitTemplate{}
	}
	return templates
}

func (s *Store) SaveTemplates(ctx context.Context, templates []models.HabitTemplate) error {
	if templates == nil {
		templates = []models.HabitTemplate{}
	}
	data, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("failed to serialize templates: %w", err)
	}
	return saveRaw(ctx, s.DB, collectionTemplates, data)
}

// FindByHabitAndDate scans the active collection first, then the completed
// one, and returns the first task whose relationship block matches the
// (habitID, date) pair. This is the authoritative existence check that
// prevents duplicate habit-task creation.
func (s *Store) FindByHabitAndDate(ctx context.Context, habitID, date string) *models.Task {
	for _, name := range []string{collectionActive, collectionCompleted} {
		for _, t := range s.loadTasks(ctx, s.DB, name) {
			r := t.Relationships
			if r != nil && r.HabitID == habitID && r.Date == date {
				match := t.Clone()
				return &match
			}
		}
	}
	return nil
}

// UpsertTask inserts or replaces a single task. A task whose status has
// settled (completed or dismissed, or Completed set) lands in the completed
// collection and is removed from the active one within the same
// transaction, so callers never observe it in both.
func (s *Store) UpsertTask(ctx context.Context, task models.Task) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	active := removeByID(s.loadTasks(ctx, tx, collectionActive), task.ID)
	completed := removeByID(s.loadTasks(ctx, tx, collectionCompleted), task.ID)

	if task.Settled() {
		completed = append(completed, task)
	} else {
		active = append(active, task)
	}

	if err := s.saveTasks(ctx, tx, collectionActive, active); err != nil {
		return err
	}
	if err := s.saveTasks(ctx, tx, collectionCompleted, completed); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// RemoveTask hard-deletes a task from whichever collection holds it.
// It reports whether a task was actually removed.
func (s *Store) RemoveTask(ctx context.Context, id string) (bool, error) {
	return s.removeMatching(ctx, func(t models.Task) bool { return t.ID == id })
}

// RemoveByTemplate deletes every task whose relationship block references
// the given template, across both collections. Returns the number removed.
func (s *Store) RemoveByTemplate(ctx context.Context, templateID string) (int, error) {
	removed := 0
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range []string{collectionActive, collectionCompleted} {
		tasks := s.loadTasks(ctx, tx, name)
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Relationships != nil && t.Relationships.TemplateID == templateID {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if err := s.saveTasks(ctx, tx, name, kept); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cascade delete: %w", err)
	}
	return removed, nil
}

func (s *Store) removeMatching(ctx context.Context, match func(models.Task) bool) (bool, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	found := false
	for _, name := range []string{collectionActive, collectionCompleted} {
		tasks := s.loadTasks(ctx, tx, name)
		kept := tasks[:0]
		for _, t := range tasks {
			if match(t) {
				found = true
				continue
			}
			kept = append(kept, t)
		}
		if err := s.saveTasks(ctx, tx, name, kept); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit removal: %w", err)
	}
	return found, nil
}

func removeByID(tasks []models.Task, id string) []models.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}
