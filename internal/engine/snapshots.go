package engine

import "github.com/ldew/stride/pkg/models"

// Snapshot accessors for UI collaborators. Everything returned is a deep
// copy, never a live-mutable reference into engine state.

func (r *Reconciler) ActiveTasks() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTasks(r.active)
}

func (r *Reconciler) CompletedTasks() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTasks(r.completed)
}

func (r *Reconciler) Templates() []models.HabitTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTemplates(r.templates)
}

func (r *Reconciler) SelectedTaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

func cloneTasks(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}
