package engine

import (
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/pkg/models"
)

func (r *Reconciler) applyTemplateAdd(ctx context.Context, tpl models.HabitTemplate) {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	for i := range tpl.Habits {
		if tpl.Habits[i].ID == "" {
			tpl.Habits[i].ID = uuid.New().String()
		}
	}

	r.mu.Lock()
	for _, existing := range r.templates {
		if existing.ID == tpl.ID {
			r.mu.Unlock()
			r.log.WithField("template", tpl.ID).Debug("template add skipped, id already exists")
			return
		}
	}
	r.templates = append(r.templates, tpl)
	snapshot := cloneTemplates(r.templates)
	r.mu.Unlock()

	r.persistTemplates(ctx, snapshot)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTemplateAdd})
}

func (r *Reconciler) applyTemplateUpdate(ctx context.Context, tpl models.HabitTemplate) {
	r.mu.Lock()
	idx := -1
	for i, existing := range r.templates {
		if existing.ID == tpl.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		r.log.WithField("template", tpl.ID).Warn("template update skipped, not found")
		return
	}
	if reflect.DeepEqual(r.templates[idx], tpl) {
		r.mu.Unlock()
		r.log.WithField("template", tpl.ID).Debug("template update suppressed, no effective change")
		return
	}
	r.templates[idx] = tpl
	snapshot := cloneTemplates(r.templates)
	r.mu.Unlock()

	r.persistTemplates(ctx, snapshot)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTemplateUpdate})
}

// applyTemplateRemove deletes a template and cascades to every task whose
// relationship block references it, in both collections.
func (r *Reconciler) applyTemplateRemove(ctx context.Context, templateID string) {
	r.mu.Lock()
	kept := r.templates[:0]
	found := false
	for _, tpl := range r.templates {
		if tpl.ID == templateID {
			found = true
			continue
		}
		kept = append(kept, tpl)
	}
	if !found {
		r.mu.Unlock()
		r.log.WithField("template", templateID).Warn("template delete skipped, not found")
		return
	}
	r.templates = kept
	r.active = removeByTemplate(r.active, templateID)
	r.completed = removeByTemplate(r.completed, templateID)
	for id, t := range r.pending {
		if t.Relationships != nil && t.Relationships.TemplateID == templateID {
			delete(r.pending, id)
		}
	}
	snapshot := cloneTemplates(r.templates)
	r.mu.Unlock()

	r.persistTemplates(ctx, snapshot)
	if removed, err := r.store.RemoveByTemplate(ctx, templateID); err != nil {
		r.log.WithError(err).WithField("template", templateID).Warn("cascade delete failed in storage")
	} else if removed > 0 {
		r.log.WithField("template", templateID).WithField("removed", removed).Info("cascade deleted habit tasks")
	}

	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTemplateDelete})
}

// applyTemplateReorder rewrites the template list in the given id order.
// Templates missing from the order keep their relative position at the end.
func (r *Reconciler) applyTemplateReorder(ctx context.Context, ids []string) {
	r.mu.Lock()
	byID := make(map[string]models.HabitTemplate, len(r.templates))
	for _, tpl := range r.templates {
		byID[tpl.ID] = tpl
	}

	reordered := make([]models.HabitTemplate, 0, len(r.templates))
	for _, id := range ids {
		if tpl, ok := byID[id]; ok {
			reordered = append(reordered, tpl)
			delete(byID, id)
		}
	}
	for _, tpl := range r.templates {
		if _, left := byID[tpl.ID]; left {
			reordered = append(reordered, tpl)
		}
	}

	if sameOrder(r.templates, reordered) {
		r.mu.Unlock()
		r.log.Debug("template reorder suppressed, order unchanged")
		return
	}
	r.templates = reordered
	snapshot := cloneTemplates(r.templates)
	r.mu.Unlock()

	r.persistTemplates(ctx, snapshot)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTemplateReorder})
}

// applyHabitComplete completes the derived task for one habit occurrence.
func (r *Reconciler) applyHabitComplete(ctx context.Context, ev bus.HabitCompleted) {
	r.mu.Lock()
	var taskID string
	var duration int
	for _, t := range r.active {
		rel := t.Relationships
		if rel != nil && rel.HabitID == ev.HabitID && rel.Date == ev.Date {
			taskID = t.ID
			duration = t.Duration
			break
		}
	}
	r.mu.Unlock()

	if taskID == "" {
		r.log.WithField("habit", ev.HabitID).WithField("date", ev.Date).
			Warn("habit completion skipped, no derived task for occurrence")
		return
	}

	metrics := &models.TaskMetrics{
		ExpectedTime:   duration,
		ActualDuration: ev.Actual,
	}
	r.ApplyComplete(ctx, taskID, metrics)
}

func (r *Reconciler) applySelect(taskID string) {
	r.mu.Lock()
	r.selected = taskID
	r.mu.Unlock()
}

func (r *Reconciler) persistTemplates(ctx context.Context, templates []models.HabitTemplate) {
	if err := r.store.SaveTemplates(ctx, templates); err != nil {
		r.log.WithError(err).Warn("template persist failed")
	}
}

func removeByTemplate(tasks []models.Task, templateID string) []models.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.Relationships != nil && t.Relationships.TemplateID == templateID {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func cloneTemplates(templates []models.HabitTemplate) []models.HabitTemplate {
	out := make([]models.HabitTemplate, len(templates))
	for i := range templates {
		out[i] = templates[i].Clone()
	}
	return out
}

func sameOrder(a, b []models.HabitTemplate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
