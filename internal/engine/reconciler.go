package engine

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/internal/store"
	"github.com/ldew/stride/pkg/models"
)

const (
	defaultReloadDebounce   = 300 * time.Millisecond
	defaultBackstopInterval = 30 * time.Second
)

// Reconciler owns the authoritative in-memory task collections for the
// running session and is the only component that writes task storage. Every
// task-mutation event is applied to memory exactly once; periodic and
// one-shot reloads from the store heal any divergence.
type Reconciler struct {
	store *store.Store
	bus   *bus.Bus
	log   *logrus.Logger
	sched *Scheduler
	guard *Guard
	now   func() time.Time

	mu        sync.Mutex
	active    []models.Task
	completed []models.Task
	templates []models.HabitTemplate
	// pending holds created tasks whose persistence write has not been
	// confirmed. ForceReload merges it back into the active collection.
	pending  map[string]models.Task
	selected string

	reloadMu      sync.Mutex
	lastReload    time.Time
	reloading     bool
	initialLoaded bool

	// ReloadDebounce is the minimum interval between force reloads.
	ReloadDebounce time.Duration
	// BackstopInterval is the period of the background consistency reload.
	BackstopInterval time.Duration

	unsubscribes []func()
}

func New(st *store.Store, b *bus.Bus, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.New()
	}

	sched := NewScheduler()
	r := &Reconciler{
		store:            st,
		bus:              b,
		log:              log,
		sched:            sched,
		guard:            NewGuard(sched),
		now:              time.Now,
		pending:          make(map[string]models.Task),
		ReloadDebounce:   defaultReloadDebounce,
		BackstopInterval: defaultBackstopInterval,
	}
	r.subscribe()
	return r
}

func (r *Reconciler) subscribe() {
	r.unsubscribes = []func(){
		r.bus.On(bus.EventTaskCreate, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskCreated); ok {
				r.guard.Run(ev.Task.ID, func() { r.ApplyCreate(ctx, ev.Task) })
			}
		}),
		r.bus.On(bus.EventTaskUpdate, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskUpdated); ok {
				r.guard.Run(ev.TaskID, func() { r.ApplyUpdate(ctx, ev.TaskID, ev.Patch) })
			}
		}),
		r.bus.On(bus.EventTaskDelete, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskDeleted); ok {
				r.guard.Run(ev.TaskID, func() { r.ApplyDelete(ctx, ev.TaskID, ev.Reason) })
			}
		}),
		r.bus.On(bus.EventTaskComplete, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskCompleted); ok {
				r.guard.Run(ev.TaskID, func() { r.ApplyComplete(ctx, ev.TaskID, ev.Metrics) })
			}
		}),
		r.bus.On(bus.EventTaskDismiss, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskDismissed); ok {
				r.guard.Run(ev.TaskID, func() { r.applyDismiss(ctx, ev.TaskID) })
			}
		}),
		r.bus.On(bus.EventTaskSelect, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TaskSelected); ok {
				r.applySelect(ev.TaskID)
			}
		}),
		r.bus.On(bus.EventForceReload, func(ctx context.Context, e bus.Event) {
			if r.guard.Allow(string(bus.EventForceReload)) {
				r.ForceReload(ctx)
			}
		}),
		r.bus.On(bus.EventTemplateAdd, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TemplateAdded); ok {
				r.applyTemplateAdd(ctx, ev.Template)
			}
		}),
		r.bus.On(bus.EventTemplateUpdate, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TemplateUpdated); ok {
				r.applyTemplateUpdate(ctx, ev.Template)
			}
		}),
		r.bus.On(bus.EventTemplateDelete, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TemplateRemoved); ok {
				r.applyTemplateRemove(ctx, ev.TemplateID)
			}
		}),
		r.bus.On(bus.EventTemplateReorder, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.TemplateReordered); ok {
				r.applyTemplateReorder(ctx, ev.TemplateIDs)
			}
		}),
		r.bus.On(bus.EventHabitComplete, func(ctx context.Context, e bus.Event) {
			if ev, ok := e.(bus.HabitCompleted); ok {
				r.applyHabitComplete(ctx, ev)
			}
		}),
	}
}

// Load performs the initial read of all collections from the store. The
// periodic backstop stays suspended until it has run.
func (r *Reconciler) Load(ctx context.Context) {
	active := r.store.LoadActive(ctx)
	completed := r.store.LoadCompleted(ctx)
	templates := r.store.LoadTemplates(ctx)

	r.mu.Lock()
	r.active = active
	r.completed = completed
	r.templates = templates
	r.mu.Unlock()

	r.reloadMu.Lock()
	r.initialLoaded = true
	r.reloadMu.Unlock()
}

// Run drives the periodic consistency backstop until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.BackstopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reloadMu.Lock()
			loaded := r.initialLoaded
			r.reloadMu.Unlock()
			if loaded {
				r.ForceReload(ctx)
			}
		}
	}
}

// Close detaches the reconciler from the bus and stops deferred work.
func (r *Reconciler) Close() {
	for _, unsub := range r.unsubscribes {
		unsub()
	}
	r.unsubscribes = nil
	r.sched.Stop()
}

// ApplyCreate appends a new task to the active collection and persists it.
// A task whose id already exists in memory is a no-op: duplicate creation
// is success, not an error.
func (r *Reconciler) ApplyCreate(ctx context.Context, task models.Task) {
	now := r.now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Kind == "" {
		task.Kind = models.TaskKindPlain
	}

	// A task may arrive already settled. Stamp it the way an update would
	// and slot it into the collection its status demands, so memory and
	// storage route it identically.
	switch {
	case task.Status == models.TaskStatusCompleted || task.Completed:
		task.Completed = true
		if task.CompletedAt == nil {
			task.CompletedAt = &now
		}
	case task.Status == models.TaskStatusDismissed:
		if task.DismissedAt == nil {
			task.DismissedAt = &now
		}
	}

	r.mu.Lock()
	if r.findLocked(task.ID) != nil {
		r.mu.Unlock()
		r.log.WithField("task", task.ID).Debug("create skipped, task already exists")
		return
	}
	if task.Settled() {
		r.completed = append(r.completed, task)
	} else {
		r.active = append(r.active, task)
	}
	r.pending[task.ID] = task
	r.mu.Unlock()

	if err := r.store.UpsertTask(ctx, task); err != nil {
		r.log.WithError(err).WithField("task", task.ID).Warn("task persist failed, keeping in pending buffer")
	} else {
		r.mu.Lock()
		delete(r.pending, task.ID)
		r.mu.Unlock()
	}

	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTaskCreate})
}

// ApplyUpdate merges a partial update into an existing task. Updates whose
// result is structurally identical to the current state are suppressed, so
// redundant events never cause persistence writes or follow-up signals.
func (r *Reconciler) ApplyUpdate(ctx context.Context, taskID string, patch models.TaskPatch) {
	r.mu.Lock()
	cur := r.findLocked(taskID)
	if cur == nil {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Warn("update skipped, task not found")
		return
	}

	merged := patch.Apply(*cur)
	if reflect.DeepEqual(merged, *cur) {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Debug("update suppressed, no effective change")
		return
	}

	wasSettled := cur.Settled()
	r.mu.Unlock()

	now := r.now()
	switch {
	case merged.Status == models.TaskStatusCompleted && !wasSettled:
		merged.Completed = true
		if merged.CompletedAt == nil {
			merged.CompletedAt = &now
		}
	case merged.Status == models.TaskStatusDismissed && !wasSettled:
		if merged.DismissedAt == nil {
			merged.DismissedAt = &now
		}
	case wasSettled && !merged.Settled():
		// Explicit reversal back into the active collection.
		merged.Completed = false
		merged.CompletedAt = nil
		merged.DismissedAt = nil
	}

	r.place(merged)
	r.persist(ctx, merged)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTaskUpdate})
}

// ApplyDelete removes a task. Tasks carrying a protected habit relationship
// are dismissed instead of hard-deleted, and a dismiss event is emitted in
// place of a delete confirmation.
func (r *Reconciler) ApplyDelete(ctx context.Context, taskID, reason string) {
	r.mu.Lock()
	cur := r.findLocked(taskID)
	if cur == nil {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Warn("delete skipped, task not found")
		return
	}
	protected := cur.Protected()
	r.mu.Unlock()

	if protected {
		r.log.WithFields(logrus.Fields{"task": taskID, "reason": reason}).
			Debug("delete converted to dismiss for habit-linked task")
		r.applyDismiss(ctx, taskID)
		r.bus.Emit(ctx, bus.TaskDismissed{TaskID: taskID})
		return
	}

	r.mu.Lock()
	r.active = removeTask(r.active, taskID)
	r.completed = removeTask(r.completed, taskID)
	delete(r.pending, taskID)
	r.mu.Unlock()

	if removed, err := r.store.RemoveTask(ctx, taskID); err != nil {
		r.log.WithError(err).WithField("task", taskID).Warn("task removal failed in storage")
	} else if !removed {
		r.log.WithField("task", taskID).Debug("task was not present in storage")
	}

	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTaskDelete})
}

// ApplyComplete moves a task to the completed collection, stamping the
// completion timestamp and formatting metrics against the task's estimate.
func (r *Reconciler) ApplyComplete(ctx context.Context, taskID string, metrics *models.TaskMetrics) {
	r.mu.Lock()
	cur := r.findLocked(taskID)
	if cur == nil {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Warn("complete skipped, task not found")
		return
	}
	if cur.Status == models.TaskStatusCompleted {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Debug("complete skipped, already completed")
		return
	}
	task := cur.Clone()
	r.mu.Unlock()

	now := r.now()
	m := FormatMetrics(task.Duration, metrics)
	task.Metrics = &m
	task.Status = models.TaskStatusCompleted
	task.Completed = true
	if task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	r.place(task)
	r.persist(ctx, task)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTaskComplete})
}

// applyDismiss is the soft, reversible removal used for habit-linked tasks.
// Dismissing an already-dismissed task is a no-op.
func (r *Reconciler) applyDismiss(ctx context.Context, taskID string) {
	r.mu.Lock()
	cur := r.findLocked(taskID)
	if cur == nil {
		r.mu.Unlock()
		r.log.WithField("task", taskID).Warn("dismiss skipped, task not found")
		return
	}
	if cur.Status == models.TaskStatusDismissed {
		r.mu.Unlock()
		return
	}
	task := cur.Clone()
	r.mu.Unlock()

	now := r.now()
	task.Status = models.TaskStatusDismissed
	if task.DismissedAt == nil {
		task.DismissedAt = &now
	}

	r.place(task)
	r.persist(ctx, task)
	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventTaskDismiss})
}

// ForceReload re-reads both collections from the store, merges in pending
// creates, and replaces the in-memory state wholesale. Calls within the
// debounce window of the previous reload are dropped, and a reentrancy
// guard keeps a reload from starting while one is finalizing.
func (r *Reconciler) ForceReload(ctx context.Context) {
	r.reloadMu.Lock()
	if r.reloading {
		r.reloadMu.Unlock()
		r.log.Debug("force reload skipped, reload in progress")
		return
	}
	if !r.lastReload.IsZero() && r.now().Sub(r.lastReload) < r.ReloadDebounce {
		r.reloadMu.Unlock()
		r.log.Debug("force reload skipped, within debounce window")
		return
	}
	r.reloading = true
	r.lastReload = r.now()
	r.reloadMu.Unlock()

	defer func() {
		r.reloadMu.Lock()
		r.reloading = false
		r.reloadMu.Unlock()
	}()

	storedActive := r.store.LoadActive(ctx)
	storedCompleted := r.store.LoadCompleted(ctx)
	templates := r.store.LoadTemplates(ctx)

	known := make(map[string]bool, len(storedActive)+len(storedCompleted))
	for _, t := range storedActive {
		known[t.ID] = true
	}
	for _, t := range storedCompleted {
		known[t.ID] = true
	}

	r.mu.Lock()
	mergedActive, mergedCompleted := 0, 0
	for id, t := range r.pending {
		if known[id] {
			// Confirmed in storage by some earlier write.
			delete(r.pending, id)
			continue
		}
		if t.Settled() {
			storedCompleted = append(storedCompleted, t)
			mergedCompleted++
		} else {
			storedActive = append(storedActive, t)
			mergedActive++
		}
	}
	r.active = storedActive
	r.completed = storedCompleted
	r.templates = templates
	activeUnion := append([]models.Task(nil), storedActive...)
	completedUnion := append([]models.Task(nil), storedCompleted...)
	r.mu.Unlock()

	if mergedActive > 0 {
		if err := r.store.SaveActive(ctx, activeUnion); err != nil {
			r.log.WithError(err).Warn("failed to write merged active collection after reload")
		}
	}
	if mergedCompleted > 0 {
		if err := r.store.SaveCompleted(ctx, completedUnion); err != nil {
			r.log.WithError(err).Warn("failed to write merged completed collection after reload")
		}
	}

	r.bus.Emit(ctx, bus.StateChanged{Origin: bus.EventForceReload})
}

// place slots a task into the collection its status demands, removing it
// from the other.
func (r *Reconciler) place(task models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = removeTask(r.active, task.ID)
	r.completed = removeTask(r.completed, task.ID)
	if task.Settled() {
		r.completed = append(r.completed, task)
	} else {
		r.active = append(r.active, task)
	}
	if t, ok := r.pending[task.ID]; ok && t.ID == task.ID {
		r.pending[task.ID] = task
	}
}

// persist writes a task through the store. Failures are logged, not
// propagated; the in-memory state is already updated.
func (r *Reconciler) persist(ctx context.Context, task models.Task) {
	if err := r.store.UpsertTask(ctx, task); err != nil {
		r.log.WithError(err).WithField("task", task.ID).Warn("task persist failed")
	}
}

func (r *Reconciler) findLocked(id string) *models.Task {
	for i := range r.active {
		if r.active[i].ID == id {
			return &r.active[i]
		}
	}
	for i := range r.completed {
		if r.completed[i].ID == id {
			return &r.completed[i]
		}
	}
	return nil
}

func removeTask(tasks []models.Task, id string) []models.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}
