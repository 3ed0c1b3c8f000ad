package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/internal/store"
	"github.com/ldew/stride/pkg/models"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *bus.Bus) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	st, err := store.Open(":memory:", log)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}

	b := bus.New(st, log)
	r := New(st, b, log)
	t.Cleanup(r.Close)
	return r, st, b
}

// countStateChanges registers a counter for mutation-confirmation signals of
// the given origin.
func countStateChanges(b *bus.Bus, origin bus.EventType) *int {
	var count int
	b.On(bus.EventStateChanged, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(bus.StateChanged); ok && ev.Origin == origin {
			count++
		}
	})
	return &count
}

func TestApplyCreate(t *testing.T) {
	r, st, b := newTestReconciler(t)
	ctx := context.Background()
	changes := countStateChanges(b, bus.EventTaskCreate)

	// 1. Creating fills defaults and persists
	r.ApplyCreate(ctx, models.Task{Name: "Write report"})

	active := r.ActiveTasks()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active task, got %d", len(active))
	}
	task := active[0]
	if task.ID == "" || task.Status != models.TaskStatusPending || task.Kind != models.TaskKindPlain {
		t.Errorf("Expected defaults filled, got %+v", task)
	}
	if task.CreatedAt.IsZero() {
		t.Errorf("Expected creation timestamp")
	}
	if stored := st.LoadActive(ctx); len(stored) != 1 || stored[0].ID != task.ID {
		t.Errorf("Expected task persisted, got %+v", stored)
	}

	// 2. A duplicate id is silently absorbed
	r.ApplyCreate(ctx, models.Task{ID: task.ID, Name: "Duplicate"})
	if got := r.ActiveTasks(); len(got) != 1 || got[0].Name != "Write report" {
		t.Errorf("Expected duplicate create to be a no-op, got %+v", got)
	}
	if *changes != 1 {
		t.Errorf("Expected 1 state change, got %d", *changes)
	}
}

func TestApplyCreateSettledTask(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	ctx := context.Background()

	// A create event may carry an already-completed task, e.g. when an
	// external collaborator imports finished work.
	r.ApplyCreate(ctx, models.Task{
		ID:        "t1",
		Name:      "Imported",
		Status:    models.TaskStatusCompleted,
		Completed: true,
	})

	if got := r.ActiveTasks(); len(got) != 0 {
		t.Errorf("Expected no active tasks, got %d", len(got))
	}
	done := r.CompletedTasks()
	if len(done) != 1 {
		t.Fatalf("Expected 1 completed task, got %d", len(done))
	}
	if done[0].CompletedAt == nil {
		t.Errorf("Expected completion timestamp stamped")
	}

	// Memory and storage agree on the routing
	if stored := st.LoadActive(ctx); len(stored) != 0 {
		t.Errorf("Expected empty active collection in storage, got %d", len(stored))
	}
	if stored := st.LoadCompleted(ctx); len(stored) != 1 || stored[0].ID != "t1" {
		t.Errorf("Expected completed task in storage, got %+v", stored)
	}
}

func TestForceReloadMergesSettledPending(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	ctx := context.Background()
	r.Load(ctx)

	// An unconfirmed settled create must converge into the completed
	// collection, not the active one.
	now := time.Now()
	orphan := models.Task{
		ID:          "p1",
		Name:        "Unconfirmed done",
		Status:      models.TaskStatusCompleted,
		Completed:   true,
		CompletedAt: &now,
	}
	r.mu.Lock()
	r.completed = append(r.completed, orphan)
	r.pending[orphan.ID] = orphan
	r.mu.Unlock()

	r.ForceReload(ctx)

	if got := r.ActiveTasks(); len(got) != 0 {
		t.Errorf("Expected no active tasks, got %d", len(got))
	}
	if got := r.CompletedTasks(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("Expected settled task kept in completed, got %+v", got)
	}
	if stored := st.LoadCompleted(ctx); len(stored) != 1 || stored[0].ID != "p1" {
		t.Errorf("Expected merged completed collection written back, got %+v", stored)
	}
}

func TestApplyUpdateSuppressesNoOps(t *testing.T) {
	r, _, b := newTestReconciler(t)
	ctx := context.Background()

	r.ApplyCreate(ctx, models.Task{ID: "t1", Name: "Original"})
	changes := countStateChanges(b, bus.EventTaskUpdate)

	// 1. A patch that changes nothing produces no signal
	name := "Original"
	r.ApplyUpdate(ctx, "t1", models.TaskPatch{Name: &name})
	if *changes != 0 {
		t.Errorf("Expected identical update to be suppressed, got %d changes", *changes)
	}

	// 2. A real change goes through
	renamed := "Renamed"
	r.ApplyUpdate(ctx, "t1", models.TaskPatch{Name: &renamed})
	if *changes != 1 {
		t.Errorf("Expected 1 state change, got %d", *changes)
	}
	if got := r.ActiveTasks(); got[0].Name != "Renamed" {
		t.Errorf("Expected rename applied, got %q", got[0].Name)
	}

	// 3. Updating an unknown task is a logged no-op
	r.ApplyUpdate(ctx, "missing", models.TaskPatch{Name: &renamed})
	if *changes != 1 {
		t.Errorf("Expected unknown-task update to be suppressed")
	}
}

func TestApplyUpdateStatusTransitions(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	ctx := context.Background()

	r.ApplyCreate(ctx, models.Task{ID: "t1", Name: "Ship release"})

	// 1. Moving to completed stamps the flag and timestamp
	completed := models.TaskStatusCompleted
	r.ApplyUpdate(ctx, "t1", models.TaskPatch{Status: &completed})

	done := r.CompletedTasks()
	if len(done) != 1 {
		t.Fatalf("Expected task in completed collection, got %d", len(done))
	}
	if !done[0].Completed || done[0].CompletedAt == nil {
		t.Errorf("Expected completion stamped, got %+v", done[0])
	}
	if got := r.ActiveTasks(); len(got) != 0 {
		t.Errorf("Expected task gone from active collection")
	}
	if stored := st.LoadCompleted(ctx); len(stored) != 1 {
		t.Errorf("Expected move persisted, got %d completed in storage", len(stored))
	}

	// 2. Reversal clears the completion state and moves it back
	pending := models.TaskStatusPending
	undone := false
	r.ApplyUpdate(ctx, "t1", models.TaskPatch{Status: &pending, Completed: &undone})

	active := r.ActiveTasks()
	if len(active) != 1 {
		t.Fatalf("Expected task back in active collection, got %d", len(active))
	}
	if active[0].Completed || active[0].CompletedAt != nil {
		t.Errorf("Expected completion cleared, got %+v", active[0])
	}
}

func TestApplyComplete(t *testing.T) {
	r, _, b := newTestReconciler(t)
	ctx := context.Background()

	r.ApplyCreate(ctx, models.Task{ID: "t1", Name: "Focus block", Duration: 1500})
	changes := countStateChanges(b, bus.EventTaskComplete)

	r.ApplyComplete(ctx, "t1", &models.TaskMetrics{ExpectedTime: 1500, ActualDuration: 1450})

	done := r.CompletedTasks()
	if len(done) != 1 {
		t.Fatalf("Expected 1 completed task, got %d", len(done))
	}
	task := done[0]
	if task.Status != models.TaskStatusCompleted || !task.Completed || task.CompletedAt == nil {
		t.Errorf("Expected completion stamped, got %+v", task)
	}
	if task.Metrics == nil {
		t.Fatal("Expected metrics recorded")
	}
	if task.Metrics.CompletionStatus != CompletionOnTime {
		t.Errorf("Expected %q completion, got %q", CompletionOnTime, task.Metrics.CompletionStatus)
	}
	if task.Metrics.NetEffectiveTime != 1450 {
		t.Errorf("Expected net effective time 1450, got %d", task.Metrics.NetEffectiveTime)
	}

	// Completing again is a no-op
	r.ApplyComplete(ctx, "t1", nil)
	if *changes != 1 {
		t.Errorf("Expected repeat completion suppressed, got %d changes", *changes)
	}
}

func TestApplyDeleteHardRemoves(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	ctx := context.Background()

	r.ApplyCreate(ctx, models.Task{ID: "t1", Name: "Throwaway"})
	r.ApplyDelete(ctx, "t1", "user request")

	if got := r.ActiveTasks(); len(got) != 0 {
		t.Errorf("Expected task removed from memory, got %d", len(got))
	}
	if stored := st.LoadActive(ctx); len(stored) != 0 {
		t.Errorf("Expected task removed from storage, got %d", len(stored))
	}
}

func TestApplyDeleteProtectedTaskDismisses(t *testing.T) {
	r, st, b := newTestReconciler(t)
	ctx := context.Background()

	r.ApplyCreate(ctx, models.Task{
		ID:   "t1",
		Name: "Meditate",
		Relationships: &models.Relationships{
			HabitID: "h1", TemplateID: "tpl1", Date: "2026-08-31",
		},
	})

	var dismissed []string
	b.On(bus.EventTaskDismiss, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(bus.TaskDismissed); ok {
			dismissed = append(dismissed, ev.TaskID)
		}
	})

	// A habit-derived task must survive deletion as a dismissal
	r.ApplyDelete(ctx, "t1", "user request")

	done := r.CompletedTasks()
	if len(done) != 1 || done[0].Status != models.TaskStatusDismissed {
		t.Fatalf("Expected dismissed task in completed collection, got %+v", done)
	}
	if done[0].DismissedAt == nil {
		t.Errorf("Expected dismissal timestamp")
	}
	if len(dismissed) != 1 || dismissed[0] != "t1" {
		t.Errorf("Expected dismiss notification for t1, got %v", dismissed)
	}

	// The (habit, date) pair is still occupied, so regeneration stays blocked
	if found := st.FindByHabitAndDate(ctx, "h1", "2026-08-31"); found == nil {
		t.Errorf("Expected dismissed task still findable by occurrence")
	}
}

func TestForceReloadMergesPending(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	ctx := context.Background()

	// 1. Storage holds one task; a second sits unconfirmed in memory
	if err := st.SaveActive(ctx, []models.Task{{ID: "a", Name: "Stored"}}); err != nil {
		t.Fatalf("Failed to seed storage: %v", err)
	}
	r.Load(ctx)

	orphan := models.Task{ID: "p1", Name: "Unconfirmed"}
	r.mu.Lock()
	r.active = append(r.active, orphan)
	r.pending[orphan.ID] = orphan
	r.mu.Unlock()

	// 2. Reload converges memory and storage on the union
	r.ForceReload(ctx)

	active := r.ActiveTasks()
	if len(active) != 2 {
		t.Fatalf("Expected union of 2 tasks, got %d", len(active))
	}
	ids := map[string]bool{active[0].ID: true, active[1].ID: true}
	if !ids["a"] || !ids["p1"] {
		t.Errorf("Expected both a and p1 in active collection, got %v", ids)
	}
	if stored := st.LoadActive(ctx); len(stored) != 2 {
		t.Errorf("Expected merged collection written back, got %d stored", len(stored))
	}

	// 3. The next reload sees p1 confirmed and drops it from pending
	r.reloadMu.Lock()
	r.lastReload = time.Time{}
	r.reloadMu.Unlock()
	r.ForceReload(ctx)

	r.mu.Lock()
	pendingLeft := len(r.pending)
	r.mu.Unlock()
	if pendingLeft != 0 {
		t.Errorf("Expected pending buffer drained, got %d", pendingLeft)
	}
	if got := r.ActiveTasks(); len(got) != 2 {
		t.Errorf("Expected stable collection after second reload, got %d", len(got))
	}
}

func TestForceReloadDebounce(t *testing.T) {
	r, _, b := newTestReconciler(t)
	ctx := context.Background()
	r.Load(ctx)

	reloads := countStateChanges(b, bus.EventForceReload)

	// A burst of reload requests collapses to a single reload
	for i := 0; i < 5; i++ {
		r.ForceReload(ctx)
	}
	if *reloads != 1 {
		t.Errorf("Expected burst to collapse to 1 reload, got %d", *reloads)
	}
}

func TestSelectTask(t *testing.T) {
	r, _, b := newTestReconciler(t)
	ctx := context.Background()

	b.Emit(ctx, bus.TaskSelected{TaskID: "t9"})
	if got := r.SelectedTaskID(); got != "t9" {
		t.Errorf("Expected selected task t9, got %q", got)
	}
}
