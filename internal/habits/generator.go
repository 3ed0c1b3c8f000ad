package habits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/internal/store"
	"github.com/ldew/stride/pkg/models"
)

const (
	// dateKeyLayout is the calendar-day dedup key format.
	dateKeyLayout = "2006-01-02"
	// weekdayLayout yields short weekday names matching template ActiveDays.
	weekdayLayout = "Mon"
	// scheduledExists marks a dedup key whose task already existed in
	// storage rather than being created this session.
	scheduledExists = "exists"
	// defaultDurationSeconds is used when a habit carries no goal
	// (25 minutes).
	defaultDurationSeconds = 1500
)

// Generator derives concrete task instances from habit templates, at most
// one per (habit, date) pair. Both the daily bulk sweep and the on-demand
// schedule-event path converge on the same session-local dedup map and the
// store's authoritative existence check.
type Generator struct {
	store *store.Store
	bus   *bus.Bus
	log   *logrus.Logger
	now   func() time.Time

	mu sync.Mutex
	// scheduled maps "habitID-date" to the derived task's id, or to
	// scheduledExists when the task predated this session.
	scheduled map[string]string

	unsub func()
}

func NewGenerator(st *store.Store, b *bus.Bus, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.New()
	}
	g := &Generator{
		store:     st,
		bus:       b,
		log:       log,
		now:       time.Now,
		scheduled: make(map[string]string),
	}
	g.unsub = b.On(bus.EventHabitSchedule, func(ctx context.Context, e bus.Event) {
		if ev, ok := e.(bus.HabitScheduleRequested); ok {
			g.handleSchedule(ctx, ev)
		}
	})
	return g
}

// Close detaches the generator from the bus.
func (g *Generator) Close() {
	if g.unsub != nil {
		g.unsub()
		g.unsub = nil
	}
}

// Sweep runs the daily bulk pass: for every template scheduled on today's
// weekday, ensure each habit has exactly one derived task for today.
// Returns the number of tasks created.
func (g *Generator) Sweep(ctx context.Context) int {
	now := g.now()
	date := now.Format(dateKeyLayout)
	weekday := now.Format(weekdayLayout)

	created := 0
	for _, tpl := range g.store.LoadTemplates(ctx) {
		if !tpl.ActiveOn(weekday) {
			continue
		}
		for _, h := range tpl.Habits {
			if g.ensure(ctx, occurrence{
				habitID:    h.ID,
				templateID: tpl.ID,
				name:       h.Name,
				goal:       h.Goal,
				date:       date,
				metric:     h.Metric,
			}) {
				created++
			}
		}
	}
	return created
}

func (g *Generator) handleSchedule(ctx context.Context, ev bus.HabitScheduleRequested) {
	date := ev.Date
	if date == "" {
		date = g.now().Format(dateKeyLayout)
	}
	g.ensure(ctx, occurrence{
		habitID:    ev.HabitID,
		templateID: ev.TemplateID,
		name:       ev.Name,
		goal:       ev.Duration,
		date:       date,
		metric:     ev.MetricType,
	})
}

// occurrence identifies one habit on one calendar day. goal is minutes.
type occurrence struct {
	habitID    string
	templateID string
	name       string
	goal       int
	date       string
	metric     models.MetricType
}

// ensure creates the derived task for the occurrence unless one exists.
// First line of defence is the session-local scheduled map; the store's
// FindByHabitAndDate is the authoritative check behind it.
func (g *Generator) ensure(ctx context.Context, occ occurrence) bool {
	if occ.habitID == "" || occ.date == "" {
		g.log.Warn("schedule request missing habit id or date, skipped")
		return false
	}

	key := occ.habitID + "-" + occ.date

	g.mu.Lock()
	if _, seen := g.scheduled[key]; seen {
		g.mu.Unlock()
		return false
	}
	g.mu.Unlock()

	if existing := g.store.FindByHabitAndDate(ctx, occ.habitID, occ.date); existing != nil {
		g.mu.Lock()
		g.scheduled[key] = scheduledExists
		g.mu.Unlock()
		return false
	}

	duration := occ.goal * 60
	if duration <= 0 {
		duration = defaultDurationSeconds
	}

	task := models.Task{
		ID:       uuid.New().String(),
		Name:     occ.name,
		Kind:     Classify("", occ.metric, occ.name),
		Status:   models.TaskStatusPending,
		Duration: duration,
		Relationships: &models.Relationships{
			HabitID:    occ.habitID,
			TemplateID: occ.templateID,
			Date:       occ.date,
		},
		CreatedAt: g.now(),
	}

	// Creation goes through the standard event path so the reconciler owns
	// the write.
	g.bus.Emit(ctx, bus.TaskCreated{Task: task})

	g.mu.Lock()
	g.scheduled[key] = task.ID
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{
		"habit": occ.habitID,
		"date":  occ.date,
		"kind":  task.Kind,
	}).Debug("derived habit task created")
	return true
}
