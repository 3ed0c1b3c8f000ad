package bus

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/pkg/models"
)

type fakeEventLog struct {
	appended []string
	err      error
}

func (f *fakeEventLog) AppendEvent(ctx context.Context, id, eventType string, payload []byte) error {
	f.appended = append(f.appended, eventType)
	return f.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestEmitDispatchOrder(t *testing.T) {
	b := New(nil, quietLogger())
	ctx := context.Background()

	// Handlers run synchronously in registration order
	var order []int
	b.On(EventTaskCreate, func(ctx context.Context, e Event) { order = append(order, 1) })
	b.On(EventTaskCreate, func(ctx context.Context, e Event) { order = append(order, 2) })
	b.On(EventTaskUpdate, func(ctx context.Context, e Event) { order = append(order, 99) })

	b.Emit(ctx, TaskCreated{Task: models.Task{ID: "t1"}})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Expected handlers [1 2], got %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil, quietLogger())
	ctx := context.Background()

	var calls int
	off := b.On(EventTaskDelete, func(ctx context.Context, e Event) { calls++ })

	b.Emit(ctx, TaskDeleted{TaskID: "t1"})
	off()
	b.Emit(ctx, TaskDeleted{TaskID: "t1"})

	if calls != 1 {
		t.Errorf("Expected 1 call after unsubscribe, got %d", calls)
	}

	// Disposing twice is harmless
	off()
}

func TestHandlerPanicIsolation(t *testing.T) {
	b := New(nil, quietLogger())
	ctx := context.Background()

	var reached bool
	b.On(EventForceReload, func(ctx context.Context, e Event) { panic("boom") })
	b.On(EventForceReload, func(ctx context.Context, e Event) { reached = true })

	// Emit must not propagate the panic, and later handlers still run
	b.Emit(ctx, ForceReload{Reason: "test"})

	if !reached {
		t.Errorf("Expected second handler to run after first panicked")
	}
}

func TestEmitAppendsToLog(t *testing.T) {
	log := &fakeEventLog{}
	b := New(log, quietLogger())
	ctx := context.Background()

	b.Emit(ctx, TaskCreated{Task: models.Task{ID: "t1"}})
	b.Emit(ctx, TaskCompleted{TaskID: "t1"})

	if len(log.appended) != 2 {
		t.Fatalf("Expected 2 appended events, got %d", len(log.appended))
	}
	if log.appended[0] != string(EventTaskCreate) || log.appended[1] != string(EventTaskComplete) {
		t.Errorf("Unexpected log order: %v", log.appended)
	}
}

func TestEmitSurvivesLogFailure(t *testing.T) {
	log := &fakeEventLog{err: errors.New("disk full")}
	b := New(log, quietLogger())
	ctx := context.Background()

	var calls int
	b.On(EventTaskSelect, func(ctx context.Context, e Event) { calls++ })

	// Append failures are logged, not surfaced; dispatch already happened
	b.Emit(ctx, TaskSelected{TaskID: "t1"})
	if calls != 1 {
		t.Errorf("Expected handler to run despite log failure, got %d calls", calls)
	}
}
