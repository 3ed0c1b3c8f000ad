package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventLog is the durable sink events are appended to after dispatch.
type EventLog interface {
	AppendEvent(ctx context.Context, id, eventType string, payload []byte) error
}

// Handler reacts to one event. Handlers run synchronously in registration
// order; a panicking handler is recovered and logged without blocking the
// others or the emitter.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the in-process publish/subscribe mechanism. Emission is
// fire-and-forget: no return value correlates to handler success, and
// callers needing confirmation listen for a follow-up event.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[EventType][]subscription
	log      EventLog
	logger   *logrus.Logger
}

func New(log EventLog, logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		handlers: make(map[EventType][]subscription),
		log:      log,
		logger:   logger,
	}
}

// On registers a handler for the given event type and returns its disposer.
func (b *Bus) On(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[t]
		for i, s := range subs {
			if s.id == id {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit synchronously invokes all current handlers for the event's type, then
// appends the event to the durable log.
func (b *Bus) Emit(ctx context.Context, e Event) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.handlers[e.Type()]...)
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(ctx, s, e)
	}

	b.append(ctx, e)
}

func (b *Bus) dispatch(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event": e.Type(),
				"panic": r,
			}).Error("event handler failed")
		}
	}()
	s.handler(ctx, e)
}

func (b *Bus) append(ctx context.Context, e Event) {
	if b.log == nil {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.WithError(err).WithField("event", e.Type()).Warn("failed to serialize event for log")
		payload = nil
	}

	if err := b.log.AppendEvent(ctx, uuid.New().String(), string(e.Type()), payload); err != nil {
		b.logger.WithError(err).WithField("event", e.Type()).Warn("failed to append event to log")
	}
}
