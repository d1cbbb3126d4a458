// Package events delivers account lifecycle notifications to in-process
// subscribers.
//
// Publish never blocks the caller: events go into a bounded queue drained by
// one worker goroutine. When the queue is full the event is dropped and a
// warning is logged. Delivery is best-effort and happens after the
// mutation has committed; subscribers must not assume they can veto it.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event names.
const (
	UserCreated     = "user.created"
	UserUpdated     = "user.updated"
	UserDeleted     = "user.deleted"
	UserRoleChanged = "user.role-changed"
)

// Event is one notification.
type Event struct {
	ID      uuid.UUID
	Name    string
	Payload any
	At      time.Time
}

// New stamps an event with a fresh id and the current time.
func New(name string, payload any) Event {
	return Event{ID: uuid.New(), Name: name, Payload: payload, At: time.Now().UTC()}
}

// Publisher is the side the service layer depends on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Handler receives delivered events. A returned error is logged.
type Handler func(ctx context.Context, e Event) error

// Bus is an asynchronous Publisher with fan-out to subscribers.
type Bus struct {
	logger *slog.Logger
	queue  chan Event

	mu       sync.RWMutex
	handlers []Handler

	closeOnce sync.Once
	done      chan struct{}
}

var _ Publisher = (*Bus)(nil)

// NewBus starts the delivery worker. size bounds the number of undelivered
// events.
func NewBus(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = 1000
	}
	b := &Bus{
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers h for every subsequent event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues e. It must not be called after Close.
func (b *Bus) Publish(_ context.Context, e Event) {
	select {
	case b.queue <- e:
	default:
		b.logger.Warn("event queue full, dropping event",
			slog.String("event", e.Name),
			slog.String("eventID", e.ID.String()),
		)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.queue) })
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.RLock()
		handlers := b.handlers
		b.mu.RUnlock()

		for _, h := range handlers {
			// Subscribers get a fresh context: the publishing request may
			// already be gone.
			if err := h(context.Background(), e); err != nil {
				b.logger.Error("event handler failed",
					slog.String("event", e.Name),
					slog.String("eventID", e.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// LogSubscriber writes every event to logger at Info level.
func LogSubscriber(logger *slog.Logger) Handler {
	return func(_ context.Context, e Event) error {
		logger.Info("account event",
			slog.String("event", e.Name),
			slog.String("eventID", e.ID.String()),
			slog.Time("at", e.At),
			slog.Any("payload", e.Payload),
		)
		return nil
	}
}
