// Package event carries observability events out of the connection manager
// and the subscription loops.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names an observability event.
type Type string

// Event types emitted by natsrpc.
const (
	Connected                Type = "connected"
	Reconnecting             Type = "reconnecting"
	Reconnected              Type = "reconnected"
	Close                    Type = "close"
	Error                    Type = "error"
	PermissionError          Type = "permission_error"
	SubscribeMessageError    Type = "subscribe_message_error"
	SubscribeConnectionError Type = "subscribe_connection_error"
)

// Event is a single observability record.
type Event struct {
	Type      Type
	Namespace string
	Subject   string
	Err       error
	Time      time.Time
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Emitter logs every event and fans it out to listeners.
type Emitter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[int]chan Event
	nextID    int
	dropped   uint64
}

// NewEmitter creates an Emitter. A nil logger uses slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		logger:    logger.With("component", "events"),
		listeners: make(map[int]chan Event),
	}
}

// Emit logs e and delivers it to every listener with buffer space.
func (em *Emitter) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	em.log(e)

	em.mu.Lock()
	defer em.mu.Unlock()
	for _, ch := range em.listeners {
		select {
		case ch <- e:
		default:
			em.dropped++
		}
	}
}

// Listen registers a listener with the given buffer. Events are dropped for
// a listener whose buffer is full. The returned func removes the listener
// and closes its channel.
func (em *Emitter) Listen(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	em.mu.Lock()
	id := em.nextID
	em.nextID++
	em.listeners[id] = ch
	em.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			em.mu.Lock()
			delete(em.listeners, id)
			em.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (em *Emitter) Dropped() uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.dropped
}

func (em *Emitter) log(e Event) {
	attrs := []slog.Attr{slog.String("event", string(e.Type))}
	if e.Namespace != "" {
		attrs = append(attrs, slog.String("namespace", e.Namespace))
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("error", e.Err))
	}

	level := slog.LevelInfo
	switch e.Type {
	case Error, SubscribeMessageError, SubscribeConnectionError:
		level = slog.LevelError
	case Reconnecting, PermissionError:
		level = slog.LevelWarn
	}

	em.logger.LogAttrs(context.Background(), level, "NATS event", attrs...)
}
