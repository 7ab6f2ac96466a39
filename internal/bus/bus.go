package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Topic identifies a category of pipeline notification.
type Topic string

// Known topics.
const (
	RunStarted     Topic = "run.started"
	RunCompleted   Topic = "run.completed"
	EntityIngested Topic = "entity.ingested"
	LinkCreated    Topic = "link.created"
	StubCreated    Topic = "stub.created"
	UpstreamCalled Topic = "upstream.called"
	BatchStarted   Topic = "batch.started"
	BatchCompleted Topic = "batch.completed"
)

// Message is one notification published on the bus.
type Message struct {
	Topic     Topic          `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// String returns Data[key] as a string, or "" when absent or not a string.
func (m Message) String(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Handler processes a message.
type Handler func(Message)

// Bus is an in-process publish/subscribe bus backed by a buffered channel.
// Handlers run sequentially on the dispatch goroutine.
type Bus struct {
	ch      chan Message
	mu      sync.RWMutex
	subs    map[Topic][]Handler
	logger  *slog.Logger
	done    chan struct{}
	stopped bool
}

// New creates a bus with the given buffer size.
func New(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Message, bufSize),
		subs:   make(map[Topic][]Handler),
		logger: logger.With(slog.String("component", "bus")),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for each of the given topics.
func (b *Bus) Subscribe(h Handler, topics ...Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish enqueues a message without blocking. When the buffer is full the
// message is dropped with a warning. A nil bus ignores the call.
func (b *Bus) Publish(topic Topic, data map[string]any) {
	if b == nil {
		return
	}
	m := Message{Topic: topic, Timestamp: time.Now().UTC(), Data: data}
	select {
	case b.ch <- m:
	default:
		b.logger.Warn("bus full, dropping message", slog.String("topic", string(topic)))
	}
}

// Start dispatches messages until Stop is called, then drains the buffer.
// Call it in a goroutine.
func (b *Bus) Start() {
	for {
		select {
		case m := <-b.ch:
			b.dispatch(m)
		case <-b.done:
			for {
				select {
				case m := <-b.ch:
					b.dispatch(m)
				default:
					return
				}
			}
		}
	}
}

// Stop signals Start to drain and return. Safe to call more than once.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) dispatch(m Message) {
	b.mu.RLock()
	handlers := b.subs[m.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("bus handler panicked",
						slog.String("topic", string(m.Topic)),
						slog.Any("panic", r))
				}
			}()
			h(m)
		}()
	}
}
