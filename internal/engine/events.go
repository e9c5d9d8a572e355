package engine

import (
	"sync"
	"time"
)

type EventType string

const (
	EventShown       EventType = "shown"
	EventDismissed   EventType = "dismissed"
	EventInteraction EventType = "interaction"
)

// Event is a structured analytics notification. Delivery is fire-and-forget:
// a sink that cannot keep up loses events, never scheduling.
type Event struct {
	Type           EventType `json:"type"`
	AnnouncementID string    `json:"announcement_id"`
	ViewID         string    `json:"view_id"`
	At             time.Time `json:"at"`
}

type EventSink interface {
	Emit(ev Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink discards all events.
func NopSink() EventSink { return nopSink{} }

// AsyncSink decouples event delivery from the engine loop through a bounded
// buffer; overflow drops the event rather than block scheduling. The buffer
// channel is never closed, so an Emit racing a Close (a settle timer firing
// during shutdown) is dropped instead of panicking.
type AsyncSink struct {
	ch   chan Event
	next EventSink
	quit chan struct{}
	once sync.Once
}

func NewAsyncSink(next EventSink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		ch:   make(chan Event, buffer),
		next: next,
		quit: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *AsyncSink) run() {
	for {
		select {
		case ev := <-s.ch:
			s.next.Emit(ev)
		case <-s.quit:
			// Deliver whatever was already buffered before stopping.
			for {
				select {
				case ev := <-s.ch:
					s.next.Emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) Close() {
	s.once.Do(func() { close(s.quit) })
}
