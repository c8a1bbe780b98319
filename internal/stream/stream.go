// Package stream decouples progress reporting from result delivery.
//
// A Stream runs a processor in its own goroutine and turns its progress
// callbacks and final outcome into a channel of events. The producer closes
// the channel exactly once, after exactly one terminal event (complete or
// error). A consumer that goes away calls Close; from then on progress is
// dropped silently while the processor runs to completion.
//
// Progress never blocks the processor. When a slow consumer lets the buffer
// fill, progress is coalesced: only the latest value is kept and delivered
// once there is room, or just before the terminal event.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is a single message on a stream.
type Event[T any] struct {
	Type      EventType `json:"type"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Data      *T        `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ProgressFunc reports that processed of total items are done.
type ProgressFunc func(processed, total int)

// Processor produces the stream's final value, reporting progress as it goes.
type Processor[T any] func(ctx context.Context, progress ProgressFunc) (T, error)

// eventBuffer lets a producer run ahead of a slow consumer.
const eventBuffer = 64

// Stream carries the events of one processor run.
type Stream[T any] struct {
	events chan Event[T]

	// gone is closed when the consumer calls Close.
	gone      chan struct{}
	closeOnce sync.Once

	// mu guards the fields below and every progress send on events.
	mu        sync.Mutex
	finished  bool
	pending   *Event[T]
	processed int
	total     int

	closed atomic.Bool
}

// New starts processor in a new goroutine and returns its stream.
// ctx is passed to the processor unchanged; closing the stream does not
// cancel it.
func New[T any](ctx context.Context, processor Processor[T]) *Stream[T] {
	s := &Stream[T]{
		events:    make(chan Event[T], eventBuffer),
		gone:      make(chan struct{}),
		processed: -1,
	}
	go s.run(ctx, processor)
	return s
}

// Events returns the event channel. It is closed after the terminal event.
func (s *Stream[T]) Events() <-chan Event[T] {
	return s.events
}

// Close marks the consumer as gone. Safe to call more than once and
// concurrently with the producer.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.gone)
	})
}

// Closed reports whether the stream has finished or its consumer has gone.
func (s *Stream[T]) Closed() bool {
	return s.closed.Load()
}

// Progress queues a progress event without blocking. It is dropped if the
// stream is closed or if processed is behind a value already queued, so
// callers reporting from several goroutines never move progress backwards.
func (s *Stream[T]) Progress(processed, total int) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || processed < s.processed {
		return
	}
	s.processed = processed
	s.total = total

	ev := Event[T]{Type: EventProgress, Processed: processed, Total: total}
	select {
	case s.events <- ev:
		s.pending = nil
	default:
		s.pending = &ev
	}
}

func (s *Stream[T]) run(ctx context.Context, processor Processor[T]) {
	result, err := s.invoke(ctx, processor)

	var terminal Event[T]
	if err != nil {
		terminal = Event[T]{Type: EventError, Error: err.Error()}
	} else {
		terminal = Event[T]{Type: EventComplete, Data: &result}
	}
	s.finish(terminal)
}

// invoke runs processor, converting a panic into an error.
func (s *Stream[T]) invoke(ctx context.Context, processor Processor[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return processor(ctx, s.Progress)
}

// finish delivers any coalesced progress and then the terminal event, and
// closes the channel. These sends block until the consumer reads or goes
// away; the processor has already returned.
func (s *Stream[T]) finish(terminal Event[T]) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	pending := s.pending
	s.pending = nil
	// Terminal events repeat the last reported progress.
	terminal.Processed = max(s.processed, 0)
	terminal.Total = s.total
	s.mu.Unlock()

	// finished is set, so no other goroutine sends from here on.
	if pending != nil {
		s.deliver(*pending)
	}
	s.deliver(terminal)

	s.closed.Store(true)
	close(s.events)
}

func (s *Stream[T]) deliver(ev Event[T]) {
	select {
	case s.events <- ev:
	case <-s.gone:
	}
}
