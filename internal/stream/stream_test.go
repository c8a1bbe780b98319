package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, s *Stream[T]) []Event[T] {
	t.Helper()
	var events []Event[T]
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestStream_Complete(t *testing.T) {
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (string, error) {
		for i := 0; i <= 3; i++ {
			progress(i, 3)
		}
		return "done", nil
	})

	events := collect(t, s)
	require.Len(t, events, 5)
	for i := 0; i <= 3; i++ {
		assert.Equal(t, Event[string]{Type: EventProgress, Processed: i, Total: 3}, events[i])
	}

	last := events[4]
	assert.Equal(t, EventComplete, last.Type)
	require.NotNil(t, last.Data)
	assert.Equal(t, "done", *last.Data)
	assert.True(t, s.Closed())
}

func TestStream_Error(t *testing.T) {
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (int, error) {
		progress(1, 2)
		return 0, errors.New("provider pool exploded")
	})

	events := collect(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Equal(t, "provider pool exploded", events[1].Error)
	assert.Nil(t, events[1].Data)
}

func TestStream_Panic(t *testing.T) {
	s := New(context.Background(), func(context.Context, ProgressFunc) (int, error) {
		panic("nil map")
	})

	events := collect(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "nil map")
}

func TestStream_ConsumerGoneDoesNotBlockProducer(t *testing.T) {
	finished := make(chan struct{})
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (int, error) {
		defer close(finished)
		for i := range 10 * eventBuffer {
			progress(i, 10*eventBuffer)
		}
		return 42, nil
	})

	s.Close()
	s.Close() // idempotent
	assert.True(t, s.Closed())

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("processor blocked after consumer closed the stream")
	}

	// The producer still closes the channel exactly once.
	for range s.Events() {
	}
}

func TestStream_ProgressAfterCompletionIsDropped(t *testing.T) {
	var late ProgressFunc
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (int, error) {
		late = progress
		return 1, nil
	})

	collect(t, s)
	require.NotNil(t, late)
	assert.NotPanics(t, func() { late(5, 5) })
}

func TestStream_SlowConsumerDoesNotBlockProducer(t *testing.T) {
	const total = 200
	finished := make(chan struct{})
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (string, error) {
		defer close(finished)
		for i := range total {
			progress(i, total)
		}
		return "done", nil
	})

	// The consumer is connected but has not read anything yet.
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("processor blocked on progress while the consumer was slow")
	}
	assert.False(t, s.Closed())

	events := collect(t, s)
	require.Len(t, events, eventBuffer+2)
	for i := range eventBuffer {
		assert.Equal(t, i, events[i].Processed)
	}

	// Overflow is coalesced into the latest value, delivered before the result.
	assert.Equal(t, Event[string]{Type: EventProgress, Processed: total - 1, Total: total}, events[eventBuffer])
	assert.Equal(t, EventComplete, events[eventBuffer+1].Type)
}

func TestStream_ProgressNeverMovesBackwards(t *testing.T) {
	s := New(context.Background(), func(_ context.Context, progress ProgressFunc) (int, error) {
		progress(2, 3)
		progress(1, 3)
		progress(3, 3)
		return 3, nil
	})

	events := collect(t, s)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Processed)
	assert.Equal(t, 3, events[1].Processed)
	assert.Equal(t, EventComplete, events[2].Type)
}

func TestEvent_JSONKeepsZeroProgress(t *testing.T) {
	data, err := json.Marshal(Event[string]{Type: EventProgress, Processed: 0, Total: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"progress","processed":0,"total":4}`, string(data))
}
