package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type countingSweeper struct {
	calls atomic.Int32
	swept chan struct{}
}

func (s *countingSweeper) ClearStale(context.Context) int {
	s.calls.Add(1)
	s.swept <- struct{}{}
	return 3
}

func TestStartSweepScheduler(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sweeper := &countingSweeper{swept: make(chan struct{}, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartSweepScheduler(ctx, sweeper, SweepConfig{Interval: time.Hour, Clock: clock, Logger: discardLogger()})
	}()

	waitSweep := func(label string) {
		t.Helper()
		select {
		case <-sweeper.swept:
		case <-time.After(time.Second):
			t.Fatalf("%s: sweep did not run", label)
		}
	}

	waitSweep("startup")

	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	waitSweep("first tick")

	clock.Advance(time.Hour)
	waitSweep("second tick")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	if got := sweeper.calls.Load(); got != 3 {
		t.Errorf("ClearStale called %d times, want 3", got)
	}
}
