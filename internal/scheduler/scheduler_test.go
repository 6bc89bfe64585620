package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunTicksImmediatelyThenOnInterval(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())

	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())
	err := s.Run(ctx, func(ctx context.Context) error {
		if atomic.AddInt32(&ticks, 1) >= 3 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := atomic.LoadInt32(&ticks); n < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", n)
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Run(ctx, func(ctx context.Context) error {
		if atomic.AddInt32(&ticks, 1) >= 2 {
			cancel()
			return nil
		}
		return errors.New("refresh failed")
	})

	if n := atomic.LoadInt32(&ticks); n < 2 {
		t.Fatalf("loop must survive tick errors, got %d ticks", n)
	}
}

func TestRunHonoursStartupDelay(t *testing.T) {
	delay := 50 * time.Millisecond
	s := New(Options{Interval: time.Hour, StartupDelay: delay}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	_ = s.Run(ctx, func(ctx context.Context) error {
		cancel()
		return nil
	})

	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("first tick arrived before the startup delay: %s", elapsed)
	}
}
