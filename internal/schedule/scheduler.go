// Package schedule repeats a task forever with a randomized pause between runs.
package schedule

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"
)

// Defaults match the stock polling interval.
const (
	DefaultMinDelay = 75 * time.Second
	DefaultMaxDelay = 120 * time.Second
)

// Task is one cycle of work.
type Task func(ctx context.Context) error

// Scheduler runs Task, sleeps a uniform random delay, and repeats. Cycles never overlap.
type Scheduler struct {
	Task     Task
	MinDelay time.Duration
	MaxDelay time.Duration
	Logger   *slog.Logger
	// MaxCycles stops Run after that many cycles; zero runs until ctx is done.
	MaxCycles int
	// Sleep and Rand are replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func(n int64) int64
}

// New returns a scheduler with the default delay window.
func New(task Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Scheduler{
		Task:     task,
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		Logger:   logger,
		Sleep:    sleepContext,
		Rand:     rand.Int64N,
	}
}

// Run loops until ctx is canceled or MaxCycles is reached. Task errors are
// logged and never end the loop; the delay runs after every cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Logger.InfoContext(ctx, "cycle starting", "n", n)
		if err := s.Task(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "cycle failed", "n", n, "error", err)
		}

		d := s.NextDelay()
		s.Logger.InfoContext(ctx, "next cycle scheduled", "after", d)
		if err := s.sleep(ctx, d); err != nil {
			return err
		}
		if s.MaxCycles > 0 && n >= s.MaxCycles {
			return nil
		}
	}
}

// NextDelay draws a whole number of seconds uniformly from [MinDelay, MaxDelay].
func (s *Scheduler) NextDelay() time.Duration {
	lo := int64(s.MinDelay / time.Second)
	hi := int64(s.MaxDelay / time.Second)
	if hi <= lo {
		return time.Duration(lo) * time.Second
	}
	r := s.Rand
	if r == nil {
		r = rand.Int64N
	}
	return time.Duration(lo+r(hi-lo+1)) * time.Second
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
