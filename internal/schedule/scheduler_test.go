package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextDelayBoundsAndUniformity(t *testing.T) {
	src := rand.New(rand.NewPCG(1, 2))
	s := New(nil, discard())
	s.Rand = src.Int64N

	counts := map[time.Duration]int{}
	const samples = 46 * 1000
	for i := 0; i < samples; i++ {
		d := s.NextDelay()
		require.GreaterOrEqual(t, d, 75*time.Second)
		require.LessOrEqual(t, d, 120*time.Second)
		require.Zero(t, d%time.Second)
		counts[d]++
	}
	// every whole second in [75, 120] appears, each near samples/46
	require.Len(t, counts, 46)
	for d, n := range counts {
		assert.InDelta(t, 1000, n, 200, "delay %s drawn %d times", d, n)
	}
}

func TestNextDelayDegenerateWindow(t *testing.T) {
	s := New(nil, discard())
	s.MinDelay, s.MaxDelay = 5*time.Second, 5*time.Second
	assert.Equal(t, 5*time.Second, s.NextDelay())
}

func TestRunBoundedCyclesContinuesAfterErrors(t *testing.T) {
	var runs int
	var slept []time.Duration
	s := New(func(ctx context.Context) error {
		runs++
		if runs == 1 {
			return errors.New("remote failure")
		}
		return nil
	}, discard())
	s.MaxCycles = 3
	s.Rand = func(n int64) int64 { return n - 1 }
	s.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 3, runs)
	assert.Equal(t, []time.Duration{120 * time.Second, 120 * time.Second, 120 * time.Second}, slept)
}

func TestRunDelayFollowsEmptyCycle(t *testing.T) {
	var slept int
	s := New(func(ctx context.Context) error { return nil }, discard())
	s.MaxCycles = 1
	s.Sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, slept)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int
	s := New(func(ctx context.Context) error {
		runs++
		cancel()
		return nil
	}, discard())
	s.MinDelay, s.MaxDelay = time.Hour, time.Hour

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runs)
}
