package forensic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The genai client's opencensus dependency starts a worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeClock fires immediately and records every wait.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// stuckClock never fires.
type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return nil }

func TestSchedulerGroupsWithCooldown(t *testing.T) {
	clock := &fakeClock{}
	s := &Scheduler{BatchSize: 2, Concurrency: 2, Cooldown: 3 * time.Second, Clock: clock}

	var inFlight, peak int32
	var mu sync.Mutex
	seen := map[int]bool{}
	err := s.Run(context.Background(), 5, func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.Waits())
}

func TestSchedulerSequentialByDefault(t *testing.T) {
	clock := &fakeClock{}
	s := &Scheduler{Clock: clock, Cooldown: time.Second}
	var order []int
	err := s.Run(context.Background(), 4, func(ctx context.Context, i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Len(t, clock.Waits(), 3)
}

func TestSchedulerStopsOnError(t *testing.T) {
	s := &Scheduler{BatchSize: 2, Concurrency: 1, Clock: &fakeClock{}}
	boom := errors.New("provider down")
	var calls []int
	err := s.Run(context.Background(), 6, func(ctx context.Context, i int) error {
		calls = append(calls, i)
		if i == 1 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{0, 1}, calls)
}

func TestSchedulerCancelDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Scheduler{BatchSize: 1, Cooldown: time.Hour, Clock: stuckClock{}}
	calls := 0
	err := s.Run(ctx, 3, func(ctx context.Context, i int) error {
		calls++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSchedulerNoItems(t *testing.T) {
	s := NewScheduler(2, 2, time.Hour, nil)
	require.NoError(t, s.Run(context.Background(), 0, func(context.Context, int) error {
		t.Fatal("fn must not be called")
		return nil
	}))
}
