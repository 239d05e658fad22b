package forensic

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Clock is the time source the scheduler waits on between groups.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler runs n independent tasks in fixed-size groups. Tasks inside a
// group run with at most Concurrency in flight; the scheduler waits Cooldown
// between groups so a shared inference host is never flooded.
type Scheduler struct {
	BatchSize   int
	Concurrency int
	Cooldown    time.Duration
	Clock       Clock
}

// NewScheduler returns a scheduler waiting on clock, or on the wall clock
// when clock is nil. Non-positive sizes fall back to one.
func NewScheduler(batchSize, concurrency int, cooldown time.Duration, clock Clock) *Scheduler {
	return &Scheduler{BatchSize: batchSize, Concurrency: concurrency, Cooldown: cooldown, Clock: clock}
}

// Run calls fn for every index in [0, n). Item-level failures are the
// caller's business: fn should return an error only when the whole run must
// stop. The first such error cancels the remaining tasks of its group, no
// further group starts, and Run returns it. Run also stops when ctx is done.
func (s *Scheduler) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	batch := s.BatchSize
	if batch < 1 {
		batch = 1
	}
	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	clock := s.Clock
	if clock == nil {
		clock = realClock{}
	}

	for start := 0; start < n; start += batch {
		if start > 0 && s.Cooldown > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(s.Cooldown):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batch, n)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return fn(gctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
