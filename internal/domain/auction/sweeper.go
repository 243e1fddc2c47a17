package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepInterval = 5 * time.Second
	sweepCycleDeadline   = 2 * time.Second
	sweepBatchSize       = 256
	sweepParallelism     = 8
)

// Sweeper closes auctions whose end time has passed. It wakes every interval
// and earlier when an auction is created that ends before the next wake.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	wake     chan struct{}

	mu       sync.Mutex
	nextWake time.Time
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		engine:   engine,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
	engine.setCreatedHook(s.Notify)
	return s
}

// Notify asks for a sweep at endTime if that is earlier than the next
// scheduled wake.
func (s *Sweeper) Notify(endTime time.Time) {
	s.mu.Lock()
	if !s.nextWake.IsZero() && !endTime.Before(s.nextWake) {
		s.mu.Unlock()
		return
	}
	s.nextWake = endTime
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Expiry sweeper started",
		slog.String("type", "sweeper"),
		slog.Duration("interval", s.interval),
	)

	s.mu.Lock()
	s.nextWake = s.engine.clock.Now()
	s.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Expiry sweeper stopped", slog.String("type", "sweeper"))
			return
		case <-s.wake:
			resetTimer(timer, s.untilNextWake())
			continue
		case <-timer.C:
		}

		s.beginCycle()
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Sweep cycle incomplete",
				slog.String("type", "sweeper"),
				slog.Any("error", err),
			)
		}
		s.schedule()
		resetTimer(timer, s.untilNextWake())
	}
}

// RunOnce closes up to one batch of expired auctions and reports how many it
// closed. Running it again right away is a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepCycleDeadline)
	defer cancel()

	e := s.engine
	start := e.clock.Monotonic()
	now := e.clock.Now()

	var ids []int64
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			ids, err = tx.ListExpired(ctx, now, sweepBatchSize)
			return err
		})
	})
	if err != nil {
		return 0, e.fail(ctx, "SweepExpired", 0, 0, err)
	}

	var (
		closed atomic.Int64
		g      errgroup.Group
	)
	g.SetLimit(sweepParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok, err := e.closeExpired(ctx, id)
			switch {
			case IsNotFound(err):
				return nil
			case err != nil:
				return fmt.Errorf("close auction %d: %w", id, err)
			case ok:
				closed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	n := int(closed.Load())
	e.metrics.ObserveSweep(e.clock.Monotonic()-start, n)
	if n > 0 {
		slog.Info("Expired auctions closed",
			slog.String("type", "sweeper"),
			slog.Int("closed", n),
			slog.Int("candidates", len(ids)),
		)
	}
	return n, err
}

// beginCycle clears the wake that started the current sweep, so a Notify
// arriving while the sweep runs is kept by schedule.
func (s *Sweeper) beginCycle() {
	s.mu.Lock()
	s.nextWake = time.Time{}
	s.mu.Unlock()
}

// schedule sets the next wake one interval from now unless an earlier wake
// was requested since the cycle began.
func (s *Sweeper) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.engine.clock.Now().Add(s.interval)
	if !s.nextWake.IsZero() && s.nextWake.Before(next) {
		return
	}
	s.nextWake = next
}

func (s *Sweeper) untilNextWake() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.nextWake.Sub(s.engine.clock.Now())
	switch {
	case d < 0:
		return 0
	case d > s.interval:
		return s.interval
	}
	return d
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
