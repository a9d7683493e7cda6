package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweepable removes expired state and reports how many entries it removed
type Sweepable interface {
	Sweep(ctx context.Context) int
}

// Sweeper runs the session TTL sweep on a cron schedule. Targets are swept
// in order, so state derived from sessions goes after the sessions.
type Sweeper struct {
	targets  []Sweepable
	schedule cron.Schedule
	expr     string
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper parses expr, a standard five field cron expression or a
// descriptor such as "@every 15m"
func NewSweeper(expr string, targets ...Sweepable) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}

	return &Sweeper{
		targets:  targets,
		schedule: schedule,
		expr:     expr,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}, nil
}

// Start sweeps once immediately and then on every scheduled time
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting session sweeper", "schedule", s.expr)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop waits for an in-flight sweep, or until ctx is done
func (s *Sweeper) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Session sweeper stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for session sweep to complete")
	}
}

// run is the main sweeper loop
func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.tick(ctx)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-timer.C:
			s.tick(ctx)
		case <-s.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Session sweeper context done")
			return
		}
	}
}

// tick runs one sweep
func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	removed := 0
	for _, target := range s.targets {
		removed += target.Sweep(ctx)
	}

	slog.Debug("Session sweep finished",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
