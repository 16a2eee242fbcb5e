package services

import (
	"context"
	"sync"
	"time"

	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
)

// Builder is what the scheduler triggers when a new quarter starts.
type Builder interface {
	BuildSeasonal(ctx context.Context, submitter string) (*models.Campaign, error)
}

// Scheduler watches the wall clock and builds the seasonal campaign once per
// quarter, shortly after the upstream rotation.
type Scheduler struct {
	log      logger.Logger
	builder  Builder
	location *time.Location
	// threshold is the local time of day the upstream rotation is expected
	// to have completed by.
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	fired    bool
	firedDay string
	building bool
}

// NewScheduler creates a scheduler for the given campaign builder. The
// rotation happens on Paris time regardless of where the process runs.
func NewScheduler(log logger.Logger, builder Builder) (*Scheduler, error) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		log:       log,
		builder:   builder,
		location:  loc,
		threshold: 18 * time.Hour,
		interval:  time.Minute,
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source in tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Scheduler started", "threshold", s.threshold.String(), "zone", s.location.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates the clock once. It fires at most once per local day, and
// only on the first day of a quarter after the rotation threshold.
func (s *Scheduler) Tick(ctx context.Context) {
	local := s.now().In(s.location)
	elapsed := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	s.mu.Lock()
	if elapsed < s.threshold {
		// Below the threshold the day is armed again, so the next
		// crossing fires.
		s.fired = false
		s.mu.Unlock()
		return
	}
	day := local.Format("2006-01-02")
	if s.fired || s.firedDay == day {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.firedDay = day

	if !quarterStart(local) {
		s.mu.Unlock()
		return
	}
	if s.building {
		s.log.Warn("Seasonal build still running, skipping trigger", "day", day)
		s.mu.Unlock()
		return
	}
	s.building = true
	s.mu.Unlock()

	s.log.Info("Quarter rotation detected", "day", day)
	_, err := s.builder.BuildSeasonal(ctx, "scheduler")

	s.mu.Lock()
	s.building = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Scheduled seasonal build failed", "day", day, "error", err)
		return
	}
	s.log.Info("Scheduled seasonal build finished", "day", day)
}

// quarterStart reports whether t falls on the first day of a quarter.
func quarterStart(t time.Time) bool {
	if t.Day() != 1 {
		return false
	}
	switch t.Month() {
	case time.January, time.April, time.July, time.October:
		return true
	}
	return false
}
