package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	"github.com/tmxbot/envimix/internal/services"
)

// fakeBuilder records seasonal build triggers.
type fakeBuilder struct {
	calls []string
	err   error
}

func (b *fakeBuilder) BuildSeasonal(ctx context.Context, submitter string) (*models.Campaign, error) {
	b.calls = append(b.calls, submitter)
	if b.err != nil {
		return nil, b.err
	}
	return &models.Campaign{ID: "camp-sched", Name: "Scheduled"}, nil
}

func setupScheduler(t *testing.T) (*services.Scheduler, *fakeBuilder, *time.Location) {
	t.Helper()
	builder := &fakeBuilder{}
	sched, err := services.NewScheduler(logger.New(), builder)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	return sched, builder, paris
}

func tickAt(sched *services.Scheduler, at time.Time) {
	sched.SetClock(func() time.Time { return at })
	sched.Tick(context.Background())
}

func TestScheduler_FiresOnQuarterDayAfterThreshold(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 7, 1, 19, 0, 0, 0, paris))

	if len(builder.calls) != 1 {
		t.Fatalf("expected 1 build, got %d", len(builder.calls))
	}
	if builder.calls[0] != "scheduler" {
		t.Errorf("unexpected submitter %q", builder.calls[0])
	}
}

func TestScheduler_HoldsBeforeThreshold(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 7, 1, 17, 59, 0, 0, paris))

	if len(builder.calls) != 0 {
		t.Fatalf("expected no build before the rotation threshold, got %d", len(builder.calls))
	}
}

func TestScheduler_FiresOncePerDay(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 10, 1, 18, 0, 0, 0, paris))
	tickAt(sched, time.Date(2026, 10, 1, 18, 1, 0, 0, paris))
	tickAt(sched, time.Date(2026, 10, 1, 23, 59, 0, 0, paris))

	if len(builder.calls) != 1 {
		t.Fatalf("expected exactly 1 build for the day, got %d", len(builder.calls))
	}
}

func TestScheduler_ClockDipDoesNotRefire(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	// Fire, dip back under the threshold (re-arming), then cross again the
	// same day. The day guard keeps a single build.
	tickAt(sched, time.Date(2026, 1, 1, 18, 30, 0, 0, paris))
	tickAt(sched, time.Date(2026, 1, 1, 12, 0, 0, 0, paris))
	tickAt(sched, time.Date(2026, 1, 1, 20, 0, 0, 0, paris))

	if len(builder.calls) != 1 {
		t.Fatalf("expected 1 build despite the clock dip, got %d", len(builder.calls))
	}
}

func TestScheduler_SkipsNonQuarterMonths(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 8, 1, 19, 0, 0, 0, paris))
	tickAt(sched, time.Date(2026, 2, 1, 19, 0, 0, 0, paris))

	if len(builder.calls) != 0 {
		t.Fatalf("expected no build outside quarter months, got %d", len(builder.calls))
	}
}

func TestScheduler_SkipsMidQuarterDays(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 7, 2, 19, 0, 0, 0, paris))
	tickAt(sched, time.Date(2026, 7, 15, 19, 0, 0, 0, paris))

	if len(builder.calls) != 0 {
		t.Fatalf("expected no build on mid-quarter days, got %d", len(builder.calls))
	}
}

func TestScheduler_FiresNextQuarter(t *testing.T) {
	sched, builder, paris := setupScheduler(t)

	tickAt(sched, time.Date(2026, 7, 1, 19, 0, 0, 0, paris))
	// A quiet mid-quarter tick re-arms nothing
	tickAt(sched, time.Date(2026, 8, 12, 9, 0, 0, 0, paris))
	tickAt(sched, time.Date(2026, 10, 1, 19, 0, 0, 0, paris))

	if len(builder.calls) != 2 {
		t.Fatalf("expected builds for both quarters, got %d", len(builder.calls))
	}
}

func TestScheduler_BuildErrorDoesNotBlockNextQuarter(t *testing.T) {
	sched, builder, paris := setupScheduler(t)
	builder.err = context.DeadlineExceeded

	tickAt(sched, time.Date(2026, 4, 1, 19, 0, 0, 0, paris))
	builder.err = nil
	tickAt(sched, time.Date(2026, 7, 1, 19, 0, 0, 0, paris))

	if len(builder.calls) != 2 {
		t.Fatalf("expected a retry on the next quarter, got %d builds", len(builder.calls))
	}
}
