package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/config"
	"github.com/zulandar/marketyard/internal/db/dbtest"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("market:\n  recurring_day: 6\n  timezone: Europe/Paris\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestParseSchedule_UsesMarketTimezone(t *testing.T) {
	paris := clock.LoadLocation("Europe/Paris")
	sched, err := parseSchedule("0 6 * * *", paris)
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	// 03:00 UTC in June is 05:00 in Paris; next 06:00 Paris is 04:00 UTC.
	now := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)
	next := sched.Next(now)
	if want := time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next.UTC(), want)
	}
	if d := untilNext(sched, now); d != time.Hour {
		t.Errorf("untilNext = %v, want 1h", d)
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	if _, err := parseSchedule("every morning", time.UTC); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_InvalidCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trigger.Cron = "bogus"
	if _, err := New(dbtest.Open(t), cfg, nil, nil); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestRunOnce(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC)
	r, err := New(db, testConfig(t), clock.Fixed(now), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	due, err := session.Create(db, session.CreateOpts{
		Name: "Earlier", Date: "2024-06-09", StartTime: "08:00", EndTime: "12:00", CommissionRate: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !res.Created || res.Session.Date != "2024-06-15" {
		t.Errorf("res = %+v, want created 2024-06-15", res)
	}
	if res.Activated != 1 {
		t.Errorf("Activated = %d, want 1", res.Activated)
	}
	if got, _ := session.Get(db, due.ID); got.Status != models.SessionActive {
		t.Errorf("due session = %s, want ACTIVE", got.Status)
	}

	again, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if again.Created || again.Session.ID != res.Session.ID {
		t.Errorf("second run = %+v, want idempotent no-op", again)
	}
}

func TestRunOnce_ActivationDisabled(t *testing.T) {
	db := dbtest.Open(t)
	cfg := testConfig(t)
	off := false
	cfg.Trigger.ActivateSessions = &off
	r, err := New(db, cfg, clock.Fixed(time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC)), nil)
	if err != nil {
		t.Fatal(err)
	}
	session.Create(db, session.CreateOpts{
		Name: "Earlier", Date: "2024-06-09", StartTime: "08:00", EndTime: "12:00",
	})

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Activated != 0 {
		t.Errorf("Activated = %d, want 0 when disabled", res.Activated)
	}
}

func TestRun_FiresImmediatelyAndStops(t *testing.T) {
	db := dbtest.Open(t)
	r, err := New(db, testConfig(t), clock.Fixed(time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC)), nil)
	if err != nil {
		t.Fatal(err)
	}
	results := make(chan Result, 1)
	r.OnResult = func(res Result) { results <- res }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case res := <-results:
		if !res.Created {
			t.Errorf("first tick should create the session")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result from startup run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
