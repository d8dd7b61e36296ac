// Package trigger runs the recurring session trigger on a cron schedule.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/config"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result is the outcome of one trigger invocation.
type Result struct {
	At        time.Time
	Session   *models.Session
	Created   bool
	Activated int64
}

// Runner invokes the session scheduler on a fixed cadence. Over-calling is
// harmless because scheduling is idempotent.
type Runner struct {
	db       *gorm.DB
	market   session.RecurringConfig
	sched    cron.Schedule
	activate bool
	clock    clock.Clock
	log      *zap.SugaredLogger

	// OnResult, when set, receives every successful result.
	OnResult func(Result)
}

// New builds a Runner from validated configuration.
func New(db *gorm.DB, cfg *config.Config, clk clock.Clock, log *zap.SugaredLogger) (*Runner, error) {
	loc := clock.LoadLocation(cfg.Market.Timezone)
	sched, err := parseSchedule(cfg.Trigger.Cron, loc)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	activate := true
	if cfg.Trigger.ActivateSessions != nil {
		activate = *cfg.Trigger.ActivateSessions
	}
	return &Runner{
		db:       db,
		market:   session.ConfigFromMarket(cfg.Market),
		sched:    sched,
		activate: activate,
		clock:    clk,
		log:      log,
	}, nil
}

// Next returns the next fire time after t.
func (r *Runner) Next(t time.Time) time.Time {
	return r.sched.Next(t)
}

// RunOnce promotes due sessions (when enabled) and ensures the next recurring
// session exists.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	now := r.clock.Now()
	res := Result{At: now}
	db := r.db.WithContext(ctx)

	if r.activate {
		n, err := session.ActivateDue(db, now)
		if err != nil {
			return res, fmt.Errorf("trigger: %w", err)
		}
		res.Activated = n
	}

	s, created, err := session.EnsureNextRecurringSession(db, r.market, now)
	if err != nil {
		return res, fmt.Errorf("trigger: %w", err)
	}
	res.Session = s
	res.Created = created
	return res, nil
}

// Run fires once immediately to catch up on missed ticks, then on every
// scheduled tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.fire(ctx)

	timer := time.NewTimer(untilNext(r.sched, r.clock.Now()))
	defer timer.Stop()
	r.log.Infow("trigger scheduled", "next", r.Next(r.clock.Now()))

	for {
		select {
		case <-ctx.Done():
			r.log.Infow("trigger stopped")
			return nil
		case <-timer.C:
			r.fire(ctx)
			timer.Reset(untilNext(r.sched, r.clock.Now()))
		}
	}
}

func (r *Runner) fire(ctx context.Context) {
	res, err := r.RunOnce(ctx)
	if err != nil {
		r.log.Errorw("trigger run failed", "error", err)
		return
	}
	r.log.Infow("trigger run",
		"session", res.Session.ID,
		"date", res.Session.Date,
		"created", res.Created,
		"activated", res.Activated,
	)
	if r.OnResult != nil {
		r.OnResult(res)
	}
}
