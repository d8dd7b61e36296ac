package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// parseSchedule parses expr and pins it to loc so "0 6 * * *" means 06:00
// market time regardless of the host timezone.
func parseSchedule(expr string, loc *time.Location) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("trigger: cron %q: %w", expr, err)
	}
	return locatedSchedule{sched: sched, loc: loc}, nil
}

type locatedSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s locatedSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

// untilNext returns the duration from now until the next fire time, never
// negative.
func untilNext(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
