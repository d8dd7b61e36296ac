package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/config"
	store "github.com/zulandar/marketyard/internal/db"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecurringConfig is the template automatic sessions are created from.
type RecurringConfig struct {
	Name           string
	Description    string
	Location       string
	Timezone       string
	RecurringDay   time.Weekday
	AutoCreateTime string // HH:MM
	StartTime      string // HH:MM
	EndTime        string // HH:MM
	CommissionRate decimal.Decimal
}

// ConfigFromMarket builds a RecurringConfig from validated market settings.
func ConfigFromMarket(m config.MarketConfig) RecurringConfig {
	rc := RecurringConfig{
		Name:           m.Name,
		Description:    m.Description,
		Location:       m.Location,
		Timezone:       m.Timezone,
		AutoCreateTime: m.AutoCreateTime,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
	}
	if m.RecurringDay != nil {
		rc.RecurringDay = time.Weekday(*m.RecurringDay)
	}
	if m.CommissionRate != nil {
		rc.CommissionRate = decimal.NewFromFloat(*m.CommissionRate).Round(2)
	}
	return rc
}

// Lookup finds the automatic session planned for a date, or returns nil.
type Lookup func(date string) (*models.Session, error)

// Plan is the scheduler decision for one trigger invocation. Exactly one of
// Existing and Create is set.
type Plan struct {
	Date     string
	Existing *models.Session
	Create   *models.Session
}

// NextOccurrence returns local midnight of the next day after now that falls
// on the recurring weekday. When now is itself that weekday the result is one
// week later.
func NextOccurrence(now time.Time, day time.Weekday, loc *time.Location) time.Time {
	local := now.In(loc)
	ahead := (int(day) - int(local.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return time.Date(local.Year(), local.Month(), local.Day()+ahead, 0, 0, 0, 0, loc)
}

// PlanNext decides whether the next recurring session must be created. It
// performs no writes.
func PlanNext(now time.Time, cfg RecurringConfig, lookup Lookup) (Plan, error) {
	const op = "session: plan"
	if cfg.RecurringDay < time.Sunday || cfg.RecurringDay > time.Saturday {
		return Plan{}, apperr.Validation(op, "recurring day %d must be between 0 and 6", cfg.RecurringDay)
	}
	if err := validateRate(op, cfg.CommissionRate); err != nil {
		return Plan{}, err
	}
	loc := clock.LoadLocation(cfg.Timezone)
	target := NextOccurrence(now, cfg.RecurringDay, loc)
	date := target.Format("2006-01-02")

	existing, err := lookup(date)
	if err != nil {
		return Plan{}, err
	}
	if existing != nil {
		return Plan{Date: date, Existing: existing}, nil
	}

	startsAt, endsAt, err := window(target, cfg.StartTime, cfg.EndTime, loc)
	if err != nil {
		return Plan{}, apperr.Validation(op, "%v", err)
	}
	day := int(cfg.RecurringDay)
	autoDate := date
	return Plan{
		Date: date,
		Create: &models.Session{
			ID:             uuid.NewString(),
			Name:           cfg.Name,
			Description:    cfg.Description,
			Location:       cfg.Location,
			Date:           date,
			StartTime:      cfg.StartTime,
			EndTime:        cfg.EndTime,
			StartsAt:       startsAt,
			EndsAt:         endsAt,
			Timezone:       loc.String(),
			Status:         models.SessionUpcoming,
			IsAutomatic:    true,
			RecurringDay:   &day,
			AutoCreateTime: cfg.AutoCreateTime,
			AutoDate:       &autoDate,
			CommissionRate: cfg.CommissionRate,
		},
	}, nil
}

// FindAutomatic returns the automatic session keyed by date, or nil.
func FindAutomatic(db *gorm.DB, date string) (*models.Session, error) {
	var s models.Session
	err := db.Where("auto_date = ?", date).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: find automatic %s: %w", date, err)
	}
	return &s, nil
}

// EnsureNextRecurringSession makes sure the automatic session for the next
// recurring weekday exists, creating it at most once. Concurrent callers
// converge on the same row through the unique automatic-date key; the boolean
// reports whether this call inserted it.
func EnsureNextRecurringSession(db *gorm.DB, cfg RecurringConfig, now time.Time) (*models.Session, bool, error) {
	plan, err := PlanNext(now, cfg, func(date string) (*models.Session, error) {
		return FindAutomatic(db, date)
	})
	if err != nil {
		return nil, false, err
	}
	if plan.Existing != nil {
		return plan.Existing, false, nil
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "auto_date"}},
		DoNothing: true,
	}).Create(plan.Create)
	if result.Error != nil && !store.IsUniqueViolation(result.Error) {
		return nil, false, fmt.Errorf("session: ensure %s: %w", plan.Date, result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		return plan.Create, true, nil
	}

	// Lost the race; return the winner.
	existing, err := FindAutomatic(db, plan.Date)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, apperr.Conflict("session: ensure", "automatic session for %s vanished after conflict", plan.Date)
	}
	return existing, false, nil
}
