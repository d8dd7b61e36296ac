// Package session provides market session lifecycle operations.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ValidTransitions maps each session status to its valid next statuses.
// COMPLETED is terminal.
var ValidTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionUpcoming:  {models.SessionActive, models.SessionCompleted},
	models.SessionActive:    {models.SessionCompleted},
	models.SessionCompleted: {},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to models.SessionStatus) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may transition into to.
func sourcesOf(to models.SessionStatus) []models.SessionStatus {
	var from []models.SessionStatus
	for s, next := range ValidTransitions {
		for _, n := range next {
			if n == to {
				from = append(from, s)
			}
		}
	}
	return from
}

// CreateOpts holds parameters for creating a manual session.
type CreateOpts struct {
	Name           string
	Description    string
	Location       string
	Date           string // YYYY-MM-DD
	StartTime      string // HH:MM
	EndTime        string // HH:MM
	Timezone       string
	CommissionRate decimal.Decimal
}

// ListFilters holds optional filters for listing sessions.
type ListFilters struct {
	Status models.SessionStatus
	From   string // inclusive YYYY-MM-DD
	To     string // inclusive YYYY-MM-DD
}

// Create inserts a non-automatic UPCOMING session.
func Create(db *gorm.DB, opts CreateOpts) (*models.Session, error) {
	const op = "session: create"
	if opts.Name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if err := validateRate(op, opts.CommissionRate); err != nil {
		return nil, err
	}
	loc := clock.LoadLocation(opts.Timezone)
	day, err := time.ParseInLocation("2006-01-02", opts.Date, loc)
	if err != nil {
		return nil, apperr.Validation(op, "date %q must be YYYY-MM-DD", opts.Date)
	}
	startsAt, endsAt, err := window(day, opts.StartTime, opts.EndTime, loc)
	if err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	s := models.Session{
		ID:             uuid.NewString(),
		Name:           opts.Name,
		Description:    opts.Description,
		Location:       opts.Location,
		Date:           opts.Date,
		StartTime:      opts.StartTime,
		EndTime:        opts.EndTime,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		Timezone:       loc.String(),
		Status:         models.SessionUpcoming,
		CommissionRate: opts.CommissionRate,
	}
	if err := db.Create(&s).Error; err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return &s, nil
}

// Get retrieves a session by ID.
func Get(db *gorm.DB, id string) (*models.Session, error) {
	var s models.Session
	if err := db.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session: get", "session not found: %s", id)
		}
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &s, nil
}

// Lock reads a session inside tx and holds a row lock on it until tx ends,
// so writers that check the status serialise against a close.
func Lock(tx *gorm.DB, id string) (*models.Session, error) {
	var s models.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session: lock", "session not found: %s", id)
		}
		return nil, fmt.Errorf("session: lock %s: %w", id, err)
	}
	return &s, nil
}

// List returns sessions matching the filters, most recent date first.
func List(db *gorm.DB, filters ListFilters) ([]models.Session, error) {
	q := db.Model(&models.Session{})
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.From != "" {
		q = q.Where("date >= ?", filters.From)
	}
	if filters.To != "" {
		q = q.Where("date <= ?", filters.To)
	}
	var sessions []models.Session
	if err := q.Order("date DESC, starts_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Activate promotes an UPCOMING session to ACTIVE.
func Activate(db *gorm.DB, id string) error {
	return transition(db, "session: activate", id, models.SessionActive, nil)
}

// Complete marks a session COMPLETED. Callers run it inside the settlement
// transaction; a session that is already COMPLETED yields a conflict.
func Complete(tx *gorm.DB, id string, at time.Time) error {
	return transition(tx, "session: complete", id, models.SessionCompleted, map[string]interface{}{
		"completed_at": at,
	})
}

// ActivateDue promotes every session that may become ACTIVE and whose start
// instant is at or before now. It returns the number of sessions promoted.
func ActivateDue(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Model(&models.Session{}).
		Where("status IN ? AND starts_at <= ?", sourcesOf(models.SessionActive), now.UTC()).
		Update("status", models.SessionActive)
	if result.Error != nil {
		return 0, fmt.Errorf("session: activate due: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SetCommissionRate changes the session default rate. Already computed
// commission records keep the rate they were computed with.
func SetCommissionRate(db *gorm.DB, id string, rate decimal.Decimal) error {
	const op = "session: set commission rate"
	if err := validateRate(op, rate); err != nil {
		return err
	}
	result := db.Model(&models.Session{}).
		Where("id = ? AND status <> ?", id, models.SessionCompleted).
		Update("commission_rate", rate)
	if result.Error != nil {
		return fmt.Errorf("session: set commission rate %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := Get(db, id); err != nil {
			return err
		}
		return apperr.Conflict(op, "session %s is completed", id)
	}
	return nil
}

// Delete soft-deletes an UPCOMING session that has no confirmed growers,
// together with its participations. The automatic-date key is released so
// the scheduler may recreate the session.
func Delete(db *gorm.DB, id string) error {
	const op = "session: delete"
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := Lock(tx, id)
		if err != nil {
			return err
		}
		if s.Status != models.SessionUpcoming {
			return apperr.Conflict(op, "session %s is %s, only UPCOMING sessions can be deleted", id, s.Status)
		}
		var confirmed int64
		if err := tx.Model(&models.Participation{}).
			Where("session_id = ? AND status = ?", id, models.ParticipationConfirmed).
			Count(&confirmed).Error; err != nil {
			return fmt.Errorf("count confirmed: %w", err)
		}
		if confirmed > 0 {
			return apperr.Conflict(op, "session %s has %d confirmed growers", id, confirmed)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.ParticipationProduct{}).Error; err != nil {
			return fmt.Errorf("delete products: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Participation{}).Error; err != nil {
			return fmt.Errorf("delete participations: %w", err)
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", id).Update("auto_date", nil).Error; err != nil {
			return fmt.Errorf("release auto date: %w", err)
		}
		if err := tx.Delete(&models.Session{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperr.Transaction(op, err)
	}
	return nil
}

// transition moves a session into to with a compare-and-swap on the status
// column, so concurrent callers cannot both succeed.
func transition(db *gorm.DB, op, id string, to models.SessionStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	result := db.Model(&models.Session{}).
		Where("id = ? AND status IN ?", id, sourcesOf(to)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%s %s: %w", op, id, result.Error)
	}
	if result.RowsAffected == 0 {
		s, err := Get(db, id)
		if err != nil {
			return err
		}
		return apperr.Conflict(op, "invalid status transition from %q to %q for session %s; valid transitions: %v",
			s.Status, to, id, ValidTransitions[s.Status])
	}
	return nil
}

// window computes the start and end instants of a session day.
func window(day time.Time, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	startsAt, err := clock.At(day, start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start time %q must be HH:MM", start)
	}
	endsAt, err := clock.At(day, end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %q must be HH:MM", end)
	}
	if !endsAt.After(startsAt) {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %s must be after start time %s", end, start)
	}
	return startsAt.UTC(), endsAt.UTC(), nil
}

var hundred = decimal.NewFromInt(100)

func validateRate(op string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperr.Validation(op, "commission rate %s must be between 0 and 100", rate)
	}
	return nil
}
