// Package grower manages grower commission profiles.
package grower

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var hundred = decimal.NewFromInt(100)

// Upsert creates or updates a grower profile, including its rate override.
func Upsert(db *gorm.DB, g models.Grower) (*models.Grower, error) {
	const op = "grower: upsert"
	if g.ID == "" {
		return nil, apperr.Validation(op, "grower id is required")
	}
	if err := checkRate(op, g.CommissionRate); err != nil {
		return nil, err
	}
	if g.CommissionRate != nil {
		r := g.CommissionRate.Round(2)
		g.CommissionRate = &r
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "commission_rate", "updated_at"}),
	}).Create(&g).Error
	if err != nil {
		return nil, fmt.Errorf("grower: upsert %s: %w", g.ID, err)
	}
	return Get(db, g.ID)
}

// Get retrieves a grower by ID.
func Get(db *gorm.DB, id string) (*models.Grower, error) {
	var g models.Grower
	if err := db.Where("id = ?", id).First(&g).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("grower: get", "grower not found: %s", id)
		}
		return nil, fmt.Errorf("grower: get %s: %w", id, err)
	}
	return &g, nil
}

// List returns all growers ordered by ID.
func List(db *gorm.DB) ([]models.Grower, error) {
	var out []models.Grower
	if err := db.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("grower: list: %w", err)
	}
	return out, nil
}

// SetCommissionRate sets or, with nil, clears the grower override. Existing
// commission records are not recomputed.
func SetCommissionRate(db *gorm.DB, id string, rate *decimal.Decimal) error {
	const op = "grower: set commission rate"
	if err := checkRate(op, rate); err != nil {
		return err
	}
	var value interface{}
	if rate != nil {
		value = rate.Round(2)
	}
	result := db.Model(&models.Grower{}).Where("id = ?", id).Update("commission_rate", value)
	if result.Error != nil {
		return fmt.Errorf("grower: set commission rate %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(op, "grower not found: %s", id)
	}
	return nil
}

func checkRate(op string, rate *decimal.Decimal) error {
	if rate == nil {
		return nil
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperr.Validation(op, "commission rate %s must be between 0 and 100", rate)
	}
	return nil
}
