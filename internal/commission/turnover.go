package commission

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/grower"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
	"github.com/zulandar/marketyard/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordTurnover stores a grower's turnover for a session and computes the
// commission owed. A zero turnover deletes the record and returns nil. When
// rateOverride is non-nil it is applied instead of the resolved rate; the
// applied rate is always snapshotted on the record.
func RecordTurnover(db *gorm.DB, sessionID, growerID string, turnover decimal.Decimal, rateOverride *decimal.Decimal) (*models.CommissionRecord, error) {
	const op = "commission: record turnover"
	if sessionID == "" || growerID == "" {
		return nil, apperr.Validation(op, "session id and grower id are required")
	}
	if turnover.IsNegative() {
		return nil, apperr.Validation(op, "turnover %s must not be negative", turnover)
	}
	if !turnover.Equal(turnover.Round(2)) {
		return nil, apperr.Validation(op, "turnover %s has more than 2 decimal places", turnover)
	}
	if rateOverride != nil && !validRate(*rateOverride) {
		return nil, apperr.Validation(op, "commission rate %s must be between 0 and 100", rateOverride)
	}
	turnover = turnover.Round(2)

	var out *models.CommissionRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := session.Lock(tx, sessionID)
		if err != nil {
			return err
		}
		if s.Status == models.SessionCompleted {
			return apperr.Conflict(op, "session %s is completed; commissions are frozen", sessionID)
		}
		p, err := participation.Get(tx, sessionID, growerID)
		if err != nil {
			return err
		}
		if p.Status != models.ParticipationConfirmed {
			return apperr.Conflict(op, "grower %s is %s in session %s, only CONFIRMED growers report turnover",
				growerID, p.Status, sessionID)
		}

		if turnover.IsZero() {
			if err := tx.Where("session_id = ? AND grower_id = ?", sessionID, growerID).
				Delete(&models.CommissionRecord{}).Error; err != nil {
				return fmt.Errorf("delete record: %w", err)
			}
			return nil
		}

		g, err := grower.Get(tx, growerID)
		if err != nil {
			return err
		}
		rate := EffectiveRate(g, s)
		if rateOverride != nil {
			rate = rateOverride.Round(2)
		}
		rec := models.CommissionRecord{
			ID:                   uuid.NewString(),
			SessionID:            sessionID,
			GrowerID:             growerID,
			Turnover:             turnover,
			CommissionAmount:     Amount(turnover, rate),
			CustomCommissionRate: &rate,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "grower_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"turnover", "commission_amount", "custom_commission_rate", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		out, err = record(tx, sessionID, growerID)
		return err
	})
	if err != nil {
		return nil, apperr.Transaction(op, err)
	}
	return out, nil
}

// Records returns the commission records of a session ordered by grower.
func Records(db *gorm.DB, sessionID string) ([]models.CommissionRecord, error) {
	var out []models.CommissionRecord
	if err := db.Where("session_id = ?", sessionID).Order("grower_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("commission: records %s: %w", sessionID, err)
	}
	return out, nil
}

func record(db *gorm.DB, sessionID, growerID string) (*models.CommissionRecord, error) {
	var rec models.CommissionRecord
	err := db.Where("session_id = ? AND grower_id = ?", sessionID, growerID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("commission: record", "no commission record for grower %s in session %s", growerID, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("commission: record %s/%s: %w", sessionID, growerID, err)
	}
	return &rec, nil
}
