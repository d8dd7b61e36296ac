// Package participation manages grower attendance for market sessions.
package participation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ValidTransitions maps each participation status to its valid next
// statuses. VALIDATED is terminal and DECLINED is terminal once settled.
var ValidTransitions = map[models.ParticipationStatus][]models.ParticipationStatus{
	models.ParticipationPending:   {models.ParticipationPending, models.ParticipationConfirmed, models.ParticipationDeclined},
	models.ParticipationConfirmed: {models.ParticipationPending, models.ParticipationConfirmed, models.ParticipationDeclined, models.ParticipationValidated},
	models.ParticipationDeclined:  {models.ParticipationPending, models.ParticipationConfirmed, models.ParticipationDeclined},
	models.ParticipationValidated: {},
}

// CanTransition reports whether a participation may move between statuses.
func CanTransition(from, to models.ParticipationStatus) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// ProductLine is one product a grower brings to a session.
type ProductLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// UnseenSummary counts confirmed participations no admin has looked at yet.
type UnseenSummary struct {
	Count      int64            `json:"count"`
	PerSession map[string]int64 `json:"per_session"`
}

// Set upserts the participation for (sessionID, growerID) with the given
// status. VALIDATED is reserved for settlement. Leaving CONFIRMED drops any
// turnover recorded for the grower in that session.
func Set(db *gorm.DB, sessionID, growerID string, status models.ParticipationStatus) (*models.Participation, error) {
	const op = "participation: set"
	switch status {
	case models.ParticipationPending, models.ParticipationConfirmed, models.ParticipationDeclined:
	case models.ParticipationValidated:
		return nil, apperr.Validation(op, "status %s is set by settlement only", status)
	default:
		return nil, apperr.Validation(op, "invalid status %q (valid: PENDING, CONFIRMED, DECLINED)", status)
	}
	if err := requireIDs(op, sessionID, growerID); err != nil {
		return nil, err
	}

	var out *models.Participation
	err := db.Transaction(func(tx *gorm.DB) error {
		p, err := lockOpen(tx, op, sessionID, growerID)
		if err != nil {
			return err
		}
		if !CanTransition(p.Status, status) {
			return apperr.Conflict(op, "invalid status transition from %q to %q for grower %s; valid transitions: %v",
				p.Status, status, growerID, ValidTransitions[p.Status])
		}
		updates := map[string]interface{}{"status": status}
		if status == models.ParticipationConfirmed {
			updates["confirmed_at"] = time.Now()
			updates["viewed_at"] = nil
		}
		if err := swap(tx, op, p, updates); err != nil {
			return err
		}
		if p.Status == models.ParticipationConfirmed && status != models.ParticipationConfirmed {
			// Only CONFIRMED growers owe commission.
			if err := tx.Where("session_id = ? AND grower_id = ?", sessionID, growerID).
				Delete(&models.CommissionRecord{}).Error; err != nil {
				return fmt.Errorf("drop commission record: %w", err)
			}
		}
		out, err = Get(tx, sessionID, growerID)
		return err
	})
	if err != nil {
		return nil, apperr.Transaction(op, err)
	}
	return out, nil
}

// ConfirmViaProductSubmission records the product list a grower sends for a
// session. Accepting the list always confirms the participation; a
// resubmission replaces the previous lines.
func ConfirmViaProductSubmission(db *gorm.DB, growerID, sessionID string, products []ProductLine) (*models.Participation, error) {
	const op = "participation: confirm via products"
	if err := requireIDs(op, sessionID, growerID); err != nil {
		return nil, err
	}
	for i, line := range products {
		if line.ProductID == "" {
			return nil, apperr.Validation(op, "products[%d]: product id is required", i)
		}
		if line.Quantity < 0 {
			return nil, apperr.Validation(op, "products[%d]: quantity must not be negative", i)
		}
		if line.Price.IsNegative() {
			return nil, apperr.Validation(op, "products[%d]: price must not be negative", i)
		}
	}

	var out *models.Participation
	err := db.Transaction(func(tx *gorm.DB) error {
		p, err := lockOpen(tx, op, sessionID, growerID)
		if err != nil {
			return err
		}
		if err := swap(tx, op, p, map[string]interface{}{
			"status":       models.ParticipationConfirmed,
			"confirmed_at": time.Now(),
			"viewed_at":    nil,
		}); err != nil {
			return err
		}

		if err := tx.Where("session_id = ? AND grower_id = ?", sessionID, growerID).
			Delete(&models.ParticipationProduct{}).Error; err != nil {
			return fmt.Errorf("clear products: %w", err)
		}
		if len(products) > 0 {
			rows := make([]models.ParticipationProduct, len(products))
			for i, line := range products {
				rows[i] = models.ParticipationProduct{
					SessionID: sessionID,
					GrowerID:  growerID,
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					Price:     line.Price.Round(2),
				}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert products: %w", err)
			}
		}
		out, err = Get(tx, sessionID, growerID)
		return err
	})
	if err != nil {
		return nil, apperr.Transaction(op, err)
	}
	return out, nil
}

// CountUnseenConfirmations counts CONFIRMED participations with no viewed
// timestamp, grouped by session.
func CountUnseenConfirmations(db *gorm.DB) (UnseenSummary, error) {
	var rows []struct {
		SessionID string
		N         int64
	}
	err := db.Model(&models.Participation{}).
		Select("session_id, COUNT(*) AS n").
		Where("status = ? AND viewed_at IS NULL", models.ParticipationConfirmed).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return UnseenSummary{}, fmt.Errorf("participation: count unseen: %w", err)
	}
	summary := UnseenSummary{PerSession: make(map[string]int64, len(rows))}
	for _, r := range rows {
		summary.PerSession[r.SessionID] = r.N
		summary.Count += r.N
	}
	return summary, nil
}

// MarkViewed stamps viewed_at on every unseen confirmation of a session and
// returns how many were cleared.
func MarkViewed(db *gorm.DB, sessionID string) (int64, error) {
	result := db.Model(&models.Participation{}).
		Where("session_id = ? AND status = ? AND viewed_at IS NULL", sessionID, models.ParticipationConfirmed).
		Update("viewed_at", time.Now())
	if result.Error != nil {
		return 0, fmt.Errorf("participation: mark viewed %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}

// Get retrieves the participation for (sessionID, growerID).
func Get(db *gorm.DB, sessionID, growerID string) (*models.Participation, error) {
	var p models.Participation
	err := db.Where("session_id = ? AND grower_id = ?", sessionID, growerID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("participation: get", "grower %s has no participation in session %s", growerID, sessionID)
		}
		return nil, fmt.Errorf("participation: get %s/%s: %w", sessionID, growerID, err)
	}
	return &p, nil
}

// ListBySession returns the participations of a session, optionally filtered
// by status, ordered by grower.
func ListBySession(db *gorm.DB, sessionID string, status models.ParticipationStatus) ([]models.Participation, error) {
	q := db.Where("session_id = ?", sessionID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Participation
	if err := q.Order("grower_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("participation: list %s: %w", sessionID, err)
	}
	return out, nil
}

// Products returns the product lines submitted for (sessionID, growerID).
func Products(db *gorm.DB, sessionID, growerID string) ([]models.ParticipationProduct, error) {
	var out []models.ParticipationProduct
	err := db.Where("session_id = ? AND grower_id = ?", sessionID, growerID).
		Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("participation: products %s/%s: %w", sessionID, growerID, err)
	}
	return out, nil
}

// Settle moves CONFIRMED participations of growerIDs into to (VALIDATED or
// DECLINED) and stamps settled_at. It must run inside the settlement
// transaction; any participation not CONFIRMED aborts it.
func Settle(tx *gorm.DB, sessionID string, growerIDs []string, to models.ParticipationStatus, at time.Time) error {
	const op = "participation: settle"
	if !settlementStatus(to) || !CanTransition(models.ParticipationConfirmed, to) {
		return apperr.Validation(op, "settlement status must be VALIDATED or DECLINED, got %s", to)
	}
	if len(growerIDs) == 0 {
		return nil
	}
	result := tx.Model(&models.Participation{}).
		Where("session_id = ? AND grower_id IN ? AND status = ? AND settled_at IS NULL",
			sessionID, growerIDs, models.ParticipationConfirmed).
		Updates(map[string]interface{}{"status": to, "settled_at": at})
	if result.Error != nil {
		return fmt.Errorf("%s %s: %w", op, sessionID, result.Error)
	}
	if result.RowsAffected != int64(len(growerIDs)) {
		return apperr.Conflict(op, "expected %d CONFIRMED participations in session %s, settled %d",
			len(growerIDs), sessionID, result.RowsAffected)
	}
	return nil
}

func settlementStatus(s models.ParticipationStatus) bool {
	return s == models.ParticipationValidated || s == models.ParticipationDeclined
}

// lockOpen makes sure the participation row exists (PENDING when new) and
// returns it, rejecting settled rows and closed or missing sessions. The
// session row stays locked until tx ends.
func lockOpen(tx *gorm.DB, op, sessionID, growerID string) (*models.Participation, error) {
	s, err := session.Lock(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == models.SessionCompleted {
		return nil, apperr.Conflict(op, "session %s is completed; participations are final", sessionID)
	}

	seed := models.Participation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		GrowerID:  growerID,
		Status:    models.ParticipationPending,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "grower_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("seed participation: %w", err)
	}

	p, err := Get(tx, sessionID, growerID)
	if err != nil {
		return nil, err
	}
	if p.SettledAt != nil || p.Status == models.ParticipationValidated {
		return nil, apperr.Conflict(op, "participation of grower %s in session %s is settled as %s", growerID, sessionID, p.Status)
	}
	return p, nil
}

// swap applies updates only if the row still has the status it was read
// with, so a concurrent settlement cannot be overwritten.
func swap(tx *gorm.DB, op string, p *models.Participation, updates map[string]interface{}) error {
	result := tx.Model(&models.Participation{}).
		Where("id = ? AND status = ? AND settled_at IS NULL", p.ID, p.Status).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update participation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.Conflict(op, "participation of grower %s changed concurrently", p.GrowerID)
	}
	return nil
}

func requireIDs(op, sessionID, growerID string) error {
	if sessionID == "" {
		return apperr.Validation(op, "session id is required")
	}
	if growerID == "" {
		return apperr.Validation(op, "grower id is required")
	}
	return nil
}
