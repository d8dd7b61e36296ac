package commission

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
	"github.com/zulandar/marketyard/internal/session"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome is the result of a validate call.
type Outcome string

const (
	// OutcomeNeedsConfirmation: some confirmed growers reported no turnover
	// and will be declined if the close is confirmed.
	OutcomeNeedsConfirmation Outcome = "NEEDS_CONFIRMATION"
	// OutcomeReadyToClose: every confirmed grower reported turnover.
	OutcomeReadyToClose Outcome = "READY_TO_CLOSE"
	// OutcomeClosed: the session was settled and completed.
	OutcomeClosed Outcome = "CLOSED"
)

// GrowerLine is one grower's settlement figures.
type GrowerLine struct {
	GrowerID         string          `json:"grower_id"`
	Turnover         decimal.Decimal `json:"turnover"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Rate             decimal.Decimal `json:"rate"`
	CustomRate       bool            `json:"custom_rate"`
}

// Report describes a settlement, either proposed (dry-run) or applied.
type Report struct {
	SessionID       string          `json:"session_id"`
	Outcome         Outcome         `json:"outcome"`
	Message         string          `json:"message"`
	SessionRate     decimal.Decimal `json:"session_rate"`
	WithTurnover    []GrowerLine    `json:"with_turnover"`
	WithoutTurnover []string        `json:"without_turnover"`
	TotalTurnover   decimal.Decimal `json:"total_turnover"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

// Validate settles a session. Without force it only reports what closing
// would do and writes nothing. With force it validates growers with
// turnover, declines the others, completes the session and stores the
// settlement row in one transaction.
func Validate(db *gorm.DB, sessionID string, force bool) (*Report, error) {
	const op = "commission: validate"
	if sessionID == "" {
		return nil, apperr.Validation(op, "session id is required")
	}

	if !force {
		s, err := openSession(db, op, sessionID, false)
		if err != nil {
			return nil, err
		}
		return buildReport(db, s)
	}

	var report *Report
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := openSession(tx, op, sessionID, true)
		if err != nil {
			return err
		}
		report, err = buildReport(tx, s)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := session.Complete(tx, sessionID, now); err != nil {
			return err
		}
		validated := make([]string, len(report.WithTurnover))
		for i, l := range report.WithTurnover {
			validated[i] = l.GrowerID
		}
		if err := participation.Settle(tx, sessionID, validated, models.ParticipationValidated, now); err != nil {
			return err
		}
		if err := participation.Settle(tx, sessionID, report.WithoutTurnover, models.ParticipationDeclined, now); err != nil {
			return err
		}

		report.Outcome = OutcomeClosed
		report.Message = fmt.Sprintf("session closed: %d validated, %d declined", len(validated), len(report.WithoutTurnover))
		report.ClosedAt = &now
		raw, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		row := models.Settlement{
			SessionID:        sessionID,
			ValidatedGrowers: datatypes.JSONSlice[string](validated),
			DeclinedGrowers:  datatypes.JSONSlice[string](report.WithoutTurnover),
			TotalTurnover:    report.TotalTurnover,
			TotalCommission:  report.TotalCommission,
			Report:           datatypes.JSON(raw),
			ClosedAt:         now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("store settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Transaction(op, err)
	}
	return report, nil
}

// Summary is the commission overview of a session.
type Summary struct {
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	SessionRate     decimal.Decimal `json:"session_rate"`
	Lines           []GrowerLine    `json:"lines"`
	TotalTurnover   decimal.Decimal `json:"total_turnover"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

// Summarize totals every commission record of a session.
func Summarize(db *gorm.DB, sessionID string) (*Summary, error) {
	s, err := session.Get(db, sessionID)
	if err != nil {
		return nil, err
	}
	recs, err := Records(db, sessionID)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		SessionID:   sessionID,
		Status:      string(s.Status),
		SessionRate: s.CommissionRate,
		Lines:       make([]GrowerLine, 0, len(recs)),
	}
	for _, r := range recs {
		line := lineOf(r, s)
		sum.Lines = append(sum.Lines, line)
		sum.TotalTurnover = sum.TotalTurnover.Add(line.Turnover)
		sum.TotalCommission = sum.TotalCommission.Add(line.CommissionAmount)
	}
	return sum, nil
}

// GetSettlement returns the audit row written when the session was closed.
func GetSettlement(db *gorm.DB, sessionID string) (*models.Settlement, error) {
	var row models.Settlement
	if err := db.Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("commission: settlement", "session %s has not been settled", sessionID)
		}
		return nil, fmt.Errorf("commission: settlement %s: %w", sessionID, err)
	}
	return &row, nil
}

// openSession loads a session that may still be closed. With lock set the
// row stays locked until the surrounding transaction ends.
func openSession(db *gorm.DB, op, sessionID string, lock bool) (*models.Session, error) {
	get := session.Get
	if lock {
		get = session.Lock
	}
	s, err := get(db, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanTransition(s.Status, models.SessionCompleted) {
		return nil, apperr.Conflict(op, "session %s is already %s", sessionID, s.Status)
	}
	return s, nil
}

// buildReport partitions the CONFIRMED growers of s by reported turnover.
func buildReport(db *gorm.DB, s *models.Session) (*Report, error) {
	confirmed, err := participation.ListBySession(db, s.ID, models.ParticipationConfirmed)
	if err != nil {
		return nil, err
	}
	recs, err := Records(db, s.ID)
	if err != nil {
		return nil, err
	}
	byGrower := make(map[string]models.CommissionRecord, len(recs))
	for _, r := range recs {
		byGrower[r.GrowerID] = r
	}

	report := &Report{
		SessionID:       s.ID,
		SessionRate:     s.CommissionRate,
		WithTurnover:    []GrowerLine{},
		WithoutTurnover: []string{},
	}
	for _, p := range confirmed {
		r, ok := byGrower[p.GrowerID]
		if !ok || !r.Turnover.IsPositive() {
			report.WithoutTurnover = append(report.WithoutTurnover, p.GrowerID)
			continue
		}
		line := lineOf(r, s)
		report.WithTurnover = append(report.WithTurnover, line)
		report.TotalTurnover = report.TotalTurnover.Add(line.Turnover)
		report.TotalCommission = report.TotalCommission.Add(line.CommissionAmount)
	}

	if len(report.WithoutTurnover) > 0 {
		report.Outcome = OutcomeNeedsConfirmation
		report.Message = fmt.Sprintf("%d confirmed growers reported no turnover and will be declined; confirm to close", len(report.WithoutTurnover))
	} else {
		report.Outcome = OutcomeReadyToClose
		report.Message = "all confirmed growers reported turnover; confirm to close"
	}
	return report, nil
}

func lineOf(r models.CommissionRecord, s *models.Session) GrowerLine {
	rate := s.CommissionRate
	if r.CustomCommissionRate != nil {
		rate = *r.CustomCommissionRate
	}
	return GrowerLine{
		GrowerID:         r.GrowerID,
		Turnover:         r.Turnover,
		CommissionAmount: r.CommissionAmount,
		Rate:             rate,
		CustomRate:       !rate.Equal(s.CommissionRate),
	}
}
