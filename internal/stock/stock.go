// Package stock implements the stock validation workflow: growers propose
// stock or price changes and admins approve or reject them.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Decision is an admin verdict on a pending request.
type Decision string

const (
	Approve Decision = "APPROVE"
	Reject  Decision = "REJECT"
)

// Change is a proposed stock and/or price for one product.
type Change struct {
	Stock *int             `json:"stock,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Note  string           `json:"note,omitempty"`
}

// GrowerAlert aggregates the pending requests of one grower. One grower is
// one alert however many products they changed.
type GrowerAlert struct {
	GrowerID         string `json:"grower_id"`
	PendingRequests  int64  `json:"pending_requests_count"`
	DistinctProducts int64  `json:"distinct_products_count"`
}

// Failure reports why one request of a batch was not resolved.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult is the per-item outcome of BatchResolve.
type BatchResult struct {
	Resolved int       `json:"resolved"`
	Failed   []Failure `json:"failed"`
}

func pendingKey(growerID, productID string) string {
	return growerID + ":" + productID
}

// Submit records a PENDING request for (growerID, productID). An existing
// pending request for the same pair is replaced in place.
func Submit(db *gorm.DB, growerID, productID string, change Change) (*models.StockValidationRequest, error) {
	const op = "stock: submit"
	if growerID == "" {
		return nil, apperr.Validation(op, "grower id is required")
	}
	if productID == "" {
		return nil, apperr.Validation(op, "product id is required")
	}
	if change.Stock == nil && change.Price == nil {
		return nil, apperr.Validation(op, "a stock or price proposal is required")
	}
	if change.Stock != nil && *change.Stock < 0 {
		return nil, apperr.Validation(op, "stock must not be negative")
	}
	var price *decimal.Decimal
	if change.Price != nil {
		if change.Price.IsNegative() {
			return nil, apperr.Validation(op, "price must not be negative")
		}
		p := change.Price.Round(2)
		price = &p
	}

	key := pendingKey(growerID, productID)
	req := models.StockValidationRequest{
		ID:            uuid.NewString(),
		GrowerID:      growerID,
		ProductID:     productID,
		ProposedStock: change.Stock,
		ProposedPrice: price,
		Note:          change.Note,
		Status:        models.StockRequestPending,
		PendingKey:    &key,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pending_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"proposed_stock", "proposed_price", "note", "updated_at"}),
	}).Create(&req).Error
	if err != nil {
		return nil, fmt.Errorf("stock: submit %s: %w", key, err)
	}

	var out models.StockValidationRequest
	if err := db.Where("pending_key = ?", key).First(&out).Error; err != nil {
		return nil, fmt.Errorf("stock: submit %s: reload: %w", key, err)
	}
	return &out, nil
}

// ListPendingGroupedByGrower returns one entry per grower with at least one
// pending request.
func ListPendingGroupedByGrower(db *gorm.DB) ([]GrowerAlert, error) {
	var out []GrowerAlert
	err := db.Model(&models.StockValidationRequest{}).
		Select("grower_id, COUNT(*) AS pending_requests, COUNT(DISTINCT product_id) AS distinct_products").
		Where("status = ?", models.StockRequestPending).
		Group("grower_id").
		Order("grower_id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stock: list pending grouped: %w", err)
	}
	return out, nil
}

// PendingAlertCount is the number of distinct growers with pending requests.
func PendingAlertCount(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&models.StockValidationRequest{}).
		Where("status = ?", models.StockRequestPending).
		Distinct("grower_id").
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("stock: pending alert count: %w", err)
	}
	return n, nil
}

// ListPending returns pending requests, optionally for one grower, oldest first.
func ListPending(db *gorm.DB, growerID string) ([]models.StockValidationRequest, error) {
	q := db.Where("status = ?", models.StockRequestPending)
	if growerID != "" {
		q = q.Where("grower_id = ?", growerID)
	}
	var out []models.StockValidationRequest
	if err := q.Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("stock: list pending: %w", err)
	}
	return out, nil
}

// Get retrieves a request by ID.
func Get(db *gorm.DB, id string) (*models.StockValidationRequest, error) {
	var r models.StockValidationRequest
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("stock: get", "stock request not found: %s", id)
		}
		return nil, fmt.Errorf("stock: get %s: %w", id, err)
	}
	return &r, nil
}

// Resolve applies decision to one pending request in its own transaction.
// When the catalog refuses an approved change the request is stored as
// REJECTED with the catalog error as reason, and that error is returned.
func Resolve(db *gorm.DB, catalog Catalog, id string, decision Decision, adminID, reason string) (*models.StockValidationRequest, error) {
	const op = "stock: resolve"
	if err := checkDecision(op, decision, adminID); err != nil {
		return nil, err
	}

	var catalogErr error
	err := db.Transaction(func(tx *gorm.DB) error {
		req, err := Get(tx, id)
		if err != nil {
			return err
		}
		if req.Status != models.StockRequestPending {
			return apperr.Conflict(op, "stock request %s is already %s", id, req.Status)
		}

		status := models.StockRequestRejected
		rejection := reason
		if decision == Approve {
			status = models.StockRequestApproved
			rejection = ""
			change := Change{Stock: req.ProposedStock, Price: req.ProposedPrice}
			if err := tx.SavePoint("catalog").Error; err != nil {
				return fmt.Errorf("savepoint: %w", err)
			}
			if err := catalog.ApplyApprovedChange(tx, req.GrowerID, req.ProductID, change); err != nil {
				if rbErr := tx.RollbackTo("catalog").Error; rbErr != nil {
					return fmt.Errorf("rollback catalog change: %w", rbErr)
				}
				catalogErr = err
				status = models.StockRequestRejected
				rejection = "catalog: " + err.Error()
			}
		}

		result := tx.Model(&models.StockValidationRequest{}).
			Where("id = ? AND status = ?", id, models.StockRequestPending).
			Updates(map[string]interface{}{
				"status":           status,
				"pending_key":      nil,
				"resolved_by":      adminID,
				"resolved_at":      time.Now(),
				"rejection_reason": rejection,
			})
		if result.Error != nil {
			return fmt.Errorf("update request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict(op, "stock request %s was resolved concurrently", id)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Transaction(op, err)
	}

	req, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if catalogErr != nil {
		return req, &apperr.Error{Kind: apperr.KindConflict, Op: op, Message: "catalog refused change for request " + id, Cause: catalogErr}
	}
	return req, nil
}

// BatchResolve applies decision to every id independently. Failures are
// collected per id and never roll back other items; the returned error is
// reserved for an invalid decision.
func BatchResolve(db *gorm.DB, catalog Catalog, ids []string, decision Decision, adminID, reason string) (BatchResult, error) {
	if err := checkDecision("stock: batch resolve", decision, adminID); err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Failed: []Failure{}}
	for _, id := range ids {
		if _, err := Resolve(db, catalog, id, decision, adminID, reason); err != nil {
			result.Failed = append(result.Failed, Failure{ID: id, Reason: err.Error()})
			continue
		}
		result.Resolved++
	}
	return result, nil
}

func checkDecision(op string, decision Decision, adminID string) error {
	if decision != Approve && decision != Reject {
		return apperr.Validation(op, "invalid decision %q (valid: APPROVE, REJECT)", decision)
	}
	if adminID == "" {
		return apperr.Validation(op, "admin id is required")
	}
	return nil
}
