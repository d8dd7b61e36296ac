package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRequestStatus is the review state of a stock validation request.
type StockRequestStatus string

const (
	StockRequestPending  StockRequestStatus = "PENDING"
	StockRequestApproved StockRequestStatus = "APPROVED"
	StockRequestRejected StockRequestStatus = "REJECTED"
)

// StockValidationRequest is a grower's proposed stock/price change for one
// product, awaiting an admin decision.
type StockValidationRequest struct {
	ID              string             `gorm:"primaryKey;size:36" json:"id"`
	GrowerID        string             `gorm:"size:64;not null;index" json:"grower_id"`
	ProductID       string             `gorm:"size:64;not null;index" json:"product_id"`
	ProposedStock   *int               `json:"proposed_stock,omitempty"`
	ProposedPrice   *decimal.Decimal   `gorm:"type:decimal(12,2)" json:"proposed_price,omitempty"`
	Note            string             `gorm:"type:text" json:"note,omitempty"`
	Status          StockRequestStatus `gorm:"size:16;not null;index" json:"status"`
	PendingKey      *string            `gorm:"size:160;uniqueIndex" json:"-"` // "grower:product" while pending, NULL once resolved
	ResolvedBy      string             `gorm:"size:64" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	RejectionReason string             `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
