package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CommissionRecord is one grower's settlement figures for one session.
type CommissionRecord struct {
	ID                   string           `gorm:"primaryKey;size:36" json:"id"`
	SessionID            string           `gorm:"size:36;not null;uniqueIndex:idx_commission_session_grower,priority:1" json:"session_id"`
	GrowerID             string           `gorm:"size:64;not null;uniqueIndex:idx_commission_session_grower,priority:2" json:"grower_id"`
	Turnover             decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"turnover"`
	CommissionAmount     decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"commission_amount"`
	CustomCommissionRate *decimal.Decimal `gorm:"type:decimal(5,2)" json:"custom_commission_rate,omitempty"` // rate applied, frozen at computation
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Settlement is the audit row written when a session is closed.
type Settlement struct {
	ID               uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        string                      `gorm:"size:36;not null;uniqueIndex" json:"session_id"`
	ValidatedGrowers datatypes.JSONSlice[string] `json:"validated_growers"`
	DeclinedGrowers  datatypes.JSONSlice[string] `json:"declined_growers"`
	TotalTurnover    decimal.Decimal             `gorm:"type:decimal(14,2)" json:"total_turnover"`
	TotalCommission  decimal.Decimal             `gorm:"type:decimal(14,2)" json:"total_commission"`
	Report           datatypes.JSON              `json:"report"`
	ClosedAt         time.Time                   `json:"closed_at"`
}
