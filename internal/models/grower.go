package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grower is the commission profile of a seller. A non-nil CommissionRate
// overrides the session default.
type Grower struct {
	ID             string           `gorm:"primaryKey;size:64" json:"id"`
	Name           string           `gorm:"size:128" json:"name"`
	CommissionRate *decimal.Decimal `gorm:"type:decimal(5,2)" json:"commission_rate,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Product is a catalog entry whose stock and price approved requests mutate.
type Product struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	GrowerID  string          `gorm:"size:64;not null;index" json:"grower_id"`
	Name      string          `gorm:"size:128" json:"name"`
	Stock     int             `gorm:"default:0" json:"stock"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
