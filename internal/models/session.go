package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a market session.
type SessionStatus string

const (
	SessionUpcoming  SessionStatus = "UPCOMING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session is one market event on a calendar day.
type Session struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	Name           string          `gorm:"size:128;not null" json:"name"`
	Description    string          `gorm:"type:text" json:"description,omitempty"`
	Location       string          `gorm:"size:256" json:"location,omitempty"`
	Date           string          `gorm:"size:10;not null;index" json:"date"` // YYYY-MM-DD in Timezone
	StartTime      string          `gorm:"size:5" json:"start_time"`
	EndTime        string          `gorm:"size:5" json:"end_time"`
	StartsAt       time.Time       `gorm:"index" json:"starts_at"`
	EndsAt         time.Time       `json:"ends_at"`
	Timezone       string          `gorm:"size:64" json:"timezone"`
	Status         SessionStatus   `gorm:"size:16;default:UPCOMING;index" json:"status"`
	IsAutomatic    bool            `gorm:"default:false" json:"is_automatic"`
	RecurringDay   *int            `json:"recurring_day,omitempty"`
	AutoCreateTime string          `gorm:"size:5" json:"auto_create_time,omitempty"`
	AutoDate       *string         `gorm:"size:10;uniqueIndex" json:"-"` // idempotency key, automatic sessions only
	CommissionRate decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"commission_rate"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"-"`

	Participations []Participation `gorm:"foreignKey:SessionID" json:"participations,omitempty"`
}
