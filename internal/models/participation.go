package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParticipationStatus is a grower's attendance state for one session.
type ParticipationStatus string

const (
	ParticipationPending   ParticipationStatus = "PENDING"
	ParticipationConfirmed ParticipationStatus = "CONFIRMED"
	ParticipationDeclined  ParticipationStatus = "DECLINED"
	ParticipationValidated ParticipationStatus = "VALIDATED"
)

// Participation joins one grower to one session.
type Participation struct {
	ID          string              `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string              `gorm:"size:36;not null;uniqueIndex:idx_participation_session_grower,priority:1" json:"session_id"`
	GrowerID    string              `gorm:"size:64;not null;uniqueIndex:idx_participation_session_grower,priority:2;index" json:"grower_id"`
	Status      ParticipationStatus `gorm:"size:16;not null;index" json:"status"`
	ConfirmedAt *time.Time          `json:"confirmed_at,omitempty"`
	ViewedAt    *time.Time          `json:"viewed_at,omitempty"`
	SettledAt   *time.Time          `json:"settled_at,omitempty"` // set by settlement only; immutable afterwards
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ParticipationProduct is one product line a grower brings to a session.
// The set for a (session, grower) pair is replaced wholesale on resubmission.
type ParticipationProduct struct {
	ID        uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string          `gorm:"size:36;not null;index:idx_participation_product_pair" json:"session_id"`
	GrowerID  string          `gorm:"size:64;not null;index:idx_participation_product_pair" json:"grower_id"`
	ProductID string          `gorm:"size:64;not null" json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}
