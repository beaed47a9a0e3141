package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ReconciliationKindAmountSync   = "amount_sync"
	ReconciliationKindStaleEvent   = "stale_event"
	ReconciliationKindNoCompletion = "completion_unrecorded"
)

// ReconciliationItem is an operator-visible queue row recording a known
// inconsistency between the payment provider and the booking store. These
// are never retried automatically: retrying a financial mutation risks
// double effects, so a human resolves each item.
type ReconciliationItem struct {
	gorm.Model
	BookingID        uint   `gorm:"not null;index" json:"booking_id"`
	Kind             string `gorm:"size:32;not null;index" json:"kind"`
	EventID          string `gorm:"size:255;index" json:"event_id,omitempty"` // provider event that raised the item, when one did
	AuthorizationRef string `gorm:"size:255" json:"authorization_ref,omitempty"`
	ProviderAmount   int64  `json:"provider_amount,omitempty"`
	LocalAmount      int64  `json:"local_amount,omitempty"`
	Detail           string `gorm:"type:text" json:"detail"`

	Resolved   bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedBy *uint      `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Booking *Booking `gorm:"foreignKey:BookingID" json:"booking,omitempty"`
}
