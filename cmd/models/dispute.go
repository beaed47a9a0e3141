package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DisputeStatusPending       = "pending"
	DisputeStatusInvestigating = "investigating"
	DisputeStatusResolved      = "resolved"
	DisputeStatusDismissed     = "dismissed"
)

// DisputeWindow is how long after completion a customer may file.
const DisputeWindow = 48 * time.Hour

type Dispute struct {
	gorm.Model
	BookingID      uint   `gorm:"not null;index" json:"booking_id"`
	CustomerID     uint   `gorm:"not null;index" json:"customer_id"`
	ProfessionalID uint   `gorm:"not null;index" json:"professional_id"`
	Reason         string `gorm:"size:100;not null" json:"reason"`
	Description    string `gorm:"type:text" json:"description"`
	Status         string `gorm:"size:32;not null;default:'pending'" json:"status"`

	ResolutionNotes string     `gorm:"type:text" json:"resolution_notes,omitempty"`
	ResolvedBy      *uint      `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	Booking  *Booking `gorm:"foreignKey:BookingID" json:"booking,omitempty"`
	Customer *User    `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}

// Open reports whether the dispute still needs a reviewer decision.
func (d *Dispute) Open() bool {
	return d.Status == DisputeStatusPending || d.Status == DisputeStatusInvestigating
}
