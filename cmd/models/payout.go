package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CommissionRate is the platform share of every captured booking amount.
const CommissionRate = 0.18

// PayoutBatch is a derived aggregate over captured bookings for one
// professional and settlement period. It is recomputable from Booking rows
// at any time; the stored row is a convenience, not a source of truth.
type PayoutBatch struct {
	gorm.Model
	ProfessionalID uint      `gorm:"not null;index" json:"professional_id"`
	PeriodStart    time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`

	Currency         string `gorm:"size:3;not null" json:"currency"`
	GrossAmount      int64  `gorm:"not null" json:"gross_amount"`
	CommissionAmount int64  `gorm:"not null" json:"commission_amount"`
	NetAmount        int64  `gorm:"not null" json:"net_amount"`

	BookingIDs pq.Int64Array `gorm:"type:bigint[]" json:"booking_ids"`

	Professional *User `gorm:"foreignKey:ProfessionalID" json:"-"`
}
