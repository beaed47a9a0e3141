package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "pending_payment"
	BookingStatusAuthorized     BookingStatus = "authorized"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusInProgress     BookingStatus = "in_progress"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusCanceled       BookingStatus = "canceled"
	BookingStatusPaymentFailed  BookingStatus = "payment_failed"
	BookingStatusDisputed       BookingStatus = "disputed"
)

// bookingTransitions is the single source of truth for legal lifecycle
// edges. Every status change in the system goes through CanTransitionTo.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPendingPayment: {BookingStatusAuthorized, BookingStatusPaymentFailed, BookingStatusCanceled},
	BookingStatusAuthorized:     {BookingStatusConfirmed, BookingStatusCanceled},
	BookingStatusConfirmed:      {BookingStatusInProgress, BookingStatusCanceled},
	BookingStatusInProgress:     {BookingStatusCompleted, BookingStatusCanceled},
	BookingStatusCompleted:      {BookingStatusDisputed},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further lifecycle transition is possible.
// A completed booking is not terminal: it can still become disputed.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCanceled || s == BookingStatusPaymentFailed || s == BookingStatusDisputed
}

// statusRank orders lifecycle states for webhook dominance checks: an
// asynchronous event may never move a booking backwards.
var statusRank = map[BookingStatus]int{
	BookingStatusPendingPayment: 0,
	BookingStatusPaymentFailed:  1,
	BookingStatusAuthorized:     1,
	BookingStatusCanceled:       2,
	BookingStatusConfirmed:      2,
	BookingStatusInProgress:     3,
	BookingStatusCompleted:      4,
	BookingStatusDisputed:       5,
}

func (s BookingStatus) Rank() int {
	return statusRank[s]
}

type Booking struct {
	gorm.Model
	CustomerID     *uint     `gorm:"index" json:"customer_id,omitempty"` // nil for guest bookings
	ProfessionalID uint      `gorm:"not null;index" json:"professional_id"`
	ScheduledStart time.Time `gorm:"not null;index" json:"scheduled_start"`
	ScheduledEnd   time.Time `gorm:"not null" json:"scheduled_end"`

	DurationMinutes int           `gorm:"not null" json:"duration_minutes"`
	Status          BookingStatus `gorm:"type:varchar(32);not null;default:'pending_payment';index" json:"status"`

	// Amounts are integer minor units of Currency.
	Currency         string `gorm:"size:3;not null" json:"currency"`
	HourlyRate       int64  `gorm:"not null" json:"hourly_rate"`
	AmountEstimated  int64  `gorm:"not null" json:"amount_estimated"`
	AmountAuthorized int64  `json:"amount_authorized"`
	AmountCaptured   *int64 `json:"amount_captured,omitempty"`

	TimeExtensionMinutes int   `gorm:"not null;default:0" json:"time_extension_minutes"`
	TimeExtensionAmount  int64 `gorm:"not null;default:0" json:"time_extension_amount"`

	AuthorizationRef    string `gorm:"size:255;index" json:"authorization_ref,omitempty"`
	AuthorizationStatus string `gorm:"size:32" json:"authorization_status,omitempty"`
	PaymentStatus       string `gorm:"size:32" json:"payment_status,omitempty"`

	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CancelReason string `gorm:"size:255" json:"cancel_reason,omitempty"`
	CanceledBy   string `gorm:"size:32" json:"canceled_by,omitempty"`

	Address     string `gorm:"size:512" json:"address,omitempty"`
	ServiceType string `gorm:"size:100" json:"service_type,omitempty"`

	// Version guards read-modify-write updates on the extension
	// accumulators. Writers must match the version they read.
	Version int `gorm:"not null;default:0" json:"-"`

	Customer     *User `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Professional *User `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
}

// Active reports whether the booking still occupies its time slot for
// availability purposes.
func (b *Booking) Active() bool {
	switch b.Status {
	case BookingStatusPendingPayment, BookingStatusAuthorized, BookingStatusConfirmed, BookingStatusInProgress:
		return true
	}
	return false
}

// ActiveBookingStatuses are the statuses counted against a professional's
// availability and the overlap constraint.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPendingPayment,
	BookingStatusAuthorized,
	BookingStatusConfirmed,
	BookingStatusInProgress,
}
