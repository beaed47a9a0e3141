package models

import (
	"gorm.io/gorm"
)

type Device struct {
	gorm.Model
	Token      string `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
	UserID     uint   `gorm:"not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	DeviceType string `gorm:"type:varchar(50)" json:"device_type"`
	DeviceName string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}

// Notification is the delivery log for dispatched push/email messages.
// Dispatch is fire-and-forget: a failed send is recorded and never rolls
// back the booking transition that triggered it.
type Notification struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	BookingID *uint  `gorm:"index" json:"booking_id,omitempty"`
	Event     string `gorm:"size:50;not null" json:"event"`
	Title     string `gorm:"size:255;not null" json:"title"`
	Body      string `gorm:"type:text" json:"body"`
	Channel   string `gorm:"size:20;not null" json:"channel"` // push or email
	Delivered bool   `gorm:"not null;default:false" json:"delivered"`
	SendError string `gorm:"size:512" json:"send_error,omitempty"`
}
