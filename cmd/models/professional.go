package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkingInterval is one bookable span inside a working day, times in
// "HH:MM" 24h local form.
type WorkingInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyTemplate maps a lowercase weekday name ("monday"..."sunday") to its
// working intervals. A missing or empty weekday is non-working.
type WeeklyTemplate map[string][]WorkingInterval

// ProfessionalSettings holds a professional's scheduling and pricing
// configuration. WorkingHours and BlockedDates are stored as JSON columns.
type ProfessionalSettings struct {
	gorm.Model
	ProfessionalID uint `gorm:"not null;uniqueIndex" json:"professional_id"`

	HourlyRate int64  `gorm:"not null" json:"hourly_rate"` // minor units per hour
	Currency   string `gorm:"size:3;not null;default:'USD'" json:"currency"`

	WorkingHours       datatypes.JSON `json:"working_hours"`
	BufferTimeMinutes  int            `gorm:"not null;default:30" json:"buffer_time_minutes"`
	MaxBookingsPerDay  int            `gorm:"not null;default:3" json:"max_bookings_per_day"`
	AdvanceBookingDays int            `gorm:"not null;default:60" json:"advance_booking_days"`
	BlockedDates       datatypes.JSON `json:"blocked_dates"` // ISO "2006-01-02" dates

	Professional *User `gorm:"foreignKey:ProfessionalID" json:"-"`
}

// Template decodes the working-hours JSON column. An empty column yields the
// platform default template.
func (s *ProfessionalSettings) Template() (WeeklyTemplate, error) {
	if len(s.WorkingHours) == 0 {
		return DefaultWeeklyTemplate(), nil
	}
	var t WeeklyTemplate
	if err := json.Unmarshal(s.WorkingHours, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// BlockedDateSet decodes blocked dates into a lookup set keyed by ISO date.
func (s *ProfessionalSettings) BlockedDateSet() (map[string]bool, error) {
	set := make(map[string]bool)
	if len(s.BlockedDates) == 0 {
		return set, nil
	}
	var dates []string
	if err := json.Unmarshal(s.BlockedDates, &dates); err != nil {
		return nil, err
	}
	for _, d := range dates {
		set[d] = true
	}
	return set, nil
}

// DefaultWeeklyTemplate is the fallback schedule for professionals who have
// not configured working hours: Mon-Fri 09:00-17:00.
func DefaultWeeklyTemplate() WeeklyTemplate {
	day := []WorkingInterval{{Start: "09:00", End: "17:00"}}
	return WeeklyTemplate{
		"monday":    day,
		"tuesday":   day,
		"wednesday": day,
		"thursday":  day,
		"friday":    day,
	}
}

// DefaultProfessionalSettings fills in the documented platform defaults for
// a professional with no stored settings row.
func DefaultProfessionalSettings(professionalID uint) *ProfessionalSettings {
	return &ProfessionalSettings{
		ProfessionalID:     professionalID,
		Currency:           "USD",
		BufferTimeMinutes:  30,
		MaxBookingsPerDay:  3,
		AdvanceBookingDays: 60,
	}
}
