package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
)

type DayClass string

const (
	ClassAvailable DayClass = "available"
	ClassLimited   DayClass = "limited"
	ClassBooked    DayClass = "booked"
	ClassBlocked   DayClass = "blocked"
)

// DayAvailability is the classification for one calendar day.
type DayAvailability struct {
	Date             string   `json:"date"`
	Class            DayClass `json:"class"`
	RemainingMinutes int      `json:"remaining_minutes"`
	BookingCount     int      `json:"booking_count"`
}

// Settings is the decoded scheduling configuration the calculator works
// from. Build it with SettingsFrom so defaults are applied uniformly.
type Settings struct {
	Template           models.WeeklyTemplate
	BufferTimeMinutes  int
	MaxBookingsPerDay  int
	AdvanceBookingDays int
}

// SettingsFrom decodes a stored settings row, falling back to the platform
// defaults (Mon-Fri 09:00-17:00, 30 minute buffer, 3 bookings/day, 60 day
// horizon) when the row is nil or fields are unset.
func SettingsFrom(ps *models.ProfessionalSettings) (Settings, error) {
	s := Settings{
		Template:           models.DefaultWeeklyTemplate(),
		BufferTimeMinutes:  30,
		MaxBookingsPerDay:  3,
		AdvanceBookingDays: 60,
	}
	if ps == nil {
		return s, nil
	}
	tpl, err := ps.Template()
	if err != nil {
		return s, fmt.Errorf("decode working hours: %w", err)
	}
	s.Template = tpl
	if ps.BufferTimeMinutes > 0 {
		s.BufferTimeMinutes = ps.BufferTimeMinutes
	}
	if ps.MaxBookingsPerDay > 0 {
		s.MaxBookingsPerDay = ps.MaxBookingsPerDay
	}
	if ps.AdvanceBookingDays > 0 {
		s.AdvanceBookingDays = ps.AdvanceBookingDays
	}
	return s, nil
}

// ComputeAvailability classifies every calendar day in the inclusive range.
// It is a pure function of its inputs: the caller supplies the active
// bookings and blocked dates, nothing is read from storage. Days entirely in
// the past are not special-cased here; filtering them is the caller's job.
func ComputeAvailability(startDate, endDate time.Time, durationMinutes int, s Settings, active []models.Booking, blocked map[string]bool) ([]DayAvailability, error) {
	start := truncateToDay(startDate)
	end := truncateToDay(endDate)
	if end.Before(start) {
		return nil, &models.ValidationError{Field: "end_date", Reason: "is before start_date"}
	}
	if durationMinutes <= 0 {
		durationMinutes = 60
	}

	var days []DayAvailability
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		iso := d.Format("2006-01-02")

		intervals := s.Template[weekdayName(d)]
		if blocked[iso] || len(intervals) == 0 {
			days = append(days, DayAvailability{Date: iso, Class: ClassBlocked})
			continue
		}

		total := 0
		for _, iv := range intervals {
			minutes, err := intervalMinutes(iv)
			if err != nil {
				return nil, err
			}
			total += minutes
		}

		count := 0
		used := 0
		for _, b := range active {
			if !sameDay(b.ScheduledStart, d) {
				continue
			}
			count++
			// Buffer applies on both sides of every existing booking so
			// two services are never back-to-back.
			used += totalMinutes(&b) + 2*s.BufferTimeMinutes
		}

		if count >= s.MaxBookingsPerDay {
			days = append(days, DayAvailability{Date: iso, Class: ClassBooked, BookingCount: count})
			continue
		}

		remaining := total - used
		if remaining < 0 {
			remaining = 0
		}
		class := ClassAvailable
		if remaining < durationMinutes+s.BufferTimeMinutes {
			class = ClassLimited
		}
		days = append(days, DayAvailability{
			Date:             iso,
			Class:            class,
			RemainingMinutes: remaining,
			BookingCount:     count,
		})
	}
	return days, nil
}

// OverlapsWithBuffer reports whether [aStart,aEnd) and [bStart,bEnd) collide
// once the buffer is added on both sides of the existing range b.
func OverlapsWithBuffer(aStart, aEnd, bStart, bEnd time.Time, bufferMinutes int) bool {
	buf := time.Duration(bufferMinutes) * time.Minute
	return aStart.Before(bEnd.Add(buf)) && bStart.Add(-buf).Before(aEnd)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func weekdayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

func totalMinutes(b *models.Booking) int {
	if b.DurationMinutes > 0 {
		return b.DurationMinutes + b.TimeExtensionMinutes
	}
	return int(b.ScheduledEnd.Sub(b.ScheduledStart).Minutes())
}

// intervalMinutes returns the length of one working interval in minutes.
func intervalMinutes(iv models.WorkingInterval) (int, error) {
	start, err := parseClock(iv.Start)
	if err != nil {
		return 0, err
	}
	end, err := parseClock(iv.End)
	if err != nil {
		return 0, err
	}
	if end <= start {
		return 0, &models.ValidationError{Field: "working_hours", Reason: "interval end must be after start"}
	}
	return end - start, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, &models.ValidationError{Field: "working_hours", Reason: "time must be HH:MM"}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, &models.ValidationError{Field: "working_hours", Reason: "invalid hour"}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, &models.ValidationError{Field: "working_hours", Reason: "invalid minute"}
	}
	return h*60 + m, nil
}
