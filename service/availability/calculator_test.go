package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
)

func defaultSettings(t *testing.T) Settings {
	t.Helper()
	s, err := SettingsFrom(nil)
	if err != nil {
		t.Fatalf("SettingsFrom(nil): %v", err)
	}
	return s
}

func bookingAt(start time.Time, minutes int) models.Booking {
	return models.Booking{
		ScheduledStart:  start,
		ScheduledEnd:    start.Add(time.Duration(minutes) * time.Minute),
		DurationMinutes: minutes,
		Status:          models.BookingStatusConfirmed,
	}
}

func TestComputeAvailabilityWeek(t *testing.T) {
	s := defaultSettings(t)

	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	sunday := monday.AddDate(0, 0, 6)

	day := func(offset int, hour, minutes int) time.Time {
		return monday.AddDate(0, 0, offset).Add(time.Duration(hour) * time.Hour).Add(time.Duration(minutes) * time.Minute)
	}

	active := []models.Booking{
		// Tuesday: one 2h booking.
		bookingAt(day(1, 10, 0), 120),
		// Wednesday: three bookings hit the per-day cap.
		bookingAt(day(2, 9, 0), 60),
		bookingAt(day(2, 11, 0), 60),
		bookingAt(day(2, 14, 0), 60),
		// Thursday: two long bookings eat the whole day with buffers.
		bookingAt(day(3, 9, 0), 180),
		bookingAt(day(3, 13, 30), 180),
	}
	blocked := map[string]bool{"2026-09-11": true}

	days, err := ComputeAvailability(monday, sunday, 60, s, active, blocked)
	if err != nil {
		t.Fatalf("ComputeAvailability: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("got %d days, want 7", len(days))
	}

	want := []struct {
		class     DayClass
		remaining int
		count     int
	}{
		{ClassAvailable, 480, 0}, // monday, untouched
		{ClassAvailable, 300, 1}, // tuesday, 120 used plus two 30m buffers
		{ClassBooked, 0, 3},      // wednesday, cap reached
		{ClassLimited, 0, 2},     // thursday, no room left for 60+buffer
		{ClassBlocked, 0, 0},     // friday, blocked date
		{ClassBlocked, 0, 0},     // saturday, no working hours
		{ClassBlocked, 0, 0},     // sunday
	}
	for i, w := range want {
		d := days[i]
		if d.Class != w.class {
			t.Fatalf("day %s: class = %s, want %s", d.Date, d.Class, w.class)
		}
		if d.RemainingMinutes != w.remaining {
			t.Fatalf("day %s: remaining = %d, want %d", d.Date, d.RemainingMinutes, w.remaining)
		}
		if d.BookingCount != w.count {
			t.Fatalf("day %s: count = %d, want %d", d.Date, d.BookingCount, w.count)
		}
	}
}

func TestComputeAvailabilityCountsExtensions(t *testing.T) {
	s := defaultSettings(t)

	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	b := bookingAt(monday.Add(10*time.Hour), 60)
	b.TimeExtensionMinutes = 60

	days, err := ComputeAvailability(monday, monday, 60, s, []models.Booking{b}, nil)
	if err != nil {
		t.Fatalf("ComputeAvailability: %v", err)
	}
	// 480 - (60 + 60 extension + 2*30 buffer) = 300.
	if days[0].RemainingMinutes != 300 {
		t.Fatalf("remaining = %d, want 300", days[0].RemainingMinutes)
	}
}

func TestComputeAvailabilityRejectsInvertedRange(t *testing.T) {
	s := defaultSettings(t)

	start := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	_, err := ComputeAvailability(start, start.AddDate(0, 0, -1), 60, s, nil, nil)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestComputeAvailabilityDefaultsDuration(t *testing.T) {
	s := defaultSettings(t)

	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	days, err := ComputeAvailability(monday, monday, 0, s, nil, nil)
	if err != nil {
		t.Fatalf("ComputeAvailability: %v", err)
	}
	if days[0].Class != ClassAvailable {
		t.Fatalf("class = %s, want available", days[0].Class)
	}
}

func TestSettingsFromRow(t *testing.T) {
	ps := models.DefaultProfessionalSettings(4)
	ps.BufferTimeMinutes = 15
	ps.MaxBookingsPerDay = 5

	s, err := SettingsFrom(ps)
	if err != nil {
		t.Fatalf("SettingsFrom: %v", err)
	}
	if s.BufferTimeMinutes != 15 || s.MaxBookingsPerDay != 5 {
		t.Fatalf("settings not taken from row: %+v", s)
	}
	if len(s.Template["monday"]) != 1 {
		t.Fatalf("empty working hours should fall back to default template")
	}
}

func TestOverlapsWithBuffer(t *testing.T) {
	base := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	existingStart := base
	existingEnd := base.Add(time.Hour)

	cases := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"identical", existingStart, existingEnd, true},
		{"inside buffer after", existingEnd.Add(10 * time.Minute), existingEnd.Add(70 * time.Minute), true},
		{"inside buffer before", existingStart.Add(-70 * time.Minute), existingStart.Add(-10 * time.Minute), true},
		{"exactly buffer apart", existingEnd.Add(30 * time.Minute), existingEnd.Add(90 * time.Minute), false},
		{"clear of buffer", existingEnd.Add(2 * time.Hour), existingEnd.Add(3 * time.Hour), false},
	}
	for _, tc := range cases {
		if got := OverlapsWithBuffer(tc.start, tc.end, existingStart, existingEnd, 30); got != tc.want {
			t.Fatalf("%s: OverlapsWithBuffer = %v, want %v", tc.name, got, tc.want)
		}
	}
}
