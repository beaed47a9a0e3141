package booking

import (
	"context"
	"fmt"
	"math"

	"github.com/homerun-app/homerun-server/cmd/models"
	"go.uber.org/zap"
)

// MaxExtensionMinutesPerCall caps a single extension request. The cap is per
// call, not cumulative: repeated valid extensions keep accumulating.
const MaxExtensionMinutesPerCall = 240

// Extend grows an in-progress booking by additionalMinutes. The sequence is
// strictly authorize-then-persist: the provider authorization is raised
// first, and only then the booking row. The reverse order would let the row
// promise an amount the provider never reserved. If the row write fails
// after the provider accepted the new amount, the write is retried once and
// then queued for an operator; the provider call is never retried because a
// second financial mutation risks double effects.
func (m *Manager) Extend(ctx context.Context, bookingID uint, additionalMinutes int) (*models.Booking, error) {
	if additionalMinutes <= 0 {
		return nil, &models.ValidationError{Field: "additional_minutes", Reason: "must be positive"}
	}
	if additionalMinutes > MaxExtensionMinutesPerCall {
		return nil, &models.ValidationError{Field: "additional_minutes", Reason: fmt.Sprintf("must not exceed %d", MaxExtensionMinutesPerCall)}
	}

	// Extensions are read-modify-write on accumulator fields; concurrent
	// calls on one booking would under-count without serialization.
	mu := m.lockFor(bookingID)
	mu.Lock()
	defer mu.Unlock()

	booking, err := m.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusInProgress {
		return nil, &models.ValidationError{Field: "status", Reason: "extension requires an in-progress booking"}
	}
	if booking.HourlyRate <= 0 {
		return nil, &models.ValidationError{Field: "hourly_rate", Reason: "booking has no hourly rate"}
	}
	if booking.AuthorizationRef == "" {
		return nil, &models.ValidationError{Field: "authorization_ref", Reason: "booking has no authorization"}
	}

	additionalAmount := int64(math.Round(float64(booking.HourlyRate) * float64(additionalMinutes) / 60))
	base := booking.AmountAuthorized - booking.TimeExtensionAmount
	newExtensionMinutes := booking.TimeExtensionMinutes + additionalMinutes
	newExtensionAmount := booking.TimeExtensionAmount + additionalAmount
	newTotal := base + newExtensionAmount

	if _, err := m.gateway.UpdateAuthorizedAmount(ctx, booking.AuthorizationRef, newTotal); err != nil {
		// Nothing changed anywhere; the extension simply did not happen.
		return nil, fmt.Errorf("raise authorization for booking %d: %w", booking.ID, err)
	}

	updates := map[string]interface{}{
		"time_extension_minutes": newExtensionMinutes,
		"time_extension_amount":  newExtensionAmount,
		"amount_authorized":      newTotal,
		"version":                booking.Version + 1,
	}
	err = m.persistExtension(ctx, booking, updates)
	if err != nil {
		m.logger.Warn("extension persist failed, retrying write",
			zap.Uint("booking_id", booking.ID), zap.Error(err))
		err = m.persistExtension(ctx, booking, updates)
	}
	if err != nil {
		// Provider now holds more than the row records. Surface to the
		// operator queue; do not roll anything back, the service time was
		// already rendered.
		item := models.ReconciliationItem{
			BookingID:        booking.ID,
			Kind:             models.ReconciliationKindAmountSync,
			AuthorizationRef: booking.AuthorizationRef,
			ProviderAmount:   newTotal,
			LocalAmount:      booking.AmountAuthorized,
			Detail:           fmt.Sprintf("extension of %d min authorized at provider but row write failed: %v", additionalMinutes, err),
		}
		if qerr := m.db.WithContext(ctx).Create(&item).Error; qerr != nil {
			m.logger.Error("queue reconciliation item", zap.Error(qerr))
		}
		return nil, &models.AmountSyncError{
			BookingID:        booking.ID,
			AuthorizationRef: booking.AuthorizationRef,
			ProviderAmount:   newTotal,
			LocalAmount:      booking.AmountAuthorized,
			Cause:            err,
		}
	}

	booking.TimeExtensionMinutes = newExtensionMinutes
	booking.TimeExtensionAmount = newExtensionAmount
	booking.AmountAuthorized = newTotal
	booking.Version++

	m.notify("booking_extended", booking)
	return booking, nil
}

// persistExtension writes the accumulator fields guarded by the version the
// caller read, so a lost-update can never slip through.
func (m *Manager) persistExtension(ctx context.Context, booking *models.Booking, updates map[string]interface{}) error {
	res := m.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND version = ?", booking.ID, booking.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("booking %d: version %d no longer current", booking.ID, booking.Version)
	}
	return nil
}
