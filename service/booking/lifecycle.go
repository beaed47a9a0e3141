package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/service/availability"
	"github.com/homerun-app/homerun-server/service/payment"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlatformMinimumAmount is the floor for any booking charge, in minor units.
const PlatformMinimumAmount = 2500

// Notifier receives fire-and-forget booking events. Send failures must never
// roll back the transition that triggered them.
type Notifier interface {
	BookingEvent(event string, booking *models.Booking)
}

// Manager owns the booking state machine. Every status change passes through
// one transition check; illegal edges are rejected centrally instead of
// re-derived at call sites.
type Manager struct {
	db       *gorm.DB
	gateway  payment.Gateway
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	locks sync.Map // booking id -> *sync.Mutex, serializes extensions
}

func NewManager(db *gorm.DB, gateway payment.Gateway, notifier Notifier, logger *zap.Logger) *Manager {
	return &Manager{
		db:       db,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	CustomerID      *uint     `json:"customer_id,omitempty"`
	ProfessionalID  uint      `json:"professional_id"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Amount          int64     `json:"amount,omitempty"` // computed from the hourly rate when 0
	PayerReference  string    `json:"payer_reference"`
	Address         string    `json:"address,omitempty"`
	ServiceType     string    `json:"service_type,omitempty"`
}

// Create runs the booking admission sequence: re-check availability against
// live rows, persist the booking as pending_payment, then authorize funds.
// A declined authorization removes the row again so the professional never
// sees a ghost booking that cannot pay.
func (m *Manager) Create(ctx context.Context, req *CreateRequest) (*models.Booking, error) {
	if req.ProfessionalID == 0 {
		return nil, &models.ValidationError{Field: "professional_id", Reason: "is required"}
	}
	if req.ScheduledStart.IsZero() {
		return nil, &models.ValidationError{Field: "scheduled_start", Reason: "is required"}
	}
	if req.DurationMinutes <= 0 {
		return nil, &models.ValidationError{Field: "duration_minutes", Reason: "must be positive"}
	}
	if req.PayerReference == "" {
		return nil, &models.ValidationError{Field: "payer_reference", Reason: "is required"}
	}

	settings, err := m.loadSettings(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount <= 0 {
		if settings.HourlyRate <= 0 {
			return nil, &models.ValidationError{Field: "amount", Reason: "professional has no hourly rate and no amount was supplied"}
		}
		amount = settings.HourlyRate * int64(req.DurationMinutes) / 60
	}
	if amount < PlatformMinimumAmount {
		amount = PlatformMinimumAmount
	}

	start := req.ScheduledStart.UTC()
	end := start.Add(time.Duration(req.DurationMinutes) * time.Minute)

	booking := &models.Booking{
		CustomerID:      req.CustomerID,
		ProfessionalID:  req.ProfessionalID,
		ScheduledStart:  start,
		ScheduledEnd:    end,
		DurationMinutes: req.DurationMinutes,
		Status:          models.BookingStatusPendingPayment,
		Currency:        settings.Currency,
		HourlyRate:      settings.HourlyRate,
		AmountEstimated: amount,
		Address:         req.Address,
		ServiceType:     req.ServiceType,
	}

	// Admission happens in one transaction so the overlap re-check and the
	// insert see the same snapshot; the datastore exclusion constraint
	// closes the remaining race between concurrent transactions.
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.checkSlot(tx, settings, booking); err != nil {
			return err
		}
		return tx.Create(booking).Error
	})
	if err != nil {
		if isSlotConflict(err) {
			return nil, models.ErrSlotNoLongerAvailable
		}
		return nil, err
	}

	auth, err := m.gateway.Authorize(ctx, amount, settings.Currency, req.PayerReference, booking.ID)
	if err != nil {
		return nil, m.rollbackUnpaid(ctx, booking, err)
	}

	updates := map[string]interface{}{
		"authorization_ref":    auth.ID,
		"authorization_status": auth.Status,
		"amount_authorized":    auth.Amount,
	}
	if auth.Status == payment.AuthStatusRequiresCapture {
		updates["status"] = models.BookingStatusAuthorized
		booking.Status = models.BookingStatusAuthorized
	}
	if err := m.db.WithContext(ctx).Model(booking).Updates(updates).Error; err != nil {
		// Funds are reserved but the row does not say so. Queue it for an
		// operator; the provider's authorization webhook also backfills the
		// ref when it lands.
		m.logger.Error("record authorization failed", zap.Uint("booking_id", booking.ID), zap.Error(err))
		item := models.ReconciliationItem{
			BookingID:        booking.ID,
			Kind:             models.ReconciliationKindAmountSync,
			AuthorizationRef: auth.ID,
			ProviderAmount:   auth.Amount,
			Detail:           fmt.Sprintf("authorization %s reserved at provider but row write failed: %v", auth.ID, err),
		}
		if qerr := m.db.WithContext(ctx).Create(&item).Error; qerr != nil {
			m.logger.Error("queue reconciliation item", zap.Error(qerr))
		}
		return nil, fmt.Errorf("record authorization: %w", err)
	}
	booking.AuthorizationRef = auth.ID
	booking.AuthorizationStatus = auth.Status
	booking.AmountAuthorized = auth.Amount

	m.notify("booking_created", booking)
	return booking, nil
}

// checkSlot re-derives availability for the requested day from live bookings
// and rejects a slot that is booked, blocked, or overlapping with buffer.
func (m *Manager) checkSlot(tx *gorm.DB, settings *models.ProfessionalSettings, b *models.Booking) error {
	calcSettings, err := availability.SettingsFrom(settings)
	if err != nil {
		return err
	}
	blocked, err := settings.BlockedDateSet()
	if err != nil {
		return err
	}

	dayStart := time.Date(b.ScheduledStart.Year(), b.ScheduledStart.Month(), b.ScheduledStart.Day(), 0, 0, 0, 0, b.ScheduledStart.Location())
	var active []models.Booking
	if err := tx.Where("professional_id = ? AND status IN ? AND scheduled_start >= ? AND scheduled_start < ?",
		b.ProfessionalID, models.ActiveBookingStatuses, dayStart, dayStart.AddDate(0, 0, 1)).
		Find(&active).Error; err != nil {
		return err
	}

	days, err := availability.ComputeAvailability(b.ScheduledStart, b.ScheduledStart, b.DurationMinutes, calcSettings, active, blocked)
	if err != nil {
		return err
	}
	if len(days) == 1 {
		if days[0].Class == availability.ClassBooked || days[0].Class == availability.ClassBlocked {
			return models.ErrSlotNoLongerAvailable
		}
	}

	for _, existing := range active {
		if availability.OverlapsWithBuffer(b.ScheduledStart, b.ScheduledEnd, existing.ScheduledStart, existing.ScheduledEnd, calcSettings.BufferTimeMinutes) {
			return models.ErrSlotNoLongerAvailable
		}
	}
	return nil
}

// rollbackUnpaid handles authorization failure right after row creation.
// Declines delete the row; an unknown outcome (timeout) marks it failed and
// queues the booking so an operator verifies provider state before any
// retry, avoiding a double authorization.
func (m *Manager) rollbackUnpaid(ctx context.Context, booking *models.Booking, cause error) error {
	if errors.Is(cause, models.ErrPaymentDeclined) {
		if err := m.db.WithContext(ctx).Delete(booking).Error; err != nil {
			m.logger.Error("delete declined booking", zap.Uint("booking_id", booking.ID), zap.Error(err))
			m.db.WithContext(ctx).Model(booking).Update("status", models.BookingStatusPaymentFailed)
		}
		return cause
	}

	m.logger.Error("authorize outcome unknown", zap.Uint("booking_id", booking.ID), zap.Error(cause))
	if err := m.db.WithContext(ctx).Model(booking).Update("status", models.BookingStatusPaymentFailed).Error; err != nil {
		m.logger.Error("mark payment_failed", zap.Uint("booking_id", booking.ID), zap.Error(err))
	}
	item := models.ReconciliationItem{
		BookingID: booking.ID,
		Kind:      models.ReconciliationKindAmountSync,
		Detail:    fmt.Sprintf("authorize outcome unknown: %v; verify provider state before retrying", cause),
	}
	if err := m.db.WithContext(ctx).Create(&item).Error; err != nil {
		m.logger.Error("queue reconciliation item", zap.Error(err))
	}
	return fmt.Errorf("authorize booking %d: %w", booking.ID, cause)
}

// Confirm records professional/platform acceptance. The acceptance decision
// itself is made by a collaborator; this only moves authorized -> confirmed.
func (m *Manager) Confirm(ctx context.Context, bookingID uint) (*models.Booking, error) {
	booking, err := m.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, booking, models.BookingStatusConfirmed, nil); err != nil {
		return nil, err
	}
	m.notify("booking_confirmed", booking)
	return booking, nil
}

// CheckIn marks the start of service. This is the only transition that
// unlocks time extension.
func (m *Manager) CheckIn(ctx context.Context, bookingID uint, at time.Time) (*models.Booking, error) {
	booking, err := m.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = m.now()
	}
	if err := m.transition(ctx, booking, models.BookingStatusInProgress, map[string]interface{}{
		"checked_in_at": at,
	}); err != nil {
		return nil, err
	}
	booking.CheckedInAt = &at
	m.notify("booking_started", booking)
	return booking, nil
}

// CheckOut completes the booking and captures the full current authorized
// amount, extensions included. A partial capture would silently discard
// earned extension revenue, so the capture amount is never less than the
// authorization. The provider is read first: it is the authority on what was
// actually reserved, and a divergent local row is corrected and queued.
func (m *Manager) CheckOut(ctx context.Context, bookingID uint) (*models.Booking, error) {
	booking, err := m.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCompleted) {
		return nil, &models.TransitionError{BookingID: booking.ID, From: booking.Status, To: models.BookingStatusCompleted}
	}

	auth, err := m.gateway.GetAuthorization(ctx, booking.AuthorizationRef)
	if err != nil {
		return nil, fmt.Errorf("reconciliation read before capture: %w", err)
	}
	if auth.Amount != booking.AmountAuthorized {
		m.logger.Warn("authorized amount diverged, correcting from provider",
			zap.Uint("booking_id", booking.ID),
			zap.Int64("local", booking.AmountAuthorized),
			zap.Int64("provider", auth.Amount))
		item := models.ReconciliationItem{
			BookingID:        booking.ID,
			Kind:             models.ReconciliationKindAmountSync,
			AuthorizationRef: booking.AuthorizationRef,
			ProviderAmount:   auth.Amount,
			LocalAmount:      booking.AmountAuthorized,
			Detail:           "local authorized amount corrected from provider before capture",
		}
		if err := m.db.WithContext(ctx).Create(&item).Error; err != nil {
			m.logger.Error("queue reconciliation item", zap.Error(err))
		}
		booking.AmountAuthorized = auth.Amount
	}

	capture, err := m.gateway.Capture(ctx, booking.AuthorizationRef, booking.AmountAuthorized)
	if err != nil {
		return nil, fmt.Errorf("capture booking %d: %w", booking.ID, err)
	}

	completedAt := m.now()
	if err := m.transition(ctx, booking, models.BookingStatusCompleted, map[string]interface{}{
		"completed_at":         completedAt,
		"amount_captured":      capture.CapturedAmount,
		"amount_authorized":    booking.AmountAuthorized,
		"authorization_status": capture.Status,
		"payment_status":       "paid",
	}); err != nil {
		return nil, err
	}
	booking.CompletedAt = &completedAt
	booking.AmountCaptured = &capture.CapturedAmount
	booking.AuthorizationStatus = capture.Status

	m.notify("booking_completed", booking)
	return booking, nil
}

// Cancel voids (never captures) the authorization and closes the booking.
// Reason and initiator come from the caller.
func (m *Manager) Cancel(ctx context.Context, bookingID uint, reason, initiator string) (*models.Booking, error) {
	booking, err := m.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCanceled) {
		return nil, &models.TransitionError{BookingID: booking.ID, From: booking.Status, To: models.BookingStatusCanceled}
	}

	mirror := booking.AuthorizationStatus
	if booking.AuthorizationRef != "" {
		status, err := m.gateway.Void(ctx, booking.AuthorizationRef)
		if err != nil {
			// The booking still closes; the webhook processor or an
			// operator converges the provider side.
			m.logger.Error("void failed", zap.Uint("booking_id", booking.ID), zap.Error(err))
			item := models.ReconciliationItem{
				BookingID:        booking.ID,
				Kind:             models.ReconciliationKindAmountSync,
				AuthorizationRef: booking.AuthorizationRef,
				Detail:           fmt.Sprintf("void failed during cancellation: %v", err),
			}
			if qerr := m.db.WithContext(ctx).Create(&item).Error; qerr != nil {
				m.logger.Error("queue reconciliation item", zap.Error(qerr))
			}
		} else {
			mirror = status
		}
	}

	if err := m.transition(ctx, booking, models.BookingStatusCanceled, map[string]interface{}{
		"cancel_reason":        reason,
		"canceled_by":          initiator,
		"authorization_status": mirror,
	}); err != nil {
		return nil, err
	}
	m.notify("booking_canceled", booking)
	return booking, nil
}

// transition applies one legal edge; everything else is rejected here.
func (m *Manager) transition(ctx context.Context, booking *models.Booking, to models.BookingStatus, updates map[string]interface{}) error {
	if !booking.Status.CanTransitionTo(to) {
		return &models.TransitionError{BookingID: booking.ID, From: booking.Status, To: to}
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	if err := m.db.WithContext(ctx).Model(booking).Updates(updates).Error; err != nil {
		return fmt.Errorf("transition booking %d to %s: %w", booking.ID, to, err)
	}
	booking.Status = to
	return nil
}

func (m *Manager) findBooking(ctx context.Context, bookingID uint) (*models.Booking, error) {
	var booking models.Booking
	if err := m.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
		}
		return nil, err
	}
	return &booking, nil
}

func (m *Manager) loadSettings(ctx context.Context, professionalID uint) (*models.ProfessionalSettings, error) {
	var settings models.ProfessionalSettings
	if err := m.db.WithContext(ctx).Where("professional_id = ?", professionalID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultProfessionalSettings(professionalID), nil
		}
		return nil, err
	}
	return &settings, nil
}

func (m *Manager) notify(event string, booking *models.Booking) {
	if m.notifier == nil {
		return
	}
	m.notifier.BookingEvent(event, booking)
}

func (m *Manager) lockFor(bookingID uint) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(bookingID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// NewPayerReference builds an idempotent client-side reference for guests.
func NewPayerReference() string {
	return "guest-" + uuid.NewString()
}

// isSlotConflict recognizes the datastore's overlap/uniqueness violation,
// which is a first-class expected outcome of concurrent booking attempts.
func isSlotConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrSlotNoLongerAvailable) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "bookings_no_overlap") ||
		strings.Contains(msg, "exclusion constraint") ||
		strings.Contains(msg, "constraint failed")
}
