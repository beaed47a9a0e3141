package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event is one asynchronous provider notification. The provider retries
// delivery, so the same event id can arrive more than once.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	AuthorizationID string        `json:"authorization_id"`
	Amount          int64         `json:"amount"`
	Status          string        `json:"status"`
	Metadata        EventMetadata `json:"metadata"`
}

type EventMetadata struct {
	BookingID uint `json:"booking_id"`
}

// Processor reconciles provider-side state changes into booking rows. It is
// the convergence point for any authorize/capture/extension write that
// partially failed. Idempotence comes from every mutation being a no-op when
// the booking already reflects the event, not from an event ledger.
type Processor struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewProcessor(db *gorm.DB, logger *zap.Logger) *Processor {
	return &Processor{db: db, logger: logger}
}

// Apply routes one event to the booking it references. Stale and unknown
// events are logged and swallowed: the provider has no use for an error and
// would only redeliver.
func (p *Processor) Apply(ctx context.Context, event *Event) error {
	booking, err := p.findBooking(ctx, event)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			p.logger.Warn("webhook for unknown booking",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.String("authorization", event.Data.AuthorizationID))
			return nil
		}
		return err
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated", "authorization.succeeded":
		return p.applyAuthorized(ctx, event, booking)
	case "payment_intent.succeeded", "charge.captured":
		return p.applyCaptured(ctx, event, booking)
	case "payment_intent.canceled":
		return p.applyTerminated(ctx, event, booking, models.BookingStatusCanceled)
	case "payment_intent.payment_failed":
		return p.applyTerminated(ctx, event, booking, models.BookingStatusPaymentFailed)
	case "charge.refunded":
		// Refunds touch the payment mirror only, never the lifecycle.
		return p.db.WithContext(ctx).Model(booking).
			Update("payment_status", "refunded").Error
	default:
		p.logger.Info("ignoring unrecognized webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type))
		return nil
	}
}

func (p *Processor) findBooking(ctx context.Context, event *Event) (*models.Booking, error) {
	var booking models.Booking
	q := p.db.WithContext(ctx)
	if event.Data.Metadata.BookingID != 0 {
		q = q.Where("id = ?", event.Data.Metadata.BookingID)
	} else if event.Data.AuthorizationID != "" {
		q = q.Where("authorization_ref = ?", event.Data.AuthorizationID)
	} else {
		return nil, fmt.Errorf("event %s carries no booking reference: %w", event.ID, models.ErrNotFound)
	}
	if err := q.First(&booking).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &booking, nil
}

// applyAuthorized mirrors a confirmed authorization onto the row. A booking
// whose post-authorize write failed sits in pending_payment with an empty
// ref; the event carries the authoritative ref and amount, so they are
// backfilled here and the row converges.
func (p *Processor) applyAuthorized(ctx context.Context, event *Event, booking *models.Booking) error {
	updates := map[string]interface{}{
		"authorization_status": AuthStatusRequiresCapture,
	}
	if booking.Status == models.BookingStatusPendingPayment {
		updates["status"] = models.BookingStatusAuthorized
	}
	if booking.AuthorizationRef == "" && event.Data.AuthorizationID != "" {
		updates["authorization_ref"] = event.Data.AuthorizationID
	}
	if event.Data.Amount > 0 {
		updates["amount_authorized"] = event.Data.Amount
	}
	return p.db.WithContext(ctx).Model(booking).Updates(updates).Error
}

func (p *Processor) applyCaptured(ctx context.Context, event *Event, booking *models.Booking) error {
	switch booking.Status {
	case models.BookingStatusCompleted, models.BookingStatusDisputed:
		// Already captured; redelivery is a no-op.
		return nil
	case models.BookingStatusCanceled, models.BookingStatusPaymentFailed:
		return p.recordStale(ctx, event, booking,
			"capture event arrived for a booking already closed without capture")
	}

	amount := event.Data.Amount
	if amount == 0 {
		amount = booking.AmountAuthorized
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":               models.BookingStatusCompleted,
		"amount_captured":      amount,
		"authorization_status": AuthStatusSucceeded,
		"payment_status":       "paid",
	}
	if booking.CompletedAt == nil {
		updates["completed_at"] = now
	}
	return p.db.WithContext(ctx).Model(booking).Updates(updates).Error
}

func (p *Processor) applyTerminated(ctx context.Context, event *Event, booking *models.Booking, to models.BookingStatus) error {
	if booking.Status == to {
		return nil
	}
	// Completed and disputed dominate: a stale cancellation arriving after
	// completion is recorded, never applied.
	if booking.Status.Rank() >= models.BookingStatusCompleted.Rank() {
		return p.recordStale(ctx, event, booking,
			fmt.Sprintf("%s arrived after booking reached %s", event.Type, booking.Status))
	}
	if booking.Status == models.BookingStatusCanceled || booking.Status == models.BookingStatusPaymentFailed {
		return nil
	}

	mirror := AuthStatusCanceled
	if to == models.BookingStatusPaymentFailed {
		mirror = AuthStatusFailed
	}
	return p.db.WithContext(ctx).Model(booking).Updates(map[string]interface{}{
		"status":               to,
		"authorization_status": mirror,
	}).Error
}

func (p *Processor) recordStale(ctx context.Context, event *Event, booking *models.Booking, detail string) error {
	p.logger.Warn("stale webhook event ignored",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Uint("booking_id", booking.ID),
		zap.String("booking_status", string(booking.Status)))

	// The provider redelivers until it sees a 2xx; one queue row per event
	// id is enough for the operator.
	var existing int64
	if err := p.db.WithContext(ctx).Model(&models.ReconciliationItem{}).
		Where("event_id = ? AND resolved = ?", event.ID, false).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	item := models.ReconciliationItem{
		BookingID:        booking.ID,
		Kind:             models.ReconciliationKindStaleEvent,
		EventID:          event.ID,
		AuthorizationRef: booking.AuthorizationRef,
		Detail:           fmt.Sprintf("event %s (%s): %s", event.ID, event.Type, detail),
	}
	return p.db.WithContext(ctx).Create(&item).Error
}

// WebhookHandler is the HTTP intake for provider events.
type WebhookHandler struct {
	processor *Processor
	logger    *zap.Logger
	secret    func() string
}

func NewWebhookHandler(processor *Processor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
		secret:    func() string { return os.Getenv("PAYVAULT_SECRET_KEY") },
	}
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/webhook", h.HandleWebhook).Methods("POST")
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-PayVault-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, signature, h.secret()) {
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Error parsing webhook payload", http.StatusBadRequest)
		return
	}

	if err := h.processor.Apply(r.Context(), &event); err != nil {
		h.logger.Error("webhook apply failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
		// Non-2xx makes the provider redeliver; Apply is idempotent so
		// the retry is safe.
		http.Error(w, "Error applying event", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{"received": event.ID})
}

// VerifySignature checks the hex HMAC-SHA512 of the raw body.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
