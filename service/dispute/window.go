package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier receives fire-and-forget dispute events.
type Notifier interface {
	DisputeEvent(event string, dispute *models.Dispute)
}

// Service enforces the 48-hour post-completion filing window and drives
// dispute status transitions.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// File opens a dispute on a completed booking. Preconditions are checked in
// order and the first failure wins, each with its own error kind so the
// caller can present the exact reason.
func (s *Service) File(ctx context.Context, bookingID, customerID uint, reason, description string) (*models.Dispute, error) {
	if reason == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "is required"}
	}

	var booking models.Booking
	if err := s.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
		}
		return nil, err
	}
	if booking.CustomerID == nil || *booking.CustomerID != customerID {
		return nil, models.ErrForbidden
	}
	// A disputed booking passes the status gate so a duplicate filing is
	// reported as DisputeAlreadyExists below, not as a status problem.
	if booking.Status != models.BookingStatusCompleted && booking.Status != models.BookingStatusDisputed {
		return nil, &models.ValidationError{Field: "status", Reason: "disputes require a completed booking"}
	}
	if booking.CompletedAt == nil {
		// A completed booking without a completion timestamp is an
		// unresolved inconsistency, not an open window. Queue it.
		item := models.ReconciliationItem{
			BookingID: booking.ID,
			Kind:      models.ReconciliationKindNoCompletion,
			Detail:    "dispute attempted but booking has no completed_at",
		}
		if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
			s.logger.Error("queue reconciliation item", zap.Error(err))
		}
		return nil, fmt.Errorf("booking %d: %w", booking.ID, models.ErrCompletionUnrecorded)
	}

	filedAt := s.now()
	if filedAt.Sub(*booking.CompletedAt) > models.DisputeWindow {
		return nil, &models.DisputeWindowError{
			BookingID:   booking.ID,
			CompletedAt: *booking.CompletedAt,
			FiledAt:     filedAt,
		}
	}

	var open int64
	if err := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("booking_id = ? AND status IN ?", booking.ID,
			[]string{models.DisputeStatusPending, models.DisputeStatusInvestigating}).
		Count(&open).Error; err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, fmt.Errorf("booking %d: %w", booking.ID, models.ErrDisputeAlreadyExists)
	}

	dispute := &models.Dispute{
		BookingID:      booking.ID,
		CustomerID:     customerID,
		ProfessionalID: booking.ProfessionalID,
		Reason:         reason,
		Description:    description,
		Status:         models.DisputeStatusPending,
	}

	// A dispute annotates the completed booking; the capture stands until
	// an admin explicitly refunds outside this core.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dispute).Error; err != nil {
			return err
		}
		return tx.Model(&booking).Update("status", models.BookingStatusDisputed).Error
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.DisputeEvent("dispute_filed", dispute)
	}
	return dispute, nil
}

// StartInvestigation moves a pending dispute under review.
func (s *Service) StartInvestigation(ctx context.Context, disputeID uint) (*models.Dispute, error) {
	dispute, err := s.find(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != models.DisputeStatusPending {
		return nil, &models.ValidationError{Field: "status", Reason: "only pending disputes can move to investigating"}
	}
	if err := s.db.WithContext(ctx).Model(dispute).
		Update("status", models.DisputeStatusInvestigating).Error; err != nil {
		return nil, err
	}
	dispute.Status = models.DisputeStatusInvestigating
	return dispute, nil
}

// Resolve closes a dispute as resolved or dismissed. Terminal: a closed
// dispute never reopens. Resolving records the reviewer but does not refund;
// refund issuance is a separate financial action bounded by the captured
// amount.
func (s *Service) Resolve(ctx context.Context, disputeID uint, status, notes string, resolvedBy uint) (*models.Dispute, error) {
	if status != models.DisputeStatusResolved && status != models.DisputeStatusDismissed {
		return nil, &models.ValidationError{Field: "status", Reason: "must be resolved or dismissed"}
	}

	dispute, err := s.find(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Open() {
		return nil, &models.ValidationError{Field: "status", Reason: "dispute is already closed"}
	}

	resolvedAt := s.now()
	if err := s.db.WithContext(ctx).Model(dispute).Updates(map[string]interface{}{
		"status":           status,
		"resolution_notes": notes,
		"resolved_by":      resolvedBy,
		"resolved_at":      resolvedAt,
	}).Error; err != nil {
		return nil, err
	}
	dispute.Status = status
	dispute.ResolutionNotes = notes
	dispute.ResolvedBy = &resolvedBy
	dispute.ResolvedAt = &resolvedAt

	if s.notifier != nil {
		s.notifier.DisputeEvent("dispute_resolved", dispute)
	}
	return dispute, nil
}

func (s *Service) find(ctx context.Context, disputeID uint) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := s.db.WithContext(ctx).First(&dispute, disputeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("dispute %d: %w", disputeID, models.ErrNotFound)
		}
		return nil, err
	}
	return &dispute, nil
}
