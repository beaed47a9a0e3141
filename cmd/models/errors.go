package models

import (
	"errors"
	"fmt"
	"time"
)

// Domain error kinds. Handlers match these with errors.Is/errors.As and map
// each to a distinct HTTP status and machine-readable code, so a taken slot
// and a declined card never look the same to a client.
var (
	ErrNotFound              = errors.New("resource not found")
	ErrForbidden             = errors.New("actor does not own this resource")
	ErrValidation            = errors.New("invalid input")
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")
	ErrPaymentDeclined       = errors.New("payment authorization declined")
	ErrPaymentAmountSync     = errors.New("authorized amount out of sync")
	ErrDisputeWindowClosed   = errors.New("dispute window closed")
	ErrDisputeAlreadyExists  = errors.New("open dispute already exists for booking")
	ErrStaleEventIgnored     = errors.New("stale event ignored")
	ErrCompletionUnrecorded  = errors.New("booking has no recorded completion time")
	ErrInvalidTransition     = errors.New("illegal booking transition")
)

// ValidationError carries the field that failed so the caller can surface an
// actionable message. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports an illegal lifecycle edge. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	BookingID uint
	From      BookingStatus
	To        BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %d: illegal transition %s -> %s", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// AmountSyncError reports that the provider-side authorization and the local
// booking row disagree about the authorized amount. It is never retried
// automatically: the service was already rendered, so it is queued for an
// operator instead. Matches ErrPaymentAmountSync under errors.Is.
type AmountSyncError struct {
	BookingID        uint
	AuthorizationRef string
	ProviderAmount   int64
	LocalAmount      int64
	Cause            error
}

func (e *AmountSyncError) Error() string {
	return fmt.Sprintf("booking %d: authorization %s holds %d but local row records %d: %v",
		e.BookingID, e.AuthorizationRef, e.ProviderAmount, e.LocalAmount, e.Cause)
}

func (e *AmountSyncError) Is(target error) bool {
	return target == ErrPaymentAmountSync
}

func (e *AmountSyncError) Unwrap() error {
	return e.Cause
}

// DisputeWindowError carries the timestamps that closed the window.
type DisputeWindowError struct {
	BookingID   uint
	CompletedAt time.Time
	FiledAt     time.Time
}

func (e *DisputeWindowError) Error() string {
	return fmt.Sprintf("booking %d: dispute filed %s after completion, window is 48h",
		e.BookingID, e.FiledAt.Sub(e.CompletedAt))
}

func (e *DisputeWindowError) Is(target error) bool {
	return target == ErrDisputeWindowClosed
}
