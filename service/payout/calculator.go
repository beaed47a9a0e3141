package payout

import (
	"math"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
)

// Batch is the computed settlement aggregate for one professional and
// period. It is derived from captured bookings and can be recomputed at any
// time; persisting it is a convenience only.
type Batch struct {
	ProfessionalID   uint      `json:"professional_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Currency         string    `json:"currency"`
	GrossAmount      int64     `json:"gross_amount"`
	CommissionAmount int64     `json:"commission_amount"`
	NetAmount        int64     `json:"net_amount"`
	BookingIDs       []int64   `json:"booking_ids"`
}

// ComputeBatch aggregates the captured amounts of completed bookings into a
// payout batch: gross is the sum of captures, commission is the rounded
// platform share, net is the remainder. Bookings without a capture are
// skipped; they contributed no funds.
func ComputeBatch(professionalID uint, periodStart, periodEnd time.Time, bookings []models.Booking) *Batch {
	batch := &Batch{
		ProfessionalID: professionalID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}

	for _, b := range bookings {
		if b.AmountCaptured == nil {
			continue
		}
		batch.GrossAmount += *b.AmountCaptured
		batch.BookingIDs = append(batch.BookingIDs, int64(b.ID))
		if batch.Currency == "" {
			batch.Currency = b.Currency
		}
	}

	batch.CommissionAmount = int64(math.Round(float64(batch.GrossAmount) * models.CommissionRate))
	batch.NetAmount = batch.GrossAmount - batch.CommissionAmount
	return batch
}
