package payout

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PayoutHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPayoutHandler(db *gorm.DB, logger *zap.Logger) *PayoutHandler {
	return &PayoutHandler{db: db, logger: logger}
}

func (h *PayoutHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/professionals/{professionalId}/payouts", h.ComputePayoutBatch).Methods("POST")
	router.HandleFunc("/professionals/{professionalId}/payouts", h.GetPayoutBatches).Methods("GET")
}

// ComputePayoutBatch aggregates the period's captured bookings and stores
// the resulting batch row. The stored row is derived data: recomputing from
// bookings always wins over a stale batch.
func (h *PayoutHandler) ComputePayoutBatch(w http.ResponseWriter, r *http.Request) {
	professionalID, err := strconv.ParseUint(mux.Vars(r)["professionalId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "professionalId", Reason: "must be numeric"})
		return
	}

	periodStart, err := time.Parse("2006-01-02", r.URL.Query().Get("period_start"))
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "period_start", Reason: "must be YYYY-MM-DD"})
		return
	}
	periodEnd, err := time.Parse("2006-01-02", r.URL.Query().Get("period_end"))
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "period_end", Reason: "must be YYYY-MM-DD"})
		return
	}
	if periodEnd.Before(periodStart) {
		utils.WriteError(w, &models.ValidationError{Field: "period_end", Reason: "is before period_start"})
		return
	}

	var bookings []models.Booking
	if err := h.db.Where(
		"professional_id = ? AND status IN ? AND amount_captured IS NOT NULL AND completed_at >= ? AND completed_at < ?",
		professionalID,
		[]models.BookingStatus{models.BookingStatusCompleted, models.BookingStatusDisputed},
		periodStart, periodEnd.AddDate(0, 0, 1)).
		Find(&bookings).Error; err != nil {
		h.logger.Error("load captured bookings", zap.Error(err))
		utils.WriteError(w, err)
		return
	}

	batch := ComputeBatch(uint(professionalID), periodStart, periodEnd, bookings)

	record := models.PayoutBatch{
		ProfessionalID:   batch.ProfessionalID,
		PeriodStart:      batch.PeriodStart,
		PeriodEnd:        batch.PeriodEnd,
		Currency:         batch.Currency,
		GrossAmount:      batch.GrossAmount,
		CommissionAmount: batch.CommissionAmount,
		NetAmount:        batch.NetAmount,
		BookingIDs:       pq.Int64Array(batch.BookingIDs),
	}
	if err := h.db.Create(&record).Error; err != nil {
		h.logger.Error("store payout batch", zap.Error(err))
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, record)
}

func (h *PayoutHandler) GetPayoutBatches(w http.ResponseWriter, r *http.Request) {
	professionalID, err := strconv.ParseUint(mux.Vars(r)["professionalId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "professionalId", Reason: "must be numeric"})
		return
	}

	var batches []models.PayoutBatch
	if err := h.db.Where("professional_id = ?", professionalID).
		Order("period_start DESC").Find(&batches).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, batches)
}
