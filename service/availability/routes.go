package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AvailabilityHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAvailabilityHandler(db *gorm.DB, logger *zap.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{db: db, logger: logger}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/professionals/{professionalId}/availability", h.GetAvailability).Methods("GET")
	router.HandleFunc("/professionals/{professionalId}/settings", h.GetSettings).Methods("GET")
	router.HandleFunc("/professionals/{professionalId}/settings", h.UpsertSettings).Methods("PUT")
}

// GetAvailability classifies each day in the requested range. The bookings
// are read live so the classification reflects slots taken moments ago.
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "professionalId", Reason: "must be numeric"})
		return
	}

	startDate, err := time.Parse("2006-01-02", r.URL.Query().Get("start_date"))
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "start_date", Reason: "must be YYYY-MM-DD"})
		return
	}
	endDate, err := time.Parse("2006-01-02", r.URL.Query().Get("end_date"))
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "end_date", Reason: "must be YYYY-MM-DD"})
		return
	}
	duration, _ := strconv.Atoi(r.URL.Query().Get("duration"))

	var settings models.ProfessionalSettings
	settingsPtr := &settings
	if err := h.db.Where("professional_id = ?", professionalID).First(&settings).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Error("load settings", zap.Error(err))
			utils.WriteError(w, err)
			return
		}
		settingsPtr = nil
	}

	calcSettings, err := SettingsFrom(settingsPtr)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var active []models.Booking
	if err := h.db.Where("professional_id = ? AND status IN ? AND scheduled_start >= ? AND scheduled_start < ?",
		professionalID, models.ActiveBookingStatuses, startDate, endDate.AddDate(0, 0, 1)).
		Find(&active).Error; err != nil {
		h.logger.Error("load active bookings", zap.Error(err))
		utils.WriteError(w, err)
		return
	}

	blocked := map[string]bool{}
	if settingsPtr != nil {
		if blocked, err = settingsPtr.BlockedDateSet(); err != nil {
			utils.WriteError(w, err)
			return
		}
	}

	days, err := ComputeAvailability(startDate, endDate, duration, calcSettings, active, blocked)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"professional_id": professionalID,
		"days":            days,
	})
}

func (h *AvailabilityHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "professionalId", Reason: "must be numeric"})
		return
	}

	var settings models.ProfessionalSettings
	if err := h.db.Where("professional_id = ?", professionalID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusOK, models.DefaultProfessionalSettings(uint(professionalID)))
			return
		}
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, settings)
}

func (h *AvailabilityHandler) UpsertSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "professionalId", Reason: "must be numeric"})
		return
	}

	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil || actorID != uint(professionalID) {
		utils.WriteError(w, models.ErrForbidden)
		return
	}

	var incoming models.ProfessionalSettings
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if incoming.HourlyRate <= 0 {
		utils.WriteError(w, &models.ValidationError{Field: "hourly_rate", Reason: "must be positive"})
		return
	}
	// Reject an undecodable template instead of storing it.
	if _, err := SettingsFrom(&incoming); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "working_hours", Reason: "invalid template"})
		return
	}
	incoming.ProfessionalID = uint(professionalID)

	var existing models.ProfessionalSettings
	err = h.db.Where("professional_id = ?", professionalID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := h.db.Create(&incoming).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
	case err != nil:
		utils.WriteError(w, err)
		return
	default:
		incoming.ID = existing.ID
		incoming.CreatedAt = existing.CreatedAt
		if err := h.db.Save(&incoming).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
	}

	utils.WriteJSON(w, http.StatusOK, incoming)
}
