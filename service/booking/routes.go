package booking

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BookingHandler struct {
	db      *gorm.DB
	manager *Manager
	logger  *zap.Logger
}

func NewBookingHandler(db *gorm.DB, manager *Manager, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{db: db, manager: manager, logger: logger}
}

func (h *BookingHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/bookings", h.CreateBooking).Methods("POST")
	router.HandleFunc("/bookings/{id}", h.GetBooking).Methods("GET")
	router.HandleFunc("/bookings/customer/{customerId}", h.GetCustomerBookings).Methods("GET")
	router.HandleFunc("/bookings/professional/{professionalId}", h.GetProfessionalBookings).Methods("GET")
	router.HandleFunc("/bookings/{id}/confirm", h.ConfirmBooking).Methods("PATCH")
	router.HandleFunc("/bookings/{id}/check-in", h.CheckIn).Methods("PATCH")
	router.HandleFunc("/bookings/{id}/check-out", h.CheckOut).Methods("PATCH")
	router.HandleFunc("/bookings/{id}/cancel", h.CancelBooking).Methods("PATCH")
	router.HandleFunc("/bookings/{id}/extend", h.ExtendTime).Methods("POST")
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	// An authenticated customer books as themselves; guests book with a
	// payer reference only.
	if actorID, err := utils.GetUserIDFromContext(r); err == nil {
		req.CustomerID = &actorID
	}

	booking, err := h.manager.Create(r.Context(), &req)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, booking)
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var booking models.Booking
	if err := h.db.Preload("Customer").Preload("Professional").First(&booking, bookingID).Error; err != nil {
		utils.WriteError(w, models.ErrNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) GetCustomerBookings(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerId")
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.listBookings(w, r, "customer_id = ?", customerID, "Professional")
}

func (h *BookingHandler) GetProfessionalBookings(w http.ResponseWriter, r *http.Request) {
	professionalID, err := pathID(r, "professionalId")
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.listBookings(w, r, "professional_id = ?", professionalID, "Customer")
}

func (h *BookingHandler) listBookings(w http.ResponseWriter, r *http.Request, where string, id uint64, preload string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Booking{}).Where(where, id).Preload(preload)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var bookings []models.Booking
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("scheduled_start DESC").Find(&bookings).Error; err != nil {
		h.logger.Error("list bookings", zap.Error(err))
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"bookings":    bookings,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *BookingHandler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	booking, err := h.manager.Confirm(r.Context(), uint(bookingID))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var req struct {
		At time.Time `json:"at"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
			return
		}
	}

	booking, err := h.manager.CheckIn(r.Context(), uint(bookingID), req.At)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	booking, err := h.manager.CheckOut(r.Context(), uint(bookingID))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var req struct {
		Reason    string `json:"reason"`
		Initiator string `json:"initiator"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
			return
		}
	}
	if req.Initiator == "" {
		req.Initiator = "customer"
	}

	booking, err := h.manager.Cancel(r.Context(), uint(bookingID), req.Reason, req.Initiator)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) ExtendTime(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var req struct {
		AdditionalMinutes int `json:"additional_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	booking, err := h.manager.Extend(r.Context(), uint(bookingID), req.AdditionalMinutes)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"booking":              booking,
		"new_authorized_total": booking.AmountAuthorized,
	})
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be numeric"}
	}
	return id, nil
}
