package dispute

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DisputeHandler struct {
	db      *gorm.DB
	service *Service
	logger  *zap.Logger
}

func NewDisputeHandler(db *gorm.DB, service *Service, logger *zap.Logger) *DisputeHandler {
	return &DisputeHandler{db: db, service: service, logger: logger}
}

func (h *DisputeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/bookings/{bookingId}/disputes", h.FileDispute).Methods("POST")
	router.HandleFunc("/disputes/{id}", h.GetDispute).Methods("GET")
	router.HandleFunc("/disputes/{id}/investigate", utils.RequireRole(models.RoleAdmin, h.StartInvestigation)).Methods("PATCH")
	router.HandleFunc("/disputes/{id}/resolve", utils.RequireRole(models.RoleAdmin, h.ResolveDispute)).Methods("PATCH")
}

func (h *DisputeHandler) FileDispute(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseUint(mux.Vars(r)["bookingId"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "bookingId", Reason: "must be numeric"})
		return
	}

	customerID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	dispute, err := h.service.File(r.Context(), uint(bookingID), customerID, req.Reason, req.Description)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, dispute)
}

func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "id", Reason: "must be numeric"})
		return
	}

	var dispute models.Dispute
	if err := h.db.Preload("Booking").First(&dispute, disputeID).Error; err != nil {
		utils.WriteError(w, models.ErrNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, dispute)
}

func (h *DisputeHandler) StartInvestigation(w http.ResponseWriter, r *http.Request) {
	disputeID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "id", Reason: "must be numeric"})
		return
	}

	dispute, err := h.service.StartInvestigation(r.Context(), uint(disputeID))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, dispute)
}

func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "id", Reason: "must be numeric"})
		return
	}

	reviewerID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	dispute, err := h.service.Resolve(r.Context(), uint(disputeID), req.Status, req.Notes, reviewerID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, dispute)
}
