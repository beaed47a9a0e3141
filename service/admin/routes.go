package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconciliationHandler exposes the operator queue of known payment/booking
// inconsistencies.
type ReconciliationHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewReconciliationHandler(db *gorm.DB, logger *zap.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{db: db, logger: logger}
}

func (h *ReconciliationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/reconciliation", utils.RequireRole(models.RoleAdmin, h.ListItems)).Methods("GET")
	router.HandleFunc("/admin/reconciliation/{id}/resolve", utils.RequireRole(models.RoleAdmin, h.ResolveItem)).Methods("PATCH")
}

func (h *ReconciliationHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.ReconciliationItem{}).Preload("Booking")
	if r.URL.Query().Get("include_resolved") != "true" {
		query = query.Where("resolved = ?", false)
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var items []models.ReconciliationItem
	if err := query.Order("created_at ASC").Find(&items).Error; err != nil {
		h.logger.Error("list reconciliation items", zap.Error(err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// ResolveItem marks a queue row handled. The financial correction itself
// (manual capture adjustment, refund, re-void) happens at the provider
// dashboard; this only records that an operator dealt with it.
func (h *ReconciliationHandler) ResolveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, &models.ValidationError{Field: "id", Reason: "must be numeric"})
		return
	}

	operatorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	now := time.Now().UTC()
	result := h.db.Model(&models.ReconciliationItem{}).
		Where("id = ? AND resolved = ?", itemID, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": operatorID,
			"resolved_at": now,
		})
	if result.Error != nil {
		utils.WriteError(w, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		utils.WriteError(w, models.ErrNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Item resolved"})
}
