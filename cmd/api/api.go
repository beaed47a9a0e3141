package api

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"github.com/homerun-app/homerun-server/service/admin"
	"github.com/homerun-app/homerun-server/service/availability"
	"github.com/homerun-app/homerun-server/service/booking"
	"github.com/homerun-app/homerun-server/service/dispute"
	"github.com/homerun-app/homerun-server/service/notification"
	"github.com/homerun-app/homerun-server/service/payment"
	"github.com/homerun-app/homerun-server/service/payout"
	"github.com/homerun-app/homerun-server/service/user"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
	logger  *zap.Logger
}

func NewApiServer(address string, db *gorm.DB, logger *zap.Logger) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		logger:  logger,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()
	subrouter.Use(utils.OptionalAuthMiddleware)

	gateway := payment.NewPayVaultClient(
		os.Getenv("PAYVAULT_BASE_URL"),
		os.Getenv("PAYVAULT_SECRET_KEY"),
	)
	dispatcher := notification.NewDispatcher(s.db, s.logger)

	userHandler := user.NewHandler(s.db, s.logger)
	userHandler.RegisterRoutes(subrouter)

	availabilityHandler := availability.NewAvailabilityHandler(s.db, s.logger)
	availabilityHandler.RegisterRoutes(subrouter)

	manager := booking.NewManager(s.db, gateway, dispatcher, s.logger)
	bookingHandler := booking.NewBookingHandler(s.db, manager, s.logger)
	bookingHandler.RegisterRoutes(subrouter)

	disputeService := dispute.NewService(s.db, dispatcher, s.logger)
	disputeHandler := dispute.NewDisputeHandler(s.db, disputeService, s.logger)
	disputeHandler.RegisterRoutes(subrouter)

	payoutHandler := payout.NewPayoutHandler(s.db, s.logger)
	payoutHandler.RegisterRoutes(subrouter)

	processor := payment.NewProcessor(s.db, s.logger)
	webhookHandler := payment.NewWebhookHandler(processor, s.logger)
	webhookHandler.RegisterRoutes(subrouter)

	notificationHandler := notification.NewNotificationHandler(s.db, s.logger)
	notificationHandler.RegisterRoutes(subrouter)

	reconciliationHandler := admin.NewReconciliationHandler(s.db, s.logger)
	reconciliationHandler.RegisterRoutes(subrouter)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-PayVault-Signature"}),
	)

	s.logger.Info("server running", zap.String("address", s.address))
	return http.ListenAndServe(s.address, handlers.LoggingHandler(os.Stdout, cors(router)))
}
