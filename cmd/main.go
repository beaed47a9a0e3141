package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/homerun-app/homerun-server/cmd/api"
	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/cmd/utils"
	"github.com/homerun-app/homerun-server/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {
	migrations := map[interface{}]string{
		&models.User{}:                 "User",
		&models.ProfessionalSettings{}: "ProfessionalSettings",
		&models.Booking{}:              "Booking",
		&models.Dispute{}:              "Dispute",
		&models.PayoutBatch{}:          "PayoutBatch",
		&models.ReconciliationItem{}:   "ReconciliationItem",
		&models.Device{}:               "Device",
		&models.Notification{}:         "Notification",
	}

	log.Println("Starting database migrations...")
	for model, name := range migrations {
		log.Printf("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Printf("%s migration successful", name)
	}

	return migrateOverlapConstraint(DB)
}

// migrateOverlapConstraint installs the exclusion constraint that makes the
// datastore, not the application, the arbiter of concurrent bookings: two
// active bookings for one professional can never hold overlapping time
// ranges. The booking layer maps a violation to SlotNoLongerAvailable.
func migrateOverlapConstraint(DB *gorm.DB) error {
	if err := DB.Exec("CREATE EXTENSION IF NOT EXISTS btree_gist").Error; err != nil {
		return fmt.Errorf("enable btree_gist: %w", err)
	}

	var count int64
	if err := DB.Raw(
		"SELECT COUNT(*) FROM pg_constraint WHERE conname = 'bookings_no_overlap'").
		Scan(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Overlap constraint already present")
		return nil
	}

	err := DB.Exec(`
		ALTER TABLE bookings ADD CONSTRAINT bookings_no_overlap
		EXCLUDE USING gist (
			professional_id WITH =,
			tsrange(scheduled_start, scheduled_end) WITH &&
		)
		WHERE (status IN ('pending_payment', 'authorized', 'confirmed', 'in_progress') AND deleted_at IS NULL)
	`).Error
	if err != nil {
		return fmt.Errorf("add overlap constraint: %w", err)
	}
	log.Println("Overlap constraint installed")
	return nil
}

func runDatabaseClear() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()

	log.Println("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Println("Database clearing cancelled.")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		for _, table := range strings.Split(tableNames, ",") {
			switch strings.TrimSpace(table) {
			case "User":
				tables = append(tables, &models.User{})
			case "ProfessionalSettings":
				tables = append(tables, &models.ProfessionalSettings{})
			case "Booking":
				tables = append(tables, &models.Booking{})
			case "Dispute":
				tables = append(tables, &models.Dispute{})
			case "PayoutBatch":
				tables = append(tables, &models.PayoutBatch{})
			case "ReconciliationItem":
				tables = append(tables, &models.ReconciliationItem{})
			case "Device":
				tables = append(tables, &models.Device{})
			case "Notification":
				tables = append(tables, &models.Notification{})
			default:
				log.Printf("Unknown table: %s", table)
			}
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		log.Fatalf("Error clearing database: %v", err)
	}

	log.Println("Database cleared successfully")
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		// Dependents before their parents so foreign keys do not block drops.
		tables = []interface{}{
			&models.Notification{},
			&models.Device{},
			&models.ReconciliationItem{},
			&models.PayoutBatch{},
			&models.Dispute{},
			&models.Booking{},
			&models.ProfessionalSettings{},
			&models.User{},
		}
	}

	log.Println("Dropping tables...")

	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Printf("Warning dropping table %T: %v", table, err)
		} else {
			log.Printf("Table %T dropped", table)
		}
	}

	return nil
}

func startServer() {
	logger := utils.NewLogger(os.Getenv("ENV"))
	defer logger.Sync()

	DB, err := db.NewPSQLStorage()
	if err != nil {
		logger.Fatal("database initialization error", zap.Error(err))
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		logger.Info("database connection closed")
	}()
	logger.Info("connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewApiServer(":"+port, DB, logger)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("port", port))

	<-quit
	logger.Info("shutting down server")
}
