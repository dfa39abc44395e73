package db

import (
	"fmt"
	"time"

	"face-attendance-go/internal/core/models"

	"github.com/glebarez/sqlite" // pure Go SQLite driver
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database handle.
var DB *gorm.DB

// Initialize opens the SQLite database and runs migrations.
func Initialize(dbFile string) error {
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var err error
	log.Infof("Connecting to database: %s", dbFile)

	DB, err = gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true, // map unique violations to gorm.ErrDuplicatedKey
	})
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established successfully")

	log.Info("Running database migrations...")
	if err := DB.AutoMigrate(
		&models.Student{},
		&models.AttendanceRecord{},
	); err != nil {
		log.Errorf("Database migration failed: %v", err)
		return fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database migrations completed successfully")
	return nil
}
