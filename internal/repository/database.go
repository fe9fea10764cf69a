package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aimd54/homeschool-missions/internal/config"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// DB holds the database connection
type DB struct {
	*gorm.DB
}

// NewDB opens the local store database for the configured driver
func NewDB(cfg *config.LocalConfig, log *logger.Logger) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported local store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(log)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("driver", cfg.Driver).
		Msg("Connected to local profile store")

	return &DB{db}, nil
}

// AutoMigrate creates the profile table
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(&models.StoredProfile{})
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database is healthy
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// gormLogLevel shows SQL statements only when debug logging is on
func gormLogLevel(log *logger.Logger) gormlogger.LogLevel {
	if log.DebugEnabled() {
		return gormlogger.Info
	}
	return gormlogger.Warn
}
