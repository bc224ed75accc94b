package db

import (
	"fmt"
	stlog "log"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the database behind the given DSN. A postgres:// DSN
// selects the postgres driver; anything else is treated as a sqlite path.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormLogLevel := gormlogger.Warn
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gormLogLevel = gormlogger.Info
	}
	gl := gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			LogLevel:                  gormLogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	var (
		conn *gorm.DB
		err  error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		conn, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	} else {
		conn, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return conn, nil
}

// Migrate runs AutoMigrate for the given models.
func Migrate(conn *gorm.DB, modelsToMigrate ...interface{}) error {
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := conn.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Int("models", len(modelsToMigrate)).Msg("Database migration completed")
	return nil
}
