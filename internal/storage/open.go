package storage

import (
	"fmt"
	"log"

	"heartlink/backend/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns the Storage selected by driver. PostgreSQL connections are migrated first.
func Open(driver, dsn string) (Storage, error) {
	switch driver {
	case config.DriverMemory:
		log.Println("WARNING: Using in-memory storage, data is lost on restart.")
		return NewMemoryStore(), nil
	case config.DriverPostgres:
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Println("Database connection established, migrations complete.")
		return NewStorageService(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
