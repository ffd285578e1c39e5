package db

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenSQLite opens an in-memory sqlite store with the core schema.
// Used by tests and by the CLI health probe when no Postgres is
// reachable; repos fall back to in-process scoring on this dialect.
func OpenSQLite() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return gormDB, nil
}
